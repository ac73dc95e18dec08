package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"tgw_go/internal/httputil"
)

// AuthRequired проверяет статичный Bearer-токен. Пустой токен отключает проверку.
func AuthRequired(token string) gin.HandlerFunc {
	expected := []byte("Bearer " + token)
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		if subtle.ConstantTimeCompare([]byte(c.GetHeader("Authorization")), expected) != 1 {
			httputil.RespondError(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		c.Next()
	}
}
