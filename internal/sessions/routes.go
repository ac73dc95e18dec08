package sessions

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRoutes регистрирует API сессий. journal может быть nil: тогда /journal не публикуется.
func SetupRoutes(r *gin.RouterGroup, svc Service, journal Journal, logger *zap.Logger) {
	handler := NewHandler(svc, journal, logger)
	r.POST("/connect", handler.Connect)
	r.GET("/status", handler.Status)
	r.POST("/send", handler.Send)
	r.POST("/check-numbers", handler.CheckNumbers)
	r.GET("/groups", handler.Groups)
	r.GET("/group-participants", handler.GroupParticipants)
	r.POST("/disconnect", handler.Disconnect)
	if journal != nil {
		r.GET("/journal", handler.Journal)
	}
}

// SetupHealth регистрирует /health вне авторизации.
func SetupHealth(r gin.IRoutes, stats Stats) {
	r.GET("/health", Health(stats))
}
