package httputil

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tgw_go/pkg/session"
)

// RespondError отправляет сообщение об ошибке в едином формате и прекращает обработку запроса.
// Используем AbortWithStatusJSON, чтобы последующие обработчики не выполнялись, даже если забыли вернуть управление.
func RespondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// StatusOf сопоставляет ошибку слоя сессий HTTP-статусу и безопасному тексту.
// Подробности сбоев транспорта остаются в логе и наружу не уходят.
func StatusOf(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrValidation):
		return http.StatusBadRequest, errors.UnwrapAll(err).Error()
	case errors.Is(err, session.ErrNotConnected):
		return http.StatusBadRequest, "account is not connected"
	case errors.Is(err, session.ErrAlreadyTerminating):
		return http.StatusConflict, "account is being disconnected"
	case errors.Is(err, session.ErrSendFailed):
		return http.StatusInternalServerError, "failed to send message"
	case errors.Is(err, session.ErrTransport):
		return http.StatusInternalServerError, "telegram request failed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// RespondErr логирует ошибку и отвечает статусом из StatusOf.
func RespondErr(c *gin.Context, logger *zap.Logger, err error) {
	status, msg := StatusOf(err)
	fields := []zap.Field{
		zap.String("path", c.FullPath()),
		zap.Int("status", status),
		zap.Error(err),
	}
	if id := c.GetString(RequestIDKey); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if status >= http.StatusInternalServerError {
		logger.Error("запрос завершился ошибкой", fields...)
	} else {
		logger.Info("запрос отклонён", fields...)
	}
	RespondError(c, status, msg)
}

// RequestIDKey хранит идентификатор запроса в gin.Context.
const RequestIDKey = "request_id"
