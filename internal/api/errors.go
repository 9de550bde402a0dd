package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"servicehours/internal/apperr"
	"servicehours/internal/httpmiddleware"
)

// statusOf maps an error kind to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrAuthDomainRejected), errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrAuthProviderFailure):
		return http.StatusBadGateway
	case errors.Is(err, apperr.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrInvalidTransition),
		errors.Is(err, apperr.ErrPartialReconciliation):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	msg := apperr.Message(err)
	switch {
	case errors.Is(err, apperr.ErrWriteFailure):
		msg = "could not " + msg + ", please try again"
	case status == http.StatusInternalServerError:
		msg = "internal error"
	}

	fields := []zap.Field{
		zap.Error(err),
		zap.Int("status", status),
		zap.String("request_id", httpmiddleware.RequestIDFrom(c)),
	}
	if status >= 500 {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Debug("request refused", fields...)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
}
