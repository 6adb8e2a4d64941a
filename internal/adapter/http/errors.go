package http

import (
	"errors"
	"net/http"

	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/logging"
	"github.com/gin-gonic/gin"
)

// writeError maps domain errors to status codes. Only validation failures
// carry the error text; every other class answers with its code alone and
// the detail goes to the log.
func writeError(c *gin.Context, err error) {
	status, code := classify(err)
	switch status {
	case http.StatusBadRequest:
		c.AbortWithStatusJSON(status, gin.H{"error": code, "message": err.Error()})
		return
	case http.StatusInternalServerError:
		logging.From(c).Error("request failed", "err", err)
	case http.StatusBadGateway:
		logging.From(c).Warn("gateway failure", "err", err)
	default:
		logging.From(c).Info("request rejected", "status", status, "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrGateway):
		return http.StatusBadGateway, "gateway_error"
	case errors.Is(err, domain.ErrVerification):
		return http.StatusUnauthorized, "verification_failed"
	case errors.Is(err, domain.ErrExpiredLink):
		return http.StatusGone, "link_expired"
	}
	return http.StatusInternalServerError, "internal_error"
}
