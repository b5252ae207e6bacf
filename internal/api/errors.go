package api

import (
	"errors"
	"net/http"

	"invoice-service/internal/service"
	"invoice-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrProviderUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrInvalidPaymentMethod),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInsufficientStock),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrAlreadySettled),
		errors.Is(err, service.ErrInvalidSignature),
		errors.Is(err, service.ErrWebhookNotConfigured):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError writes err as a JSON error body. Internal errors are logged and
// not echoed to the client.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		util.GetLogger().Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}

	body := gin.H{"error": err.Error()}
	var stockErr *service.InsufficientStockError
	if errors.As(err, &stockErr) {
		body["product"] = stockErr.ProductID
		body["available"] = stockErr.Available
	}
	c.JSON(status, body)
}
