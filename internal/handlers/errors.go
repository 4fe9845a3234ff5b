package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/telemetry"
)

// statusFor maps a stable error code onto its HTTP status.
func statusFor(code string) int {
	switch code {
	case models.CodeInvalidAmount, models.CodeInvalidPhone, models.CodeInvalidProvider, models.CodeInvalidPayload:
		return http.StatusBadRequest
	case models.CodeInvalidSignature:
		return http.StatusUnauthorized
	case models.CodeTransactionNotFound:
		return http.StatusNotFound
	case models.CodeAlreadyRefunded, models.CodeInvalidStatus, models.CodeInvalidTransition, models.CodeRefundInProgress:
		return http.StatusConflict
	case models.CodeFraudDetected, models.CodeComplianceViolation, models.CodeTransactionDeclined:
		return http.StatusUnprocessableEntity
	case models.CodeProviderUnavailable:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes err as a structured error body. Errors without a code
// are logged and reported as internal.
func respondError(c *gin.Context, err error, extra gin.H) {
	var pe *models.PaymentError
	if !errors.As(err, &pe) {
		telemetry.Logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL_ERROR",
			"message": "Internal server error",
		})
		return
	}

	body := gin.H{
		"error":     pe.Code,
		"message":   pe.Message,
		"retryable": models.Retryable(pe.Code),
	}
	if pe.Details != "" {
		body["details"] = pe.Details
	}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(statusFor(pe.Code), body)
}

func badRequest(c *gin.Context, err error) {
	respondError(c, &models.PaymentError{
		Code:    models.CodeInvalidPayload,
		Message: "Invalid request",
		Details: err.Error(),
		Err:     err,
	}, nil)
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}
