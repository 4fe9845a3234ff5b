package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/service"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/telemetry"
)

const SignatureHeader = "X-Webhook-Signature"

type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, provider models.Provider, raw []byte, signature string) (*service.WebhookResult, error)
}

type WebhookHandler struct {
	processor WebhookProcessor
}

func NewWebhookHandler(processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{processor: processor}
}

// providerParam accepts MPESA, mpesa and mtn-money style path segments.
func providerParam(c *gin.Context) models.Provider {
	return models.Provider(strings.ReplaceAll(strings.ToUpper(c.Param("provider")), "-", "_"))
}

// Handle answers 2xx only when the callback was consumed, so the provider
// redelivers anything that was not: 404 when no transaction matched and 409
// when the transaction is not ready for it yet.
func (h *WebhookHandler) Handle(c *gin.Context) {
	provider := providerParam(c)

	raw, err := c.GetRawData()
	if err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.processor.HandleWebhook(c.Request.Context(), provider, raw, c.GetHeader(SignatureHeader))
	if err != nil {
		telemetry.Logger.Warn("Webhook rejected",
			zap.String("provider", string(provider)),
			zap.Error(err),
		)
		respondError(c, err, gin.H{"processed": false})
		return
	}

	status := http.StatusOK
	switch {
	case result.Processed:
	case result.TransactionID == "":
		status = http.StatusNotFound
	default:
		status = http.StatusConflict
	}
	c.JSON(status, result)
}
