package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/handlers"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/telemetry"
)

// Service is everything the HTTP surface calls into. *service.Orchestrator
// implements it.
type Service interface {
	handlers.PaymentService
	handlers.StateReader
	handlers.WebhookProcessor
	handlers.AdminService
}

func NewRouter(svc Service) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "mobile-money-orchestrator"})
	})

	payments := handlers.NewPaymentHandler(svc)
	state := handlers.NewPaymentStateHandler(svc)
	admin := handlers.NewAdminHandler(svc)
	webhooks := handlers.NewWebhookHandler(svc)

	v1 := r.Group("/api/v1/mobile-money")
	{
		v1.POST("/initiate", payments.InitiatePayment)
		v1.GET("/verify/:transactionId", state.Verify)
		v1.GET("/transactions", payments.ListTransactions)
		v1.GET("/transactions/:id", state.GetTransaction)
		v1.GET("/transactions/:id/fraud", state.GetFraudAnalysis)
		v1.GET("/transactions/:id/compliance", state.GetComplianceCheck)
		v1.POST("/refund", payments.Refund)
		v1.GET("/providers", payments.GetProviders)

		v1.GET("/analytics/success-rates", admin.SuccessRates)
		v1.GET("/analytics/summary", admin.Summary)

		v1.POST("/fraud/:transactionId/review", admin.ReviewFraud)
		v1.GET("/fraud/rules", admin.GetRules)
		v1.PUT("/fraud/rules", admin.UpdateRules)
		v1.POST("/fraud/blocklist", admin.BlockPhone)
	}

	r.POST("/webhooks/mobile-money/:provider", webhooks.Handle)

	return r
}
