package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/service"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/telemetry"
)

// PaymentService is the part of the orchestrator the payment endpoints use.
type PaymentService interface {
	InitiatePayment(ctx context.Context, req models.PaymentRequest) (*models.Transaction, error)
	ListTransactions(ctx context.Context, filter models.TransactionFilter) (*models.TransactionPage, error)
	Refund(ctx context.Context, req service.RefundRequest) (*models.Transaction, error)
	GetProviders(ctx context.Context, country string) ([]service.ProviderInfo, error)
}

type PaymentHandler struct {
	payments PaymentService
}

func NewPaymentHandler(payments PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	var req models.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		telemetry.Logger.Error("Error decoding payment request", zap.Error(err))
		badRequest(c, err)
		return
	}

	txn, err := h.payments.InitiatePayment(c.Request.Context(), req)
	if err != nil {
		var extra gin.H
		if txn != nil {
			extra = gin.H{"transactionId": txn.ID, "status": txn.Status}
		}
		telemetry.Logger.Warn("Payment initiation rejected",
			zap.String("user_id", req.UserID),
			zap.String("provider", string(req.Provider)),
			zap.Error(err),
		)
		respondError(c, err, extra)
		return
	}

	ok(c, txn)
}

func (h *PaymentHandler) ListTransactions(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	page, err := h.payments.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       page.Data,
		"pagination": page.Pagination,
	})
}

func (h *PaymentHandler) Refund(c *gin.Context) {
	var req service.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	refund, err := h.payments.Refund(c.Request.Context(), req)
	if err != nil {
		var extra gin.H
		if refund != nil {
			extra = gin.H{"refundId": refund.ID, "status": refund.Status}
		}
		respondError(c, err, extra)
		return
	}

	ok(c, refund)
}

func (h *PaymentHandler) GetProviders(c *gin.Context) {
	list, err := h.payments.GetProviders(c.Request.Context(), c.Query("country"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	ok(c, list)
}

func parseFilter(c *gin.Context) (models.TransactionFilter, error) {
	filter := models.TransactionFilter{
		UserID:   c.Query("userId"),
		Status:   models.PaymentStatus(strings.ToUpper(c.Query("status"))),
		Provider: models.Provider(strings.ToUpper(c.Query("provider"))),
	}
	if filter.Provider != "" && !filter.Provider.Valid() {
		return filter, fmt.Errorf("unknown provider %q", filter.Provider)
	}

	var err error
	if filter.Page, err = intQuery(c, "page"); err != nil {
		return filter, err
	}
	if filter.Limit, err = intQuery(c, "limit"); err != nil {
		return filter, err
	}
	if filter.StartDate, err = timeQuery(c, "startDate"); err != nil {
		return filter, err
	}
	if filter.EndDate, err = timeQuery(c, "endDate"); err != nil {
		return filter, err
	}
	return filter, nil
}

func intQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// timeQuery accepts RFC 3339 timestamps or plain dates.
func timeQuery(c *gin.Context, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%s must be an RFC 3339 timestamp or YYYY-MM-DD date", key)
}
