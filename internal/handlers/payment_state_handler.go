package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

// StateReader serves the read side of a transaction: its current state and
// the risk records attached to it.
type StateReader interface {
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	Verify(ctx context.Context, id string) (*models.Verification, error)
	GetFraudAnalysis(ctx context.Context, id string) (*models.FraudAnalysis, error)
	GetComplianceCheck(ctx context.Context, id string) (*models.ComplianceCheck, error)
}

type PaymentStateHandler struct {
	reader StateReader
}

func NewPaymentStateHandler(reader StateReader) *PaymentStateHandler {
	return &PaymentStateHandler{reader: reader}
}

func (h *PaymentStateHandler) GetTransaction(c *gin.Context) {
	txn, err := h.reader.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	ok(c, txn)
}

// Verify answers status polling; PROCESSING payments are checked with the
// provider first.
func (h *PaymentStateHandler) Verify(c *gin.Context) {
	v, err := h.reader.Verify(c.Request.Context(), c.Param("transactionId"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	ok(c, v)
}

func (h *PaymentStateHandler) GetFraudAnalysis(c *gin.Context) {
	a, err := h.reader.GetFraudAnalysis(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	ok(c, a)
}

func (h *PaymentStateHandler) GetComplianceCheck(c *gin.Context) {
	check, err := h.reader.GetComplianceCheck(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	ok(c, check)
}
