package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/fraud"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

// AdminService covers analytics and fraud operations.
type AdminService interface {
	SuccessRates(ctx context.Context, period string, provider models.Provider) ([]models.ProviderSuccessRate, error)
	Summary(ctx context.Context, start, end time.Time) (*models.PaymentAnalytics, error)
	ReviewFraud(ctx context.Context, id string, review models.FraudReview) (*models.FraudAnalysis, error)
	UpdateRules(ctx context.Context, rules fraud.Rules) (fraud.Rules, error)
	FraudRules() fraud.Rules
	BlockPhone(ctx context.Context, phone string) error
}

type AdminHandler struct {
	admin AdminService
}

func NewAdminHandler(admin AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

func (h *AdminHandler) SuccessRates(c *gin.Context) {
	provider := models.Provider(strings.ToUpper(c.Query("provider")))
	rates, err := h.admin.SuccessRates(c.Request.Context(), c.DefaultQuery("period", "day"), provider)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	ok(c, rates)
}

func (h *AdminHandler) Summary(c *gin.Context) {
	var start, end time.Time
	from, err := timeQuery(c, "startDate")
	if err != nil {
		badRequest(c, err)
		return
	}
	to, err := timeQuery(c, "endDate")
	if err != nil {
		badRequest(c, err)
		return
	}
	if from != nil {
		start = *from
	}
	if to != nil {
		end = *to
	}

	summary, err := h.admin.Summary(c.Request.Context(), start, end)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	ok(c, summary)
}

func (h *AdminHandler) ReviewFraud(c *gin.Context) {
	var review models.FraudReview
	if err := c.ShouldBindJSON(&review); err != nil {
		badRequest(c, err)
		return
	}

	analysis, err := h.admin.ReviewFraud(c.Request.Context(), c.Param("transactionId"), review)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	ok(c, analysis)
}

func (h *AdminHandler) GetRules(c *gin.Context) {
	ok(c, h.admin.FraudRules())
}

func (h *AdminHandler) UpdateRules(c *gin.Context) {
	var rules fraud.Rules
	if err := c.ShouldBindJSON(&rules); err != nil {
		badRequest(c, err)
		return
	}

	applied, err := h.admin.UpdateRules(c.Request.Context(), rules)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	ok(c, applied)
}

type blockRequest struct {
	PhoneNumber string `json:"phoneNumber" binding:"required"`
}

func (h *AdminHandler) BlockPhone(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.admin.BlockPhone(c.Request.Context(), req.PhoneNumber); err != nil {
		respondError(c, err, nil)
		return
	}
	ok(c, gin.H{"phoneNumber": models.MSISDN(req.PhoneNumber), "blocked": true})
}
