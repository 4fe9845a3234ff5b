package models

import "time"

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

type Recommendation string

const (
	RecommendApprove Recommendation = "approve"
	RecommendReview  Recommendation = "review"
	RecommendDecline Recommendation = "decline"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Score returns the points a flag of this severity adds when no rule-specific
// weight applies.
func (s Severity) Score() int {
	switch s {
	case SeverityLow:
		return 5
	case SeverityMedium:
		return 15
	case SeverityHigh:
		return 25
	case SeverityCritical:
		return 40
	}
	return 0
}

type FraudFlag struct {
	Type        string         `json:"type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
}

type FraudAnalysis struct {
	TransactionID  string         `json:"transactionId"`
	RiskLevel      RiskLevel      `json:"riskLevel"`
	RiskScore      int            `json:"riskScore"`
	Flags          []FraudFlag    `json:"flags"`
	Recommendation Recommendation `json:"recommendation"`
	Reason         string         `json:"reason"`
	AnalyzedAt     time.Time      `json:"analyzedAt"`
	ReviewedBy     string         `json:"reviewedBy,omitempty"`
	FinalDecision  string         `json:"finalDecision,omitempty"`
	Notes          string         `json:"notes,omitempty"`
	ReviewedAt     *time.Time     `json:"reviewedAt,omitempty"`
}

// RiskLevelForScore maps a clamped score onto its level and recommendation.
func RiskLevelForScore(score int) (RiskLevel, Recommendation) {
	switch {
	case score >= 70:
		return RiskCritical, RecommendDecline
	case score >= 40:
		return RiskHigh, RecommendReview
	case score >= 20:
		return RiskMedium, RecommendReview
	default:
		return RiskLow, RecommendApprove
	}
}

// FraudReview is a manual decision recorded against an analysis.
type FraudReview struct {
	Decision   string `json:"decision" binding:"required,oneof=approved declined"`
	ReviewedBy string `json:"reviewedBy" binding:"required"`
	Notes      string `json:"notes"`
}
