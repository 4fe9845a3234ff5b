package models

import "time"

type ComplianceStatus string

const (
	ComplianceCompliant     ComplianceStatus = "COMPLIANT"
	ComplianceViolation     ComplianceStatus = "VIOLATION"
	CompliancePendingReview ComplianceStatus = "PENDING_REVIEW"
)

type KYCStatus string

const (
	KYCVerified     KYCStatus = "VERIFIED"
	KYCPending      KYCStatus = "PENDING"
	KYCRejected     KYCStatus = "REJECTED"
	KYCExpired      KYCStatus = "EXPIRED"
	KYCNotSubmitted KYCStatus = "NOT_SUBMITTED"
)

// KYCRecord is what the external KYC service knows about a user.
type KYCRecord struct {
	UserID          string     `json:"userId"`
	Status          KYCStatus  `json:"status"`
	VerifiedIDTypes []string   `json:"verifiedIdTypes"`
	VerifiedAt      *time.Time `json:"verifiedAt,omitempty"`
}

type SubCheck struct {
	Status     ComplianceStatus `json:"status"`
	Violations []string         `json:"violations"`
}

type ComplianceChecks struct {
	Country   SubCheck `json:"country"`
	KYC       SubCheck `json:"kyc"`
	Limits    SubCheck `json:"limits"`
	Sanctions SubCheck `json:"sanctions"`
	AML       SubCheck `json:"aml"`
}

type ComplianceCheck struct {
	TransactionID        string           `json:"transactionId"`
	Country              string           `json:"country"`
	Provider             Provider         `json:"provider"`
	Status               ComplianceStatus `json:"status"`
	Checks               ComplianceChecks `json:"checks"`
	Violations           []string         `json:"violations"`
	RequiresManualReview bool             `json:"requiresManualReview"`
	CheckedAt            time.Time        `json:"checkedAt"`
}

// CountryRequirements is one row of the per-country regulatory table.
// Amounts are minor units of the country's currency.
type CountryRequirements struct {
	Country              string   `json:"country" mapstructure:"country"`
	Currency             string   `json:"currency" mapstructure:"currency"`
	DailyLimit           int64    `json:"dailyLimit" mapstructure:"daily_limit"`
	MonthlyLimit         int64    `json:"monthlyLimit" mapstructure:"monthly_limit"`
	KYCRequiredThreshold int64    `json:"kycRequiredThreshold" mapstructure:"kyc_required_threshold"`
	AMLReportThreshold   int64    `json:"amlReportThreshold" mapstructure:"aml_report_threshold"`
	RequiredIDTypes      []string `json:"requiredIdTypes" mapstructure:"required_id_types"`
}
