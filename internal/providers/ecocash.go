package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

// EcoCash integrates the EcoCash merchant API. It authenticates every call
// with HTTP basic auth instead of an OAuth token.
type EcoCash struct {
	base
}

func NewEcoCash(cfg ProviderConfig, creds Credentials, opts ClientOptions) *EcoCash {
	return &EcoCash{base: newBase(cfg, creds, opts)}
}

type ecocashChargingInfo struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

type ecocashPaymentAmount struct {
	ChargingInformation ecocashChargingInfo `json:"charginginformation"`
}

type ecocashCharge struct {
	ClientCorrelator           string               `json:"clientCorrelator"`
	NotifyURL                  string               `json:"notifyUrl"`
	ReferenceCode              string               `json:"referenceCode"`
	EndUserID                  string               `json:"endUserId"`
	TransactionOperationStatus string               `json:"transactionOperationStatus"`
	PaymentAmount              ecocashPaymentAmount `json:"paymentAmount"`
	MerchantCode               string               `json:"merchantCode"`
	MerchantPin                string               `json:"merchantPin"`
}

type ecocashResult struct {
	ClientCorrelator           string `json:"clientCorrelator"`
	ServerReferenceCode        string `json:"serverReferenceCode"`
	EcocashReference           string `json:"ecocashReference"`
	TransactionOperationStatus string `json:"transactionOperationStatus"`
	ResponseMessage            string `json:"responseMessage"`
}

func (e *EcoCash) call(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}
	return e.client.do(ctx, op, apiRequest{
		method:    "POST",
		path:      path,
		body:      payload,
		basicUser: e.creds.ConsumerKey,
		basicPass: e.creds.ConsumerSecret,
	}, out)
}

func (e *EcoCash) InitiatePayment(ctx context.Context, inst PaymentInstruction) (*Response, error) {
	if err := e.preflight(inst); err != nil {
		return nil, err
	}

	var req ecocashCharge
	req.ClientCorrelator = inst.TransactionID
	req.NotifyURL = e.callbackURL(inst)
	req.ReferenceCode = inst.TransactionID
	req.EndUserID = models.MSISDN(inst.PhoneNumber)
	req.TransactionOperationStatus = "Charged"
	req.PaymentAmount.ChargingInformation = ecocashChargingInfo{
		Amount:      toMajorUnits(inst.Amount, inst.Currency),
		Currency:    inst.Currency,
		Description: inst.Description,
	}
	req.MerchantCode = e.creds.MerchantCode
	req.MerchantPin = e.creds.MerchantPin

	var resp ecocashResult
	if err := e.call(ctx, "charge", "/transactions/amount", req, &resp); err != nil {
		return nil, classify(e.cfg.Name, "charge", err)
	}

	status := ecocashPaymentStatus(resp.TransactionOperationStatus)
	if status == models.StatusFailed {
		return nil, declined(e.cfg.Name, resp.ResponseMessage)
	}
	if status == models.StatusPending {
		status = models.StatusProcessing
	}

	return &Response{
		Success:               true,
		ProviderTransactionID: resp.ServerReferenceCode,
		Status:                status,
		Message:               resp.ResponseMessage,
		Metadata:              map[string]string{"ecocash_reference": resp.EcocashReference},
	}, nil
}

func (e *EcoCash) CheckStatus(ctx context.Context, providerTxnID string) (*Verification, error) {
	var resp ecocashResult
	path := fmt.Sprintf("/transactions/%s/status", providerTxnID)
	err := e.client.do(ctx, "status", apiRequest{
		method:    "GET",
		path:      path,
		basicUser: e.creds.ConsumerKey,
		basicPass: e.creds.ConsumerSecret,
	}, &resp)
	if err != nil {
		return nil, classify(e.cfg.Name, "status query", err)
	}

	status := ecocashPaymentStatus(resp.TransactionOperationStatus)
	if status == models.StatusPending {
		status = models.StatusProcessing
	}
	v := &Verification{
		Verified: status == models.StatusCompleted,
		Status:   status,
		Metadata: map[string]string{"ecocash_reference": resp.EcocashReference},
	}
	if v.Verified {
		now := e.now()
		v.CompletedAt = &now
	}
	return v, nil
}

func (e *EcoCash) ProcessRefund(ctx context.Context, req RefundRequest) (*Response, error) {
	if req.ProviderReceipt == "" {
		return nil, declined(e.cfg.Name, "refund requires the EcoCash reference")
	}

	body := map[string]any{
		"clientCorrelator":         req.RefundID,
		"referenceCode":            req.RefundID,
		"originalEcocashReference": req.ProviderReceipt,
		"endUserId":                models.MSISDN(req.PhoneNumber),
		"amount":                   toMajorUnits(req.Amount, req.Currency),
		"currency":                 req.Currency,
		"refundReason":             req.Reason,
		"merchantCode":             e.creds.MerchantCode,
		"merchantPin":              e.creds.MerchantPin,
	}
	var resp ecocashResult
	if err := e.call(ctx, "refund", "/transactions/refund", body, &resp); err != nil {
		return nil, classify(e.cfg.Name, "refund", err)
	}
	status := ecocashPaymentStatus(resp.TransactionOperationStatus)
	if status == models.StatusFailed {
		return nil, declined(e.cfg.Name, resp.ResponseMessage)
	}
	return &Response{
		Success:               true,
		ProviderTransactionID: resp.ServerReferenceCode,
		Status:                status,
		Message:               resp.ResponseMessage,
	}, nil
}

func (e *EcoCash) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var res ecocashResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode EcoCash notification: %w", err)
	}
	if res.ClientCorrelator == "" {
		return nil, fmt.Errorf("EcoCash notification missing clientCorrelator")
	}

	event := &WebhookEvent{
		Provider:              e.cfg.Provider,
		ExternalTransactionID: res.ClientCorrelator,
		ProviderTransactionID: res.ServerReferenceCode,
		Status:                ecocashPaymentStatus(res.TransactionOperationStatus),
		Metadata:              map[string]string{"ecocash_reference": res.EcocashReference},
	}
	if event.Status == models.StatusFailed {
		event.FailureReason = res.ResponseMessage
	}
	return event, nil
}

func ecocashPaymentStatus(s string) models.PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "COMPLETED", "CHARGED":
		return models.StatusCompleted
	case "FAILED":
		return models.StatusFailed
	case "PENDING SUBSCRIBER VALIDATION", "PENDING":
		return models.StatusPending
	default:
		return models.StatusProcessing
	}
}
