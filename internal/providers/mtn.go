package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

// MTN integrates the MoMo collection API. The X-Reference-Id we generate on
// request-to-pay is the provider transaction id.
type MTN struct {
	base
	tokens *tokenSource
	newRef func() string
}

func NewMTN(cfg ProviderConfig, creds Credentials, opts ClientOptions) *MTN {
	m := &MTN{base: newBase(cfg, creds, opts), newRef: uuid.NewString}
	m.tokens = &tokenSource{fetch: m.fetchToken, now: func() time.Time { return m.now() }}
	return m
}

type momoToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (m *MTN) fetchToken(ctx context.Context) (string, time.Duration, error) {
	var tok momoToken
	err := m.client.do(ctx, "token", apiRequest{
		method:    http.MethodPost,
		path:      "/collection/token/",
		headers:   map[string]string{"Ocp-Apim-Subscription-Key": m.creds.SubscriptionKey},
		basicUser: m.creds.ConsumerKey,
		basicPass: m.creds.ConsumerSecret,
	}, &tok)
	if err != nil {
		return "", 0, err
	}
	return tok.AccessToken, time.Duration(tok.ExpiresIn) * time.Second, nil
}

func (m *MTN) headers(ctx context.Context) (map[string]string, error) {
	token, err := m.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"Authorization":             "Bearer " + token,
		"X-Target-Environment":      m.creds.Environment,
		"Ocp-Apim-Subscription-Key": m.creds.SubscriptionKey,
	}, nil
}

type momoParty struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId"`
}

type requestToPay struct {
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	ExternalID   string    `json:"externalId"`
	Payer        momoParty `json:"payer"`
	PayerMessage string    `json:"payerMessage"`
	PayeeNote    string    `json:"payeeNote"`
}

func (m *MTN) InitiatePayment(ctx context.Context, inst PaymentInstruction) (*Response, error) {
	if err := m.preflight(inst); err != nil {
		return nil, err
	}

	headers, err := m.headers(ctx)
	if err != nil {
		return nil, classify(m.cfg.Name, "authentication", err)
	}
	ref := m.newRef()
	headers["X-Reference-Id"] = ref
	if cb := m.callbackURL(inst); cb != "" {
		headers["X-Callback-Url"] = cb
	}

	body := requestToPay{
		Amount:       toMajorUnits(inst.Amount, inst.Currency),
		Currency:     inst.Currency,
		ExternalID:   inst.TransactionID,
		Payer:        momoParty{PartyIDType: "MSISDN", PartyID: models.MSISDN(inst.PhoneNumber)},
		PayerMessage: inst.Description,
		PayeeNote:    inst.Description,
	}
	if err := m.client.postJSON(ctx, "request_to_pay", "/collection/v1_0/requesttopay", headers, body, nil); err != nil {
		return nil, classify(m.cfg.Name, "request to pay", err)
	}

	return &Response{
		Success:               true,
		ProviderTransactionID: ref,
		Status:                models.StatusProcessing,
		Message:               "Approve the payment on your phone",
	}, nil
}

type momoStatus struct {
	Amount                 string `json:"amount"`
	Currency               string `json:"currency"`
	FinancialTransactionID string `json:"financialTransactionId"`
	ExternalID             string `json:"externalId"`
	Status                 string `json:"status"`
	Reason                 any    `json:"reason"`
}

func (m *MTN) CheckStatus(ctx context.Context, providerTxnID string) (*Verification, error) {
	headers, err := m.headers(ctx)
	if err != nil {
		return nil, classify(m.cfg.Name, "authentication", err)
	}

	var st momoStatus
	if err := m.client.getJSON(ctx, "status", "/collection/v1_0/requesttopay/"+providerTxnID, headers, &st); err != nil {
		return nil, classify(m.cfg.Name, "status query", err)
	}

	status := momoPaymentStatus(st.Status)
	v := &Verification{
		Verified: status == models.StatusCompleted,
		Status:   status,
		Amount:   fromMajorUnits(st.Amount, st.Currency),
		Metadata: map[string]string{"financial_transaction_id": st.FinancialTransactionID},
	}
	if v.Verified {
		now := m.now()
		v.CompletedAt = &now
	}
	return v, nil
}

func (m *MTN) ProcessRefund(ctx context.Context, req RefundRequest) (*Response, error) {
	headers, err := m.headers(ctx)
	if err != nil {
		return nil, classify(m.cfg.Name, "authentication", err)
	}
	ref := m.newRef()
	headers["X-Reference-Id"] = ref

	body := map[string]string{
		"amount":              toMajorUnits(req.Amount, req.Currency),
		"currency":            req.Currency,
		"externalId":          req.RefundID,
		"payerMessage":        req.Reason,
		"payeeNote":           req.Reason,
		"referenceIdToRefund": req.ProviderTransactionID,
	}
	if err := m.client.postJSON(ctx, "refund", "/collection/v2_0/refund", headers, body, nil); err != nil {
		return nil, classify(m.cfg.Name, "refund", err)
	}
	return &Response{
		Success:               true,
		ProviderTransactionID: ref,
		Status:                models.StatusProcessing,
	}, nil
}

func (m *MTN) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var st momoStatus
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("decode MTN callback: %w", err)
	}
	if st.ExternalID == "" && st.FinancialTransactionID == "" {
		return nil, fmt.Errorf("MTN callback carries no transaction reference")
	}

	event := &WebhookEvent{
		Provider:              m.cfg.Provider,
		ExternalTransactionID: st.ExternalID,
		Status:                momoPaymentStatus(st.Status),
		Metadata:              map[string]string{},
	}
	if st.FinancialTransactionID != "" {
		event.Metadata["financial_transaction_id"] = st.FinancialTransactionID
	}
	if event.Status == models.StatusFailed {
		event.FailureReason = momoReason(st.Reason)
	}
	return event, nil
}

func momoPaymentStatus(s string) models.PaymentStatus {
	switch strings.ToUpper(s) {
	case "SUCCESSFUL":
		return models.StatusCompleted
	case "FAILED", "REJECTED", "TIMEOUT":
		return models.StatusFailed
	default:
		return models.StatusPending
	}
}

// momoReason flattens the reason field, which MoMo sends either as a string
// or as {code, message}.
func momoReason(r any) string {
	switch v := r.(type) {
	case string:
		return v
	case map[string]any:
		if msg, ok := v["message"].(string); ok && msg != "" {
			return msg
		}
		if code, ok := v["code"].(string); ok {
			return code
		}
	}
	return "payment failed"
}
