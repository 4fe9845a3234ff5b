package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

// Airtel integrates the Airtel Africa merchant collections API.
type Airtel struct {
	base
	tokens *tokenSource
}

func NewAirtel(cfg ProviderConfig, creds Credentials, opts ClientOptions) *Airtel {
	a := &Airtel{base: newBase(cfg, creds, opts)}
	a.tokens = &tokenSource{fetch: a.fetchToken, now: func() time.Time { return a.now() }}
	return a
}

func (a *Airtel) fetchToken(ctx context.Context) (string, time.Duration, error) {
	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	body := map[string]string{
		"client_id":     a.creds.ConsumerKey,
		"client_secret": a.creds.ConsumerSecret,
		"grant_type":    "client_credentials",
	}
	if err := a.client.postJSON(ctx, "token", "/auth/oauth2/token", nil, body, &tok); err != nil {
		return "", 0, err
	}
	return tok.AccessToken, time.Duration(tok.ExpiresIn) * time.Second, nil
}

func (a *Airtel) headers(ctx context.Context, country, currency string) (map[string]string, error) {
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	if country == "" {
		country = a.cfg.HomeCountry
	}
	if currency == "" && len(a.cfg.Currencies) > 0 {
		currency = a.cfg.Currencies[0]
	}
	return map[string]string{
		"Authorization": "Bearer " + token,
		"X-Country":     country,
		"X-Currency":    currency,
	}, nil
}

type airtelEnvelope struct {
	Data struct {
		Transaction struct {
			ID            string `json:"id"`
			Status        string `json:"status"`
			Message       string `json:"message"`
			AirtelMoneyID string `json:"airtel_money_id"`
		} `json:"transaction"`
	} `json:"data"`
	Status struct {
		Code         string `json:"code"`
		Message      string `json:"message"`
		ResultCode   string `json:"result_code"`
		ResponseCode string `json:"response_code"`
		Success      bool   `json:"success"`
	} `json:"status"`
}

func (a *Airtel) InitiatePayment(ctx context.Context, inst PaymentInstruction) (*Response, error) {
	if err := a.preflight(inst); err != nil {
		return nil, err
	}
	headers, err := a.headers(ctx, inst.Country, inst.Currency)
	if err != nil {
		return nil, classify(a.cfg.Name, "authentication", err)
	}

	body := map[string]any{
		"reference": inst.Description,
		"subscriber": map[string]string{
			"country":  inst.Country,
			"currency": inst.Currency,
			"msisdn":   models.NationalNumber(inst.PhoneNumber),
		},
		"transaction": map[string]any{
			"amount":   toMajorUnits(inst.Amount, inst.Currency),
			"country":  inst.Country,
			"currency": inst.Currency,
			"id":       inst.TransactionID,
		},
	}

	var resp airtelEnvelope
	if err := a.client.postJSON(ctx, "payment", "/merchant/v1/payments/", headers, body, &resp); err != nil {
		return nil, classify(a.cfg.Name, "payment", err)
	}
	if !resp.Status.Success {
		return nil, declined(a.cfg.Name, resp.Status.Message)
	}

	return &Response{
		Success:               true,
		ProviderTransactionID: inst.TransactionID,
		Status:                models.StatusProcessing,
		Message:               resp.Status.Message,
	}, nil
}

func (a *Airtel) CheckStatus(ctx context.Context, providerTxnID string) (*Verification, error) {
	headers, err := a.headers(ctx, "", "")
	if err != nil {
		return nil, classify(a.cfg.Name, "authentication", err)
	}

	var resp airtelEnvelope
	if err := a.client.getJSON(ctx, "status", "/standard/v1/payments/"+providerTxnID, headers, &resp); err != nil {
		return nil, classify(a.cfg.Name, "status query", err)
	}

	txn := resp.Data.Transaction
	status := airtelPaymentStatus(txn.Status)
	v := &Verification{
		Verified: status == models.StatusCompleted,
		Status:   status,
		Metadata: map[string]string{"airtel_money_id": txn.AirtelMoneyID},
	}
	if v.Verified {
		now := a.now()
		v.CompletedAt = &now
	}
	return v, nil
}

func (a *Airtel) ProcessRefund(ctx context.Context, req RefundRequest) (*Response, error) {
	if req.ProviderReceipt == "" {
		return nil, declined(a.cfg.Name, "refund requires the Airtel money id")
	}
	headers, err := a.headers(ctx, models.CountryFromPhone(req.PhoneNumber), req.Currency)
	if err != nil {
		return nil, classify(a.cfg.Name, "authentication", err)
	}

	body := map[string]any{
		"transaction": map[string]string{"airtel_money_id": req.ProviderReceipt},
	}
	var resp airtelEnvelope
	if err := a.client.postJSON(ctx, "refund", "/standard/v1/payments/refund", headers, body, &resp); err != nil {
		return nil, classify(a.cfg.Name, "refund", err)
	}
	if !resp.Status.Success {
		return nil, declined(a.cfg.Name, resp.Status.Message)
	}
	return &Response{
		Success:               true,
		ProviderTransactionID: resp.Data.Transaction.AirtelMoneyID,
		Status:                airtelPaymentStatus(resp.Data.Transaction.Status),
		Message:               resp.Status.Message,
	}, nil
}

type airtelCallback struct {
	Transaction struct {
		ID            string `json:"id"`
		Message       string `json:"message"`
		StatusCode    string `json:"status_code"`
		AirtelMoneyID string `json:"airtel_money_id"`
	} `json:"transaction"`
}

func (a *Airtel) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var cb airtelCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("decode Airtel callback: %w", err)
	}
	txn := cb.Transaction
	if txn.ID == "" {
		return nil, fmt.Errorf("Airtel callback missing transaction id")
	}

	event := &WebhookEvent{
		Provider:              a.cfg.Provider,
		ExternalTransactionID: txn.ID,
		ProviderTransactionID: txn.ID,
		Status:                airtelPaymentStatus(txn.StatusCode),
		Metadata:              map[string]string{"airtel_money_id": txn.AirtelMoneyID},
	}
	if event.Status == models.StatusFailed {
		event.FailureReason = txn.Message
	}
	return event, nil
}

// airtelPaymentStatus maps Airtel's two-letter codes: TS success, TF failure,
// TA ambiguous and TIP in progress.
func airtelPaymentStatus(code string) models.PaymentStatus {
	switch code {
	case "TS":
		return models.StatusCompleted
	case "TF":
		return models.StatusFailed
	case "TE":
		return models.StatusExpired
	default:
		return models.StatusProcessing
	}
}
