package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

// Orange integrates the Orange Money web payment API. Payments are confirmed
// by the customer on a hosted page, so initiation returns a checkout URL.
type Orange struct {
	base
	tokens *tokenSource
}

func NewOrange(cfg ProviderConfig, creds Credentials, opts ClientOptions) *Orange {
	o := &Orange{base: newBase(cfg, creds, opts)}
	o.tokens = &tokenSource{fetch: o.fetchToken, now: func() time.Time { return o.now() }}
	return o
}

func (o *Orange) fetchToken(ctx context.Context) (string, time.Duration, error) {
	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	err := o.client.do(ctx, "token", apiRequest{
		method:      http.MethodPost,
		path:        "/oauth/v3/token",
		body:        []byte(url.Values{"grant_type": {"client_credentials"}}.Encode()),
		contentType: "application/x-www-form-urlencoded",
		basicUser:   o.creds.ConsumerKey,
		basicPass:   o.creds.ConsumerSecret,
	}, &tok)
	if err != nil {
		return "", 0, err
	}
	return tok.AccessToken, time.Duration(tok.ExpiresIn) * time.Second, nil
}

func (o *Orange) authHeaders(ctx context.Context) (map[string]string, error) {
	token, err := o.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

func (o *Orange) countryPath(country string) string {
	if country == "" {
		country = o.cfg.HomeCountry
	}
	return strings.ToLower(country)
}

// currency is the settlement currency of status replies, which do not
// carry one.
func (o *Orange) currency() string {
	if len(o.cfg.Currencies) == 0 {
		return ""
	}
	return o.cfg.Currencies[0]
}

type webPaymentRequest struct {
	MerchantKey string `json:"merchant_key"`
	Currency    string `json:"currency"`
	OrderID     string `json:"order_id"`
	Amount      int64  `json:"amount"`
	ReturnURL   string `json:"return_url"`
	CancelURL   string `json:"cancel_url"`
	NotifURL    string `json:"notif_url"`
	Lang        string `json:"lang"`
	Reference   string `json:"reference"`
}

type webPaymentResponse struct {
	Status     int    `json:"status"`
	Message    string `json:"message"`
	PayToken   string `json:"pay_token"`
	PaymentURL string `json:"payment_url"`
	NotifToken string `json:"notif_token"`
}

func (o *Orange) InitiatePayment(ctx context.Context, inst PaymentInstruction) (*Response, error) {
	if err := o.preflight(inst); err != nil {
		return nil, err
	}
	units, whole := wholeMajorUnits(inst.Amount, inst.Currency)
	if !whole {
		return nil, declined(o.cfg.Name, "amount must be a whole number of currency units")
	}

	headers, err := o.authHeaders(ctx)
	if err != nil {
		return nil, classify(o.cfg.Name, "authentication", err)
	}

	cb := o.callbackURL(inst)
	body := webPaymentRequest{
		MerchantKey: o.creds.MerchantKey,
		Currency:    inst.Currency,
		OrderID:     inst.TransactionID,
		Amount:      units,
		ReturnURL:   cb,
		CancelURL:   cb,
		NotifURL:    cb,
		Lang:        "fr",
		Reference:   inst.Description,
	}

	var resp webPaymentResponse
	path := fmt.Sprintf("/orange-money-webpay/%s/v1/webpayment", o.countryPath(inst.Country))
	if err := o.client.postJSON(ctx, "webpayment", path, headers, body, &resp); err != nil {
		return nil, classify(o.cfg.Name, "web payment", err)
	}
	if resp.PayToken == "" {
		return nil, declined(o.cfg.Name, resp.Message)
	}

	return &Response{
		Success:               true,
		ProviderTransactionID: resp.PayToken,
		Status:                models.StatusProcessing,
		Message:               resp.Message,
		CheckoutURL:           resp.PaymentURL,
		Metadata:              map[string]string{"notif_token": resp.NotifToken},
	}, nil
}

type orangeStatus struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
	TxnID   string `json:"txnid"`
	Amount  int64  `json:"amount"`
}

func (o *Orange) CheckStatus(ctx context.Context, providerTxnID string) (*Verification, error) {
	headers, err := o.authHeaders(ctx)
	if err != nil {
		return nil, classify(o.cfg.Name, "authentication", err)
	}

	body := map[string]string{"pay_token": providerTxnID}
	var st orangeStatus
	path := fmt.Sprintf("/orange-money-webpay/%s/v1/transactionstatus", o.countryPath(""))
	if err := o.client.postJSON(ctx, "status", path, headers, body, &st); err != nil {
		return nil, classify(o.cfg.Name, "status query", err)
	}

	status := orangePaymentStatus(st.Status)
	v := &Verification{
		Verified: status == models.StatusCompleted,
		Status:   status,
		Amount:   fromWholeUnits(st.Amount, o.currency()),
		Metadata: map[string]string{"txnid": st.TxnID},
	}
	if v.Verified {
		now := o.now()
		v.CompletedAt = &now
	}
	return v, nil
}

func (o *Orange) ProcessRefund(ctx context.Context, req RefundRequest) (*Response, error) {
	units, whole := wholeMajorUnits(req.Amount, req.Currency)
	if !whole {
		return nil, declined(o.cfg.Name, "amount must be a whole number of currency units")
	}
	headers, err := o.authHeaders(ctx)
	if err != nil {
		return nil, classify(o.cfg.Name, "authentication", err)
	}

	body := map[string]any{
		"merchant_key": o.creds.MerchantKey,
		"pay_token":    req.ProviderTransactionID,
		"order_id":     req.RefundID,
		"amount":       units,
		"reason":       req.Reason,
	}
	var resp struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		RefundID string `json:"refund_id"`
	}
	path := fmt.Sprintf("/orange-money-webpay/%s/v1/refund", o.countryPath(""))
	if err := o.client.postJSON(ctx, "refund", path, headers, body, &resp); err != nil {
		return nil, classify(o.cfg.Name, "refund", err)
	}
	return &Response{
		Success:               true,
		ProviderTransactionID: resp.RefundID,
		Status:                orangePaymentStatus(resp.Status),
		Message:               resp.Message,
	}, nil
}

type orangeNotification struct {
	Status     string `json:"status"`
	NotifToken string `json:"notif_token"`
	TxnID      string `json:"txnid"`
	OrderID    string `json:"order_id"`
	PayToken   string `json:"pay_token"`
}

func (o *Orange) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var n orangeNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("decode Orange notification: %w", err)
	}
	if n.OrderID == "" && n.PayToken == "" {
		return nil, fmt.Errorf("Orange notification carries no transaction reference")
	}

	event := &WebhookEvent{
		Provider:              o.cfg.Provider,
		ExternalTransactionID: n.OrderID,
		ProviderTransactionID: n.PayToken,
		Status:                orangePaymentStatus(n.Status),
		Metadata:              map[string]string{"txnid": n.TxnID, "notif_token": n.NotifToken},
	}
	if event.Status == models.StatusFailed {
		event.FailureReason = "payment failed at Orange Money"
	}
	return event, nil
}

func orangePaymentStatus(s string) models.PaymentStatus {
	switch strings.ToUpper(s) {
	case "SUCCESS", "SUCCESSFUL":
		return models.StatusCompleted
	case "FAILED":
		return models.StatusFailed
	case "EXPIRED":
		return models.StatusExpired
	case "CANCELLED":
		return models.StatusCancelled
	case "INITIATED", "PENDING":
		return models.StatusPending
	default:
		return models.StatusProcessing
	}
}
