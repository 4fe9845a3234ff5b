package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

const (
	mpesaTimestampLayout  = "20060102150405"
	mpesaResultSuccess    = 0
	mpesaResultCancelled  = 1032
	mpesaReceiptMetadata  = "mpesa_receipt_number"
	mpesaMerchantMetadata = "merchant_request_id"
	mpesaReversalMetadata = "mpesa_reversal_transaction_id"
)

// Mpesa drives Safaricom's Daraja STK push flow.
type Mpesa struct {
	base
	tokens *tokenSource
}

func NewMpesa(cfg ProviderConfig, creds Credentials, opts ClientOptions) *Mpesa {
	m := &Mpesa{base: newBase(cfg, creds, opts)}
	m.tokens = &tokenSource{fetch: m.fetchToken, now: func() time.Time { return m.now() }}
	return m
}

type mpesaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (m *Mpesa) fetchToken(ctx context.Context) (string, time.Duration, error) {
	var resp mpesaTokenResponse
	err := m.client.do(ctx, "oauth", apiRequest{
		method:    "GET",
		path:      "/oauth/v1/generate?grant_type=client_credentials",
		basicUser: m.creds.ConsumerKey,
		basicPass: m.creds.ConsumerSecret,
	}, &resp)
	if err != nil {
		return "", 0, err
	}
	secs, _ := strconv.Atoi(resp.ExpiresIn)
	return resp.AccessToken, time.Duration(secs) * time.Second, nil
}

func (m *Mpesa) authHeaders(ctx context.Context) (map[string]string, error) {
	token, err := m.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

// Password derives the rolling STK password: base64(shortcode + passkey + timestamp).
func (m *Mpesa) Password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(m.creds.ShortCode + m.creds.PassKey + timestamp))
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

func (m *Mpesa) InitiatePayment(ctx context.Context, inst PaymentInstruction) (*Response, error) {
	if err := m.preflight(inst); err != nil {
		return nil, err
	}
	shillings, whole := wholeMajorUnits(inst.Amount, inst.Currency)
	if !whole {
		return nil, declined(m.cfg.Name, "amount must be a whole number of currency units")
	}

	headers, err := m.authHeaders(ctx)
	if err != nil {
		return nil, classify(m.cfg.Name, "authentication", err)
	}

	ts := m.now().Format(mpesaTimestampLayout)
	msisdn := models.MSISDN(inst.PhoneNumber)
	req := stkPushRequest{
		BusinessShortCode: m.creds.ShortCode,
		Password:          m.Password(ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            shillings,
		PartyA:            msisdn,
		PartyB:            m.creds.ShortCode,
		PhoneNumber:       msisdn,
		CallBackURL:       m.callbackURL(inst),
		AccountReference:  truncate(inst.TransactionID, 12),
		TransactionDesc:   truncate(inst.Description, 13),
	}

	var resp stkPushResponse
	if err := m.client.postJSON(ctx, "stk_push", "/mpesa/stkpush/v1/processrequest", headers, req, &resp); err != nil {
		return nil, classify(m.cfg.Name, "stk push", err)
	}
	if resp.ResponseCode != "0" {
		return nil, declined(m.cfg.Name, resp.ResponseDescription)
	}

	return &Response{
		Success:               true,
		ProviderTransactionID: resp.CheckoutRequestID,
		Status:                models.StatusProcessing,
		Message:               resp.CustomerMessage,
		Metadata:              map[string]string{mpesaMerchantMetadata: resp.MerchantRequestID},
	}, nil
}

type stkQueryResponse struct {
	ResponseCode string `json:"ResponseCode"`
	ResultCode   string `json:"ResultCode"`
	ResultDesc   string `json:"ResultDesc"`
}

func (m *Mpesa) CheckStatus(ctx context.Context, providerTxnID string) (*Verification, error) {
	headers, err := m.authHeaders(ctx)
	if err != nil {
		return nil, classify(m.cfg.Name, "authentication", err)
	}

	ts := m.now().Format(mpesaTimestampLayout)
	req := map[string]string{
		"BusinessShortCode": m.creds.ShortCode,
		"Password":          m.Password(ts),
		"Timestamp":         ts,
		"CheckoutRequestID": providerTxnID,
	}

	var resp stkQueryResponse
	if err := m.client.postJSON(ctx, "stk_query", "/mpesa/stkpushquery/v1/query", headers, req, &resp); err != nil {
		return nil, classify(m.cfg.Name, "status query", err)
	}

	code, err := strconv.Atoi(resp.ResultCode)
	if err != nil {
		return &Verification{Verified: false, Status: models.StatusProcessing}, nil
	}
	status := mpesaResultStatus(code)
	v := &Verification{Verified: status == models.StatusCompleted, Status: status}
	if status == models.StatusCompleted {
		now := m.now()
		v.CompletedAt = &now
	}
	return v, nil
}

type reversalResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

func (m *Mpesa) ProcessRefund(ctx context.Context, req RefundRequest) (*Response, error) {
	if req.ProviderReceipt == "" {
		return nil, declined(m.cfg.Name, "reversal requires the M-Pesa receipt number")
	}
	shillings, whole := wholeMajorUnits(req.Amount, req.Currency)
	if !whole {
		return nil, declined(m.cfg.Name, "amount must be a whole number of currency units")
	}

	headers, err := m.authHeaders(ctx)
	if err != nil {
		return nil, classify(m.cfg.Name, "authentication", err)
	}

	body := map[string]any{
		"Initiator":              m.creds.Initiator,
		"SecurityCredential":     m.creds.SecurityCred,
		"CommandID":              "TransactionReversal",
		"TransactionID":          req.ProviderReceipt,
		"Amount":                 shillings,
		"ReceiverParty":          m.creds.ShortCode,
		"RecieverIdentifierType": "11",
		"ResultURL":              m.creds.CallbackURL,
		"QueueTimeOutURL":        m.creds.CallbackURL,
		"Remarks":                truncate(req.Reason, 100),
		"Occasion":               req.RefundID,
	}

	var resp reversalResponse
	if err := m.client.postJSON(ctx, "reversal", "/mpesa/reversal/v1/request", headers, body, &resp); err != nil {
		return nil, classify(m.cfg.Name, "reversal", err)
	}
	if resp.ResponseCode != "0" {
		return nil, declined(m.cfg.Name, resp.ResponseDescription)
	}
	return &Response{
		Success:               true,
		ProviderTransactionID: resp.ConversationID,
		Status:                models.StatusProcessing,
		Message:               resp.ResponseDescription,
	}, nil
}

// mpesaCallback covers both STK push callbacks (Body) and the asynchronous
// results of reversals (Result).
type mpesaCallback struct {
	Result *struct {
		ResultType               int    `json:"ResultType"`
		ResultCode               int    `json:"ResultCode"`
		ResultDesc               string `json:"ResultDesc"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
		ConversationID           string `json:"ConversationID"`
		TransactionID            string `json:"TransactionID"`
	} `json:"Result"`
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func (m *Mpesa) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var cb mpesaCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("decode M-Pesa callback: %w", err)
	}
	if cb.Result != nil {
		return m.parseReversalResult(cb)
	}
	stk := cb.Body.StkCallback
	if stk.CheckoutRequestID == "" {
		return nil, fmt.Errorf("M-Pesa callback missing CheckoutRequestID")
	}

	event := &WebhookEvent{
		Provider:              m.cfg.Provider,
		ProviderTransactionID: stk.CheckoutRequestID,
		Status:                mpesaResultStatus(stk.ResultCode),
		Metadata:              map[string]string{mpesaMerchantMetadata: stk.MerchantRequestID},
	}
	if event.Status != models.StatusCompleted {
		event.FailureReason = stk.ResultDesc
	}
	if stk.CallbackMetadata != nil {
		for _, item := range stk.CallbackMetadata.Item {
			value := string(item.Value)
			var s string
			if json.Unmarshal(item.Value, &s) == nil {
				value = s
			}
			if item.Name == "MpesaReceiptNumber" {
				event.Metadata[mpesaReceiptMetadata] = value
				continue
			}
			event.Metadata[item.Name] = value
		}
	}
	return event, nil
}

func (m *Mpesa) parseReversalResult(cb mpesaCallback) (*WebhookEvent, error) {
	res := cb.Result
	if res.ConversationID == "" {
		return nil, fmt.Errorf("M-Pesa reversal result missing ConversationID")
	}
	event := &WebhookEvent{
		Provider:         m.cfg.Provider,
		ProviderRefundID: res.ConversationID,
		Status:           models.StatusCompleted,
		Metadata:         map[string]string{},
	}
	if res.TransactionID != "" {
		event.Metadata[mpesaReversalMetadata] = res.TransactionID
	}
	if res.ResultCode != mpesaResultSuccess {
		event.Status = models.StatusFailed
		event.FailureReason = res.ResultDesc
	}
	return event, nil
}

func mpesaResultStatus(code int) models.PaymentStatus {
	switch code {
	case mpesaResultSuccess:
		return models.StatusCompleted
	case mpesaResultCancelled:
		return models.StatusCancelled
	default:
		return models.StatusFailed
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
