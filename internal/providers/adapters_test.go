package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

func testOptions() ClientOptions {
	return ClientOptions{
		Timeout:         2 * time.Second,
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func mpesaCreds(baseURL string) Credentials {
	return Credentials{
		Enabled:        true,
		BaseURL:        baseURL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		PassKey:        "passkey",
		CallbackURL:    "https://example.test/webhooks/mobile-money/MPESA",
		WebhookSecret:  "whsec",
	}
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
}

func TestMpesaPassword(t *testing.T) {
	m := NewMpesa(DefaultConfigs()[models.ProviderMpesa], mpesaCreds(""), testOptions())

	got := m.Password("20240301123045")
	want := base64.StdEncoding.EncodeToString([]byte("174379passkey20240301123045"))
	if got != want {
		t.Errorf("Password() = %q, want %q", got, want)
	}
}

func TestMpesaInitiatePayment(t *testing.T) {
	var pushed stkPushRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok", "expires_in": "3599"})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&pushed)
		json.NewEncoder(w).Encode(stkPushResponse{
			MerchantRequestID: "m-1",
			CheckoutRequestID: "ws_CO_1",
			ResponseCode:      "0",
			CustomerMessage:   "Success. Request accepted for processing",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := NewMpesa(DefaultConfigs()[models.ProviderMpesa], mpesaCreds(srv.URL), testOptions())
	m.now = fixedClock

	resp, err := m.InitiatePayment(context.Background(), PaymentInstruction{
		TransactionID: "txn-1",
		Amount:        100_000,
		Currency:      "KES",
		PhoneNumber:   "+254708374149",
		Description:   "Premium",
		Country:       "KE",
	})
	if err != nil {
		t.Fatalf("InitiatePayment() error = %v", err)
	}
	if resp.ProviderTransactionID != "ws_CO_1" || resp.Status != models.StatusProcessing {
		t.Errorf("unexpected response: %+v", resp)
	}
	if pushed.Amount != 1_000 {
		t.Errorf("pushed amount = %d, want 1000 whole shillings", pushed.Amount)
	}
	if pushed.PhoneNumber != "254708374149" || pushed.PartyA != "254708374149" {
		t.Errorf("pushed phone = %q/%q", pushed.PhoneNumber, pushed.PartyA)
	}
	if pushed.Timestamp != "20240301123045" || pushed.Password != m.Password("20240301123045") {
		t.Errorf("pushed timestamp/password = %q/%q", pushed.Timestamp, pushed.Password)
	}
}

func TestMpesaRejectsFractionalShillings(t *testing.T) {
	m := NewMpesa(DefaultConfigs()[models.ProviderMpesa], mpesaCreds("http://unused"), testOptions())

	_, err := m.InitiatePayment(context.Background(), PaymentInstruction{
		TransactionID: "txn-1",
		Amount:        100_050,
		Currency:      "KES",
		PhoneNumber:   "+254708374149",
		Country:       "KE",
	})
	if models.ErrorCode(err) != models.CodeTransactionDeclined {
		t.Errorf("error code = %q, want %q", models.ErrorCode(err), models.CodeTransactionDeclined)
	}
}

func TestClientRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newHTTPClient(models.ProviderMpesa, srv.URL, testOptions())
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.getJSON(context.Background(), "lookup", "/", nil, &out); err != nil {
		t.Fatalf("getJSON() error = %v", err)
	}
	if !out.OK {
		t.Error("response not decoded")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad msisdn"}`))
	}))
	defer srv.Close()

	c := newHTTPClient(models.ProviderMTNMoney, srv.URL, testOptions())
	err := c.getJSON(context.Background(), "lookup", "/", nil, nil)

	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Fatalf("error = %v, want StatusError 400", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
	if code := models.ErrorCode(classify("MTN Money", "lookup", err)); code != models.CodeTransactionDeclined {
		t.Errorf("classify code = %q, want %q", code, models.CodeTransactionDeclined)
	}
}

func TestClassifyExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newHTTPClient(models.ProviderAirtelMoney, srv.URL, testOptions())
	err := c.getJSON(context.Background(), "lookup", "/", nil, nil)
	if code := models.ErrorCode(classify("Airtel Money", "lookup", err)); code != models.CodeProviderUnavailable {
		t.Errorf("classify code = %q, want %q", code, models.CodeProviderUnavailable)
	}
}

func TestTokenSourceCachesUntilExpiry(t *testing.T) {
	now := fixedClock()
	fetches := 0
	ts := &tokenSource{
		fetch: func(ctx context.Context) (string, time.Duration, error) {
			fetches++
			return "tok", 100 * time.Second, nil
		},
		now: func() time.Time { return now },
	}

	for i := 0; i < 3; i++ {
		if _, err := ts.Token(context.Background()); err != nil {
			t.Fatalf("Token() error = %v", err)
		}
	}
	if fetches != 1 {
		t.Errorf("fetches = %d, want 1", fetches)
	}

	now = now.Add(91 * time.Second)
	ts.Token(context.Background())
	if fetches != 2 {
		t.Errorf("fetches after expiry = %d, want 2", fetches)
	}
}

func TestWebhookParsing(t *testing.T) {
	configs := DefaultConfigs()
	creds := Credentials{Enabled: true, BaseURL: "http://unused"}

	tests := []struct {
		name         string
		adapter      Adapter
		payload      string
		wantStatus   models.PaymentStatus
		wantExternal string
		wantProvider string
		wantRefund   string
		wantReason   string
		wantMeta     map[string]string
	}{
		{
			name:    "M-Pesa success with receipt",
			adapter: NewMpesa(configs[models.ProviderMpesa], creds, testOptions()),
			payload: `{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"ok",
				"CallbackMetadata":{"Item":[{"Name":"Amount","Value":1000},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"}]}}}}`,
			wantStatus:   models.StatusCompleted,
			wantProvider: "ws_CO_1",
			wantMeta:     map[string]string{"mpesa_receipt_number": "NLJ7RT61SV", "Amount": "1000"},
		},
		{
			name:         "M-Pesa user cancelled",
			adapter:      NewMpesa(configs[models.ProviderMpesa], creds, testOptions()),
			payload:      `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_2","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`,
			wantStatus:   models.StatusCancelled,
			wantProvider: "ws_CO_2",
		},
		{
			name:         "M-Pesa insufficient funds",
			adapter:      NewMpesa(configs[models.ProviderMpesa], creds, testOptions()),
			payload:      `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_3","ResultCode":1,"ResultDesc":"Insufficient balance"}}}`,
			wantStatus:   models.StatusFailed,
			wantProvider: "ws_CO_3",
		},
		{
			name:       "M-Pesa reversal completed",
			adapter:    NewMpesa(configs[models.ProviderMpesa], creds, testOptions()),
			payload:    `{"Result":{"ResultType":0,"ResultCode":0,"ResultDesc":"The service request is processed successfully.","OriginatorConversationID":"8521-4298025-1","ConversationID":"AG_20240301_1","TransactionID":"MJ561H6X5O"}}`,
			wantStatus: models.StatusCompleted,
			wantRefund: "AG_20240301_1",
			wantMeta:   map[string]string{"mpesa_reversal_transaction_id": "MJ561H6X5O"},
		},
		{
			name:       "M-Pesa reversal rejected",
			adapter:    NewMpesa(configs[models.ProviderMpesa], creds, testOptions()),
			payload:    `{"Result":{"ResultType":0,"ResultCode":2001,"ResultDesc":"The initiator information is invalid.","ConversationID":"AG_20240301_2"}}`,
			wantStatus: models.StatusFailed,
			wantRefund: "AG_20240301_2",
			wantReason: "The initiator information is invalid.",
		},
		{
			name:         "MTN successful",
			adapter:      NewMTN(configs[models.ProviderMTNMoney], creds, testOptions()),
			payload:      `{"financialTransactionId":"9001","externalId":"txn-9","status":"SUCCESSFUL"}`,
			wantStatus:   models.StatusCompleted,
			wantExternal: "txn-9",
			wantMeta:     map[string]string{"financial_transaction_id": "9001"},
		},
		{
			name:         "Orange failed",
			adapter:      NewOrange(configs[models.ProviderOrangeMoney], creds, testOptions()),
			payload:      `{"status":"FAILED","notif_token":"n","txnid":"MP1","order_id":"txn-7"}`,
			wantStatus:   models.StatusFailed,
			wantExternal: "txn-7",
		},
		{
			name:         "Airtel success",
			adapter:      NewAirtel(configs[models.ProviderAirtelMoney], creds, testOptions()),
			payload:      `{"transaction":{"id":"txn-5","message":"ok","status_code":"TS","airtel_money_id":"AM-1"}}`,
			wantStatus:   models.StatusCompleted,
			wantExternal: "txn-5",
			wantMeta:     map[string]string{"airtel_money_id": "AM-1"},
		},
		{
			name:         "EcoCash pending validation",
			adapter:      NewEcoCash(configs[models.ProviderEcoCash], creds, testOptions()),
			payload:      `{"clientCorrelator":"txn-3","ecocashReference":"MP-3","transactionOperationStatus":"PENDING SUBSCRIBER VALIDATION"}`,
			wantStatus:   models.StatusPending,
			wantExternal: "txn-3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := tt.adapter.ParseWebhook([]byte(tt.payload))
			if err != nil {
				t.Fatalf("ParseWebhook() error = %v", err)
			}
			if ev.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", ev.Status, tt.wantStatus)
			}
			if ev.ExternalTransactionID != tt.wantExternal {
				t.Errorf("ExternalTransactionID = %q, want %q", ev.ExternalTransactionID, tt.wantExternal)
			}
			if tt.wantProvider != "" && ev.ProviderTransactionID != tt.wantProvider {
				t.Errorf("ProviderTransactionID = %q, want %q", ev.ProviderTransactionID, tt.wantProvider)
			}
			if ev.ProviderRefundID != tt.wantRefund {
				t.Errorf("ProviderRefundID = %q, want %q", ev.ProviderRefundID, tt.wantRefund)
			}
			if tt.wantReason != "" && ev.FailureReason != tt.wantReason {
				t.Errorf("FailureReason = %q, want %q", ev.FailureReason, tt.wantReason)
			}
			for k, v := range tt.wantMeta {
				if ev.Metadata[k] != v {
					t.Errorf("Metadata[%s] = %q, want %q", k, ev.Metadata[k], v)
				}
			}
		})
	}
}

func TestParseWebhookRejectsMalformedPayloads(t *testing.T) {
	m := NewMpesa(DefaultConfigs()[models.ProviderMpesa], Credentials{}, testOptions())
	for _, payload := range []string{`not json`, `{"Body":{"stkCallback":{}}}`, `{"Result":{"ResultCode":0}}`} {
		if _, err := m.ParseWebhook([]byte(payload)); err == nil {
			t.Errorf("ParseWebhook(%s) expected error", payload)
		}
	}
}

func TestValidatePhoneNumber(t *testing.T) {
	configs := DefaultConfigs()
	mpesa := NewMpesa(configs[models.ProviderMpesa], Credentials{}, testOptions())
	mtn := NewMTN(configs[models.ProviderMTNMoney], Credentials{}, testOptions())

	tests := []struct {
		name    string
		adapter Adapter
		phone   string
		country string
		want    bool
	}{
		{"kenyan number on M-Pesa", mpesa, "+254708374149", "KE", true},
		{"formatted kenyan number", mpesa, "+254 708-374-149", "", true},
		{"ghanaian number on M-Pesa", mpesa, "+233241234567", "", false},
		{"country mismatch", mpesa, "+254708374149", "TZ", false},
		{"too short", mpesa, "+25470837414", "KE", false},
		{"ghanaian number on MTN", mtn, "+233241234567", "GH", true},
		{"garbage", mtn, "call me", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.adapter.ValidatePhoneNumber(tt.phone, tt.country); got != tt.want {
				t.Errorf("ValidatePhoneNumber(%q, %q) = %v, want %v", tt.phone, tt.country, got, tt.want)
			}
		})
	}
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"status":"SUCCESSFUL"}`)
	sig := Sign("whsec", payload)

	tests := []struct {
		name   string
		secret string
		sig    string
		want   bool
	}{
		{"valid", "whsec", sig, true},
		{"valid with prefix", "whsec", "sha256=" + sig, true},
		{"wrong secret", "other", sig, false},
		{"not hex", "whsec", "zz", false},
		{"empty signature", "whsec", "", false},
		{"no secret configured", "", sig, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(tt.secret, payload, tt.sig); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegistryForCountry(t *testing.T) {
	configs := DefaultConfigs()
	enabled := Credentials{Enabled: true, BaseURL: "http://unused"}

	reg := NewRegistry(
		NewMpesa(configs[models.ProviderMpesa], enabled, testOptions()),
		NewAirtel(configs[models.ProviderAirtelMoney], enabled, testOptions()),
		NewMTN(configs[models.ProviderMTNMoney], Credentials{}, testOptions()),
	)

	got := reg.ForCountry(context.Background(), "KE")
	want := []models.Provider{models.ProviderAirtelMoney, models.ProviderMpesa}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("ForCountry(KE) = %v, want %v", got, want)
	}
	if got := reg.ForCountry(context.Background(), "GH"); len(got) != 1 {
		t.Errorf("ForCountry(GH) = %v, want only Airtel since MTN is disabled", got)
	}
}

func TestResolveCountry(t *testing.T) {
	configs := DefaultConfigs()
	if got := ResolveCountry(configs[models.ProviderMpesa], "+255712345678"); got != "TZ" {
		t.Errorf("ResolveCountry(tz phone) = %s, want TZ", got)
	}
	if got := ResolveCountry(configs[models.ProviderMpesa], "+233241234567"); got != "KE" {
		t.Errorf("ResolveCountry(gh phone) = %s, want home KE", got)
	}
}
