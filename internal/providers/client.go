package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/telemetry"
)

// StatusError is a non-2xx reply from a provider API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type apiRequest struct {
	method      string
	path        string
	headers     map[string]string
	body        []byte
	contentType string
	basicUser   string
	basicPass   string
}

type httpClient struct {
	provider models.Provider
	baseURL  string
	http     *http.Client
	opts     ClientOptions
}

func newHTTPClient(provider models.Provider, baseURL string, opts ClientOptions) *httpClient {
	return &httpClient{
		provider: provider,
		baseURL:  baseURL,
		http:     &http.Client{Timeout: opts.Timeout},
		opts:     opts,
	}
}

// do sends req, retrying transport failures, 5xx and 429 replies with
// exponential backoff for at most opts.MaxRetries extra attempts. 4xx replies
// fail immediately.
func (c *httpClient) do(ctx context.Context, op string, req apiRequest, out any) error {
	start := time.Now()

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, bytes.NewReader(req.body))
		if err != nil {
			return backoff.Permanent(err)
		}
		if len(req.body) > 0 {
			ct := req.contentType
			if ct == "" {
				ct = "application/json"
			}
			httpReq.Header.Set("Content-Type", ct)
		}
		httpReq.Header.Set("Accept", "application/json")
		for k, v := range req.headers {
			httpReq.Header.Set(k, v)
		}
		if req.basicUser != "" {
			httpReq.SetBasicAuth(req.basicUser, req.basicPass)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}

		if resp.StatusCode >= 300 {
			se := &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
			if se.transient() {
				return se
			}
			return backoff.Permanent(se)
		}

		if out != nil && len(bytes.TrimSpace(data)) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode %s response: %w", op, err))
			}
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxInterval = c.opts.MaxInterval
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, c.opts.MaxRetries), ctx))

	telemetry.ObserveProviderCall(string(c.provider), op, err, time.Since(start))
	return err
}

func (c *httpClient) postJSON(ctx context.Context, op, path string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}
	return c.do(ctx, op, apiRequest{method: http.MethodPost, path: path, headers: headers, body: payload}, out)
}

func (c *httpClient) getJSON(ctx context.Context, op, path string, headers map[string]string, out any) error {
	return c.do(ctx, op, apiRequest{method: http.MethodGet, path: path, headers: headers}, out)
}

// classify turns a transport or API failure into the stable error taxonomy:
// definitive rejections become TRANSACTION_DECLINED, everything else
// PROVIDER_UNAVAILABLE.
func classify(name, op string, err error) error {
	var pe *models.PaymentError
	if errors.As(err, &pe) {
		return err
	}
	var se *StatusError
	if errors.As(err, &se) && !se.transient() {
		return &models.PaymentError{
			Code:    models.CodeTransactionDeclined,
			Message: fmt.Sprintf("%s rejected %s", name, op),
			Details: se.Body,
			Err:     err,
		}
	}
	return &models.PaymentError{
		Code:    models.CodeProviderUnavailable,
		Message: fmt.Sprintf("%s is unavailable", name),
		Details: err.Error(),
		Err:     err,
	}
}

func declined(name, details string) error {
	return &models.PaymentError{
		Code:    models.CodeTransactionDeclined,
		Message: fmt.Sprintf("%s declined the transaction", name),
		Details: details,
	}
}

// tokenSource caches an OAuth access token until shortly before it expires.
type tokenSource struct {
	mu     sync.Mutex
	token  string
	expiry time.Time
	fetch  func(ctx context.Context) (string, time.Duration, error)
	now    func() time.Time
}

func (t *tokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.token != "" && now.Before(t.expiry) {
		return t.token, nil
	}

	token, ttl, err := t.fetch(ctx)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	t.token = token
	t.expiry = now.Add(ttl - ttl/10)
	return token, nil
}
