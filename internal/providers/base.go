package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

// base carries what every adapter shares: reference data, credentials and
// the retrying HTTP client.
type base struct {
	cfg    ProviderConfig
	creds  Credentials
	client *httpClient
	now    func() time.Time
}

func newBase(cfg ProviderConfig, creds Credentials, opts ClientOptions) base {
	return base{
		cfg:    cfg,
		creds:  creds,
		client: newHTTPClient(cfg.Provider, strings.TrimRight(creds.BaseURL, "/"), opts),
		now:    time.Now,
	}
}

func (b *base) Provider() models.Provider { return b.cfg.Provider }

func (b *base) Config() ProviderConfig { return b.cfg }

func (b *base) CalculateFees(amount int64, currency string) models.Fees {
	return b.cfg.Fees.Calculate(amount)
}

func (b *base) GetLimits(country string) Limits {
	if l, ok := b.cfg.CountryLimits[country]; ok {
		return l
	}
	return b.cfg.Limits
}

// ValidatePhoneNumber accepts numbers from a country the network operates in
// with the expected subscriber-number length. An empty country accepts any of
// the network's countries.
func (b *base) ValidatePhoneNumber(phone, country string) bool {
	if !models.ValidPhone(phone) {
		return false
	}
	pc := models.CountryFromPhone(phone)
	if pc == "" || !b.cfg.OperatesIn(pc) {
		return false
	}
	if country != "" && pc != country {
		return false
	}
	return b.cfg.NationalDigits == 0 || len(models.NationalNumber(phone)) == b.cfg.NationalDigits
}

func (b *base) IsAvailable(ctx context.Context) bool {
	return b.creds.Enabled && b.client.baseURL != ""
}

func (b *base) VerifyWebhook(payload []byte, signature string) bool {
	return VerifySignature(b.creds.WebhookSecret, payload, signature)
}

func (b *base) callbackURL(inst PaymentInstruction) string {
	if inst.CallbackURL != "" {
		return inst.CallbackURL
	}
	return b.creds.CallbackURL
}

// preflight rejects instructions the network would refuse anyway.
func (b *base) preflight(inst PaymentInstruction) error {
	if !b.cfg.SupportsCurrency(inst.Currency) {
		return declined(b.cfg.Name, fmt.Sprintf("currency %s not supported", inst.Currency))
	}
	limits := b.GetLimits(inst.Country)
	if inst.Amount < limits.Min || (limits.Max > 0 && inst.Amount > limits.Max) {
		return declined(b.cfg.Name, fmt.Sprintf("amount %d outside limits [%d, %d]", inst.Amount, limits.Min, limits.Max))
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares signature against the expected HMAC in constant
// time. An empty secret or signature never verifies.
func VerifySignature(secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}
