package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/fraud"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/providers"
)

// ProviderSettings is the per-network connection block. Field names follow
// the provider portals' terminology.
type ProviderSettings struct {
	Enabled         bool   `mapstructure:"enabled"`
	BaseURL         string `mapstructure:"base_url"`
	ConsumerKey     string `mapstructure:"consumer_key"`
	ConsumerSecret  string `mapstructure:"consumer_secret"`
	ShortCode       string `mapstructure:"short_code"`
	PassKey         string `mapstructure:"pass_key"`
	Initiator       string `mapstructure:"initiator"`
	SecurityCred    string `mapstructure:"security_credential"`
	SubscriptionKey string `mapstructure:"subscription_key"`
	Environment     string `mapstructure:"environment"`
	MerchantKey     string `mapstructure:"merchant_key"`
	MerchantCode    string `mapstructure:"merchant_code"`
	MerchantPin     string `mapstructure:"merchant_pin"`
	CallbackURL     string `mapstructure:"callback_url"`
	WebhookSecret   string `mapstructure:"webhook_secret"`
}

func (p ProviderSettings) Credentials() providers.Credentials {
	return providers.Credentials{
		Enabled:         p.Enabled,
		BaseURL:         p.BaseURL,
		ConsumerKey:     p.ConsumerKey,
		ConsumerSecret:  p.ConsumerSecret,
		ShortCode:       p.ShortCode,
		PassKey:         p.PassKey,
		Initiator:       p.Initiator,
		SecurityCred:    p.SecurityCred,
		SubscriptionKey: p.SubscriptionKey,
		Environment:     p.Environment,
		MerchantKey:     p.MerchantKey,
		MerchantCode:    p.MerchantCode,
		MerchantPin:     p.MerchantPin,
		CallbackURL:     p.CallbackURL,
		WebhookSecret:   p.WebhookSecret,
	}
}

type HTTPClientSettings struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      uint64        `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

func (h HTTPClientSettings) Options() providers.ClientOptions {
	return providers.ClientOptions{
		Timeout:         h.Timeout,
		MaxRetries:      h.MaxRetries,
		InitialInterval: h.InitialInterval,
		MaxInterval:     h.MaxInterval,
	}
}

type Config struct {
	ServiceName    string `mapstructure:"service_name"`
	Environment    string `mapstructure:"environment"`
	Port           string `mapstructure:"port"`
	DatabaseURL    string `mapstructure:"database_url"`
	RedisURL       string `mapstructure:"redis_url"`
	KafkaBrokers   string `mapstructure:"kafka_brokers"`
	NatsURL        string `mapstructure:"nats_url"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`

	PaymentTTL       time.Duration `mapstructure:"payment_ttl"`
	ProviderTimeout  time.Duration `mapstructure:"provider_timeout"`
	AnalysisTimeout  time.Duration `mapstructure:"analysis_timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize   int           `mapstructure:"sweep_batch_size"`
	RefundLockTTL    time.Duration `mapstructure:"refund_lock_ttl"`
	TransactionCache time.Duration `mapstructure:"transaction_cache_ttl"`

	HTTPClient HTTPClientSettings                    `mapstructure:"http_client"`
	Providers  map[string]ProviderSettings           `mapstructure:"providers"`
	Fraud      fraud.Rules                           `mapstructure:"fraud"`
	Countries  map[string]models.CountryRequirements `mapstructure:"countries"`
}

// Development reports whether the service runs without external
// infrastructure (in-memory store, local cache, no brokers).
func (c *Config) Development() bool {
	return c.Environment == "development" || c.DatabaseURL == ""
}

// Provider returns the settings block for p, keyed by its lower-case name.
func (c *Config) Provider(p models.Provider) ProviderSettings {
	return c.Providers[strings.ToLower(string(p))]
}

var providerFields = []string{
	"enabled", "base_url", "consumer_key", "consumer_secret", "short_code", "pass_key",
	"initiator", "security_credential", "subscription_key", "environment",
	"merchant_key", "merchant_code", "merchant_pin", "callback_url", "webhook_secret",
}

// Load reads configuration from defaults, an optional YAML file named by
// CONFIG_FILE and the environment, in increasing order of precedence.
// Provider settings are read from <PROVIDER>_<FIELD>, e.g. MPESA_PASS_KEY.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"service_name", "environment", "port", "database_url", "redis_url", "kafka_brokers",
		"nats_url", "jaeger_endpoint", "payment_ttl", "provider_timeout", "analysis_timeout",
		"sweep_interval", "sweep_batch_size", "refund_lock_ttl", "transaction_cache_ttl",
	} {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}
	for _, p := range models.Providers {
		name := strings.ToLower(string(p))
		for _, field := range providerFields {
			env := strings.ToUpper(name + "_" + field)
			if err := v.BindEnv("providers."+name+"."+field, env); err != nil {
				return nil, fmt.Errorf("bind %s: %w", env, err)
			}
		}
	}

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "mobile-money-orchestrator")
	v.SetDefault("environment", "production")
	v.SetDefault("port", "8082")
	v.SetDefault("payment_ttl", 30*time.Minute)
	v.SetDefault("provider_timeout", 30*time.Second)
	v.SetDefault("analysis_timeout", 5*time.Second)
	v.SetDefault("sweep_interval", time.Minute)
	v.SetDefault("sweep_batch_size", 100)
	v.SetDefault("refund_lock_ttl", 30*time.Second)
	v.SetDefault("transaction_cache_ttl", 5*time.Minute)

	client := providers.DefaultClientOptions()
	v.SetDefault("http_client.timeout", client.Timeout)
	v.SetDefault("http_client.max_retries", client.MaxRetries)
	v.SetDefault("http_client.initial_interval", client.InitialInterval)
	v.SetDefault("http_client.max_interval", client.MaxInterval)

	rules := fraud.DefaultRules()
	v.SetDefault("fraud.max_daily_transactions", rules.MaxDailyTransactions)
	v.SetDefault("fraud.max_daily_amount", rules.MaxDailyAmount)
	v.SetDefault("fraud.max_monthly_amount", rules.MaxMonthlyAmount)
	v.SetDefault("fraud.velocity_window_minutes", rules.VelocityWindowMinutes)
	v.SetDefault("fraud.max_velocity_transactions", rules.MaxVelocityTransactions)
	v.SetDefault("fraud.blocked_phone_numbers", []string{})
	v.SetDefault("fraud.blocked_countries", []string{})
	v.SetDefault("fraud.suspicious_patterns", []string{})
}

// normalize restores the upper-case country codes viper folds to lower case.
func (c *Config) normalize() {
	countries := make(map[string]models.CountryRequirements, len(c.Countries))
	for code, req := range c.Countries {
		code = strings.ToUpper(code)
		req.Country = code
		req.Currency = strings.ToUpper(req.Currency)
		countries[code] = req
	}
	c.Countries = countries
}

func (c *Config) validate() error {
	if c.PaymentTTL <= 0 {
		return fmt.Errorf("payment_ttl must be positive, got %s", c.PaymentTTL)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("provider_timeout must be positive, got %s", c.ProviderTimeout)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", c.SweepInterval)
	}
	for code, req := range c.Countries {
		if req.Currency == "" {
			return fmt.Errorf("country %s: currency is required", code)
		}
	}
	return nil
}
