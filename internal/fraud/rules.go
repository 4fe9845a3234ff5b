package fraud

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

// Rules is the tunable part of the engine. Amounts are minor units.
type Rules struct {
	MaxDailyTransactions    int      `json:"maxDailyTransactions" mapstructure:"max_daily_transactions"`
	MaxDailyAmount          int64    `json:"maxDailyAmount" mapstructure:"max_daily_amount"`
	MaxMonthlyAmount        int64    `json:"maxMonthlyAmount" mapstructure:"max_monthly_amount"`
	VelocityWindowMinutes   int      `json:"velocityWindowMinutes" mapstructure:"velocity_window_minutes"`
	MaxVelocityTransactions int      `json:"maxVelocityTransactions" mapstructure:"max_velocity_transactions"`
	BlockedPhoneNumbers     []string `json:"blockedPhoneNumbers" mapstructure:"blocked_phone_numbers"`
	BlockedCountries        []string `json:"blockedCountries" mapstructure:"blocked_countries"`
	SuspiciousPatterns      []string `json:"suspiciousPatterns" mapstructure:"suspicious_patterns"`
}

func DefaultRules() Rules {
	return Rules{
		MaxDailyTransactions:    20,
		MaxDailyAmount:          50_000_000,
		MaxMonthlyAmount:        500_000_000,
		VelocityWindowMinutes:   15,
		MaxVelocityTransactions: 5,
	}
}

// RuleSet is a compiled, read-only snapshot of Rules. The engine never sees a
// rule change halfway through an analysis.
type RuleSet struct {
	Rules

	blockedPhones    map[string]struct{}
	blockedCountries map[string]struct{}
	patterns         []*regexp.Regexp
}

// Compile validates r and builds its lookup tables.
func Compile(r Rules) (*RuleSet, error) {
	if r.VelocityWindowMinutes < 0 || r.MaxVelocityTransactions < 0 || r.MaxDailyTransactions < 0 {
		return nil, fmt.Errorf("fraud rules: negative thresholds are not allowed")
	}
	rs := &RuleSet{
		Rules:            r,
		blockedPhones:    make(map[string]struct{}, len(r.BlockedPhoneNumbers)),
		blockedCountries: make(map[string]struct{}, len(r.BlockedCountries)),
	}
	for _, p := range r.BlockedPhoneNumbers {
		rs.blockedPhones[models.MSISDN(p)] = struct{}{}
	}
	for _, c := range r.BlockedCountries {
		rs.blockedCountries[strings.ToUpper(c)] = struct{}{}
	}
	for _, expr := range r.SuspiciousPatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("fraud rules: invalid pattern %q: %w", expr, err)
		}
		rs.patterns = append(rs.patterns, re)
	}
	return rs, nil
}

func (rs *RuleSet) phoneBlocked(phone string) bool {
	_, ok := rs.blockedPhones[models.MSISDN(phone)]
	return ok
}

func (rs *RuleSet) countryBlocked(country string) bool {
	_, ok := rs.blockedCountries[country]
	return ok
}

// RuleStore hands out the current RuleSet. Updates swap the whole snapshot.
type RuleStore struct {
	current atomic.Pointer[RuleSet]
}

func NewRuleStore(r Rules) (*RuleStore, error) {
	rs, err := Compile(r)
	if err != nil {
		return nil, err
	}
	s := &RuleStore{}
	s.current.Store(rs)
	return s, nil
}

func (s *RuleStore) Current() *RuleSet {
	return s.current.Load()
}

func (s *RuleStore) Update(r Rules) (*RuleSet, error) {
	rs, err := Compile(r)
	if err != nil {
		return nil, err
	}
	s.current.Store(rs)
	return rs, nil
}
