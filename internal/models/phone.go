package models

import (
	"regexp"
	"strings"
)

var (
	phonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
	phoneNoise   = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
)

// dialingCodes maps international prefixes to ISO country codes for the
// markets the platform serves.
var dialingCodes = []struct {
	prefix  string
	country string
}{
	{"254", "KE"},
	{"233", "GH"},
	{"234", "NG"},
	{"263", "ZW"},
	{"225", "CI"},
	{"237", "CM"},
	{"221", "SN"},
	{"255", "TZ"},
	{"256", "UG"},
	{"250", "RW"},
}

// NormalizePhone strips formatting characters but keeps a leading '+'.
func NormalizePhone(phone string) string {
	return phoneNoise.Replace(strings.TrimSpace(phone))
}

// ValidPhone checks the generic E.164-style shape.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(NormalizePhone(phone))
}

// MSISDN returns the phone number as bare digits with country code.
func MSISDN(phone string) string {
	return strings.TrimPrefix(NormalizePhone(phone), "+")
}

// CountryFromPhone resolves the ISO country for a phone number, or "" when the
// prefix is not one we serve.
func CountryFromPhone(phone string) string {
	digits := MSISDN(phone)
	for _, dc := range dialingCodes {
		if strings.HasPrefix(digits, dc.prefix) {
			return dc.country
		}
	}
	return ""
}

// NationalNumber returns the subscriber part of the number without the
// country dialing code.
func NationalNumber(phone string) string {
	digits := MSISDN(phone)
	for _, dc := range dialingCodes {
		if strings.HasPrefix(digits, dc.prefix) {
			return strings.TrimPrefix(digits, dc.prefix)
		}
	}
	return strings.TrimPrefix(digits, "0")
}
