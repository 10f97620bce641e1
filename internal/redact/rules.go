// Package redact scrubs sensitive substrings from text before it reaches a
// reasoning model and can restore them before an allowlisted tool runs.
// Matching is best-effort pattern recognition, not a compliance control.
package redact

import (
	"regexp"
	"strconv"
	"strings"
)

// Rule describes one PII pattern. Validate, when set, filters regex matches
// that do not satisfy the format's checksum or prefix rules.
type Rule struct {
	Type     string
	Pattern  *regexp.Regexp
	Validate func(match string) bool
}

// DefaultRules returns the ordered LATAM rule set. Order matters: longer,
// checksum-validated formats run before the looser numeric patterns they
// would otherwise collide with.
func DefaultRules() []Rule {
	return []Rule{
		{
			Type:    "EMAIL",
			Pattern: regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
		},
		{
			Type:     "CREDIT_CARD",
			Pattern:  regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
			Validate: validLuhn,
		},
		{
			Type:     "RUC",
			Pattern:  regexp.MustCompile(`\b\d{13}\b`),
			Validate: validEcuadorPrefix,
		},
		{
			Type:     "PERU_RUC",
			Pattern:  regexp.MustCompile(`\b(?:10|15|17|20)\d{9}\b`),
			Validate: nil,
		},
		{
			// Before CEDULA: a mobile number starting 09 is also a valid
			// ten-digit Guayas cedula shape, and phone is the likelier read.
			Type:    "PHONE_EC",
			Pattern: regexp.MustCompile(`(?:\+593|09)\d{8}\b`),
		},
		{
			Type:    "PHONE_INTL",
			Pattern: regexp.MustCompile(`\+\d{10,14}\b`),
		},
		{
			Type:     "CEDULA",
			Pattern:  regexp.MustCompile(`\b\d{10}\b`),
			Validate: validEcuadorPrefix,
		},
		{
			Type:    "NIT",
			Pattern: regexp.MustCompile(`\b\d{9}-\d\b`),
		},
		{
			Type:     "BANK_ACCOUNT",
			Pattern:  regexp.MustCompile(`\b\d{14,20}\b`),
			Validate: nil,
		},
	}
}

// validEcuadorPrefix checks the two-digit province code shared by RUC and
// cédula formats (01 through 24).
func validEcuadorPrefix(match string) bool {
	if len(match) < 2 {
		return false
	}
	province, err := strconv.Atoi(match[:2])
	if err != nil {
		return false
	}
	return province >= 1 && province <= 24
}

// validLuhn runs the Luhn checksum over the digits of match.
func validLuhn(match string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, match)
	if len(digits) < 13 || len(digits) > 16 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
