// Package phone normalizes and validates Kenyan mobile numbers for M-Pesa pushes.
package phone

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	CountryPrefix = "+254"
	countryCode   = "254"
)

var mobilePattern = regexp.MustCompile(`^\+254[17]\d{8}$`)

type ValidationError struct {
	Input string
}

func (e *ValidationError) Error() string {
	return "invalid phone"
}

// Normalize rewrites the accepted local spellings into +254 form. Input that
// matches none of them is returned without whitespace but otherwise unchanged.
func Normalize(raw string) string {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)

	switch {
	case strings.HasPrefix(s, CountryPrefix):
		return s
	case strings.HasPrefix(s, countryCode):
		return "+" + s
	case strings.HasPrefix(s, "0"):
		return CountryPrefix + s[1:]
	case strings.HasPrefix(s, "7"), strings.HasPrefix(s, "1"):
		return CountryPrefix + s
	default:
		return s
	}
}

func Validate(raw string) (string, error) {
	normalized := Normalize(raw)
	if !mobilePattern.MatchString(normalized) {
		return "", &ValidationError{Input: raw}
	}
	return normalized, nil
}
