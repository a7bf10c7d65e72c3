package domain

import (
	"regexp"
	"strings"
	"unicode"
)

// Optional leading '+', 2-15 digits, no leading zero.
var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

func stripSpaces(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
}

// ValidatePhone checks raw against the permissive E.164-like pattern.
func ValidatePhone(raw string) error {
	clean := stripSpaces(raw)
	if clean == "" {
		return NewValidationError("phoneNumber", "is required")
	}
	if !phonePattern.MatchString(clean) {
		return NewValidationError("phoneNumber", "must be a valid phone number (e.g. +1234567890)")
	}
	return nil
}

// NormalizePhone strips whitespace and prefixes '+' if absent. It does not validate.
func NormalizePhone(raw string) string {
	clean := stripSpaces(raw)
	if strings.HasPrefix(clean, "+") {
		return clean
	}
	return "+" + clean
}

// MaskPhone hides all but the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
