package destination

import (
	"errors"
	"strings"
)

// Kind identifies which delivery channel a destination belongs to
type Kind string

const (
	KindEmail Kind = "email"
	KindPhone Kind = "phone"

	phoneLength    = 10
	maxEmailLength = 255
)

// ErrInvalid is returned when a destination is neither a phone number nor an email address
var ErrInvalid = errors.New("destination must be an email address or a 10-digit phone number")

// Normalize trims and canonicalizes a raw destination and classifies it.
// Emails are lowercased; phone numbers must be exactly 10 digits.
func Normalize(raw string) (string, Kind, error) {
	d := strings.TrimSpace(raw)

	if isAllDigits(d) {
		if len(d) != phoneLength {
			return "", "", ErrInvalid
		}
		return d, KindPhone, nil
	}

	if strings.Contains(d, "@") && len(d) <= maxEmailLength {
		at := strings.Index(d, "@")
		if at == 0 || at == len(d)-1 {
			return "", "", ErrInvalid
		}
		return strings.ToLower(d), KindEmail, nil
	}

	return "", "", ErrInvalid
}

// Mask returns a log-safe form of a destination: phones keep only the last
// 3 digits (***210), emails keep up to 2 local-part characters plus the
// full domain (ab***@x.com). Unclassifiable input is fully redacted.
func Mask(d string) string {
	normalized, kind, err := Normalize(d)
	if err != nil {
		return "***"
	}

	switch kind {
	case KindPhone:
		return "***" + normalized[len(normalized)-3:]
	case KindEmail:
		at := strings.Index(normalized, "@")
		local, domain := normalized[:at], normalized[at:]
		if len(local) > 2 {
			local = local[:2]
		}
		return local + "***" + domain
	}
	return "***"
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
