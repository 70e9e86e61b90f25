// Package phone turns raw patient phone strings into canonical dialable digits.
//
// Canonical numbers carry the country code and no leading "+", the form the
// WhatsApp gateway expects (e.g. 5511987654321).
package phone

import (
	"errors"
	"strings"
	"unicode"
)

// ErrInvalid is returned for input that cannot be mapped to exactly one number.
var ErrInvalid = errors.New("phone: invalid number")

// Normalizer applies the digit-count heuristics of a single default country.
type Normalizer struct {
	CountryCode string
	AreaCode    string
}

// NewNormalizer returns a Normalizer for the given default country and area codes.
func NewNormalizer(countryCode, areaCode string) *Normalizer {
	return &Normalizer{
		CountryCode: digitsOnly(countryCode),
		AreaCode:    digitsOnly(areaCode),
	}
}

// Normalize strips non-digits and applies the default-country rules:
// 10 or 11 digits get the country code, 9 digits get country and area code,
// 13 digits are already prefixed. Anything else is ErrInvalid.
func (n *Normalizer) Normalize(raw string) (string, error) {
	digits := digitsOnly(raw)
	switch len(digits) {
	case 13:
		return digits, nil
	case 10, 11:
		if n.CountryCode == "" {
			return "", ErrInvalid
		}
		return n.CountryCode + digits, nil
	case 9:
		if n.CountryCode == "" || n.AreaCode == "" {
			return "", ErrInvalid
		}
		return n.CountryCode + n.AreaCode + digits, nil
	default:
		return "", ErrInvalid
	}
}

// NormalizeForCountry normalizes raw against an explicitly known country
// instead of inferring it from digit count. A number already carrying the
// country's dial code is accepted when its national part has a valid length.
func (n *Normalizer) NormalizeForCountry(raw, country string) (string, error) {
	c, ok := Lookup(country)
	if !ok {
		return "", ErrInvalid
	}
	digits := digitsOnly(raw)
	if digits == "" {
		return "", ErrInvalid
	}

	if strings.HasPrefix(digits, c.DialCode) && c.validNational(len(digits)-len(c.DialCode)) {
		return digits, nil
	}
	if c.validNational(len(digits)) {
		return c.DialCode + digits, nil
	}
	// local subscriber number without area code, only for the clinic's own country
	if c.LocalLength > 0 && len(digits) == c.LocalLength && c.DialCode == n.CountryCode && n.AreaCode != "" {
		return c.DialCode + n.AreaCode + digits, nil
	}
	return "", ErrInvalid
}

// Mask hides all but the last four digits, for logs.
func Mask(phone string) string {
	digits := digitsOnly(phone)
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}

func digitsOnly(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if r < unicode.MaxASCII && unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
