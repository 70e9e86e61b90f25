package phone

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	n := NewNormalizer("55", "11")
	tests := []struct {
		name string
		raw  string
		want string
		err  error
	}{
		{"mobile with area code", "11987654321", "5511987654321", nil},
		{"formatted mobile", "(11) 98765-4321", "5511987654321", nil},
		{"landline with area code", "1133334444", "551133334444", nil},
		{"local mobile", "987654321", "5511987654321", nil},
		{"already prefixed", "+55 11 98765-4321", "5511987654321", nil},
		{"letters only", "abc", "", ErrInvalid},
		{"empty", "", "", ErrInvalid},
		{"twelve digits is ambiguous", "551133334444", "", ErrInvalid},
		{"too short", "12345", "", ErrInvalid},
		{"too long", "55119876543210", "", ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Normalize(tt.raw)
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected err %v, got %v", tt.err, err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNormalizeWithoutAreaCodeRejectsLocal(t *testing.T) {
	n := NewNormalizer("55", "")
	if _, err := n.Normalize("987654321"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestNormalizeForCountry(t *testing.T) {
	n := NewNormalizer("55", "11")
	tests := []struct {
		name    string
		raw     string
		country string
		want    string
		wantErr bool
	}{
		{"brazil national", "11987654321", "BR", "5511987654321", false},
		{"brazil local uses area code", "987654321", "br", "5511987654321", false},
		{"peru nine digits is national", "987654321", "PE", "51987654321", false},
		{"chile prefixed", "+56 9 8765 4321", "CL", "56987654321", false},
		{"uruguay national", "94123456", "UY", "59894123456", false},
		{"colombia wrong length", "12345", "CO", "", true},
		{"unknown country", "11987654321", "US", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.NormalizeForCountry(tt.raw, tt.country)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("expected ErrInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCountryOf(t *testing.T) {
	tests := map[string]string{
		"5511987654321": "BR",
		"56987654321":   "CL",
		"59894123456":   "UY",
		"525512345678":  "MX",
	}
	for number, want := range tests {
		got, ok := CountryOf(number)
		if !ok || got != want {
			t.Fatalf("CountryOf(%s) = %q,%v want %q", number, got, ok, want)
		}
	}
	if _, ok := CountryOf("1234"); ok {
		t.Fatal("expected unknown country for short number")
	}
}

func TestMask(t *testing.T) {
	if got := Mask("5511987654321"); got != "*********4321" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := Mask("12"); got != "**" {
		t.Fatalf("unexpected short mask %q", got)
	}
}

func TestTimezoneOf(t *testing.T) {
	if TimezoneOf("br") != "America/Sao_Paulo" {
		t.Fatalf("unexpected tz %q", TimezoneOf("br"))
	}
	if TimezoneOf("xx") != "" {
		t.Fatal("expected empty tz for unknown country")
	}
}
