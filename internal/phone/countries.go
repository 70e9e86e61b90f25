package phone

import (
	"sort"
	"strings"
)

// Country describes the dialing rules of a country the clinic network serves.
type Country struct {
	ISO             string
	DialCode        string
	Timezone        string
	NationalLengths []int
	// LocalLength is the subscriber length without area code, 0 when not applicable.
	LocalLength int
}

func (c Country) validNational(n int) bool {
	for _, l := range c.NationalLengths {
		if l == n {
			return true
		}
	}
	return false
}

var countries = map[string]Country{
	"BR": {ISO: "BR", DialCode: "55", Timezone: "America/Sao_Paulo", NationalLengths: []int{10, 11}, LocalLength: 9},
	"AR": {ISO: "AR", DialCode: "54", Timezone: "America/Argentina/Buenos_Aires", NationalLengths: []int{10, 11}},
	"CL": {ISO: "CL", DialCode: "56", Timezone: "America/Santiago", NationalLengths: []int{9}},
	"CO": {ISO: "CO", DialCode: "57", Timezone: "America/Bogota", NationalLengths: []int{10}},
	"MX": {ISO: "MX", DialCode: "52", Timezone: "America/Mexico_City", NationalLengths: []int{10, 11}},
	"PE": {ISO: "PE", DialCode: "51", Timezone: "America/Lima", NationalLengths: []int{9}},
	"UY": {ISO: "UY", DialCode: "598", Timezone: "America/Montevideo", NationalLengths: []int{8}},
}

// Lookup returns the dialing rules for an ISO 3166 alpha-2 country code.
func Lookup(iso string) (Country, bool) {
	c, ok := countries[strings.ToUpper(strings.TrimSpace(iso))]
	return c, ok
}

// Countries lists the supported countries ordered by ISO code.
func Countries() []Country {
	out := make([]Country, 0, len(countries))
	for _, c := range countries {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ISO < out[j].ISO })
	return out
}

// CountryOf infers the country of a canonical number from its dial prefix.
// Longer dial codes are tried first so 598 is never read as 59.
func CountryOf(canonical string) (string, bool) {
	digits := digitsOnly(canonical)
	byLen := Countries()
	sort.SliceStable(byLen, func(i, j int) bool { return len(byLen[i].DialCode) > len(byLen[j].DialCode) })
	for _, c := range byLen {
		if strings.HasPrefix(digits, c.DialCode) && c.validNational(len(digits)-len(c.DialCode)) {
			return c.ISO, true
		}
	}
	return "", false
}

// TimezoneOf returns the IANA zone of a country, or "" when unknown.
func TimezoneOf(iso string) string {
	c, ok := Lookup(iso)
	if !ok {
		return ""
	}
	return c.Timezone
}
