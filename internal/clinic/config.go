// Package clinic holds the clinic-level settings the messaging engine reads:
// locale, dialing defaults, capacity and who to notify.
package clinic

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/dental-crm-messaging/internal/phone"
)

// DayHours is the opening window for one weekday. Nil means closed.
type DayHours struct {
	Open  string `json:"open"`  // "08:00"
	Close string `json:"close"` // "18:00"
}

// BusinessHours maps weekdays to their hours.
type BusinessHours struct {
	Monday    *DayHours `json:"monday,omitempty"`
	Tuesday   *DayHours `json:"tuesday,omitempty"`
	Wednesday *DayHours `json:"wednesday,omitempty"`
	Thursday  *DayHours `json:"thursday,omitempty"`
	Friday    *DayHours `json:"friday,omitempty"`
	Saturday  *DayHours `json:"saturday,omitempty"`
	Sunday    *DayHours `json:"sunday,omitempty"`
}

// Config is the per-clinic configuration.
type Config struct {
	ClinicID    string `json:"clinic_id"`
	Name        string `json:"name"`
	Timezone    string `json:"timezone"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	AreaCode    string `json:"area_code"`
	// Chairs is the number of dental chairs; Channels the WhatsApp lines the
	// clinic expects to keep connected.
	Chairs        int           `json:"chairs"`
	Channels      int           `json:"channels"`
	StaffEmails   []string      `json:"staff_emails,omitempty"`
	BusinessHours BusinessHours `json:"business_hours"`
	UpdatedAt     time.Time     `json:"updated_at,omitempty"`
}

// DefaultConfig returns the configuration used until the clinic saves its own.
func DefaultConfig(clinicID string) *Config {
	weekday := &DayHours{Open: "08:00", Close: "18:00"}
	return &Config{
		ClinicID:    clinicID,
		Name:        "Clínica Odontológica",
		Timezone:    "America/Sao_Paulo",
		Country:     "BR",
		CountryCode: "55",
		AreaCode:    "11",
		Chairs:      4,
		Channels:    2,
		BusinessHours: BusinessHours{
			Monday:    weekday,
			Tuesday:   weekday,
			Wednesday: weekday,
			Thursday:  weekday,
			Friday:    weekday,
			Saturday:  &DayHours{Open: "08:00", Close: "12:00"},
		},
	}
}

// Validate checks the fields the engine depends on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ClinicID) == "" {
		return fmt.Errorf("clinic: clinic_id required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("clinic: invalid timezone %q", c.Timezone)
	}
	if _, ok := phone.Lookup(c.Country); !ok {
		return fmt.Errorf("clinic: unsupported country %q", c.Country)
	}
	if c.CountryCode == "" || c.AreaCode == "" {
		return fmt.Errorf("clinic: country and area code required")
	}
	if c.Chairs < 0 || c.Channels < 0 {
		return fmt.Errorf("clinic: chair and channel counts cannot be negative")
	}
	return nil
}

// Location returns the clinic's time zone, UTC if it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Normalizer builds a phone normalizer with the clinic's dialing defaults.
func (c *Config) Normalizer() *phone.Normalizer {
	return phone.NewNormalizer(c.CountryCode, c.AreaCode)
}

// HoursFor returns the opening hours for a weekday, nil when closed.
func (b *BusinessHours) HoursFor(day time.Weekday) *DayHours {
	switch day {
	case time.Monday:
		return b.Monday
	case time.Tuesday:
		return b.Tuesday
	case time.Wednesday:
		return b.Wednesday
	case time.Thursday:
		return b.Thursday
	case time.Friday:
		return b.Friday
	case time.Saturday:
		return b.Saturday
	case time.Sunday:
		return b.Sunday
	}
	return nil
}

// IsOpenAt reports whether t falls inside the clinic's opening hours.
func (c *Config) IsOpenAt(t time.Time) bool {
	local := t.In(c.Location())
	hours := c.BusinessHours.HoursFor(local.Weekday())
	if hours == nil {
		return false
	}
	open, err1 := time.Parse("15:04", hours.Open)
	closeAt, err2 := time.Parse("15:04", hours.Close)
	if err1 != nil || err2 != nil {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= open.Hour()*60+open.Minute() && minutes < closeAt.Hour()*60+closeAt.Minute()
}
