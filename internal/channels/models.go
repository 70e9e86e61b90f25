// Package channels owns the pool of WhatsApp sending numbers: their quotas,
// usage counters and provider health.
package channels

import (
	"errors"
	"time"

	"github.com/wolfman30/dental-crm-messaging/internal/phone"
)

var (
	// ErrNoChannelAvailable means no active channel of the purpose has quota left.
	ErrNoChannelAvailable = errors.New("channels: no channel available")
	ErrChannelNotFound    = errors.New("channels: channel not found")
	// ErrQuotaExceeded is returned when an increment would pass the daily limit
	// or the channel is not active.
	ErrQuotaExceeded = errors.New("channels: daily quota exceeded")
	// ErrChannelBlocked is reported by the provider when a number was banned.
	ErrChannelBlocked = errors.New("channels: channel blocked by provider")
	// ErrChannelInUse prevents removing a channel that is still connected.
	ErrChannelInUse   = errors.New("channels: channel still connected")
	ErrInvalidChannel = errors.New("channels: invalid channel")
)

// Purpose separates numbers used for integrations from reminder senders.
type Purpose string

const (
	PurposeIntegration Purpose = "integration"
	PurposeReminders   Purpose = "reminders"
)

func (p Purpose) Valid() bool {
	return p == PurposeIntegration || p == PurposeReminders
}

// Status is the provider health of a channel.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusBlocked  Status = "blocked"
	StatusWarning  Status = "warning"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusBlocked, StatusWarning:
		return true
	}
	return false
}

// Channel is one WhatsApp sending number.
type Channel struct {
	ID                string    `json:"id"`
	Country           string    `json:"country"`
	DisplayName       string    `json:"display_name"`
	Purpose           Purpose   `json:"purpose"`
	Status            Status    `json:"status"`
	DailyMessageCount int       `json:"daily_message_count"`
	DailyLimit        int       `json:"daily_limit"`
	LastResetAt       time.Time `json:"last_reset_at"`
	StatusChangedAt   time.Time `json:"status_changed_at"`
	CreatedAt         time.Time `json:"created_at"`
}

// Location is the timezone whose calendar day drives the daily reset.
func (c Channel) Location() *time.Location {
	if tz := phone.TimezoneOf(c.Country); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.UTC
}

// UsageRatio is the fraction of today's quota already used.
func (c Channel) UsageRatio() float64 {
	if c.DailyLimit <= 0 {
		return 1
	}
	return float64(c.DailyMessageCount) / float64(c.DailyLimit)
}

// Remaining returns how many more messages may be sent today.
func (c Channel) Remaining() int {
	if r := c.DailyLimit - c.DailyMessageCount; r > 0 {
		return r
	}
	return 0
}

// Sendable reports whether the channel can take one more message.
func (c Channel) Sendable() bool {
	return c.Status == StatusActive && c.DailyMessageCount < c.DailyLimit
}

// NeedsReset reports whether now falls on a later local day than the last reset.
func (c Channel) NeedsReset(now time.Time) bool {
	if c.LastResetAt.IsZero() {
		return true
	}
	loc := c.Location()
	return localDay(now, loc) != localDay(c.LastResetAt, loc)
}

func localDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// Health is the operator view of a channel.
type Health struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Country     string    `json:"country"`
	Purpose     Purpose   `json:"purpose"`
	Status      Status    `json:"status"`
	Used        int       `json:"used"`
	Limit       int       `json:"limit"`
	Remaining   int       `json:"remaining"`
	UsageRatio  float64   `json:"usage_ratio"`
	LastResetAt time.Time `json:"last_reset_at"`
}

// EventKind is a provider-reported connection state change.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventBlocked      EventKind = "blocked"
	EventWarning      EventKind = "warning"
)

// StatusEvent is an inbound provider notification about a channel.
type StatusEvent struct {
	EventID    string    `json:"event_id"`
	ChannelID  string    `json:"channel_id"`
	Kind       EventKind `json:"event"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// transitionFor maps provider events to channel status.
func transitionFor(kind EventKind) (Status, bool) {
	switch kind {
	case EventConnected:
		return StatusActive, true
	case EventDisconnected:
		return StatusInactive, true
	case EventBlocked:
		return StatusBlocked, true
	case EventWarning:
		return StatusWarning, true
	}
	return "", false
}
