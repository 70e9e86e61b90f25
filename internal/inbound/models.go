// Package inbound handles patient replies delivered by the WhatsApp webhook:
// it classifies them and applies the result to the patient's appointment.
package inbound

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-crm-messaging/internal/intent"
)

var ErrMessageNotFound = errors.New("inbound: message not found")

// Payload is the webhook body posted by the gateway.
type Payload struct {
	SenderPhone string `json:"senderPhone"`
	SenderName  string `json:"senderName,omitempty"`
	Message     string `json:"message"`
	// Timestamp is unix milliseconds; seconds are accepted too.
	Timestamp int64 `json:"timestamp"`
}

// ReceivedAt converts the payload timestamp, falling back to fallback.
func (p Payload) ReceivedAt(fallback time.Time) time.Time {
	switch {
	case p.Timestamp <= 0:
		return fallback.UTC()
	case p.Timestamp < 1e11:
		return time.Unix(p.Timestamp, 0).UTC()
	default:
		return time.UnixMilli(p.Timestamp).UTC()
	}
}

// DedupeKey identifies a delivery so provider retries are acknowledged once.
func (p Payload) DedupeKey(canonicalPhone string) string {
	sum := sha256.Sum256([]byte(canonicalPhone + "|" + strconv.FormatInt(p.Timestamp, 10) + "|" + p.Message))
	return hex.EncodeToString(sum[:])
}

// Result is the webhook response.
type Result struct {
	Success            bool          `json:"success"`
	DetectedIntent     intent.Intent `json:"detectedIntent"`
	Confidence         float64       `json:"confidence"`
	AppointmentUpdated bool          `json:"appointmentUpdated"`
	NotificationSent   bool          `json:"notificationSent"`
	ProcessingTimeMs   int64         `json:"processingTimeMs"`
	MessageID          string        `json:"messageId,omitempty"`
	AppointmentID      string        `json:"appointmentId,omitempty"`
	Duplicate          bool          `json:"duplicate,omitempty"`
	Error              string        `json:"error,omitempty"`
}

// IncomingMessage is the record kept for every inbound message, linked or not.
type IncomingMessage struct {
	ID            uuid.UUID     `json:"id"`
	SenderPhone   string        `json:"sender_phone"`
	SenderName    string        `json:"sender_name,omitempty"`
	RawText       string        `json:"raw_text"`
	Intent        intent.Intent `json:"intent"`
	Confidence    float64       `json:"confidence"`
	Matched       []string      `json:"matched,omitempty"`
	AppointmentID string        `json:"appointment_id,omitempty"`
	Processed     bool          `json:"processed"`
	ReceivedAt    time.Time     `json:"received_at"`
	CreatedAt     time.Time     `json:"created_at"`
}

// ListFilter narrows message listings. Zero values mean no filter.
type ListFilter struct {
	UnlinkedOnly bool
	Intents      []intent.Intent
	Limit        int
}
