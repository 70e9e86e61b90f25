// Package reschedule tracks patient requests to move an appointment until a
// staff member handles them. Nothing here ever moves the appointment itself.
package reschedule

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRequestNotFound   = errors.New("reschedule: request not found")
	ErrInvalidTransition = errors.New("reschedule: invalid status transition")
	// ErrNotesRequired is returned when resolving a request whose staff
	// notification never went out and no notes explain the manual handling.
	ErrNotesRequired = errors.New("reschedule: notes required to resolve an unnotified request")
)

// Status moves strictly forward: pending, notified, resolved.
type Status string

const (
	StatusPending  Status = "pending"
	StatusNotified Status = "notified"
	StatusResolved Status = "resolved"
)

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusNotified:
		return 2
	case StatusResolved:
		return 3
	}
	return 0
}

func (s Status) Valid() bool { return s.rank() > 0 }

// CanTransition reports whether from -> to is a forward move.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return to.rank() > from.rank()
}

// Request is one patient ask to change an appointment.
type Request struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID string     `json:"appointment_id"`
	PatientName   string     `json:"patient_name"`
	PatientPhone  string     `json:"patient_phone"`
	MessageText   string     `json:"message_text"`
	Status        Status     `json:"status"`
	Notes         string     `json:"notes,omitempty"`
	ResolvedBy    string     `json:"resolved_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	NotifiedAt    *time.Time `json:"notified_at,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// OpenInput carries the inbound message that asked for a new time.
type OpenInput struct {
	AppointmentID string
	PatientName   string
	PatientPhone  string
	MessageText   string
}

// ResolveInput is the staff action closing a request.
type ResolveInput struct {
	Notes      string `json:"notes"`
	ResolvedBy string `json:"resolved_by"`
}
