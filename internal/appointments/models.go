// Package appointments is the narrow view of the clinic's appointment records
// that the messaging engine reads and updates.
package appointments

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no appointment matches.
var ErrNotFound = errors.New("appointments: not found")

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

// Open reports whether the appointment can still be acted on by a patient reply.
func (s Status) Open() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

// Appointment is a patient visit. PatientPhone holds the canonical number.
type Appointment struct {
	ID           string    `json:"id"`
	PatientName  string    `json:"patient_name"`
	PatientPhone string    `json:"patient_phone"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	Status       Status    `json:"status"`
	Procedure    string    `json:"procedure,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Window is a half-open [From, To) time range.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}
