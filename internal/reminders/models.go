// Package reminders schedules and dispatches outbound appointment reminders
// and post-attendance follow-ups over the WhatsApp channel pool.
package reminders

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-crm-messaging/internal/appointments"
)

var (
	ErrJobNotFound = errors.New("reminders: job not found")
	// ErrJobNotPending means the job was already claimed or is terminal.
	ErrJobNotPending = errors.New("reminders: job not pending")
	ErrUnknownRule   = errors.New("reminders: unknown trigger rule")
)

// Status is the lifecycle state of a job. Sending marks a job claimed by a
// dispatcher; it returns to pending only through the retry path.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// Kind distinguishes pre-appointment reminders from follow-ups, which must
// pass the eligibility gate at send time.
type Kind string

const (
	KindReminder Kind = "reminder"
	KindFollowup Kind = "followup"
)

// Job is one scheduled outbound message tied to an appointment.
type Job struct {
	ID                uuid.UUID  `json:"id"`
	AppointmentID     string     `json:"appointment_id"`
	Rule              string     `json:"rule"`
	Kind              Kind       `json:"kind"`
	PatientName       string     `json:"patient_name"`
	RawPhone          string     `json:"raw_phone"`
	Phone             string     `json:"phone,omitempty"`
	Content           string     `json:"content"`
	MediaRef          string     `json:"media_ref,omitempty"`
	ScheduledFor      time.Time  `json:"scheduled_for"`
	Attempts          int        `json:"attempts"`
	Status            Status     `json:"status"`
	ChannelID         string     `json:"channel_id,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
	ClaimedAt         *time.Time `json:"claimed_at,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TriggerRule describes when and what to send relative to an appointment.
// A negative offset fires before the appointment.
type TriggerRule struct {
	Name     string        `json:"name"`
	Kind     Kind          `json:"kind"`
	Offset   time.Duration `json:"offset"`
	Template string        `json:"template"`
	MediaRef string        `json:"media_ref,omitempty"`
}

// DueAt is the moment the rule fires for appt.
func (r TriggerRule) DueAt(appt appointments.Appointment) time.Time {
	return appt.ScheduledAt.Add(r.Offset)
}

// Window returns the appointment range the planner must look at so that every
// job due before now+horizon gets enqueued. Reminders also catch appointments
// booked after their trigger already passed.
func (r TriggerRule) Window(now time.Time, horizon time.Duration) appointments.Window {
	if r.Offset < 0 {
		return appointments.Window{From: now, To: now.Add(-r.Offset).Add(horizon)}
	}
	return appointments.Window{From: now.Add(-r.Offset), To: now.Add(-r.Offset).Add(horizon)}
}

const (
	RuleReminder24h = "reminder_24h"
	RuleFollowup2h  = "followup_2h"
)

// DefaultRules returns the day-before reminder and the post-visit follow-up.
func DefaultRules(reminderLead, followupDelay time.Duration) []TriggerRule {
	if reminderLead <= 0 {
		reminderLead = 24 * time.Hour
	}
	if followupDelay <= 0 {
		followupDelay = 2 * time.Hour
	}
	return []TriggerRule{
		{
			Name:     RuleReminder24h,
			Kind:     KindReminder,
			Offset:   -reminderLead,
			Template: "Olá {{.FirstName}}! Lembramos da sua consulta na {{.ClinicName}} em {{.Date}} às {{.Time}}. Responda SIM para confirmar ou avise se precisar remarcar.",
		},
		{
			Name:     RuleFollowup2h,
			Kind:     KindFollowup,
			Offset:   followupDelay,
			Template: "Olá {{.FirstName}}, obrigado pela visita hoje na {{.ClinicName}}! Como você está se sentindo após o atendimento?",
		},
	}
}

// Outcome is what happened to a single job during dispatch.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeRetry     Outcome = "retry"
	OutcomeFailed    Outcome = "failed"
	OutcomeRequeued  Outcome = "requeued"
	OutcomeDeferred  Outcome = "deferred"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeError     Outcome = "error"
)

// DispatchReport summarises one tick.
type DispatchReport struct {
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Skipped   bool      `json:"skipped,omitempty"`
	Reclaimed int       `json:"reclaimed"`
	Claimed   int       `json:"claimed"`
	Sent      int       `json:"sent"`
	Retried   int       `json:"retried"`
	Failed    int       `json:"failed"`
	Requeued  int       `json:"requeued"`
	Deferred  int       `json:"deferred"`
	Cancelled int       `json:"cancelled"`
	Errors    int       `json:"errors"`
}

func (r *DispatchReport) add(o Outcome) {
	switch o {
	case OutcomeSent:
		r.Sent++
	case OutcomeRetry:
		r.Retried++
	case OutcomeFailed:
		r.Failed++
	case OutcomeRequeued:
		r.Requeued++
	case OutcomeDeferred:
		r.Deferred++
	case OutcomeCancelled:
		r.Cancelled++
	default:
		r.Errors++
	}
}
