package reschedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-crm-messaging/internal/alerts"
	"github.com/wolfman30/dental-crm-messaging/internal/phone"
	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

// Workflow owns the request state machine.
type Workflow struct {
	store  Store
	alerts alerts.Publisher
	logger *logging.Logger
	now    func() time.Time
}

// NewWorkflow wires the workflow. Without a publisher requests stay pending
// until staff resolve them with notes.
func NewWorkflow(store Store, publisher alerts.Publisher, logger *logging.Logger) *Workflow {
	if store == nil {
		panic("reschedule: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Workflow{store: store, alerts: publisher, logger: logger.Component("reschedule"), now: time.Now}
}

// Open records a reschedule ask. A second ask for an appointment with an open
// request is appended to it instead of creating another. notified reports
// whether a staff alert was raised by this call.
func (w *Workflow) Open(ctx context.Context, in OpenInput) (req *Request, notified bool, err error) {
	if strings.TrimSpace(in.AppointmentID) == "" {
		return nil, false, fmt.Errorf("reschedule: open: appointment id required")
	}
	now := w.now().UTC()

	existing, err := w.store.FindOpen(ctx, in.AppointmentID)
	switch {
	case err == nil:
		if err := w.store.AppendMessage(ctx, existing.ID, in.MessageText, now); err != nil {
			return nil, false, fmt.Errorf("reschedule: append message: %w", err)
		}
		req = existing
		req.MessageText = joinMessages(req.MessageText, in.MessageText)
	case errors.Is(err, ErrRequestNotFound):
		req = &Request{
			ID:            uuid.New(),
			AppointmentID: in.AppointmentID,
			PatientName:   in.PatientName,
			PatientPhone:  in.PatientPhone,
			MessageText:   in.MessageText,
			Status:        StatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := w.store.Create(ctx, *req); err != nil {
			return nil, false, fmt.Errorf("reschedule: create: %w", err)
		}
		w.logger.Info("reschedule request opened", "request_id", req.ID, "appointment_id", req.AppointmentID, "phone", phone.Mask(req.PatientPhone))
	default:
		return nil, false, fmt.Errorf("reschedule: find open: %w", err)
	}

	if req.Status != StatusPending || w.alerts == nil {
		return req, false, nil
	}
	w.alerts.Publish(ctx, alerts.Alert{
		Type:     alerts.TypeRescheduleRequest,
		Severity: alerts.SeverityHigh,
		Message:  fmt.Sprintf("%s pediu para remarcar a consulta: %q", req.PatientName, in.MessageText),
		Fields: map[string]string{
			"request_id":     req.ID.String(),
			"appointment_id": req.AppointmentID,
			"patient_phone":  req.PatientPhone,
		},
		Audio: true,
	})
	// the alert is fire-and-forget, so notified means dispatched, not seen
	changed, err := w.store.MarkNotified(ctx, req.ID, now)
	if err != nil {
		return req, false, fmt.Errorf("reschedule: mark notified: %w", err)
	}
	if changed {
		req.Status = StatusNotified
		req.NotifiedAt = &now
	}
	return req, changed, nil
}

// Resolve closes a request. Resolving an already resolved request returns it
// unchanged. A request whose staff alert never went out needs notes.
func (w *Workflow) Resolve(ctx context.Context, id uuid.UUID, in ResolveInput) (*Request, error) {
	req, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status == StatusResolved {
		return req, nil
	}
	if !CanTransition(req.Status, StatusResolved) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, req.Status, StatusResolved)
	}
	in.Notes = strings.TrimSpace(in.Notes)
	if req.Status == StatusPending && in.Notes == "" {
		return nil, ErrNotesRequired
	}

	if _, err := w.store.MarkResolved(ctx, id, in, w.now().UTC()); err != nil {
		return nil, fmt.Errorf("reschedule: resolve: %w", err)
	}
	resolved, err := w.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	w.logger.Info("reschedule request resolved", "request_id", id, "resolved_by", resolved.ResolvedBy)
	return resolved, nil
}

// Pending lists requests not yet resolved, oldest first.
func (w *Workflow) Pending(ctx context.Context) ([]Request, error) {
	return w.store.List(ctx, "")
}

// List returns requests in one status.
func (w *Workflow) List(ctx context.Context, status Status) ([]Request, error) {
	return w.store.List(ctx, status)
}

// Get returns one request.
func (w *Workflow) Get(ctx context.Context, id uuid.UUID) (*Request, error) {
	return w.store.Get(ctx, id)
}
