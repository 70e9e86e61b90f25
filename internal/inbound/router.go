package inbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dental-crm-messaging/internal/alerts"
	"github.com/wolfman30/dental-crm-messaging/internal/appointments"
	"github.com/wolfman30/dental-crm-messaging/internal/events"
	"github.com/wolfman30/dental-crm-messaging/internal/intent"
	"github.com/wolfman30/dental-crm-messaging/internal/observability/metrics"
	"github.com/wolfman30/dental-crm-messaging/internal/phone"
	"github.com/wolfman30/dental-crm-messaging/internal/reschedule"
	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

var tracer trace.Tracer = otel.Tracer("dental/inbound")

const dedupeSource = "whatsapp-inbound"

type appointmentBook interface {
	FindOpenByPhone(ctx context.Context, phone string) (*appointments.Appointment, error)
	UpdateStatus(ctx context.Context, id string, status appointments.Status) error
}

type rescheduleOpener interface {
	Open(ctx context.Context, in reschedule.OpenInput) (*reschedule.Request, bool, error)
}

type reminderCanceller interface {
	CancelForAppointment(ctx context.Context, appointmentID string) (int, error)
}

// Router applies one inbound message: normalize, classify, link to the open
// appointment, then act on the intent.
type Router struct {
	normalizer *phone.Normalizer
	classifier intent.Classifier
	appts      appointmentBook
	store      Store
	reschedule rescheduleOpener
	reminders  reminderCanceller
	tracker    events.Tracker
	alerts     alerts.Publisher
	metrics    *metrics.MessagingMetrics
	logger     *logging.Logger
	now        func() time.Time
}

// Deps groups the router collaborators. Reminders, Tracker, Alerts and
// Metrics are optional.
type Deps struct {
	Normalizer *phone.Normalizer
	Classifier intent.Classifier
	Appts      appointmentBook
	Store      Store
	Reschedule rescheduleOpener
	Reminders  reminderCanceller
	Tracker    events.Tracker
	Alerts     alerts.Publisher
	Metrics    *metrics.MessagingMetrics
	Logger     *logging.Logger
}

func NewRouter(d Deps) *Router {
	if d.Normalizer == nil || d.Appts == nil || d.Store == nil || d.Reschedule == nil {
		panic("inbound: normalizer, appointments, store and reschedule workflow are required")
	}
	if d.Classifier == nil {
		d.Classifier = intent.NewDefaultClassifier()
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	return &Router{
		normalizer: d.Normalizer,
		classifier: d.Classifier,
		appts:      d.Appts,
		store:      d.Store,
		reschedule: d.Reschedule,
		reminders:  d.Reminders,
		tracker:    d.Tracker,
		alerts:     d.Alerts,
		metrics:    d.Metrics,
		logger:     d.Logger.Component("inbound"),
		now:        time.Now,
	}
}

// Handle processes one payload. Invalid phones return Success=false without
// side effects; an error is returned only when the message could not be
// recorded, so the provider should retry.
func (r *Router) Handle(ctx context.Context, p Payload) (Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "inbound.handle", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	res, err := r.handle(ctx, p)
	res.ProcessingTimeMs = time.Since(start).Milliseconds()
	span.SetAttributes(
		attribute.String("inbound.intent", string(res.DetectedIntent)),
		attribute.Bool("inbound.appointment_updated", res.AppointmentUpdated),
		attribute.Bool("inbound.duplicate", res.Duplicate),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case res.Duplicate:
		status = "duplicate"
	case !res.Success:
		status = "rejected"
	}
	r.metrics.ObserveInbound(string(res.DetectedIntent), status)
	return res, err
}

func (r *Router) handle(ctx context.Context, p Payload) (Result, error) {
	res := Result{DetectedIntent: intent.Unknown}

	canonical, err := r.normalizer.Normalize(p.SenderPhone)
	if err != nil {
		r.logger.Warn("inbound message with invalid phone", "phone", phone.Mask(p.SenderPhone))
		res.Error = "invalid sender phone"
		return res, nil
	}

	key := p.DedupeKey(canonical)
	if r.tracker != nil {
		claimed, err := r.tracker.Claim(ctx, dedupeSource, key)
		if err != nil {
			return res, fmt.Errorf("inbound: dedupe claim: %w", err)
		}
		if !claimed {
			r.logger.Info("duplicate inbound message ignored", "phone", phone.Mask(canonical))
			res.Success = true
			res.Duplicate = true
			return res, nil
		}
	}

	classified := r.classifier.Classify(ctx, p.Message)
	res.DetectedIntent = classified.Intent
	res.Confidence = classified.Confidence

	appt, err := r.appts.FindOpenByPhone(ctx, canonical)
	if err != nil && !errors.Is(err, appointments.ErrNotFound) {
		r.release(ctx, key)
		return res, fmt.Errorf("inbound: find appointment: %w", err)
	}

	msg := IncomingMessage{
		ID:          uuid.New(),
		SenderPhone: canonical,
		SenderName:  strings.TrimSpace(p.SenderName),
		RawText:     p.Message,
		Intent:      classified.Intent,
		Confidence:  classified.Confidence,
		ReceivedAt:  p.ReceivedAt(r.now()),
		CreatedAt:   r.now().UTC(),
	}
	if classified.Matched != "" {
		msg.Matched = []string{classified.Matched}
	}
	if appt != nil {
		msg.AppointmentID = appt.ID
		res.AppointmentID = appt.ID
	}
	if err := r.store.Save(ctx, msg); err != nil {
		r.release(ctx, key)
		return res, err
	}
	res.MessageID = msg.ID.String()

	if appt == nil {
		r.logger.Info("inbound message not linked to an appointment", "message_id", msg.ID, "intent", classified.Intent, "phone", phone.Mask(canonical))
		res.Success = true
		r.markProcessed(ctx, msg.ID)
		return res, nil
	}

	if err := r.apply(ctx, &res, *appt, msg, p); err != nil {
		// the message stays unprocessed for manual triage
		r.logger.Error("failed to apply inbound intent", "message_id", msg.ID, "appointment_id", appt.ID, "intent", classified.Intent, "error", err)
		res.Error = err.Error()
		return res, nil
	}
	res.Success = true
	r.markProcessed(ctx, msg.ID)
	return res, nil
}

func (r *Router) apply(ctx context.Context, res *Result, appt appointments.Appointment, msg IncomingMessage, p Payload) error {
	switch msg.Intent {
	case intent.Confirmed:
		if appt.Status == appointments.StatusConfirmed {
			return nil
		}
		if err := r.appts.UpdateStatus(ctx, appt.ID, appointments.StatusConfirmed); err != nil {
			return fmt.Errorf("confirm appointment: %w", err)
		}
		res.AppointmentUpdated = true
		r.logger.Info("appointment confirmed by patient", "appointment_id", appt.ID)

	case intent.Cancelled:
		if err := r.appts.UpdateStatus(ctx, appt.ID, appointments.StatusCancelled); err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}
		res.AppointmentUpdated = true
		r.logger.Info("appointment cancelled by patient", "appointment_id", appt.ID)
		if r.reminders != nil {
			if _, err := r.reminders.CancelForAppointment(ctx, appt.ID); err != nil {
				r.logger.Warn("failed to cancel pending reminders", "appointment_id", appt.ID, "error", err)
			}
		}

	case intent.Reschedule:
		name := appt.PatientName
		if name == "" {
			name = msg.SenderName
		}
		_, notified, err := r.reschedule.Open(ctx, reschedule.OpenInput{
			AppointmentID: appt.ID,
			PatientName:   name,
			PatientPhone:  msg.SenderPhone,
			MessageText:   p.Message,
		})
		if err != nil {
			return fmt.Errorf("open reschedule request: %w", err)
		}
		res.NotificationSent = notified

	default:
		r.logger.Info("unclassified reply", "message_id", msg.ID, "appointment_id", appt.ID)
		if r.alerts != nil {
			r.alerts.Publish(ctx, alerts.Alert{
				Type:     alerts.TypeUnclassifiedReply,
				Severity: alerts.SeverityInfo,
				Message:  fmt.Sprintf("Resposta não classificada de %s: %q", appt.PatientName, p.Message),
				Fields:   map[string]string{"message_id": msg.ID.String(), "appointment_id": appt.ID},
			})
		}
	}
	return nil
}

func (r *Router) markProcessed(ctx context.Context, id uuid.UUID) {
	if err := r.store.MarkProcessed(ctx, id); err != nil {
		r.logger.Warn("failed to mark message processed", "message_id", id, "error", err)
	}
}

func (r *Router) release(ctx context.Context, key string) {
	if r.tracker == nil {
		return
	}
	if err := r.tracker.Release(ctx, dedupeSource, key); err != nil {
		r.logger.Warn("failed to release dedupe claim", "error", err)
	}
}
