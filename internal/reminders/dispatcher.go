package reminders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/dental-crm-messaging/internal/alerts"
	"github.com/wolfman30/dental-crm-messaging/internal/appointments"
	"github.com/wolfman30/dental-crm-messaging/internal/channels"
	"github.com/wolfman30/dental-crm-messaging/internal/eligibility"
	"github.com/wolfman30/dental-crm-messaging/internal/observability/metrics"
	"github.com/wolfman30/dental-crm-messaging/internal/phone"
	"github.com/wolfman30/dental-crm-messaging/internal/whatsapp"
	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

var tracer trace.Tracer = otel.Tracer("dental/reminders")

// ErrProviderSend marks a send the provider did not accept.
var ErrProviderSend = errors.New("reminders: provider send failed")

// ErrAppointmentClosed rejects enqueueing for cancelled or finished appointments.
var ErrAppointmentClosed = errors.New("reminders: appointment is not open")

type channelPool interface {
	Allocate(ctx context.Context, purpose channels.Purpose, country string) (*channels.Channel, error)
	Apply(ctx context.Context, ev channels.StatusEvent) (bool, error)
}

type messageSender interface {
	SendMessage(ctx context.Context, channelID, phone, content, mediaURL string) (whatsapp.SendResult, error)
}

type mediaResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

type appointmentReader interface {
	Get(ctx context.Context, id string) (*appointments.Appointment, error)
}

// Dispatcher drains due jobs: it normalizes the phone, allocates a channel,
// sends through the gateway and records the outcome with retry backoff.
type Dispatcher struct {
	store      Store
	channels   channelPool
	sender     messageSender
	logger     *logging.Logger
	normalizer *phone.Normalizer
	appts      appointmentReader
	gate       *eligibility.Gate
	media      mediaResolver
	alerts     alerts.Publisher
	metrics    *metrics.MessagingMetrics
	renderer   Renderer

	backoff        BackoffPolicy
	batchSize      int
	concurrency    int
	sendTimeout    time.Duration
	claimLease     time.Duration
	noChannelDelay time.Duration
	deferStep      time.Duration
	recordTries    int
	recordBackoff  time.Duration

	running sync.Mutex
	now     func() time.Time
}

func NewDispatcher(store Store, pool channelPool, sender messageSender, logger *logging.Logger) *Dispatcher {
	if store == nil || pool == nil || sender == nil {
		panic("reminders: store, channel pool and sender are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		store:          store,
		channels:       pool,
		sender:         sender,
		logger:         logger,
		normalizer:     phone.NewNormalizer("55", "11"),
		gate:           eligibility.NewGate(time.UTC, 0, 0),
		backoff:        DefaultBackoff(),
		batchSize:      50,
		concurrency:    4,
		sendTimeout:    15 * time.Second,
		claimLease:     5 * time.Minute,
		noChannelDelay: 5 * time.Minute,
		deferStep:      5 * time.Minute,
		recordTries:    3,
		recordBackoff:  200 * time.Millisecond,
		now:            time.Now,
	}
}

func (d *Dispatcher) WithNormalizer(n *phone.Normalizer) *Dispatcher {
	if n != nil {
		d.normalizer = n
	}
	return d
}

// WithFollowupGate enables the eligibility check for follow-up jobs.
func (d *Dispatcher) WithFollowupGate(appts appointmentReader, gate *eligibility.Gate) *Dispatcher {
	d.appts = appts
	if gate != nil {
		d.gate = gate
	}
	return d
}

func (d *Dispatcher) WithMedia(m mediaResolver) *Dispatcher {
	d.media = m
	return d
}

func (d *Dispatcher) WithAlerts(p alerts.Publisher) *Dispatcher {
	d.alerts = p
	return d
}

func (d *Dispatcher) WithMetrics(m *metrics.MessagingMetrics) *Dispatcher {
	d.metrics = m
	return d
}

func (d *Dispatcher) WithRenderer(r Renderer) *Dispatcher {
	d.renderer = r
	return d
}

func (d *Dispatcher) WithBackoff(p BackoffPolicy) *Dispatcher {
	d.backoff = p.normalized()
	return d
}

func (d *Dispatcher) WithBatchSize(n int) *Dispatcher {
	if n > 0 {
		d.batchSize = n
	}
	return d
}

func (d *Dispatcher) WithConcurrency(n int) *Dispatcher {
	if n > 0 {
		d.concurrency = n
	}
	return d
}

func (d *Dispatcher) WithSendTimeout(t time.Duration) *Dispatcher {
	if t > 0 {
		d.sendTimeout = t
	}
	return d
}

func (d *Dispatcher) WithClaimLease(t time.Duration) *Dispatcher {
	if t > 0 {
		d.claimLease = t
	}
	return d
}

func (d *Dispatcher) WithNoChannelDelay(t time.Duration) *Dispatcher {
	if t > 0 {
		d.noChannelDelay = t
	}
	return d
}

// Enqueue renders the rule for appt and stores a pending job. It is
// idempotent per appointment and rule; created reports whether a new job was made.
func (d *Dispatcher) Enqueue(ctx context.Context, appt appointments.Appointment, rule TriggerRule) (Job, bool, error) {
	if !appt.Status.Open() {
		return Job{}, false, fmt.Errorf("%w: %s is %s", ErrAppointmentClosed, appt.ID, appt.Status)
	}
	content, err := d.renderer.Render(rule.Name, rule.Template, appt)
	if err != nil {
		return Job{}, false, err
	}
	due := rule.DueAt(appt)
	if now := d.now().UTC(); due.Before(now) {
		due = now
	}
	job := Job{
		AppointmentID: appt.ID,
		Rule:          rule.Name,
		Kind:          rule.Kind,
		PatientName:   appt.PatientName,
		RawPhone:      appt.PatientPhone,
		Content:       content,
		MediaRef:      rule.MediaRef,
		ScheduledFor:  due,
		Status:        StatusPending,
	}
	if canonical, err := d.normalizer.Normalize(appt.PatientPhone); err == nil {
		job.Phone = canonical
	}
	stored, created, err := d.store.Create(ctx, job)
	if err != nil {
		return Job{}, false, err
	}
	if created {
		d.logger.Info("reminder job enqueued", "job_id", stored.ID, "appointment_id", appt.ID, "rule", rule.Name, "scheduled_for", stored.ScheduledFor)
	}
	return stored, created, nil
}

// tickState carries per-tick bookkeeping shared by the job goroutines.
type tickState struct {
	noChannel sync.Once
}

// Tick claims due jobs and processes them with bounded concurrency. A tick
// that starts while another is running in this process is skipped.
func (d *Dispatcher) Tick(ctx context.Context) (DispatchReport, error) {
	start := d.now()
	report := DispatchReport{StartedAt: start.UTC()}
	if !d.running.TryLock() {
		report.Skipped = true
		return report, nil
	}
	defer d.running.Unlock()

	ctx, span := tracer.Start(ctx, "reminders.tick", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	jobs, err := d.store.ClaimDue(ctx, start, d.batchSize)
	if err != nil {
		return report, err
	}
	report.Claimed = len(jobs)

	state := &tickState{}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			outcome := d.process(gctx, job, state)
			d.metrics.ObserveDispatch(string(job.Kind), string(outcome))
			mu.Lock()
			report.add(outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	elapsed := d.now().Sub(start)
	report.Duration = elapsed.String()
	d.metrics.ObserveTick(elapsed)
	span.SetAttributes(
		attribute.Int("reminders.claimed", report.Claimed),
		attribute.Int("reminders.sent", report.Sent),
		attribute.Int("reminders.failed", report.Failed),
	)
	if report.Claimed > 0 {
		d.logger.Info("dispatch tick complete",
			"claimed", report.Claimed, "sent", report.Sent, "retried", report.Retried,
			"failed", report.Failed, "requeued", report.Requeued, "deferred", report.Deferred,
			"cancelled", report.Cancelled, "duration", report.Duration)
	}
	return report, nil
}

// SendNow claims one pending job regardless of its schedule and runs it
// through the normal pipeline.
func (d *Dispatcher) SendNow(ctx context.Context, id uuid.UUID) (Outcome, error) {
	job, err := d.store.ClaimByID(ctx, id, d.now())
	if err != nil {
		return "", err
	}
	outcome := d.process(ctx, *job, &tickState{})
	d.metrics.ObserveDispatch(string(job.Kind), string(outcome))
	return outcome, nil
}

// CancelForAppointment cancels every pending job of the appointment.
func (d *Dispatcher) CancelForAppointment(ctx context.Context, appointmentID string) (int, error) {
	n, err := d.store.CancelByAppointment(ctx, appointmentID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.logger.Info("reminder jobs cancelled", "appointment_id", appointmentID, "count", n)
	}
	return n, nil
}

// ReclaimStale settles jobs whose claim outlived the lease as a failed
// attempt, so a crashed worker cannot strand them in sending.
func (d *Dispatcher) ReclaimStale(ctx context.Context) (int, error) {
	stale, err := d.store.ReclaimStale(ctx, d.now().Add(-d.claimLease))
	if err != nil {
		return 0, err
	}
	for _, job := range stale {
		d.logger.Warn("reclaiming stale reminder claim", "job_id", job.ID, "claimed_at", job.ClaimedAt)
		outcome := d.fail(ctx, job, errors.New("claim lease expired"), job.ChannelID)
		d.metrics.ObserveDispatch(string(job.Kind), string(outcome))
	}
	return len(stale), nil
}

func (d *Dispatcher) process(ctx context.Context, job Job, state *tickState) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while dispatching reminder", "job_id", job.ID, "panic", r)
			d.publish(ctx, alerts.Alert{
				Type:     alerts.TypeDispatchPanic,
				Severity: alerts.SeverityCritical,
				Message:  fmt.Sprintf("Falha interna ao enviar lembrete para %s", job.PatientName),
				Fields:   map[string]string{"job_id": job.ID.String(), "panic": fmt.Sprint(r)},
				Audio:    true,
			})
			outcome = d.fail(ctx, job, fmt.Errorf("panic: %v", r), "")
		}
	}()

	if job.Kind == KindFollowup && d.appts != nil {
		if o, ok := d.checkFollowup(ctx, job); !ok {
			return o
		}
	}

	canonical := job.Phone
	if canonical == "" {
		var err error
		canonical, err = d.normalizer.Normalize(job.RawPhone)
		if err != nil {
			return d.rejectPhone(ctx, job)
		}
	}

	country, _ := phone.CountryOf(canonical)
	ch, err := d.channels.Allocate(ctx, channels.PurposeReminders, country)
	if errors.Is(err, channels.ErrNoChannelAvailable) {
		state.noChannel.Do(func() {
			d.publish(ctx, alerts.Alert{
				Type:     alerts.TypeNoChannel,
				Severity: alerts.SeverityWarning,
				Message:  "Nenhum canal de WhatsApp disponível para lembretes",
				Fields:   map[string]string{"country": country},
			})
		})
		return d.requeue(ctx, job, d.now().Add(d.noChannelDelay), "no channel available", OutcomeRequeued)
	}
	if err != nil {
		d.logger.Error("channel allocation failed", "job_id", job.ID, "error", err)
		return d.requeue(ctx, job, d.now().Add(d.noChannelDelay), err.Error(), OutcomeError)
	}

	mediaURL := ""
	if job.MediaRef != "" && d.media != nil {
		mediaURL, err = d.media.Resolve(ctx, job.MediaRef)
		if err != nil {
			return d.fail(ctx, job, fmt.Errorf("resolve media: %w", err), ch.ID)
		}
	}

	res, err := d.send(ctx, ch.ID, canonical, job.Content, mediaURL)
	if err != nil {
		if errors.Is(err, channels.ErrChannelBlocked) {
			d.blockChannel(ctx, ch.ID, job.ID, err)
		}
		return d.fail(ctx, job, err, ch.ID)
	}

	d.recordSent(ctx, job, ch.ID, res.ProviderMessageID)
	d.logger.Info("reminder sent", "job_id", job.ID, "channel_id", ch.ID, "phone", phone.Mask(canonical), "rule", job.Rule)
	return OutcomeSent
}

// recordSent settles a delivered job. A job left in sending would be
// reclaimed and sent again, so when MarkSent keeps failing the job is moved
// to failed instead.
func (d *Dispatcher) recordSent(ctx context.Context, job Job, channelID, providerMessageID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var err error
	for try := 0; try < d.recordTries; try++ {
		if try > 0 && d.recordBackoff > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(d.recordBackoff):
			}
		}
		if err = d.store.MarkSent(ctx, job.ID, channelID, providerMessageID, job.Attempts+1, d.now()); err == nil {
			return
		}
		d.logger.Warn("failed to record sent reminder", "job_id", job.ID, "try", try+1, "error", err)
	}

	reason := fmt.Sprintf("sent, record lost (%s): %v", providerMessageID, err)
	if ferr := d.store.MarkFailed(ctx, job.ID, job.Attempts+1, reason); ferr != nil {
		d.logger.Error("failed to settle sent reminder", "job_id", job.ID, "error", ferr)
	}
	d.publish(ctx, alerts.Alert{
		Type:     alerts.TypeDispatchFailed,
		Severity: alerts.SeverityWarning,
		Message:  "Lembrete enviado, mas o registro do envio falhou",
		Fields: map[string]string{
			"job_id":      job.ID.String(),
			"channel_id":  channelID,
			"provider_id": providerMessageID,
		},
	})
}

func (d *Dispatcher) send(ctx context.Context, channelID, to, content, mediaURL string) (whatsapp.SendResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	started := time.Now()
	res, err := d.sender.SendMessage(ctx, channelID, to, content, mediaURL)
	if err == nil && !res.Success {
		err = ErrProviderSend
	}
	if err != nil {
		d.metrics.ObserveSend("error", time.Since(started))
		return res, err
	}
	d.metrics.ObserveSend("sent", time.Since(started))
	return res, nil
}

// checkFollowup applies the eligibility gate. ok=false means the job was
// settled without sending.
func (d *Dispatcher) checkFollowup(ctx context.Context, job Job) (Outcome, bool) {
	now := d.now()
	appt, err := d.appts.Get(ctx, job.AppointmentID)
	if errors.Is(err, appointments.ErrNotFound) {
		return d.cancel(ctx, job, "appointment not found"), false
	}
	if err != nil {
		d.logger.Error("load appointment for follow-up", "job_id", job.ID, "error", err)
		return d.requeue(ctx, job, now.Add(d.deferStep), err.Error(), OutcomeError), false
	}

	result := d.gate.Evaluate(*appt, now)
	if result.Eligible {
		return "", true
	}
	switch {
	case appt.Status == appointments.StatusCancelled, appt.Status == appointments.StatusNoShow,
		d.gate.WindowPassed(*appt, now):
		return d.cancel(ctx, job, "not eligible: "+result.String()), false
	case d.gate.TooEarly(*appt, now):
		return d.requeue(ctx, job, d.gate.Target(*appt).Add(-d.gate.Window), "deferred until window opens", OutcomeDeferred), false
	default:
		next := now.Add(d.deferStep)
		if end := d.gate.Target(*appt).Add(d.gate.Window).Add(time.Second); next.After(end) {
			next = end
		}
		return d.requeue(ctx, job, next, "not eligible: "+result.String(), OutcomeDeferred), false
	}
}

func (d *Dispatcher) rejectPhone(ctx context.Context, job Job) Outcome {
	d.logger.Warn("invalid patient phone, reminder dropped", "job_id", job.ID, "phone", phone.Mask(job.RawPhone))
	if err := d.store.MarkFailed(ctx, job.ID, job.Attempts, phone.ErrInvalid.Error()); err != nil {
		d.logger.Error("failed to mark reminder failed", "job_id", job.ID, "error", err)
		return OutcomeError
	}
	d.publish(ctx, alerts.Alert{
		Type:     alerts.TypeInvalidPhone,
		Severity: alerts.SeverityHigh,
		Message:  fmt.Sprintf("Telefone inválido para %s: %s", job.PatientName, job.RawPhone),
		Fields:   map[string]string{"job_id": job.ID.String(), "appointment_id": job.AppointmentID},
	})
	return OutcomeFailed
}

// fail consumes one attempt and either schedules a retry or, when the policy
// is exhausted, marks the job failed and raises a single critical alert.
func (d *Dispatcher) fail(ctx context.Context, job Job, cause error, channelID string) Outcome {
	attempts := job.Attempts + 1
	msg := cause.Error()
	if d.backoff.Exhausted(attempts) {
		if err := d.store.MarkFailed(ctx, job.ID, attempts, msg); err != nil {
			d.logger.Error("failed to mark reminder failed", "job_id", job.ID, "error", err)
			return OutcomeError
		}
		d.logger.Error("reminder failed permanently", "job_id", job.ID, "attempts", attempts, "channel_id", channelID, "error", msg)
		d.publish(ctx, alerts.Alert{
			Type:     alerts.TypeDispatchFailed,
			Severity: alerts.SeverityCritical,
			Message:  fmt.Sprintf("Lembrete para %s falhou após %d tentativas (canal %s)", job.PatientName, attempts, channelID),
			Fields: map[string]string{
				"job_id":         job.ID.String(),
				"appointment_id": job.AppointmentID,
				"patient_name":   job.PatientName,
				"channel_id":     channelID,
				"error":          msg,
			},
			Audio: true,
		})
		return OutcomeFailed
	}

	next := d.now().Add(d.backoff.Delay(attempts))
	if err := d.store.ScheduleRetry(ctx, job.ID, attempts, next, msg); err != nil {
		d.logger.Error("failed to schedule reminder retry", "job_id", job.ID, "error", err)
		return OutcomeError
	}
	d.logger.Warn("reminder send failed, retry scheduled", "job_id", job.ID, "attempts", attempts, "next_attempt", next, "error", msg)
	return OutcomeRetry
}

func (d *Dispatcher) requeue(ctx context.Context, job Job, next time.Time, reason string, outcome Outcome) Outcome {
	if err := d.store.Requeue(ctx, job.ID, next, reason); err != nil {
		d.logger.Error("failed to requeue reminder", "job_id", job.ID, "error", err)
		return OutcomeError
	}
	return outcome
}

func (d *Dispatcher) cancel(ctx context.Context, job Job, reason string) Outcome {
	if err := d.store.Cancel(ctx, job.ID, reason); err != nil {
		d.logger.Error("failed to cancel reminder", "job_id", job.ID, "error", err)
		return OutcomeError
	}
	d.logger.Info("reminder cancelled", "job_id", job.ID, "reason", reason)
	return OutcomeCancelled
}

func (d *Dispatcher) blockChannel(ctx context.Context, channelID string, jobID uuid.UUID, cause error) {
	_, err := d.channels.Apply(ctx, channels.StatusEvent{
		EventID:    "dispatch-" + jobID.String(),
		ChannelID:  channelID,
		Kind:       channels.EventBlocked,
		Reason:     cause.Error(),
		OccurredAt: d.now().UTC(),
	})
	if err != nil {
		d.logger.Error("failed to mark channel blocked", "channel_id", channelID, "error", err)
	}
}

func (d *Dispatcher) publish(ctx context.Context, a alerts.Alert) {
	if d.alerts == nil {
		return
	}
	d.alerts.Publish(ctx, a)
}
