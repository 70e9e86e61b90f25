package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/dental-crm-messaging/internal/appointments"
	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

type appointmentSource interface {
	DueForReminder(ctx context.Context, window appointments.Window) ([]appointments.Appointment, error)
	Get(ctx context.Context, id string) (*appointments.Appointment, error)
}

// PlanReport counts what one planning pass did.
type PlanReport struct {
	Scanned int `json:"scanned"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Purged  int `json:"purged"`
}

// Planner turns upcoming appointments into jobs, one per trigger rule.
type Planner struct {
	appts      appointmentSource
	dispatcher *Dispatcher
	rules      []TriggerRule
	horizon    time.Duration
	retention  time.Duration
	logger     *logging.Logger
}

func NewPlanner(appts appointmentSource, dispatcher *Dispatcher, rules []TriggerRule, logger *logging.Logger) *Planner {
	if logger == nil {
		logger = logging.Default()
	}
	if len(rules) == 0 {
		rules = DefaultRules(0, 0)
	}
	return &Planner{
		appts:      appts,
		dispatcher: dispatcher,
		rules:      rules,
		horizon:    time.Hour,
		retention:  30 * 24 * time.Hour,
		logger:     logger,
	}
}

func (p *Planner) WithHorizon(d time.Duration) *Planner {
	if d > 0 {
		p.horizon = d
	}
	return p
}

func (p *Planner) WithRetention(d time.Duration) *Planner {
	if d > 0 {
		p.retention = d
	}
	return p
}

// Rules returns the configured trigger rules.
func (p *Planner) Rules() []TriggerRule {
	return append([]TriggerRule(nil), p.rules...)
}

// Rule looks a trigger rule up by name.
func (p *Planner) Rule(name string) (TriggerRule, bool) {
	for _, r := range p.rules {
		if r.Name == name {
			return r, true
		}
	}
	return TriggerRule{}, false
}

// Plan enqueues jobs for every appointment whose trigger falls before
// now plus the horizon, then purges terminal jobs past retention.
func (p *Planner) Plan(ctx context.Context, now time.Time) (PlanReport, error) {
	var report PlanReport
	for _, rule := range p.rules {
		due, err := p.appts.DueForReminder(ctx, rule.Window(now, p.horizon))
		if err != nil {
			return report, fmt.Errorf("reminders: plan %s: %w", rule.Name, err)
		}
		for _, appt := range due {
			report.Scanned++
			if rule.Kind == KindFollowup && appt.Status != appointments.StatusConfirmed {
				report.Skipped++
				continue
			}
			_, created, err := p.dispatcher.Enqueue(ctx, appt, rule)
			if err != nil {
				p.logger.Warn("failed to enqueue reminder", "appointment_id", appt.ID, "rule", rule.Name, "error", err)
				report.Skipped++
				continue
			}
			if created {
				report.Created++
			}
		}
	}

	purged, err := p.dispatcher.store.PurgeTerminal(ctx, now.Add(-p.retention))
	if err != nil {
		p.logger.Warn("failed to purge old reminder jobs", "error", err)
	}
	report.Purged = purged

	if report.Created > 0 || report.Purged > 0 {
		p.logger.Info("reminder planning complete", "scanned", report.Scanned, "created", report.Created, "purged", report.Purged)
	}
	return report, nil
}

// EnqueueFor enqueues a single rule for one appointment by id.
func (p *Planner) EnqueueFor(ctx context.Context, appointmentID, ruleName string) (Job, bool, error) {
	rule, ok := p.Rule(ruleName)
	if !ok {
		return Job{}, false, fmt.Errorf("%w: %q", ErrUnknownRule, ruleName)
	}
	appt, err := p.appts.Get(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, appointments.ErrNotFound) {
			return Job{}, false, err
		}
		return Job{}, false, fmt.Errorf("reminders: load appointment: %w", err)
	}
	return p.dispatcher.Enqueue(ctx, *appt, rule)
}
