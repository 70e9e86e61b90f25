package channels

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-crm-messaging/internal/alerts"
	"github.com/wolfman30/dental-crm-messaging/internal/observability/metrics"
	"github.com/wolfman30/dental-crm-messaging/internal/phone"
	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

// Registry is the single writer of channel state. Counter updates and status
// changes are serialized per channel; different channels proceed in parallel.
type Registry struct {
	store   Store
	alerts  alerts.Publisher
	metrics *metrics.MessagingMetrics
	logger  *logging.Logger
	now     func() time.Time

	mu    sync.Mutex
	slots map[string]*sync.Mutex
}

// NewRegistry creates a registry over store. alerts and metrics may be nil.
func NewRegistry(store Store, publisher alerts.Publisher, m *metrics.MessagingMetrics, logger *logging.Logger) *Registry {
	if store == nil {
		panic("channels: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		store:   store,
		alerts:  publisher,
		metrics: m,
		logger:  logger.Component("channels"),
		now:     time.Now,
		slots:   make(map[string]*sync.Mutex),
	}
}

func (r *Registry) slot(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.slots[id]
	if !ok {
		m = &sync.Mutex{}
		r.slots[id] = m
	}
	return m
}

// Register adds an operator-provided number. New channels start inactive
// unless a status is given; the provider's connected event activates them.
func (r *Registry) Register(ctx context.Context, ch Channel) (*Channel, error) {
	ch.Country = strings.ToUpper(strings.TrimSpace(ch.Country))
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	if ch.Purpose == "" {
		ch.Purpose = PurposeReminders
	}
	if ch.Status == "" {
		ch.Status = StatusInactive
	}
	if err := validate(ch); err != nil {
		return nil, err
	}
	now := r.now().UTC()
	ch.DailyMessageCount = 0
	ch.LastResetAt = now
	ch.StatusChangedAt = now
	ch.CreatedAt = now
	if err := r.store.Create(ctx, ch); err != nil {
		return nil, fmt.Errorf("channels: register %s: %w", ch.ID, err)
	}
	r.logger.Info("channel registered", "channel_id", ch.ID, "country", ch.Country, "purpose", ch.Purpose, "daily_limit", ch.DailyLimit)
	return &ch, nil
}

func validate(ch Channel) error {
	if ch.DailyLimit <= 0 {
		return fmt.Errorf("%w: daily limit must be positive", ErrInvalidChannel)
	}
	if !ch.Purpose.Valid() {
		return fmt.Errorf("%w: unknown purpose %q", ErrInvalidChannel, ch.Purpose)
	}
	if !ch.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidChannel, ch.Status)
	}
	if _, ok := phone.Lookup(ch.Country); !ok {
		return fmt.Errorf("%w: unsupported country %q", ErrInvalidChannel, ch.Country)
	}
	return nil
}

// Allocate picks a channel for one outbound message and reserves quota on it
// before returning. Same-country channels are preferred when a country hint is
// given; within a group the lowest usage ratio wins, ties broken by id.
func (r *Registry) Allocate(ctx context.Context, purpose Purpose, country string) (*Channel, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("channels: allocate: %w", err)
	}
	now := r.now()
	country = strings.ToUpper(strings.TrimSpace(country))

	var candidates []Channel
	for _, ch := range all {
		if ch.Purpose != purpose || ch.Status != StatusActive {
			continue
		}
		if ch.NeedsReset(now) {
			reset, err := r.rollover(ctx, ch, now)
			if err != nil {
				r.logger.Warn("daily usage reset failed", "channel_id", ch.ID, "error", err)
			}
			if reset == nil {
				// someone else reset first; the listed counter is stale
				fresh, err := r.store.Get(ctx, ch.ID)
				if err != nil {
					continue
				}
				reset = fresh
			}
			ch = *reset
			if ch.Purpose != purpose || ch.Status != StatusActive {
				continue
			}
		}
		if ch.DailyMessageCount < ch.DailyLimit {
			candidates = append(candidates, ch)
		}
	}

	for _, ch := range rank(candidates, country) {
		updated, err := r.increment(ctx, ch.ID)
		if errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrChannelNotFound) {
			// lost a race with another allocation or a status change
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("channels: allocate %s: %w", ch.ID, err)
		}
		return updated, nil
	}
	return nil, ErrNoChannelAvailable
}

func rank(candidates []Channel, country string) []Channel {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if country != "" {
			am, bm := a.Country == country, b.Country == country
			if am != bm {
				return am
			}
		}
		ra, rb := a.UsageRatio(), b.UsageRatio()
		if ra != rb {
			return ra < rb
		}
		return a.ID < b.ID
	})
	return candidates
}

// RecordUsage counts one message against a specific channel.
func (r *Registry) RecordUsage(ctx context.Context, id string) error {
	if _, err := r.increment(ctx, id); err != nil {
		return fmt.Errorf("channels: record usage %s: %w", id, err)
	}
	return nil
}

func (r *Registry) increment(ctx context.Context, id string) (*Channel, error) {
	lock := r.slot(id)
	lock.Lock()
	defer lock.Unlock()
	updated, err := r.store.IncrementUsage(ctx, id)
	if err != nil {
		return nil, err
	}
	r.metrics.SetChannelUsage(updated.ID, updated.DailyMessageCount, updated.DailyLimit)
	return updated, nil
}

// MarkStatus applies an operator status change.
func (r *Registry) MarkStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidChannel, status)
	}
	lock := r.slot(id)
	lock.Lock()
	defer lock.Unlock()
	if err := r.store.UpdateStatus(ctx, id, status, r.now().UTC()); err != nil {
		return fmt.Errorf("channels: mark status %s: %w", id, err)
	}
	r.logger.Info("channel status changed", "channel_id", id, "status", status, "source", "operator")
	return nil
}

// Apply feeds a provider status event through the state-transition function.
// Events older than the channel's last status change are ignored; the return
// value reports whether the event changed anything.
func (r *Registry) Apply(ctx context.Context, ev StatusEvent) (bool, error) {
	next, ok := transitionFor(ev.Kind)
	if !ok {
		return false, fmt.Errorf("%w: unknown event %q", ErrInvalidChannel, ev.Kind)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = r.now().UTC()
	}

	lock := r.slot(ev.ChannelID)
	lock.Lock()
	ch, err := r.store.Get(ctx, ev.ChannelID)
	if err != nil {
		lock.Unlock()
		return false, fmt.Errorf("channels: apply %s: %w", ev.Kind, err)
	}
	if ev.OccurredAt.Before(ch.StatusChangedAt) {
		lock.Unlock()
		r.logger.Debug("stale channel event ignored", "channel_id", ch.ID, "event", ev.Kind, "occurred_at", ev.OccurredAt)
		return false, nil
	}
	if ch.Status == next {
		lock.Unlock()
		return false, nil
	}
	if err := r.store.UpdateStatus(ctx, ch.ID, next, ev.OccurredAt); err != nil {
		lock.Unlock()
		return false, fmt.Errorf("channels: apply %s: %w", ev.Kind, err)
	}
	lock.Unlock()

	r.logger.Info("channel status changed", "channel_id", ch.ID, "from", ch.Status, "to", next, "source", "provider", "reason", ev.Reason)
	r.raiseStatusAlert(ctx, *ch, next, ev.Reason)
	return true, nil
}

func (r *Registry) raiseStatusAlert(ctx context.Context, ch Channel, next Status, reason string) {
	if r.alerts == nil {
		return
	}
	var sev alerts.Severity
	var alertType string
	switch next {
	case StatusBlocked:
		sev, alertType = alerts.SeverityCritical, alerts.TypeChannelBlocked
	case StatusWarning:
		sev, alertType = alerts.SeverityWarning, alerts.TypeChannelStatusEvent
	case StatusInactive:
		sev, alertType = alerts.SeverityWarning, alerts.TypeChannelStatusEvent
	default:
		return
	}
	msg := fmt.Sprintf("Canal %s (%s) agora está %s", ch.DisplayName, ch.ID, next)
	if reason != "" {
		msg += ": " + reason
	}
	r.alerts.Publish(ctx, alerts.Alert{
		Type:     alertType,
		Severity: sev,
		Message:  msg,
		Fields:   map[string]string{"channel_id": ch.ID, "status": string(next)},
	})
}

// ResetDailyCounters zeroes counters of channels whose local day has rolled
// over. Calling it again within the same day resets nothing.
func (r *Registry) ResetDailyCounters(ctx context.Context) (int, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("channels: reset counters: %w", err)
	}
	now := r.now()
	count := 0
	for _, ch := range all {
		if !ch.NeedsReset(now) {
			continue
		}
		reset, err := r.rollover(ctx, ch, now)
		if err != nil {
			return count, fmt.Errorf("channels: reset %s: %w", ch.ID, err)
		}
		if reset != nil {
			count++
		}
	}
	if count > 0 {
		r.logger.Info("daily channel counters reset", "channels", count)
	}
	return count, nil
}

// rollover resets one channel under its lock. It returns nil when another
// writer reset it first.
func (r *Registry) rollover(ctx context.Context, ch Channel, now time.Time) (*Channel, error) {
	lock := r.slot(ch.ID)
	lock.Lock()
	defer lock.Unlock()
	ok, err := r.store.ResetUsage(ctx, ch.ID, ch.LastResetAt, now.UTC())
	if err != nil || !ok {
		return nil, err
	}
	ch.DailyMessageCount = 0
	ch.LastResetAt = now.UTC()
	r.metrics.SetChannelUsage(ch.ID, 0, ch.DailyLimit)
	return &ch, nil
}

// Remove deletes a channel once it is disconnected.
func (r *Registry) Remove(ctx context.Context, id string) error {
	lock := r.slot(id)
	lock.Lock()
	defer lock.Unlock()
	ch, err := r.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("channels: remove %s: %w", id, err)
	}
	if ch.Status != StatusInactive {
		return ErrChannelInUse
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("channels: remove %s: %w", id, err)
	}
	r.logger.Info("channel removed", "channel_id", id)
	return nil
}

// Get returns a single channel.
func (r *Registry) Get(ctx context.Context, id string) (*Channel, error) {
	return r.store.Get(ctx, id)
}

// Health reports usage and status for every channel, ordered by id.
func (r *Registry) Health(ctx context.Context) ([]Health, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("channels: health: %w", err)
	}
	now := r.now()
	out := make([]Health, 0, len(all))
	for _, ch := range all {
		used := ch.DailyMessageCount
		if ch.NeedsReset(now) {
			used = 0
		}
		view := ch
		view.DailyMessageCount = used
		out = append(out, Health{
			ID:          ch.ID,
			DisplayName: ch.DisplayName,
			Country:     ch.Country,
			Purpose:     ch.Purpose,
			Status:      ch.Status,
			Used:        used,
			Limit:       ch.DailyLimit,
			Remaining:   view.Remaining(),
			UsageRatio:  view.UsageRatio(),
			LastResetAt: ch.LastResetAt,
		})
		r.metrics.SetChannelUsage(ch.ID, used, ch.DailyLimit)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
