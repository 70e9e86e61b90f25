// Package alerts is the in-process alert bus that surfaces operational
// problems and patient requests to clinic staff.
//
// Alerts are ephemeral: they auto-resolve after a severity-dependent timeout
// and are not persisted across restarts.
package alerts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dental-crm-messaging/internal/observability/metrics"
	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

// Severity ranks how urgently staff must react.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

func (s Severity) rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Alert types raised by the engine.
const (
	TypeInvalidPhone       = "invalid_phone"
	TypeNoChannel          = "no_channel_available"
	TypeDispatchFailed     = "dispatch_failed"
	TypeChannelBlocked     = "channel_blocked"
	TypeRescheduleRequest  = "reschedule_request"
	TypeUnclassifiedReply  = "unclassified_reply"
	TypeDispatchPanic      = "dispatch_panic"
	TypeChannelStatusEvent = "channel_status"
)

// Alert is a single staff-facing signal.
type Alert struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Severity   Severity          `json:"severity"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`
	Audio      bool              `json:"audio"`
	CreatedAt  time.Time         `json:"created_at"`
	Resolved   bool              `json:"resolved"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}

// Publisher is the narrow interface producers depend on.
type Publisher interface {
	Publish(ctx context.Context, a Alert) Alert
}

// Sink receives every published alert outside the process (e.g. a broker).
type Sink interface {
	Deliver(ctx context.Context, a Alert) error
}

// DefaultTimeouts are the auto-resolve delays per severity.
func DefaultTimeouts() map[Severity]time.Duration {
	return map[Severity]time.Duration{
		SeverityInfo:     time.Minute,
		SeverityWarning:  5 * time.Minute,
		SeverityHigh:     30 * time.Minute,
		SeverityCritical: 2 * time.Hour,
	}
}

type activeAlert struct {
	alert Alert
	timer *time.Timer
}

// Bus fans alerts out to subscribers and tracks the active set.
type Bus struct {
	mu       sync.Mutex
	subs     map[uint64]*Subscription
	nextSub  uint64
	active   map[string]*activeAlert
	timeouts map[Severity]time.Duration
	sinks    []Sink
	closed   bool

	sinkTimeout time.Duration
	logger      *logging.Logger
	metrics     *metrics.MessagingMetrics
	now         func() time.Time
}

// Option customises a Bus.
type Option func(*Bus)

// WithTimeouts overrides auto-resolve delays; missing severities keep defaults.
func WithTimeouts(t map[Severity]time.Duration) Option {
	return func(b *Bus) {
		for sev, d := range t {
			if d > 0 {
				b.timeouts[sev] = d
			}
		}
	}
}

// WithSink forwards every alert to s.
func WithSink(s Sink) Option {
	return func(b *Bus) {
		if s != nil {
			b.sinks = append(b.sinks, s)
		}
	}
}

// WithMetrics counts published alerts.
func WithMetrics(m *metrics.MessagingMetrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// NewBus creates an alert bus. Callers own its lifecycle and must Close it.
func NewBus(logger *logging.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = logging.Default()
	}
	b := &Bus{
		subs:        make(map[uint64]*Subscription),
		active:      make(map[string]*activeAlert),
		timeouts:    DefaultTimeouts(),
		sinkTimeout: 5 * time.Second,
		logger:      logger.Component("alerts"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish records the alert as active and fans it out. Slow subscribers miss
// alerts instead of blocking the publisher.
func (b *Bus) Publish(ctx context.Context, a Alert) Alert {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Severity == "" {
		a.Severity = SeverityInfo
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = b.now().UTC()
	}
	a.Resolved = false
	a.ResolvedAt = nil

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Warn("alert dropped after bus close", "type", a.Type, "severity", a.Severity)
		return a
	}
	id := a.ID
	entry := &activeAlert{alert: a}
	if d := b.timeouts[a.Severity]; d > 0 {
		entry.timer = time.AfterFunc(d, func() { b.Resolve(id) })
	}
	if prev, ok := b.active[id]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	b.active[id] = entry
	b.broadcastLocked(a)
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.Unlock()

	b.metrics.ObserveAlert(a.Type, string(a.Severity))
	b.logger.Info("alert raised", "alert_id", a.ID, "type", a.Type, "severity", a.Severity, "message", a.Message)

	for _, s := range sinks {
		go b.deliver(s, a)
	}
	return a
}

func (b *Bus) deliver(s Sink, a Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), b.sinkTimeout)
	defer cancel()
	if err := s.Deliver(ctx, a); err != nil {
		b.logger.Warn("alert sink delivery failed", "alert_id", a.ID, "error", err)
	}
}

// Resolve marks an active alert resolved and notifies subscribers. It returns
// false when the alert is unknown or already resolved.
func (b *Bus) Resolve(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.active[id]
	if !ok {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(b.active, id)
	if b.closed {
		return true
	}
	resolved := entry.alert
	now := b.now().UTC()
	resolved.Resolved = true
	resolved.ResolvedAt = &now
	b.broadcastLocked(resolved)
	return true
}

// Active returns unresolved alerts, oldest first.
func (b *Bus) Active() []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Alert, 0, len(b.active))
	for _, e := range b.active {
		out = append(out, e.alert)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Subscribe registers a subscriber with the given buffer size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{bus: b, ch: make(chan Alert, buffer)}
	if b.closed {
		close(sub.ch)
		sub.closed = true
		return sub
	}
	b.nextSub++
	sub.id = b.nextSub
	b.subs[sub.id] = sub
	return sub
}

// Close stops all timers and closes every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, e := range b.active {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	for id, sub := range b.subs {
		sub.closed = true
		close(sub.ch)
		delete(b.subs, id)
	}
}

func (b *Bus) broadcastLocked(a Alert) {
	for _, sub := range b.subs {
		select {
		case sub.ch <- a:
		default:
			sub.dropped++
			b.logger.Warn("alert subscriber lagging, dropping alert", "alert_id", a.ID, "subscriber", sub.id)
		}
	}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	delete(b.subs, sub.id)
	close(sub.ch)
}

// Subscription is a live feed of alerts. Close releases it.
type Subscription struct {
	bus     *Bus
	id      uint64
	ch      chan Alert
	closed  bool
	dropped int
}

// C returns the receive side of the feed. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Alert {
	return s.ch
}

// Dropped returns the number of alerts skipped because the buffer was full.
func (s *Subscription) Dropped() int {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.dropped
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}
