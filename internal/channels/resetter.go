package channels

import (
	"context"
	"time"

	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

// DailyResetter periodically rolls channel counters over at each channel's
// local midnight. Frequent ticks are harmless because resets are idempotent.
type DailyResetter struct {
	registry *Registry
	logger   *logging.Logger
	interval time.Duration
}

func NewDailyResetter(registry *Registry, logger *logging.Logger) *DailyResetter {
	if logger == nil {
		logger = logging.Default()
	}
	return &DailyResetter{registry: registry, logger: logger, interval: time.Minute}
}

// WithInterval overrides how often counters are checked.
func (d *DailyResetter) WithInterval(interval time.Duration) *DailyResetter {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *DailyResetter) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	d.reset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reset(ctx)
		}
	}
}

func (d *DailyResetter) reset(ctx context.Context) {
	if _, err := d.registry.ResetDailyCounters(ctx); err != nil {
		d.logger.Error("daily counter reset failed", "error", err)
	}
}
