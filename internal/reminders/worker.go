package reminders

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

// Worker runs the dispatch loop and, when a planner is attached, the
// planning loop.
type Worker struct {
	dispatcher      *Dispatcher
	planner         *Planner
	logger          *logging.Logger
	interval        time.Duration
	plannerInterval time.Duration
}

func NewWorker(dispatcher *Dispatcher, planner *Planner, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		dispatcher:      dispatcher,
		planner:         planner,
		logger:          logger,
		interval:        time.Minute,
		plannerInterval: 10 * time.Minute,
	}
}

func (w *Worker) WithInterval(d time.Duration) *Worker {
	if d > 0 {
		w.interval = d
	}
	return w
}

func (w *Worker) WithPlannerInterval(d time.Duration) *Worker {
	if d > 0 {
		w.plannerInterval = d
	}
	return w
}

// Run blocks until ctx is cancelled and the planning loop has stopped.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()
	if w.planner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.runPlanner(ctx)
		}()
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	if n, err := w.dispatcher.ReclaimStale(ctx); err != nil {
		w.logger.Error("reclaim stale reminders failed", "error", err)
	} else if n > 0 {
		w.logger.Warn("stale reminder claims reclaimed", "count", n)
	}
	if _, err := w.dispatcher.Tick(ctx); err != nil {
		w.logger.Error("dispatch tick failed", "error", err)
	}
}

func (w *Worker) runPlanner(ctx context.Context) {
	ticker := time.NewTicker(w.plannerInterval)
	defer ticker.Stop()
	w.plan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.plan(ctx)
		}
	}
}

func (w *Worker) plan(ctx context.Context) {
	if _, err := w.planner.Plan(ctx, time.Now()); err != nil {
		w.logger.Error("reminder planning failed", "error", err)
	}
}
