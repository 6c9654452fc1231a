// Package dispatcher holds the in-process, time-triggered map of
// task slug -> armed timer. It fires jobs at cron-computed instants by
// registering one-shot timers (the same time.AfterFunc-then-reschedule
// idiom used by cron job runners across the retrieved pack) rather than
// polling on a fixed interval.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ErlanBelekov/cronkeep/internal/clock"
	"github.com/ErlanBelekov/cronkeep/internal/domain"
	"github.com/ErlanBelekov/cronkeep/internal/metrics"
)

// CronEvaluator is the subset of cronx.Evaluator the dispatcher needs.
type CronEvaluator interface {
	NextAfter(expr string, reference time.Time) (time.Time, error)
}

// FireFunc is invoked on its own goroutine when a task's timer elapses.
type FireFunc func(slug string)

// Dispatcher arms/disarms per-task timers and invokes FireFunc on fire.
type Dispatcher struct {
	cron   CronEvaluator
	clk    clock.Clock
	logger *slog.Logger
	fire   FireFunc

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func New(cron CronEvaluator, clk clock.Clock, logger *slog.Logger, fire FireFunc) *Dispatcher {
	return &Dispatcher{
		cron:   cron,
		clk:    clk,
		logger: logger.With("component", "dispatcher"),
		fire:   fire,
		timers: make(map[string]*time.Timer),
	}
}

// Arm computes the task's next fire instant strictly after now, registers
// a one-shot timer for it (replacing any existing timer for the same
// slug), and returns the computed instant so the caller can persist it.
func (d *Dispatcher) Arm(task *domain.ScheduledTask) (time.Time, error) {
	nextAt, err := d.cron.NextAfter(task.CronExpression, d.clk.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("arm %s: %w", task.Slug, err)
	}

	d.arm(task.Slug, nextAt)
	return nextAt, nil
}

// ArmAt arms slug to fire at exactly at, bypassing cron computation — used
// by Recovery's RUN policy to fire an overdue task immediately.
func (d *Dispatcher) ArmAt(slug string, at time.Time) {
	d.arm(slug, at)
}

func (d *Dispatcher) arm(slug string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, existed := d.timers[slug]
	if existed {
		d.timers[slug].Stop()
	}

	delay := at.Sub(d.clk.Now())
	if delay < 0 {
		delay = 0
	}

	d.timers[slug] = time.AfterFunc(delay, func() {
		d.logger.Debug("timer fired", "slug", slug)
		d.fire(slug)
	})

	if !existed {
		metrics.DispatcherArmedTasks.Inc()
	}
}

// Disarm cancels any timer registered for slug. Idempotent.
func (d *Dispatcher) Disarm(slug string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[slug]; ok {
		t.Stop()
		delete(d.timers, slug)
		metrics.DispatcherArmedTasks.Dec()
	}
}

// State returns the set of currently armed slugs — for diagnostics/tests.
func (d *Dispatcher) State() map[string]struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]struct{}, len(d.timers))
	for slug := range d.timers {
		out[slug] = struct{}{}
	}
	return out
}

// Stop disarms every task. Used at shutdown.
func (d *Dispatcher) Stop(_ context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for slug, t := range d.timers {
		t.Stop()
		delete(d.timers, slug)
	}
}
