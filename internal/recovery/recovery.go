// Package recovery runs once at boot, before the admin API starts
// accepting traffic, to reconcile every ScheduledTask row against
// wall-clock reality after a restart and re-arm the dispatcher for all
// of them. What happens to a task whose next_run_at has already passed
// is governed by the configured PastTaskPolicy.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/cronkeep/internal/clock"
	"github.com/ErlanBelekov/cronkeep/internal/domain"
	"github.com/ErlanBelekov/cronkeep/internal/metrics"
	"github.com/ErlanBelekov/cronkeep/internal/repository"
)

// Policy governs what happens to a task whose next_run_at has already
// elapsed by the time the process comes back up.
type Policy string

const (
	// PolicySkip silently advances the missed task to its next future
	// occurrence without recording anything.
	PolicySkip Policy = "skip"
	// PolicyFail records the missed occurrence as a Failed execution and
	// advances to the next future occurrence.
	PolicyFail Policy = "fail"
	// PolicyRun arms the task to fire immediately, running the missed
	// occurrence exactly once before resuming its normal schedule.
	PolicyRun Policy = "run"
)

// CronEvaluator is the subset of cronx.Evaluator recovery needs.
type CronEvaluator interface {
	NextAfter(expr string, reference time.Time) (time.Time, error)
}

// Armer is the subset of dispatcher.Dispatcher recovery arms through.
type Armer interface {
	ArmAt(slug string, at time.Time)
}

type Recoverer struct {
	store      repository.TaskStore
	cron       CronEvaluator
	clk        clock.Clock
	dispatcher Armer
	logger     *slog.Logger
	policy     Policy
}

func New(store repository.TaskStore, cron CronEvaluator, clk clock.Clock, dispatcher Armer, logger *slog.Logger, policy Policy) *Recoverer {
	return &Recoverer{
		store:      store,
		cron:       cron,
		clk:        clk,
		dispatcher: dispatcher,
		logger:     logger.With("component", "recovery"),
		policy:     policy,
	}
}

// Run loads every task, partitions overdue from upcoming, applies the
// configured policy to the overdue set, and arms the dispatcher for all
// of them. Must complete before the admin API starts serving traffic.
func (r *Recoverer) Run(ctx context.Context) error {
	now := r.clk.Now()

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin recovery tx: %w", err)
	}

	overdue, err := tx.ListOverdue(ctx, now)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("list overdue tasks: %w", err)
	}

	for _, task := range overdue {
		if err := r.handleOverdue(ctx, tx, task, now); err != nil {
			r.logger.Error("recover overdue task", "slug", task.Slug, "err", err)
			metrics.RecoveryTasksTotal.WithLabelValues(string(r.policy), "error").Inc()
			continue
		}
		metrics.RecoveryTasksTotal.WithLabelValues(string(r.policy), "recovered").Inc()
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit recovery tx: %w", err)
	}

	_, all, err := r.store.List(ctx, 0, maxInt)
	if err != nil {
		return fmt.Errorf("list all tasks: %w", err)
	}

	overdueSlugs := make(map[string]struct{}, len(overdue))
	for _, t := range overdue {
		overdueSlugs[t.Slug] = struct{}{}
	}

	for _, task := range all {
		if _, handled := overdueSlugs[task.Slug]; handled {
			continue
		}
		r.dispatcher.ArmAt(task.Slug, task.NextRunAt)
		r.logger.Info("recovered upcoming task", "slug", task.Slug, "next_run_at", task.NextRunAt)
	}

	return nil
}

// handleOverdue applies the configured policy to a single overdue task
// inside the already-open recovery transaction, then arms the dispatcher.
func (r *Recoverer) handleOverdue(ctx context.Context, tx repository.TaskTx, task *domain.ScheduledTask, now time.Time) error {
	switch r.policy {
	case PolicyRun:
		// Fire immediately; the runner's fire transaction records the
		// execution and advances next_run_at on its own.
		r.dispatcher.ArmAt(task.Slug, now)
		return nil

	case PolicyFail:
		nextRunAt, err := r.cron.NextAfter(task.CronExpression, now)
		if err != nil {
			return fmt.Errorf("compute next run: %w", err)
		}
		result := "Missed execution: system was down"
		if _, err := tx.AppendExecution(ctx, task.ID, domain.StatusFailed, result, now); err != nil {
			return fmt.Errorf("append failed execution: %w", err)
		}
		if err := tx.UpdateNextRun(ctx, task.ID, nextRunAt); err != nil {
			return fmt.Errorf("update next_run_at: %w", err)
		}
		r.dispatcher.ArmAt(task.Slug, nextRunAt)
		return nil

	case PolicySkip:
		fallthrough
	default:
		nextRunAt, err := r.cron.NextAfter(task.CronExpression, now)
		if err != nil {
			return fmt.Errorf("compute next run: %w", err)
		}
		if err := tx.UpdateNextRun(ctx, task.ID, nextRunAt); err != nil {
			return fmt.Errorf("update next_run_at: %w", err)
		}
		r.dispatcher.ArmAt(task.Slug, nextRunAt)
		return nil
	}
}

const maxInt = int(^uint(0) >> 1)
