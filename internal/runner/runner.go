// Package runner executes the fire transaction: acquire the distributed
// lock, load the task, record its outcome, advance next_run_at, release
// the lock, and re-arm the dispatcher — the single code path both the
// Dispatcher's timers and Recovery's immediate-run policy funnel through.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/cronkeep/internal/clock"
	"github.com/ErlanBelekov/cronkeep/internal/domain"
	"github.com/ErlanBelekov/cronkeep/internal/lockservice"
	"github.com/ErlanBelekov/cronkeep/internal/metrics"
	"github.com/ErlanBelekov/cronkeep/internal/repository"
)

// CronEvaluator is the subset of cronx.Evaluator the runner needs.
type CronEvaluator interface {
	NextAfter(expr string, reference time.Time) (time.Time, error)
}

// Armer is the subset of dispatcher.Dispatcher the runner re-arms through.
type Armer interface {
	Arm(task *domain.ScheduledTask) (time.Time, error)
}

// Locker is the subset of lockservice.Service the runner depends on.
type Locker interface {
	Acquire(ctx context.Context, key string, leaseTTL, waitBudget time.Duration) (*lockservice.Lease, error)
	Release(ctx context.Context, key, token string) error
}

// Work is the pluggable unit of work a task fires. The built-in StubWork
// just marks time; a real deployment plugs a payload executor in through
// this same contract.
type Work interface {
	Run(ctx context.Context, task *domain.ScheduledTask) error
}

// StubWork is the default Work: it performs no side effect and never fails.
type StubWork struct{}

func (StubWork) Run(ctx context.Context, task *domain.ScheduledTask) error { return nil }

type Runner struct {
	store      repository.TaskStore
	lock       Locker
	cron       CronEvaluator
	clk        clock.Clock
	dispatcher Armer
	work       Work
	logger     *slog.Logger

	leaseTTL   time.Duration
	waitBudget time.Duration
}

func New(store repository.TaskStore, lock Locker, cron CronEvaluator, clk clock.Clock, dispatcher Armer, work Work, logger *slog.Logger, leaseTTL, waitBudget time.Duration) *Runner {
	if work == nil {
		work = StubWork{}
	}
	return &Runner{
		store:      store,
		lock:       lock,
		cron:       cron,
		clk:        clk,
		dispatcher: dispatcher,
		work:       work,
		logger:     logger.With("component", "runner"),
		leaseTTL:   leaseTTL,
		waitBudget: waitBudget,
	}
}

// Fire runs the nine-step fire transaction for slug:
//  1. acquire the distributed lock
//  2. begin a transaction
//  3. load the task by slug, row-locked
//  4. compute the task's next run instant
//  5. append a Done ExecutedTask row
//  6. advance next_run_at
//  7. commit
//  8. release the lock
//  9. re-arm the dispatcher for the task's new next_run_at
//
// A failure between steps 2 and 7 aborts that transaction and opens a
// fresh one to record a Failed row while still advancing next_run_at —
// one misfire must never stall every future occurrence of a task.
func (r *Runner) Fire(ctx context.Context, slug string) {
	key := lockservice.Key(slug)
	lease, err := r.lock.Acquire(ctx, key, r.leaseTTL, r.waitBudget)
	if err != nil {
		if errors.Is(err, lockservice.ErrBusy) {
			r.logger.Warn("task already locked by another process", "slug", slug)
			metrics.LockAcquireTotal.WithLabelValues("busy").Inc()
		} else {
			r.logger.Error("acquire lock failed", "slug", slug, "err", err)
			metrics.LockAcquireTotal.WithLabelValues("error").Inc()
		}
		metrics.FiresTotal.WithLabelValues("lock_failed").Inc()
		return
	}
	metrics.LockAcquireTotal.WithLabelValues("acquired").Inc()
	release := func() {
		if err := r.lock.Release(ctx, key, lease.Token); err != nil {
			r.logger.Warn("release lock", "slug", slug, "err", err)
		}
	}

	task, err := r.execute(ctx, slug)
	if err != nil {
		r.logger.Error("task execution failed", "slug", slug, "err", err)
		task, err = r.recover(ctx, slug, err)
		if err != nil {
			r.logger.Error("recovery after failed execution also failed", "slug", slug, "err", err)
			metrics.FiresTotal.WithLabelValues("failed").Inc()
			release()
			return
		}
		metrics.FiresTotal.WithLabelValues("recovered").Inc()
	} else {
		metrics.FiresTotal.WithLabelValues("done").Inc()
	}
	release()

	if task == nil {
		// Task was deleted between timer fire and lock acquisition.
		return
	}

	if _, err := r.dispatcher.Arm(task); err != nil {
		r.logger.Error("re-arm after fire failed", "slug", slug, "err", err)
	}
}

// execute is the Done path: load, compute next_run_at, append execution,
// advance next_run_at, commit. Returns the task in its post-commit state.
func (r *Runner) execute(ctx context.Context, slug string) (*domain.ScheduledTask, error) {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}

	task, err := tx.GetBySlug(ctx, slug)
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, domain.ErrTaskNotFound) {
			r.logger.Info("task not found or already deleted", "slug", slug)
			return nil, nil
		}
		return nil, fmt.Errorf("load task: %w", err)
	}

	now := r.clk.Now()
	nextRunAt, err := r.cron.NextAfter(task.CronExpression, now)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("compute next run: %w", err)
	}

	if err := r.work.Run(ctx, task); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}

	result := fmt.Sprintf("Task '%s' executed at %s", task.Name, now.Format(time.RFC3339))
	if _, err := tx.AppendExecution(ctx, task.ID, domain.StatusDone, result, now); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("append execution: %w", err)
	}

	if err := tx.UpdateNextRun(ctx, task.ID, nextRunAt); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("update next_run_at: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	task.NextRunAt = nextRunAt
	return task, nil
}

// recover opens a fresh transaction to record a Failed row and still
// advance next_run_at, so a single misfire never stalls a task forever.
func (r *Runner) recover(ctx context.Context, slug string, execErr error) (*domain.ScheduledTask, error) {
	tx, err := r.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin recovery tx: %w", err)
	}

	task, err := tx.GetBySlug(ctx, slug)
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, domain.ErrTaskNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load task for recovery: %w", err)
	}

	now := r.clk.Now()
	nextRunAt, err := r.cron.NextAfter(task.CronExpression, now)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("compute next run for recovery: %w", err)
	}

	result := fmt.Sprintf("Error: %s", execErr)
	if _, err := tx.AppendExecution(ctx, task.ID, domain.StatusFailed, result, now); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("append failed execution: %w", err)
	}

	if err := tx.UpdateNextRun(ctx, task.ID, nextRunAt); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("update next_run_at during recovery: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit recovery: %w", err)
	}

	task.NextRunAt = nextRunAt
	return task, nil
}
