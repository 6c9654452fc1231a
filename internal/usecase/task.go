package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/ErlanBelekov/cronkeep/internal/clock"
	"github.com/ErlanBelekov/cronkeep/internal/domain"
	"github.com/ErlanBelekov/cronkeep/internal/repository"
)

// CronEvaluator is the subset of cronx.Evaluator the usecase needs.
type CronEvaluator interface {
	Validate(expr string) error
	NextAfter(expr string, reference time.Time) (time.Time, error)
}

// Dispatcher is the subset of dispatcher.Dispatcher the usecase arms/disarms.
type Dispatcher interface {
	Arm(task *domain.ScheduledTask) (time.Time, error)
	Disarm(slug string)
}

type TaskUsecase struct {
	store      repository.TaskStore
	cron       CronEvaluator
	clk        clock.Clock
	dispatcher Dispatcher
}

func NewTaskUsecase(store repository.TaskStore, cron CronEvaluator, clk clock.Clock, dispatcher Dispatcher) *TaskUsecase {
	return &TaskUsecase{store: store, cron: cron, clk: clk, dispatcher: dispatcher}
}

// Create validates the cron expression, persists the task, and arms the
// dispatcher. If arming fails after persistence, the task is rolled back
// by deleting it — a task the dispatcher never armed would never fire.
func (u *TaskUsecase) Create(ctx context.Context, name, cronExpr string) (*domain.ScheduledTask, error) {
	if err := u.cron.Validate(cronExpr); err != nil {
		return nil, err
	}

	nextRunAt, err := u.cron.NextAfter(cronExpr, u.clk.Now())
	if err != nil {
		return nil, err
	}

	task, err := u.store.Create(ctx, repository.CreateTaskInput{
		Name:           name,
		CronExpression: cronExpr,
		NextRunAt:      nextRunAt,
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	if _, err := u.dispatcher.Arm(task); err != nil {
		_, _ = u.store.DeleteBySlug(ctx, task.Slug)
		return nil, fmt.Errorf("arm task: %w", err)
	}

	return task, nil
}

// Delete disarms the dispatcher before removing the row — a task must
// never be loaded by the dispatcher after it stops existing.
func (u *TaskUsecase) Delete(ctx context.Context, slug string) error {
	u.dispatcher.Disarm(slug)

	found, err := u.store.DeleteBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if !found {
		return domain.ErrTaskNotFound
	}
	return nil
}

func (u *TaskUsecase) Get(ctx context.Context, slug string) (*domain.ScheduledTask, error) {
	return u.store.GetBySlug(ctx, slug)
}

func (u *TaskUsecase) List(ctx context.Context, offset, limit int) (int, []*domain.ScheduledTask, error) {
	return u.store.List(ctx, offset, limit)
}

func (u *TaskUsecase) ListExecutions(ctx context.Context, slug string, offset, limit int) (int, []*domain.ExecutedTask, error) {
	if _, err := u.store.GetBySlug(ctx, slug); err != nil {
		return 0, nil, err
	}
	return u.store.ListExecutions(ctx, slug, offset, limit)
}
