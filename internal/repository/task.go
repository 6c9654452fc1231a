package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/cronkeep/internal/domain"
)

// CreateTaskInput carries the fields a caller supplies when registering a
// new ScheduledTask; everything else (slug, id, created_at, next_run_at)
// is computed by the store/usecase.
type CreateTaskInput struct {
	Name           string
	CronExpression string
	NextRunAt      time.Time
}

// TaskStore is the transactional repository behind §4.3. UseCase/Runner
// depend on this interface, never on the concrete Postgres implementation.
type TaskStore interface {
	Create(ctx context.Context, input CreateTaskInput) (*domain.ScheduledTask, error)

	// DeleteBySlug cascades to the task's ExecutedTask rows. Returns
	// whether a row was found — delete is idempotent on "already absent".
	DeleteBySlug(ctx context.Context, slug string) (bool, error)

	GetBySlug(ctx context.Context, slug string) (*domain.ScheduledTask, error)

	// List orders by created_at ascending and returns the total row count
	// alongside the requested page.
	List(ctx context.Context, offset, limit int) (count int, page []*domain.ScheduledTask, err error)

	// ListExecutions orders by executed_at ascending for the task
	// identified by slug.
	ListExecutions(ctx context.Context, slug string, offset, limit int) (count int, page []*domain.ExecutedTask, err error)

	// Begin opens a transaction used for the fire transaction and for
	// boot-time recovery's batched updates.
	Begin(ctx context.Context) (TaskTx, error)
}

// TaskTx is the transactional surface used inside the fire transaction and
// by Recovery. Every mutation through a TaskTx is visible only after Commit.
type TaskTx interface {
	GetBySlug(ctx context.Context, slug string) (*domain.ScheduledTask, error)
	ListOverdue(ctx context.Context, now time.Time) ([]*domain.ScheduledTask, error)

	AppendExecution(ctx context.Context, taskID string, status domain.Status, result string, executedAt time.Time) (*domain.ExecutedTask, error)
	UpdateNextRun(ctx context.Context, taskID string, nextRunAt time.Time) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
