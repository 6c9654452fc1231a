package postgres

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/cronkeep/internal/domain"
	"github.com/ErlanBelekov/cronkeep/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const slugAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const slugLength = 10

// newSlug generates a short, URL-friendly, (almost certainly) unique
// secondary key. Retried by the caller on the rare unique-constraint clash.
func newSlug() (string, error) {
	b := make([]byte, slugLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, slugLength)
	for i, c := range b {
		out[i] = slugAlphabet[int(c)%len(slugAlphabet)]
	}
	return string(out), nil
}

// TaskStore is the Postgres-backed repository.TaskStore implementation.
type TaskStore struct {
	pool *pgxpool.Pool
}

func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

func (s *TaskStore) Create(ctx context.Context, input repository.CreateTaskInput) (*domain.ScheduledTask, error) {
	id := uuid.NewString()
	createdAt := time.Now().UTC()

	// A slug clash is vanishingly unlikely (36^10 space) but the unique
	// index is the source of truth, so retry a handful of times rather
	// than trusting randomness alone.
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		slug, err := newSlug()
		if err != nil {
			return nil, fmt.Errorf("generate slug: %w", err)
		}

		_, err = s.pool.Exec(ctx, `
			INSERT INTO scheduled_tasks (id, slug, name, cron_expression, created_at, next_run_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			id, slug, input.Name, input.CronExpression, createdAt, input.NextRunAt,
		)
		if err == nil {
			return &domain.ScheduledTask{
				ID:             id,
				Slug:           slug,
				Name:           input.Name,
				CronExpression: input.CronExpression,
				CreatedAt:      createdAt,
				NextRunAt:      input.NextRunAt,
			}, nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && attempt < maxAttempts-1 {
			continue // slug collision, try another one
		}
		return nil, fmt.Errorf("create task: %w", err)
	}
	return nil, fmt.Errorf("create task: %w", domain.ErrSlugCollision)
}

func (s *TaskStore) DeleteBySlug(ctx context.Context, slug string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scheduled_tasks WHERE slug = $1`, slug)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *TaskStore) GetBySlug(ctx context.Context, slug string) (*domain.ScheduledTask, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, slug, name, cron_expression, created_at, next_run_at
		FROM scheduled_tasks WHERE slug = $1`, slug)
	return scanTask(row)
}

func (s *TaskStore) List(ctx context.Context, offset, limit int) (int, []*domain.ScheduledTask, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM scheduled_tasks`).Scan(&count); err != nil {
		return 0, nil, fmt.Errorf("count tasks: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, slug, name, cron_expression, created_at, next_run_at
		FROM scheduled_tasks
		ORDER BY created_at
		OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return 0, nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var page []*domain.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return 0, nil, err
		}
		page = append(page, t)
	}
	return count, page, rows.Err()
}

func (s *TaskStore) ListExecutions(ctx context.Context, slug string, offset, limit int) (int, []*domain.ExecutedTask, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM executed_tasks et
		JOIN scheduled_tasks st ON st.id = et.task_id
		WHERE st.slug = $1`, slug).Scan(&count); err != nil {
		return 0, nil, fmt.Errorf("count executions: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT et.id, et.task_id, st.slug, et.executed_at, et.status, et.result
		FROM executed_tasks et
		JOIN scheduled_tasks st ON st.id = et.task_id
		WHERE st.slug = $1
		ORDER BY et.executed_at
		OFFSET $2 LIMIT $3`, slug, offset, limit)
	if err != nil {
		return 0, nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var page []*domain.ExecutedTask
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return 0, nil, err
		}
		page = append(page, e)
	}
	return count, page, rows.Err()
}

func (s *TaskStore) Begin(ctx context.Context) (repository.TaskTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &pgTaskTx{tx: tx}, nil
}

// pgTaskTx implements repository.TaskTx over a pgx.Tx.
type pgTaskTx struct {
	tx pgx.Tx
}

func (t *pgTaskTx) GetBySlug(ctx context.Context, slug string) (*domain.ScheduledTask, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, slug, name, cron_expression, created_at, next_run_at
		FROM scheduled_tasks WHERE slug = $1 FOR UPDATE`, slug)
	return scanTask(row)
}

func (t *pgTaskTx) ListOverdue(ctx context.Context, now time.Time) ([]*domain.ScheduledTask, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, slug, name, cron_expression, created_at, next_run_at
		FROM scheduled_tasks
		WHERE next_run_at <= $1
		FOR UPDATE`, now)
	if err != nil {
		return nil, fmt.Errorf("list overdue: %w", err)
	}
	defer rows.Close()

	var out []*domain.ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (t *pgTaskTx) AppendExecution(ctx context.Context, taskID string, status domain.Status, result string, executedAt time.Time) (*domain.ExecutedTask, error) {
	id := uuid.NewString()
	_, err := t.tx.Exec(ctx, `
		INSERT INTO executed_tasks (id, task_id, executed_at, status, result)
		VALUES ($1, $2, $3, $4, $5)`,
		id, taskID, executedAt, status, result,
	)
	if err != nil {
		return nil, fmt.Errorf("append execution: %w", err)
	}
	return &domain.ExecutedTask{
		ID:         id,
		TaskID:     taskID,
		ExecutedAt: executedAt,
		Status:     status,
		Result:     result,
	}, nil
}

func (t *pgTaskTx) UpdateNextRun(ctx context.Context, taskID string, nextRunAt time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE scheduled_tasks SET next_run_at = $2 WHERE id = $1`, taskID, nextRunAt)
	if err != nil {
		return fmt.Errorf("update next_run_at: %w", err)
	}
	return nil
}

func (t *pgTaskTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTaskTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func scanTask(row rowScanner) (*domain.ScheduledTask, error) {
	var t domain.ScheduledTask
	err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.CronExpression, &t.CreatedAt, &t.NextRunAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return &t, nil
}

func scanExecution(row rowScanner) (*domain.ExecutedTask, error) {
	var e domain.ExecutedTask
	err := row.Scan(&e.ID, &e.TaskID, &e.TaskSlug, &e.ExecutedAt, &e.Status, &e.Result)
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	return &e, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
