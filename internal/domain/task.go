package domain

import (
	"errors"
	"time"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrInvalidCron   = errors.New("invalid cron expression")
	ErrSlugCollision = errors.New("slug already exists")
)

// Status is the outcome of a single execution attempt.
type Status string

const (
	StatusDone   Status = "Done"
	StatusFailed Status = "Failed"
)

// ScheduledTask is the definition of a recurring job.
type ScheduledTask struct {
	ID             string    `json:"-"`
	Slug           string    `json:"slug"`
	Name           string    `json:"name"`
	CronExpression string    `json:"cron_expression"`
	CreatedAt      time.Time `json:"created_at"`
	NextRunAt      time.Time `json:"next_run_at"`
}

// ExecutedTask is an immutable history record of one execution attempt.
type ExecutedTask struct {
	ID         string    `json:"-"`
	TaskID     string    `json:"-"`
	TaskSlug   string    `json:"task_slug"`
	ExecutedAt time.Time `json:"executed_at"`
	Status     Status    `json:"status"`
	Result     string    `json:"result"`
}
