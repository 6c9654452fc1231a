// Package cronx wraps robfig/cron's standard 5-field parser behind the
// CronEvaluator contract: validate an expression, and compute the next
// fire instant strictly after a reference time.
package cronx

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ErlanBelekov/cronkeep/internal/domain"
)

// Evaluator parses classic 5-field cron expressions in UTC.
type Evaluator struct {
	parser cron.Parser
}

func New() *Evaluator {
	return &Evaluator{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Validate performs a pure syntactic + semantic check of expr.
func (e *Evaluator) Validate(expr string) error {
	if _, err := e.parser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidCron, err)
	}
	return nil
}

// NextAfter returns the smallest instant strictly after reference that
// satisfies expr, always in UTC with seconds truncated to :00.
func (e *Evaluator) NextAfter(expr string, reference time.Time) (time.Time, error) {
	sched, err := e.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", domain.ErrInvalidCron, err)
	}

	next := sched.Next(reference.UTC())
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: no next instant for %q after %s", domain.ErrInvalidCron, expr, reference)
	}
	return next.UTC(), nil
}
