package dispatcher_test

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ErlanBelekov/cronkeep/internal/clock"
	"github.com/ErlanBelekov/cronkeep/internal/cronx"
	"github.com/ErlanBelekov/cronkeep/internal/dispatcher"
	"github.com/ErlanBelekov/cronkeep/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Arm computes its fire instant from the cron schedule but the underlying
// timer always runs on the real wall clock — so firing tests use ArmAt
// with a near-immediate real instant rather than a fake clock.

func TestArm_ComputesNextRunFromSchedule(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cron := cronx.New()

	d := dispatcher.New(cron, clk, testLogger(), func(string) {})

	task := &domain.ScheduledTask{Slug: "every-minute", CronExpression: "* * * * *"}
	nextAt, err := d.Arm(task)
	if err != nil {
		t.Fatalf("arm: %v", err)
	}

	want := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	if !nextAt.Equal(want) {
		t.Fatalf("expected next run %s, got %s", want, nextAt)
	}
	if _, ok := d.State()[task.Slug]; !ok {
		t.Fatal("expected slug to be armed")
	}
}

func TestArmAt_FiresAtGivenInstant(t *testing.T) {
	fired := make(chan string, 1)
	d := dispatcher.New(cronx.New(), clock.Real{}, testLogger(), func(slug string) {
		fired <- slug
	})

	d.ArmAt("immediate", time.Now().Add(10*time.Millisecond))

	select {
	case slug := <-fired:
		if slug != "immediate" {
			t.Fatalf("expected fire for 'immediate', got %s", slug)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for timer to fire")
	}
}

func TestDisarm_CancelsPendingTimer(t *testing.T) {
	fired := false
	d := dispatcher.New(cronx.New(), clock.Real{}, testLogger(), func(slug string) {
		fired = true
	})

	d.ArmAt("hourly", time.Now().Add(50*time.Millisecond))
	d.Disarm("hourly")

	if _, ok := d.State()["hourly"]; ok {
		t.Fatal("expected slug to be disarmed")
	}

	time.Sleep(100 * time.Millisecond)
	if fired {
		t.Fatal("fire callback should never run for a disarmed task")
	}
}

func TestArm_InvalidCronSurfacesError(t *testing.T) {
	clk := clock.NewFake(time.Now())
	d := dispatcher.New(cronx.New(), clk, testLogger(), func(string) {})

	task := &domain.ScheduledTask{Slug: "broken", CronExpression: "not a cron expr"}
	if _, err := d.Arm(task); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}
