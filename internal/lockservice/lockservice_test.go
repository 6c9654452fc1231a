package lockservice_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ErlanBelekov/cronkeep/internal/lockservice"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestService(t *testing.T) *lockservice.Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return lockservice.New(client)
}

func TestAcquire_SucceedsWhenFree(t *testing.T) {
	s := newTestService(t)
	key := lockservice.Key("daily-report")

	lease, err := s.Acquire(context.Background(), key, 300*time.Second, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lease.Token == "" {
		t.Fatal("expected non-empty token")
	}
}

func TestAcquire_BusyWhenAlreadyHeld(t *testing.T) {
	s := newTestService(t)
	key := lockservice.Key("daily-report")

	if _, err := s.Acquire(context.Background(), key, 300*time.Second, time.Second); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	_, err := s.Acquire(context.Background(), key, 300*time.Second, 100*time.Millisecond)
	if !errors.Is(err, lockservice.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestRelease_AllowsReacquire(t *testing.T) {
	s := newTestService(t)
	key := lockservice.Key("daily-report")

	lease, err := s.Acquire(context.Background(), key, 300*time.Second, time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := s.Release(context.Background(), key, lease.Token); err != nil {
		t.Fatalf("release: %v", err)
	}

	if _, err := s.Acquire(context.Background(), key, 300*time.Second, time.Second); err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
}

func TestRelease_LostLeaseWhenTokenMismatch(t *testing.T) {
	s := newTestService(t)
	key := lockservice.Key("daily-report")

	if _, err := s.Acquire(context.Background(), key, 300*time.Second, time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	err := s.Release(context.Background(), key, "not-the-real-token")
	if !errors.Is(err, lockservice.ErrLostLease) {
		t.Fatalf("expected ErrLostLease, got %v", err)
	}
}
