// Package lockservice is the cross-process mutex used to guarantee
// at-most-one concurrent execution per task fingerprint. It implements the
// classic Redis SETNX+EXPIRE protocol with an owner token so a release
// can never clobber a lease some other holder has since acquired.
package lockservice

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrBusy means another holder currently owns the key.
	ErrBusy = errors.New("lock: busy")
	// ErrUnavailable means the coordinator could not be reached.
	ErrUnavailable = errors.New("lock: coordinator unavailable")
	// ErrLostLease means release raced with TTL expiry; the lease may now
	// belong to someone else. Callers log and continue.
	ErrLostLease = errors.New("lock: lease lost")
)

// releaseScript deletes key only if its value still matches the token we
// were given on acquire — the compare-and-delete that makes Release safe
// against a lease that already expired and was re-acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Lease is what Acquire returns on success.
type Lease struct {
	Token    string
	Deadline time.Time
}

// Service is a keyed mutex backed by a Redis-style coordinator.
type Service struct {
	client *redis.Client
}

func New(client *redis.Client) *Service {
	return &Service{client: client}
}

// Key formats the canonical lock key for a task slug.
func Key(slug string) string {
	return "lock:task:" + slug
}

// Acquire blocks up to waitBudget trying to take key, polling every 50ms.
// Returns ErrBusy if another holder owns it for the whole wait window, or
// ErrUnavailable if the coordinator itself could not be reached.
func (s *Service) Acquire(ctx context.Context, key string, leaseTTL, waitBudget time.Duration) (*Lease, error) {
	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("generate lock token: %w", err)
	}

	deadline := time.Now().Add(waitBudget)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		ok, err := s.client.SetNX(ctx, key, token, leaseTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
		}
		if ok {
			return &Lease{Token: token, Deadline: time.Now().Add(leaseTTL)}, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrBusy
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release drops key only if token still matches the current holder.
// Returns ErrLostLease if the lease already expired (or was never held by
// this token) — benign, the caller logs and moves on.
func (s *Service) Release(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, s.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	if n == 0 {
		return ErrLostLease
	}
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
