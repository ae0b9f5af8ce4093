package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// acquireScript renews the lease when this owner holds it and otherwise takes it if free.
var acquireScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease implements domain.Lease with a single Redis key, so only one poller
// replica fetches from the provider at a time.
type Lease struct {
	client redis.Scripter
	key    string
	owner  string
	logger *slog.Logger
}

// NewLease creates a lease on key with a random owner id.
func NewLease(client redis.Scripter, key string, logger *slog.Logger) *Lease {
	return &Lease{
		client: client,
		key:    key,
		owner:  uuid.NewString(),
		logger: logger.With("component", "redis_lease"),
	}
}

// Owner returns the id written into the lease key.
func (l *Lease) Owner() string { return l.owner }

func (l *Lease) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	n, err := acquireScript.Run(ctx, l.client, []string{l.key}, l.owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	return n == 1, nil
}

func (l *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	l.logger.Debug("lease released", "key", l.key)
	return nil
}
