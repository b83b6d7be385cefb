package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseLeaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// VendorLease grants a time-bounded exclusive claim on one vendor's payouts.
type VendorLease interface {
	Acquire(ctx context.Context, vendorID uuid.UUID, ttl time.Duration) (release func(), acquired bool, err error)
}

// RedisVendorLease implements VendorLease across scheduler instances using Redis.
type RedisVendorLease struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisVendorLease(client redis.UniversalClient, prefix string) *RedisVendorLease {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "payments:payout_lease"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisVendorLease{
		client: client,
		prefix: trimmedPrefix,
	}
}

func (r *RedisVendorLease) Acquire(ctx context.Context, vendorID uuid.UUID, ttl time.Duration) (func(), bool, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	key := fmt.Sprintf("%s:%s", r.prefix, vendorID)
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// The lease may outlive a cancelled run context; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseLeaseScript.Run(releaseCtx, r.client, []string{key}, token).Err()
	}
	return release, true, nil
}

// LocalVendorLease implements VendorLease within a single process.
type LocalVendorLease struct {
	mu   sync.Mutex
	held map[uuid.UUID]localLease
	now  Clock
}

type localLease struct {
	token     uint64
	expiresAt time.Time
}

func NewLocalVendorLease() *LocalVendorLease {
	return &LocalVendorLease{held: make(map[uuid.UUID]localLease), now: systemClock}
}

func (l *LocalVendorLease) Acquire(_ context.Context, vendorID uuid.UUID, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	current, exists := l.held[vendorID]
	if exists && now.Before(current.expiresAt) {
		return nil, false, nil
	}

	lease := localLease{token: current.token + 1, expiresAt: now.Add(ttl)}
	l.held[vendorID] = lease

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.held[vendorID]; ok && held.token == lease.token {
			delete(l.held, vendorID)
		}
	}
	return release, true, nil
}
