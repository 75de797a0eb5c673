// Package redislock serializes work across processes with a single Redis key.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/moldline-backend/internal/platform/logger"
)

const defaultPollInterval = 250 * time.Millisecond

var ErrNotHeld = errors.New("redislock: lock not held")

// releaseScript deletes the key only while it still carries our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out exclusive leases. A nil *Locker is a no-op locker that
// always grants the lease immediately.
type Locker struct {
	log          *logger.Logger
	rdb          goredis.UniversalClient
	ttl          time.Duration
	pollInterval time.Duration
}

type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// New dials Redis. An empty address returns a nil Locker.
func New(ctx context.Context, log *logger.Logger, opts Options) (*Locker, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, nil
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(log, rdb, opts.TTL), nil
}

func NewWithClient(log *logger.Logger, rdb goredis.UniversalClient, ttl time.Duration) *Locker {
	if log == nil {
		log = logger.NewNop()
	}
	if ttl <= 0 {
		ttl = 45 * time.Minute
	}
	return &Locker{
		log:          log.With("service", "RedisLocker"),
		rdb:          rdb,
		ttl:          ttl,
		pollInterval: defaultPollInterval,
	}
}

func (l *Locker) Close() error {
	if l == nil || l.rdb == nil {
		return nil
	}
	return l.rdb.Close()
}

// Acquire blocks until the lease on key is held or ctx ends. The returned
// release func is safe to call more than once.
func (l *Locker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	if l == nil || l.rdb == nil {
		return func(context.Context) error { return nil }, nil
	}
	token := uuid.NewString()
	waited := false
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx %s: %w", key, err)
		}
		if ok {
			if waited {
				l.log.Info("Lock acquired after wait", "key", key)
			}
			break
		}
		if !waited {
			l.log.Info("Waiting for lock", "key", key)
			waited = true
		}
		t := time.NewTimer(l.pollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	released := false
	return func(rctx context.Context) error {
		if released {
			return nil
		}
		released = true
		n, err := releaseScript.Run(rctx, l.rdb, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("redis release %s: %w", key, err)
		}
		if n == 0 {
			return ErrNotHeld
		}
		return nil
	}, nil
}
