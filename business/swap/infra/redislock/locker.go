// Package redislock serializes swap operations across engine instances with
// redis keys.
package redislock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/fd1az/swapengine/business/swap/app"
	"github.com/fd1az/swapengine/internal/apperror"
	"github.com/fd1az/swapengine/internal/logger"
)

// Deletes the key only while it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Extends the key only while it still holds the caller's token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Config holds lock timing.
type Config struct {
	Prefix string
	// TTL bounds how long a crashed holder blocks a key. A live holder
	// renews its keys every TTL/3.
	TTL           time.Duration
	RetryInterval time.Duration
}

// DefaultConfig returns a 2m TTL polled every 50ms.
func DefaultConfig() Config {
	return Config{
		Prefix:        "swapengine:lock:",
		TTL:           2 * time.Minute,
		RetryInterval: 50 * time.Millisecond,
	}
}

// Locker acquires every key or none, in sorted order.
type Locker struct {
	client *redis.Client
	cfg    Config
	logger logger.LoggerInterface
}

var _ app.SwapLocker = (*Locker)(nil)

// New creates a Locker.
func New(client *redis.Client, cfg Config, log logger.LoggerInterface) *Locker {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultConfig().RetryInterval
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &Locker{client: client, cfg: cfg, logger: log}
}

// Lock blocks until every key is held or ctx is done. The keys are renewed
// until the returned func is called.
func (l *Locker) Lock(ctx context.Context, keys ...string) (func(), error) {
	sorted := normalize(keys)
	token := uuid.NewString()

	held := make([]string, 0, len(sorted))
	for _, k := range sorted {
		if err := l.acquire(ctx, k, token); err != nil {
			l.release(held, token)
			return nil, err
		}
		held = append(held, k)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(held, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			l.release(held, token)
		})
	}, nil
}

// Held reports whether key is locked by anyone. Errors read as not held.
func (l *Locker) Held(ctx context.Context, key string) bool {
	n, err := l.client.Exists(ctx, l.cfg.Prefix+key).Result()
	if err != nil {
		l.logger.Warn(ctx, "lock lookup failed", "key", key, "error", err)
		return false
	}
	return n > 0
}

func (l *Locker) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(l.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, l.cfg.Prefix+key, token, l.cfg.TTL).Result()
		if err != nil && ctx.Err() == nil {
			return apperror.New(apperror.CodeLockUnavailable,
				apperror.WithContext(key),
				apperror.WithCause(err))
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return apperror.New(apperror.CodeLockUnavailable,
				apperror.WithContext(key),
				apperror.WithCause(ctx.Err()))
		case <-ticker.C:
		}
	}
}

func (l *Locker) renew(keys []string, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := l.cfg.TTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		for _, k := range keys {
			n, err := renewScript.Run(ctx, l.client, []string{l.cfg.Prefix + k}, token, l.cfg.TTL.Milliseconds()).Int()
			switch {
			case err != nil:
				l.logger.Warn(ctx, "lock renewal failed", "key", k, "error", err)
			case n == 0:
				l.logger.Error(ctx, "lock lost before release", "key", k)
			}
		}
		cancel()
	}
}

func (l *Locker) release(keys []string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, k := range keys {
		if err := unlockScript.Run(ctx, l.client, []string{l.cfg.Prefix + k}, token).Err(); err != nil {
			l.logger.Warn(ctx, "lock release failed, key expires with its TTL", "key", k, "error", err)
		}
	}
}

func normalize(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
