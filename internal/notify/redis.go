package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/evetabi/predex/internal/domain"
)

// RedisConfig holds connection parameters for the Redis client.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// NewRedisClient connects and pings. The caller owns Close.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("notify.NewRedisClient: ping: %w", err)
	}
	return rdb, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Pub/Sub publisher
// ──────────────────────────────────────────────────────────────────────────────

// RedisPublisher publishes events as JSON on "<prefix>:<event type>".
type RedisPublisher struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisPublisher returns a publisher writing to channels under prefix.
func NewRedisPublisher(rdb redis.UniversalClient, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "predex"
	}
	return &RedisPublisher{rdb: rdb, prefix: prefix}
}

// Channel returns the channel name used for t.
func (p *RedisPublisher) Channel(t domain.EventType) string {
	return p.prefix + ":" + string(t)
}

func (p *RedisPublisher) publish(ctx context.Context, t domain.EventType, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("notify.RedisPublisher: marshal %s: %w", t, err)
	}
	if err := p.rdb.Publish(ctx, p.Channel(t), payload).Err(); err != nil {
		return fmt.Errorf("notify.RedisPublisher: publish %s: %w", t, err)
	}
	return nil
}

// MarketResolved implements Publisher.
func (p *RedisPublisher) MarketResolved(ctx context.Context, ev domain.MarketResolvedEvent) error {
	ev.Type = domain.EventMarketResolved
	return p.publish(ctx, ev.Type, ev)
}

// OrderBookChanged implements Publisher.
func (p *RedisPublisher) OrderBookChanged(ctx context.Context, ev domain.OrderBookChangedEvent) error {
	ev.Type = domain.EventOrderBookChanged
	return p.publish(ctx, ev.Type, ev)
}

// ──────────────────────────────────────────────────────────────────────────────
// Distributed lock
// ──────────────────────────────────────────────────────────────────────────────

// ErrLockHeld is returned by Acquire when another holder owns the key.
var ErrLockHeld = errors.New("lock held by another instance")

// unlockLua deletes the key only if it still carries the caller's token, so
// an expired holder never releases a lock taken over by someone else.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Locker hands out TTL-bound locks keyed by name (SET NX + token).
type Locker struct {
	rdb    redis.UniversalClient
	unlock *redis.Script
}

// NewLocker returns a Locker on rdb.
func NewLocker(rdb redis.UniversalClient) *Locker {
	return &Locker{rdb: rdb, unlock: redis.NewScript(unlockLua)}
}

func lockKey(key string) string { return "lock:" + key }

// Acquire takes key for ttl. The returned release func is idempotent.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := l.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("notify.Locker: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.unlock.Run(ctx, l.rdb, []string{lk}, token).Err()
	}, nil
}
