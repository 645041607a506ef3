package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// ClaimState is the outcome of claiming a webhook event id.
type ClaimState int

const (
	ClaimNew ClaimState = iota
	ClaimInFlight
	ClaimDone
)

const (
	valueInFlight = "processing"
	valueDone     = "done"

	inFlightTTL = 5 * time.Minute
)

// Deduper makes webhook processing at-most-once per event id while it is remembered.
type Deduper interface {
	Claim(ctx context.Context, eventID string) (ClaimState, error)
	Complete(ctx context.Context, eventID string) error
	Abandon(ctx context.Context, eventID string) error
}

type RedisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, prefix string, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, prefix: prefix, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, eventID string) (ClaimState, error) {
	key := d.prefix + eventID
	ok, err := d.client.SetNX(ctx, key, valueInFlight, inFlightTTL).Result()
	if err != nil {
		return ClaimNew, fmt.Errorf("failed to claim event %s: %w", eventID, err)
	}
	if ok {
		return ClaimNew, nil
	}

	val, err := d.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; let the caller retry later.
		return ClaimInFlight, nil
	}
	if err != nil {
		return ClaimNew, fmt.Errorf("failed to read event claim %s: %w", eventID, err)
	}
	if val == valueDone {
		return ClaimDone, nil
	}
	return ClaimInFlight, nil
}

func (d *RedisDeduper) Complete(ctx context.Context, eventID string) error {
	return d.client.Set(ctx, d.prefix+eventID, valueDone, d.ttl).Err()
}

func (d *RedisDeduper) Abandon(ctx context.Context, eventID string) error {
	return d.client.Del(ctx, d.prefix+eventID).Err()
}

type memoryClaim struct {
	done    bool
	expires time.Time
}

const memoryDedupeSize = 10_000

// MemoryDeduper keeps claims in a bounded cache. Entries leave it once their TTL
// has passed or when the cache is full.
type MemoryDeduper struct {
	mu       sync.Mutex
	claims   *expirable.LRU[string, memoryClaim]
	ttl      time.Duration
	inFlight time.Duration
	now      func() time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return newMemoryDeduper(ttl, inFlightTTL, memoryDedupeSize)
}

func newMemoryDeduper(ttl, inFlight time.Duration, size int) *MemoryDeduper {
	return &MemoryDeduper{
		claims:   expirable.NewLRU[string, memoryClaim](size, nil, max(ttl, inFlight)),
		ttl:      ttl,
		inFlight: inFlight,
		now:      time.Now,
	}
}

func (d *MemoryDeduper) Claim(_ context.Context, eventID string) (ClaimState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if c, ok := d.claims.Get(eventID); ok && now.Before(c.expires) {
		if c.done {
			return ClaimDone, nil
		}
		return ClaimInFlight, nil
	}
	d.claims.Add(eventID, memoryClaim{expires: now.Add(d.inFlight)})
	return ClaimNew, nil
}

func (d *MemoryDeduper) Complete(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claims.Add(eventID, memoryClaim{done: true, expires: d.now().Add(d.ttl)})
	return nil
}

func (d *MemoryDeduper) Abandon(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claims.Remove(eventID)
	return nil
}

var (
	_ Deduper = (*RedisDeduper)(nil)
	_ Deduper = (*MemoryDeduper)(nil)
)
