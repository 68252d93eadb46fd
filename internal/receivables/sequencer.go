package receivables

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ticket identifies one request in a last-write-wins sequence.
type Ticket struct {
	Key   string
	Stamp int64
}

// Sequencer keeps the newest request timestamp per key so responses of superseded requests
// can be discarded. Order is decided by request timestamp, not by arrival.
type Sequencer interface {
	Begin(ctx context.Context, key string, at time.Time) (Ticket, error)
	Latest(ctx context.Context, ticket Ticket) (bool, error)
}

// MemorySequencer is a process-local Sequencer. Keys expire after ttl like their Redis
// counterparts, and expired keys are swept at most once per ttl.
type MemorySequencer struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	swept  time.Time
	stamps map[string]memoryStamp
}

type memoryStamp struct {
	stamp   int64
	expires time.Time
}

// NewMemorySequencer constructs an empty MemorySequencer whose keys expire after ttl.
func NewMemorySequencer(ttl time.Duration) *MemorySequencer {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &MemorySequencer{ttl: ttl, now: time.Now, stamps: make(map[string]memoryStamp)}
}

// Begin records the request when it is newer than the latest seen for key.
func (m *MemorySequencer) Begin(_ context.Context, key string, at time.Time) (Ticket, error) {
	stamp := at.UnixMilli()
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.sweep(now)
	current, ok := m.stamps[key]
	if !ok || !now.Before(current.expires) || stamp > current.stamp {
		m.stamps[key] = memoryStamp{stamp: stamp, expires: now.Add(m.ttl)}
	}
	return Ticket{Key: key, Stamp: stamp}, nil
}

// Latest reports whether no newer request began for the ticket's key.
func (m *MemorySequencer) Latest(_ context.Context, ticket Ticket) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.stamps[ticket.Key]
	if !ok || !m.now().Before(current.expires) {
		return true, nil
	}
	return current.stamp <= ticket.Stamp, nil
}

func (m *MemorySequencer) sweep(now time.Time) {
	if now.Sub(m.swept) < m.ttl {
		return
	}
	m.swept = now
	for key, current := range m.stamps {
		if !now.Before(current.expires) {
			delete(m.stamps, key)
		}
	}
}

const sequencerPrefix = "receivables:seq:"

// advanceScript stores ARGV[1] when it is greater than the current value.
var advanceScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local stamp = tonumber(ARGV[1])
if stamp > current then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
return 0
`)

// RedisSequencer shares the sequence across server instances.
type RedisSequencer struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSequencer builds a RedisSequencer whose keys expire after ttl.
func NewRedisSequencer(client *redis.Client, ttl time.Duration) *RedisSequencer {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisSequencer{client: client, ttl: ttl}
}

// Begin records the request when it is newer than the latest stored for key.
func (r *RedisSequencer) Begin(ctx context.Context, key string, at time.Time) (Ticket, error) {
	stamp := at.UnixMilli()
	if err := advanceScript.Run(ctx, r.client, []string{sequencerPrefix + key}, stamp, r.ttl.Milliseconds()).Err(); err != nil {
		return Ticket{}, fmt.Errorf("receivables: sequencer begin: %w", err)
	}
	return Ticket{Key: key, Stamp: stamp}, nil
}

// Latest reports whether no newer request began for the ticket's key.
func (r *RedisSequencer) Latest(ctx context.Context, ticket Ticket) (bool, error) {
	raw, err := r.client.Get(ctx, sequencerPrefix+ticket.Key).Result()
	if errors.Is(err, redis.Nil) {
		// expired keys cannot prove a newer request
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("receivables: sequencer latest: %w", err)
	}
	current, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("receivables: sequencer latest: %w", err)
	}
	return current <= ticket.Stamp, nil
}
