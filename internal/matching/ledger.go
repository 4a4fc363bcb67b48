package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultLedgerTTL is how long issued matches stay available for feedback.
const DefaultLedgerTTL = 7 * 24 * time.Hour

// Ledger remembers issued matches so feedback can be tied to the signal
// values the user saw.
type Ledger interface {
	Put(ctx context.Context, results []MatchResult) error
	Get(ctx context.Context, matchID string) (*MatchResult, error)
}

// InMemoryLedger is a Ledger for development and tests.
type InMemoryLedger struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]ledgerEntry
	swept   time.Time
	now     func() time.Time
}

type ledgerEntry struct {
	result    MatchResult
	expiresAt time.Time
}

// NewInMemoryLedger creates a ledger. A non-positive ttl uses DefaultLedgerTTL.
func NewInMemoryLedger(ttl time.Duration) *InMemoryLedger {
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}
	return &InMemoryLedger{ttl: ttl, entries: make(map[string]ledgerEntry), now: time.Now}
}

// Put implements Ledger.
func (l *InMemoryLedger) Put(_ context.Context, results []MatchResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.swept) >= l.ttl {
		l.sweep(now)
	}
	expires := now.Add(l.ttl)
	for _, r := range results {
		l.entries[r.MatchID] = ledgerEntry{result: r, expiresAt: expires}
	}
	return nil
}

// sweep drops expired entries. Put runs it at most once per ttl, so an
// expired match lingers for under two ttls. Callers hold l.mu.
func (l *InMemoryLedger) sweep(now time.Time) {
	for id, e := range l.entries {
		if now.After(e.expiresAt) {
			delete(l.entries, id)
		}
	}
	l.swept = now
}

// Len reports how many entries are held, expired or not.
func (l *InMemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Get implements Ledger.
func (l *InMemoryLedger) Get(_ context.Context, matchID string) (*MatchResult, error) {
	l.mu.RLock()
	e, ok := l.entries[matchID]
	l.mu.RUnlock()
	if !ok || l.now().After(e.expiresAt) {
		return nil, ErrMatchNotFound
	}
	r := e.result
	return &r, nil
}

// DefaultLedgerPrefix prefixes match keys in Redis.
const DefaultLedgerPrefix = "lostfound:match:"

// RedisLedger stores matches as JSON with a TTL.
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLedger creates a RedisLedger.
func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}
	return &RedisLedger{client: client, prefix: DefaultLedgerPrefix, ttl: ttl}
}

// Put writes all results in one pipeline.
func (l *RedisLedger) Put(ctx context.Context, results []MatchResult) error {
	if len(results) == 0 {
		return nil
	}
	pipe := l.client.Pipeline()
	for _, r := range results {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode match %s: %w", r.MatchID, err)
		}
		pipe.Set(ctx, l.prefix+r.MatchID, data, l.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write match ledger: %w", err)
	}
	return nil
}

// Get loads one match.
func (l *RedisLedger) Get(ctx context.Context, matchID string) (*MatchResult, error) {
	data, err := l.client.Get(ctx, l.prefix+matchID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read match ledger: %w", err)
	}
	var r MatchResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode match %s: %w", matchID, err)
	}
	return &r, nil
}
