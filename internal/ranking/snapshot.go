package ranking

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// ErrNoSnapshot is returned when no weight vector has been persisted yet.
var ErrNoSnapshot = errors.New("no weight snapshot stored")

// DefaultSnapshotKey is the Redis key holding the active weight vector.
const DefaultSnapshotKey = "lostfound:ranking:weights:active"

// SnapshotStore persists the active weight vector so every replica can
// converge on it.
type SnapshotStore interface {
	Save(ctx context.Context, v WeightVector) error
	Load(ctx context.Context) (WeightVector, error)
}

// InMemorySnapshotStore is a SnapshotStore for single-process deployments and tests.
type InMemorySnapshotStore struct {
	mu sync.RWMutex
	v  *WeightVector
}

// NewInMemorySnapshotStore creates an empty store.
func NewInMemorySnapshotStore() *InMemorySnapshotStore {
	return &InMemorySnapshotStore{}
}

// Save stores a copy of v.
func (s *InMemorySnapshotStore) Save(_ context.Context, v WeightVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := v.Clone()
	s.v = &cp
	return nil
}

// Load returns the stored vector or ErrNoSnapshot.
func (s *InMemorySnapshotStore) Load(_ context.Context) (WeightVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.v == nil {
		return WeightVector{}, ErrNoSnapshot
	}
	return s.v.Clone(), nil
}

// snapshotEncMode produces byte-identical output for equal vectors, so
// replicas can compare snapshots by value.
var snapshotEncMode = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("ranking: invalid cbor options: %v", err))
	}
	return em
}()

// EncodeSnapshot serializes v in deterministic CBOR.
func EncodeSnapshot(v WeightVector) ([]byte, error) {
	data, err := snapshotEncMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode weight snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses and validates a snapshot produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (WeightVector, error) {
	var v WeightVector
	if err := cbor.Unmarshal(data, &v); err != nil {
		return WeightVector{}, fmt.Errorf("failed to decode weight snapshot: %w", err)
	}
	if err := v.Validate(); err != nil {
		return WeightVector{}, fmt.Errorf("stored weight snapshot: %w", err)
	}
	return v, nil
}

// RedisSnapshotStore keeps the active vector under a single Redis key.
type RedisSnapshotStore struct {
	client *redis.Client
	key    string
}

// NewRedisSnapshotStore creates a store using key, or DefaultSnapshotKey when empty.
func NewRedisSnapshotStore(client *redis.Client, key string) *RedisSnapshotStore {
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &RedisSnapshotStore{client: client, key: key}
}

// Save writes v without expiry.
func (s *RedisSnapshotStore) Save(ctx context.Context, v WeightVector) error {
	data, err := EncodeSnapshot(v)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save weight snapshot: %w", err)
	}
	return nil
}

// Load reads the stored vector. A missing key yields ErrNoSnapshot.
func (s *RedisSnapshotStore) Load(ctx context.Context) (WeightVector, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return WeightVector{}, ErrNoSnapshot
	}
	if err != nil {
		return WeightVector{}, fmt.Errorf("failed to load weight snapshot: %w", err)
	}
	return DecodeSnapshot(data)
}
