// Package history provides durable sinks for playbook execution snapshots.
// The playbook executor keeps its own in-memory history; these stores are the
// optional persistence collaborators behind the playbook.Store interface.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/cloudgate/internal/playbook"
)

const keyPrefix = "cloudgate:executions:"

// RedisStore persists execution snapshots as JSON values in redis.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore creates a store over an existing redis client. ttl bounds
// how long snapshots are retained; zero keeps them indefinitely.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

// Save upserts one execution snapshot. Later saves of the same execution
// overwrite earlier ones, so the stored value always reflects the latest
// state transition.
func (s *RedisStore) Save(ctx context.Context, exec playbook.Execution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshaling execution %s: %w", exec.ExecutionID, err)
	}
	if err := s.client.Set(ctx, keyPrefix+exec.ExecutionID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("persisting execution %s: %w", exec.ExecutionID, err)
	}
	return nil
}

// Load fetches one persisted snapshot.
func (s *RedisStore) Load(ctx context.Context, executionID string) (*playbook.Execution, error) {
	data, err := s.client.Get(ctx, keyPrefix+executionID).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("execution not persisted: %s", executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading execution %s: %w", executionID, err)
	}
	var exec playbook.Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("decoding execution %s: %w", executionID, err)
	}
	return &exec, nil
}

// Ping verifies redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MemoryStore is an in-process Store for callers that want the sink
// interface without redis, and for tests.
type MemoryStore struct {
	mu    sync.RWMutex
	execs map[string]playbook.Execution
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{execs: make(map[string]playbook.Execution)}
}

// Save upserts a snapshot.
func (s *MemoryStore) Save(_ context.Context, exec playbook.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs[exec.ExecutionID] = exec
	return nil
}

// Load fetches a snapshot.
func (s *MemoryStore) Load(_ context.Context, executionID string) (*playbook.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.execs[executionID]
	if !ok {
		return nil, fmt.Errorf("execution not persisted: %s", executionID)
	}
	return &exec, nil
}

// Len returns the number of stored snapshots.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.execs)
}
