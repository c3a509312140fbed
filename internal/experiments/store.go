package experiments

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/example/carpool/internal/models"
)

// MemoryStore keeps assignments in a process-local map.
type MemoryStore struct {
	mu          sync.RWMutex
	assignments map[string]models.Assignment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assignments: make(map[string]models.Assignment)}
}

func (m *MemoryStore) Get(_ context.Context, userID, experimentID string) (*models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[userID+":"+experimentID]
	if !ok {
		return nil, nil
	}
	cp := a
	return &cp, nil
}

func (m *MemoryStore) Put(_ context.Context, userID string, a *models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[userID+":"+a.ExperimentID] = *a
	return nil
}

// RedisStore shares assignments across processes.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

func assignKey(userID, experimentID string) string {
	return "experiment:assignment:" + userID + ":" + experimentID
}

func (r *RedisStore) Get(ctx context.Context, userID, experimentID string) (*models.Assignment, error) {
	raw, err := r.client.Get(ctx, assignKey(userID, experimentID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var a models.Assignment
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *RedisStore) Put(ctx context.Context, userID string, a *models.Assignment) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, assignKey(userID, a.ExperimentID), b, 0).Err()
}
