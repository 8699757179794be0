package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/CareTrack-Labs/track_engine/internal/app/storage"
)

// State is the resumable snapshot of one batch job. Cursor holds the last
// fully processed respondent track ID; a rerun with the same job ID resumes
// strictly after it.
type State struct {
	JobID     string    `json:"job_id"`
	Kind      string    `json:"kind"`
	Cursor    string    `json:"cursor"`
	Total     int       `json:"total"`
	Done      int       `json:"done"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Removed   int       `json:"removed"`
	Errors    []string  `json:"errors,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
	Finished  bool      `json:"finished"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Progress receives live feedback while a job runs. Implementations decide
// how to surface it; Cancelled lets them stop the job between units.
type Progress interface {
	Report(state State)
	Cancelled() bool
}

// NopProgress discards all reporting.
type NopProgress struct{}

func (NopProgress) Report(State)    {}
func (NopProgress) Cancelled() bool { return false }

// ProgressStore persists job state between units, so an interrupted job can
// resume from its cursor.
type ProgressStore interface {
	Save(ctx context.Context, state State) error
	Load(ctx context.Context, jobID string) (State, error)
}

// MemoryProgressStore keeps job state in process memory.
type MemoryProgressStore struct {
	mu   sync.RWMutex
	jobs map[string]State
}

var _ ProgressStore = (*MemoryProgressStore)(nil)

// NewMemoryProgressStore creates an empty in-memory progress store.
func NewMemoryProgressStore() *MemoryProgressStore {
	return &MemoryProgressStore{jobs: make(map[string]State)}
}

func (s *MemoryProgressStore) Save(_ context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[state.JobID] = state
	return nil
}

func (s *MemoryProgressStore) Load(_ context.Context, jobID string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.jobs[jobID]
	if !ok {
		return State{}, storage.ErrNotFound
	}
	return state, nil
}

const redisKeyPrefix = "track_engine:batch:"

// RedisProgressStore persists job state in redis so batch jobs survive
// process restarts and can be observed from other instances.
type RedisProgressStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ ProgressStore = (*RedisProgressStore)(nil)

// NewRedisProgressStore wraps a redis client. States expire after ttl;
// zero means keep forever.
func NewRedisProgressStore(client *redis.Client, ttl time.Duration) *RedisProgressStore {
	return &RedisProgressStore{client: client, ttl: ttl}
}

func (s *RedisProgressStore) Save(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal batch state: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+state.JobID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save batch state: %w", err)
	}
	return nil
}

func (s *RedisProgressStore) Load(ctx context.Context, jobID string) (State, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+jobID).Bytes()
	if err == redis.Nil {
		return State{}, storage.ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("load batch state: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decode batch state: %w", err)
	}
	return state, nil
}
