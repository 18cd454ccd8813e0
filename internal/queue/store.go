package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Store is an in-memory job store with TTL support. It also owns the
// idempotency index used to deduplicate job submissions.
type Store struct {
	jobs           map[string]*Job
	idempotencyMap map[string]string // idempotency_key -> job_id
	mu             sync.RWMutex
	logger         *slog.Logger
	cleanupTicker  *time.Ticker
	stopCleanup    chan struct{}
	stopOnce       sync.Once
}

// NewStore creates a new job store
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		jobs:           make(map[string]*Job),
		idempotencyMap: make(map[string]string),
		logger:         logger,
		stopCleanup:    make(chan struct{}),
	}

	s.startCleanup(time.Hour)

	return s
}

func (s *Store) startCleanup(every time.Duration) {
	s.cleanupTicker = time.NewTicker(every)

	go func() {
		for {
			select {
			case <-s.cleanupTicker.C:
				s.cleanupExpired()
			case <-s.stopCleanup:
				s.cleanupTicker.Stop()
				return
			}
		}
	}()
}

// cleanupExpired removes expired jobs and returns how many were dropped.
func (s *Store) cleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for jobID, job := range s.jobs {
		if !job.IsExpired() {
			continue
		}
		s.dropKey(job)
		delete(s.jobs, jobID)
		deleted++
	}

	if deleted > 0 {
		s.logger.Info("cleaned up expired jobs", "count", deleted)
	}
	return deleted
}

// Stop stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// Save saves a job to the store
func (s *Store) Save(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = job
	if job.IdempotencyKey != "" {
		s.idempotencyMap[job.IdempotencyKey] = job.ID
	}
	return nil
}

// SaveIfAbsent stores job unless a live job already holds its idempotency
// key, in which case that job is returned with duplicate set.
func (s *Store) SaveIfAbsent(job *Job) (stored *Job, duplicate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key := job.IdempotencyKey; key != "" {
		if id, ok := s.idempotencyMap[key]; ok {
			if existing, ok := s.jobs[id]; ok && !existing.IsExpired() {
				return existing, true
			}
		}
		s.idempotencyMap[key] = job.ID
	}
	s.jobs[job.ID] = job
	return job, false
}

// GetByIdempotencyKey retrieves a job by idempotency key
func (s *Store) GetByIdempotencyKey(key string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobID, exists := s.idempotencyMap[key]
	if !exists {
		return nil, false
	}
	job, exists := s.jobs[jobID]
	if !exists || job.IsExpired() {
		return nil, false
	}
	return job, true
}

// Get retrieves a job by ID
func (s *Store) Get(jobID string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.IsExpired() {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job, nil
}

// Update updates a job in the store
func (s *Store) Update(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// Delete removes a job from the store
func (s *Store) Delete(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		s.dropKey(job)
	}
	delete(s.jobs, jobID)
	return nil
}

// dropKey removes job's idempotency entry unless a newer job took it over.
func (s *Store) dropKey(job *Job) {
	if job.IdempotencyKey == "" {
		return
	}
	if s.idempotencyMap[job.IdempotencyKey] == job.ID {
		delete(s.idempotencyMap, job.IdempotencyKey)
	}
}

// List returns all live jobs
func (s *Store) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if !job.IsExpired() {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// ToJSON serializes a job to JSON
func (j *Job) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}

// FromJSON deserializes a job from JSON
func FromJSON(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
