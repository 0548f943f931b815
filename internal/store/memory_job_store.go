package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	apierrors "github.com/devrev/replicawatch/internal/errors"
	"github.com/devrev/replicawatch/internal/model"
	"go.uber.org/zap"
)

// MemoryJobStore implements JobStore with an in-process map. Cursors are lost on restart.
type MemoryJobStore struct {
	jobs   map[string]*model.BulkJob
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewMemoryJobStore creates a job store; jobs idle for longer than ttl are
// dropped lazily on Create.
func NewMemoryJobStore(ttl time.Duration, logger *zap.Logger) *MemoryJobStore {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryJobStore{
		jobs:   make(map[string]*model.BulkJob),
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// Create stores a new job
func (s *MemoryJobStore) Create(ctx context.Context, job *model.BulkJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expire()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("bulk load job already exists: %s", job.ID)
	}
	stored := *job
	s.jobs[job.ID] = &stored
	return nil
}

// Get returns a copy of the job
func (s *MemoryJobStore) Get(ctx context.Context, jobID string) (*model.BulkJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, apierrors.ErrJobNotFound
	}
	out := *job
	return &out, nil
}

// ClaimStep implements JobStore
func (s *MemoryJobStore) ClaimStep(ctx context.Context, jobID string) (int, *model.BulkJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return 0, nil, apierrors.ErrJobNotFound
	}
	step := 0
	if !job.Exhausted() {
		step = job.NextStep
		job.NextStep++
		job.UpdatedAt = s.now()
	}
	out := *job
	return step, &out, nil
}

// AddWritten implements JobStore
func (s *MemoryJobStore) AddWritten(ctx context.Context, jobID string, n int) (*model.BulkJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, apierrors.ErrJobNotFound
	}
	job.Written += n
	if job.Written > job.Total {
		job.Written = job.Total
	}
	job.UpdatedAt = s.now()
	out := *job
	return &out, nil
}

// Ping implements JobStore
func (s *MemoryJobStore) Ping(ctx context.Context) error {
	return nil
}

// Close implements JobStore
func (s *MemoryJobStore) Close() error {
	return nil
}

// Size returns the number of tracked jobs
func (s *MemoryJobStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// expire must be called with mu held
func (s *MemoryJobStore) expire() {
	cutoff := s.now().Add(-s.ttl)
	for id, job := range s.jobs {
		if job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			s.logger.Debug("Expired bulk load job", zap.String("job_id", id))
		}
	}
}
