package jobs

import (
	"context"
	"sync"
)

// MemoryStore keeps job records in process memory for the lifetime of the
// session. Each Put replaces the whole record atomically.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Job)}
}

func (s *MemoryStore) Put(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false, nil
	}
	return cloneJob(j), true, nil
}

func (s *MemoryStore) Close() error { return nil }

// cloneJob deep-copies pointer and slice fields so callers cannot mutate
// stored state through a returned snapshot.
func cloneJob(j Job) Job {
	c := j
	if j.CallbackURL != nil {
		v := *j.CallbackURL
		c.CallbackURL = &v
	}
	if j.UploadPath != nil {
		v := *j.UploadPath
		c.UploadPath = &v
	}
	if j.ErrorMessage != nil {
		v := *j.ErrorMessage
		c.ErrorMessage = &v
	}
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		c.CompletedAt = &v
	}
	if j.Result != nil {
		r := *j.Result
		if j.Result.KeyFrames != nil {
			r.KeyFrames = append([]KeyFrame(nil), j.Result.KeyFrames...)
		}
		c.Result = &r
	}
	return c
}
