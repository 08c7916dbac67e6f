// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/clipforge/internal/pipeline/model"
)

// MemoryStore is an in-memory StateStore intended for tests and local
// iteration. Not durable; not suitable for production.
type MemoryStore struct {
	mu sync.Mutex

	requests map[string]*model.RequestRecord
	jobs     map[string]*model.JobRecord
	seq      uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*model.RequestRecord),
		jobs:     make(map[string]*model.JobRecord),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) PutRequest(ctx context.Context, req *model.RequestRecord, jobs []*model.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.requests[req.RequestID]; exists {
		return fmt.Errorf("request %s already exists", req.RequestID)
	}
	for _, job := range jobs {
		if _, exists := m.jobs[job.JobID]; exists {
			return fmt.Errorf("job %s already exists", job.JobID)
		}
	}

	cpReq := *req
	m.requests[req.RequestID] = &cpReq
	for _, job := range jobs {
		m.seq++
		job.Seq = m.seq
		cp := copyJob(job)
		m.jobs[job.JobID] = cp
	}
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (*model.RequestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	cp.JobIDs = append([]string(nil), req.JobIDs...)
	return &cp, nil
}

func (m *MemoryStore) GetJob(ctx context.Context, id string) (*model.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(rec), nil
}

func (m *MemoryStore) UpdateJob(ctx context.Context, id string, fn func(*model.JobRecord) error) (*model.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := copyJob(rec)
	if err := fn(cp); err != nil {
		return nil, err
	}
	m.jobs[id] = cp
	return copyJob(cp), nil
}

func (m *MemoryStore) ScanJobs(ctx context.Context, fn func(*model.JobRecord) error) error {
	// Snapshot under lock, iterate without it so slow callbacks do not block
	// claims.
	m.mu.Lock()
	snapshot := make([]*model.JobRecord, 0, len(m.jobs))
	for _, rec := range m.jobs {
		snapshot = append(snapshot, copyJob(rec))
	}
	m.mu.Unlock()

	for _, rec := range snapshot {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) ClaimNext(ctx context.Context, owner string, now time.Time) (*model.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *model.JobRecord
	for _, rec := range m.jobs {
		if !claimable(rec, now) {
			continue
		}
		if best == nil || rec.Seq < best.Seq {
			best = rec
		}
	}
	if best == nil {
		return nil, nil
	}
	applyClaim(best, owner, now)
	return copyJob(best), nil
}

func (m *MemoryStore) Heartbeat(ctx context.Context, jobID, owner string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if rec.State != model.JobRunning || rec.Owner != owner {
		return ErrLostClaim
	}
	rec.HeartbeatAtUnix = now.Unix()
	return nil
}

func copyJob(rec *model.JobRecord) *model.JobRecord {
	cp := *rec
	cp.Operations = append([]model.Operation(nil), rec.Operations...)
	return &cp
}
