// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package store is the system-of-record for pipeline requests and jobs.
//
// Design intent:
//   - Submission paths only create records.
//   - All side-effects (encoding, asset registration) are performed by workers.
//   - Claims are conditional updates, never read-then-write: at most one
//     worker holds a given job at any instant.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/clipforge/internal/pipeline/model"
)

var (
	// ErrNotFound is returned when a job or request does not exist.
	ErrNotFound = errors.New("not found")
	// ErrLostClaim is returned when a heartbeat or completion update finds the
	// job no longer owned by the caller (crash recovery reassigned it).
	ErrLostClaim = errors.New("claim lost")
	// ErrIllegalTransition is returned for edges outside the state machine.
	ErrIllegalTransition = errors.New("illegal state transition")
)

// StateStore persists requests and jobs. Implementations must survive process
// restart (MemoryStore is for tests and local iteration only).
type StateStore interface {
	// PutRequest stores a request record and its job records atomically.
	PutRequest(ctx context.Context, req *model.RequestRecord, jobs []*model.JobRecord) error
	GetRequest(ctx context.Context, id string) (*model.RequestRecord, error)

	GetJob(ctx context.Context, id string) (*model.JobRecord, error)
	// UpdateJob applies fn to the record under the store's write lock and
	// persists the result. fn returning an error aborts the update.
	UpdateJob(ctx context.Context, id string, fn func(*model.JobRecord) error) (*model.JobRecord, error)
	// ScanJobs iterates over all jobs. The callback receives a copy.
	ScanJobs(ctx context.Context, fn func(*model.JobRecord) error) error

	// ClaimNext atomically claims the oldest claimable job for owner: a
	// PENDING job, or a RETRYING job whose backoff has elapsed. The claimed
	// job is RUNNING with Attempts incremented. Returns (nil, nil) when no
	// job is due.
	ClaimNext(ctx context.Context, owner string, now time.Time) (*model.JobRecord, error)
	// Heartbeat refreshes the claim of a RUNNING job. Fails with ErrLostClaim
	// if owner no longer holds the job.
	Heartbeat(ctx context.Context, jobID, owner string, now time.Time) error

	Close() error
}

// ApplyTransition mutates rec in place for a legal edge, stamping reason,
// detail and the update time. It is the single place the transition table is
// enforced.
func ApplyTransition(rec *model.JobRecord, to model.JobState, reason model.ReasonCode, detail string, now time.Time) error {
	if !model.CanTransition(rec.State, to) {
		return fmt.Errorf("%w: %s -> %s (job %s)", ErrIllegalTransition, rec.State, to, rec.JobID)
	}
	rec.State = to
	rec.Reason = reason
	if detail != "" {
		rec.LastError = detail
	}
	if to != model.JobRunning {
		// Only a RUNNING job has an owner.
		rec.Owner = ""
	}
	rec.UpdatedAtUnix = now.Unix()
	return nil
}

// Transition runs ApplyTransition through s.UpdateJob.
func Transition(ctx context.Context, s StateStore, jobID string, to model.JobState, reason model.ReasonCode, detail string) (*model.JobRecord, error) {
	return s.UpdateJob(ctx, jobID, func(rec *model.JobRecord) error {
		return ApplyTransition(rec, to, reason, detail, time.Now())
	})
}

// JobsForRequest loads the child jobs of a request in creation order.
func JobsForRequest(ctx context.Context, s StateStore, requestID string) ([]*model.JobRecord, error) {
	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	jobs := make([]*model.JobRecord, 0, len(req.JobIDs))
	for _, id := range req.JobIDs {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load job %s: %w", id, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// claimable reports whether a job may be claimed at now.
func claimable(rec *model.JobRecord, now time.Time) bool {
	switch rec.State {
	case model.JobPending:
		return rec.NotBeforeUnix <= now.Unix()
	case model.JobRetrying:
		// The backoff has elapsed; the claim performs the RETRYING -> PENDING
		// promotion and the PENDING -> RUNNING claim in one atomic step.
		return rec.NotBeforeUnix <= now.Unix()
	}
	return false
}

// applyClaim flips a claimable record to RUNNING for owner.
func applyClaim(rec *model.JobRecord, owner string, now time.Time) {
	rec.State = model.JobRunning
	rec.Owner = owner
	rec.Attempts++
	rec.ClaimedAtUnix = now.Unix()
	rec.HeartbeatAtUnix = now.Unix()
	rec.UpdatedAtUnix = now.Unix()
	rec.NotBeforeUnix = 0
}
