// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	clog "github.com/ManuGH/clipforge/internal/log"
	"github.com/ManuGH/clipforge/internal/pipeline/model"
	"github.com/ManuGH/clipforge/internal/pipeline/store"
)

// Sweeper requeues RUNNING jobs whose worker stopped heartbeating (crash,
// kill -9, OOM). A stale job is requeued exactly once; if it goes stale
// again the fault is assumed to be the job itself and it is classified as an
// encoder failure, subject to the normal retry budget.
type Sweeper struct {
	Store       store.StateStore
	Interval    time.Duration
	TTL         time.Duration // heartbeat staleness threshold
	BackoffBase time.Duration
	BackoffMax  time.Duration

	log zerolog.Logger
}

func (s *Sweeper) defaults() {
	if s.Interval <= 0 {
		s.Interval = 10 * time.Second
	}
	if s.TTL <= 0 {
		s.TTL = 30 * time.Second
	}
	if s.BackoffBase <= 0 {
		s.BackoffBase = 2 * time.Second
	}
	if s.BackoffMax <= 0 {
		s.BackoffMax = time.Minute
	}
	s.log = clog.WithComponent("sweeper")
}

// Run blocks until ctx is cancelled. An initial sweep runs immediately so a
// restart recovers orphaned claims without waiting a full interval.
func (s *Sweeper) Run(ctx context.Context) error {
	s.defaults()
	s.Sweep(ctx, time.Now())

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx, time.Now())
		}
	}
}

// Sweep performs one pass over the store.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) {
	var stale []string
	err := s.Store.ScanJobs(ctx, func(j *model.JobRecord) error {
		if s.isStale(j, now) {
			stale = append(stale, j.JobID)
		}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Msg("sweep scan failed")
		return
	}

	for _, id := range stale {
		if err := s.recover(ctx, id, now); err != nil {
			s.log.Error().Err(err).Str(clog.FieldJobID, id).Msg("recover failed")
		}
	}
}

func (s *Sweeper) isStale(j *model.JobRecord, now time.Time) bool {
	if j.State != model.JobRunning {
		return false
	}
	last := j.HeartbeatAtUnix
	if last == 0 {
		last = j.ClaimedAtUnix
	}
	return now.Unix()-last > int64(s.TTL.Seconds())
}

func (s *Sweeper) recover(ctx context.Context, jobID string, now time.Time) error {
	var outcome string
	_, err := s.Store.UpdateJob(ctx, jobID, func(r *model.JobRecord) error {
		// Re-check under the store lock; the worker may have heartbeat or
		// finished between scan and update.
		if !s.isStale(r, now) {
			outcome = ""
			return nil
		}
		if r.Recovered == 0 {
			r.Recovered++
			if err := store.ApplyTransition(r, model.JobRetrying, model.RCrashRecovery, "requeued after stale heartbeat", now); err != nil {
				return err
			}
			r.NotBeforeUnix = now.Unix() // claimable immediately
			outcome = "requeued"
			return nil
		}
		if r.Attempts < r.MaxAttempts {
			if err := store.ApplyTransition(r, model.JobRetrying, model.REncoderFailed, "repeated stale heartbeat", now); err != nil {
				return err
			}
			r.NotBeforeUnix = now.Add(Backoff(s.BackoffBase, s.BackoffMax, r.Attempts)).Unix()
			outcome = "retrying"
			return nil
		}
		outcome = "failed"
		return store.ApplyTransition(r, model.JobFailed, model.REncoderFailed, "repeated stale heartbeat", now)
	})
	if err != nil {
		return err
	}

	switch outcome {
	case "requeued":
		sweeperRequeuedTotal.Inc()
		s.log.Warn().Str(clog.FieldJobID, jobID).Msg("stale job requeued")
	case "retrying", "failed":
		sweeperFailedTotal.Inc()
		s.log.Warn().Str(clog.FieldJobID, jobID).Str("outcome", outcome).Msg("repeatedly stale job")
	}
	return nil
}
