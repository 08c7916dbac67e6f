// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package worker drives the pipeline: a fixed pool of slots claims jobs from
// the store, runs their operation sequences through the encoder adapter and
// writes the terminal outcome back. All side effects happen here, never on
// the submission path.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	clog "github.com/ManuGH/clipforge/internal/log"
	"github.com/ManuGH/clipforge/internal/pipeline/encoder"
	"github.com/ManuGH/clipforge/internal/pipeline/model"
	"github.com/ManuGH/clipforge/internal/pipeline/store"
)

// Executor runs one operation to completion. *encoder.Adapter is the
// production implementation.
type Executor interface {
	Execute(ctx context.Context, op model.Operation, prevOutput string) (*encoder.Result, error)
}

// Registrar records produced outputs in the asset index.
type Registrar interface {
	Register(kind model.AssetKind, path, derivedFrom string, durationSec float64, sizeBytes int64) (model.AssetRecord, error)
}

// Pool owns N slot goroutines over a shared claim loop. Claims are atomic in
// the store, so slots never coordinate with each other directly.
type Pool struct {
	Store  store.StateStore
	Exec   Executor
	Assets Registrar

	Workers        int
	Owner          string // stable worker identity
	ClaimInterval  time.Duration
	HeartbeatEvery time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration

	log zerolog.Logger
}

func (p *Pool) defaults() {
	if p.Workers <= 0 {
		p.Workers = 2
	}
	if p.ClaimInterval <= 0 {
		p.ClaimInterval = 500 * time.Millisecond
	}
	if p.HeartbeatEvery <= 0 {
		p.HeartbeatEvery = 5 * time.Second
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = 2 * time.Second
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = time.Minute
	}
	if p.Owner == "" {
		host, _ := os.Hostname()
		p.Owner = fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
	}
	p.log = clog.WithComponent("worker")
}

// Run blocks until ctx is cancelled. A job in flight at shutdown is
// abandoned mid-run and picked up again by crash recovery.
func (p *Pool) Run(ctx context.Context) error {
	p.defaults()
	p.log.Info().
		Int("workers", p.Workers).
		Str(clog.FieldOwner, p.Owner).
		Msg("worker pool starting")

	var wg sync.WaitGroup
	for i := 0; i < p.Workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.slotLoop(ctx, slot)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Pool) slotLoop(ctx context.Context, slot int) {
	logger := p.log.With().Int(clog.FieldSlot, slot).Logger()
	ticker := time.NewTicker(p.ClaimInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.Store.ClaimNext(ctx, p.Owner, time.Now())
		if err != nil {
			logger.Error().Err(err).Msg("claim failed")
		} else if job != nil {
			jobsClaimedTotal.Inc()
			p.runJob(ctx, logger, job)
			// Drain the queue before going back to sleep.
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) runJob(ctx context.Context, logger zerolog.Logger, job *model.JobRecord) {
	logger = logger.With().
		Str(clog.FieldJobID, job.JobID).
		Str(clog.FieldRequestID, job.RequestID).
		Int(clog.FieldAttempt, job.Attempts).
		Logger()
	logger.Info().Msg("job claimed")

	activeSlots.Inc()
	defer activeSlots.Dec()
	start := time.Now()

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var cancelRequested atomic.Bool
	var claimLost atomic.Bool
	hbDone := make(chan struct{})
	go p.heartbeatLoop(jobCtx, job.JobID, cancel, &cancelRequested, &claimLost, hbDone)

	res, runErr := p.executeJob(jobCtx, job, &cancelRequested)

	cancel()
	<-hbDone

	if claimLost.Load() {
		// Crash recovery took the job away; whatever we produced is stale.
		logger.Warn().Msg("claim lost mid-run, discarding result")
		return
	}
	if runErr != nil && ctx.Err() != nil && !cancelRequested.Load() {
		// Shutdown, not a job failure. Leave the record RUNNING; the next
		// start's recovery sweep requeues it.
		logger.Info().Msg("job interrupted by shutdown")
		return
	}

	outcome := p.finalize(context.Background(), logger, job, res, runErr, cancelRequested.Load())
	jobDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// executeJob runs the job's operations in declared order. Each operation's
// output feeds the next one's implicit input; intermediate outputs are removed
// once consumed.
func (p *Pool) executeJob(ctx context.Context, job *model.JobRecord, cancelRequested *atomic.Bool) (*encoder.Result, error) {
	var prev string
	var last *encoder.Result
	for _, op := range job.Operations {
		if cancelRequested.Load() || p.cancelPending(ctx, job.JobID) {
			cancelRequested.Store(true)
			if prev != "" {
				_ = os.Remove(prev)
			}
			return nil, context.Canceled
		}
		res, err := p.Exec.Execute(ctx, op, prev)
		if err != nil {
			if prev != "" {
				_ = os.Remove(prev)
			}
			return nil, err
		}
		if prev != "" {
			_ = os.Remove(prev)
		}
		prev = res.OutputPath
		last = res
	}
	if last == nil {
		return nil, &encoder.IOError{Op: "execute", Err: errors.New("job has no operations")}
	}
	return last, nil
}

func (p *Pool) cancelPending(ctx context.Context, jobID string) bool {
	cur, err := p.Store.GetJob(ctx, jobID)
	return err == nil && cur.CancelRequested
}

// heartbeatLoop renews the claim while the job runs. It is also the poll
// point for cancel requests: a set CancelRequested flag kills the running
// encoder via jobCtx.
func (p *Pool) heartbeatLoop(ctx context.Context, jobID string, cancel context.CancelFunc, cancelRequested, claimLost *atomic.Bool, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.HeartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Store.Heartbeat(ctx, jobID, p.Owner, time.Now()); err != nil {
				if errors.Is(err, store.ErrLostClaim) {
					heartbeatLostTotal.Inc()
					claimLost.Store(true)
					cancel()
					return
				}
				p.log.Warn().Err(err).Str(clog.FieldJobID, jobID).Msg("heartbeat failed")
				continue
			}
			if p.cancelPending(ctx, jobID) {
				cancelRequested.Store(true)
				cancel()
				return
			}
		}
	}
}

// finalize writes the terminal or retry outcome for a finished run and
// returns the outcome label.
func (p *Pool) finalize(ctx context.Context, logger zerolog.Logger, job *model.JobRecord, res *encoder.Result, runErr error, cancelRequested bool) string {
	now := time.Now()

	if runErr == nil {
		derivedFrom := ""
		if len(job.Operations) > 0 && !job.Operations[0].Input.IsZero() {
			derivedFrom = job.Operations[0].Input.ID
		}
		asset, regErr := p.Assets.Register(model.AssetOutput, res.OutputPath, derivedFrom, res.DurationSec, res.SizeBytes)
		if regErr != nil {
			// The output exists but could not be indexed. Treat as an IO
			// failure so the retry budget applies.
			runErr = &encoder.IOError{Op: "register output", Err: regErr}
		} else {
			_, err := p.Store.UpdateJob(ctx, job.JobID, func(r *model.JobRecord) error {
				if err := store.ApplyTransition(r, model.JobSucceeded, model.RNone, "", now); err != nil {
					return err
				}
				r.OutputAssetID = asset.ID
				r.OutputPath = res.OutputPath
				r.OutputDurationSec = res.DurationSec
				r.OutputSizeBytes = res.SizeBytes
				return nil
			})
			if err != nil {
				logger.Error().Err(err).Msg("success finalize failed")
				return "failed"
			}
			jobsCompletedTotal.WithLabelValues("succeeded", string(model.RNone)).Inc()
			logger.Info().
				Str(clog.FieldPath, res.OutputPath).
				Str("output_asset", asset.ID).
				Msg("job succeeded")
			return "succeeded"
		}
	}

	reason := encoder.ReasonFor(runErr)
	if cancelRequested {
		reason = model.RCancelled
	}
	detail := runErr.Error()

	if reason != model.RCancelled && reason.Retryable() && job.Attempts < job.MaxAttempts {
		delay := Backoff(p.BackoffBase, p.BackoffMax, job.Attempts)
		_, err := p.Store.UpdateJob(ctx, job.JobID, func(r *model.JobRecord) error {
			if err := store.ApplyTransition(r, model.JobRetrying, reason, detail, now); err != nil {
				return err
			}
			r.NotBeforeUnix = now.Add(delay).Unix()
			return nil
		})
		if err != nil {
			logger.Error().Err(err).Msg("retry finalize failed")
			return "failed"
		}
		jobsCompletedTotal.WithLabelValues("retrying", string(reason)).Inc()
		logger.Warn().
			Str(clog.FieldReason, string(reason)).
			Dur("backoff", delay).
			Str("error", detail).
			Msg("job retrying")
		return "retrying"
	}

	if _, err := store.Transition(ctx, p.Store, job.JobID, model.JobFailed, reason, detail); err != nil {
		logger.Error().Err(err).Msg("failure finalize failed")
	}
	jobsCompletedTotal.WithLabelValues("failed", string(reason)).Inc()
	logger.Error().
		Str(clog.FieldReason, string(reason)).
		Str("error", detail).
		Msg("job failed")
	return "failed"
}
