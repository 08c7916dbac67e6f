// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package coordinator turns client requests into durable job records and
// answers status queries. It never touches the encoder: submission only
// creates state, the worker pool does the rest.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	clog "github.com/ManuGH/clipforge/internal/log"
	"github.com/ManuGH/clipforge/internal/pipeline/model"
	"github.com/ManuGH/clipforge/internal/pipeline/store"
)

// ValidationError marks a rejected submission. The boundary maps it to a 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func badRequest(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// AssetResolver answers whether a referenced asset exists. Submission
// validates references up front so obviously broken requests never enqueue.
type AssetResolver interface {
	Resolve(ref model.AssetRef) (string, error)
}

// Coordinator is the submission and status surface over the state store.
type Coordinator struct {
	store       store.StateStore
	resolver    AssetResolver
	maxAttempts int
	log         zerolog.Logger
}

func New(s store.StateStore, resolver AssetResolver, maxAttempts int) *Coordinator {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Coordinator{
		store:       s,
		resolver:    resolver,
		maxAttempts: maxAttempts,
		log:         clog.WithComponent("coordinator"),
	}
}

// Submit validates spec, decomposes it into jobs and persists everything
// atomically. The returned record is already claimable by the pool.
func (c *Coordinator) Submit(ctx context.Context, spec *model.RequestSpec) (*model.RequestRecord, error) {
	jobs, err := c.decompose(spec)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	req := &model.RequestRecord{
		RequestID:     uuid.NewString(),
		Kind:          spec.Kind,
		CreatedAtUnix: now.Unix(),
	}
	for _, job := range jobs {
		job.JobID = uuid.NewString()
		job.RequestID = req.RequestID
		job.State = model.JobPending
		job.MaxAttempts = c.maxAttempts
		job.CreatedAtUnix = now.Unix()
		job.UpdatedAtUnix = now.Unix()
		req.JobIDs = append(req.JobIDs, job.JobID)

		// Fail fast on dangling references instead of burning an encoder
		// attempt on them.
		for _, op := range job.Operations {
			for _, ref := range op.InputRefs() {
				if _, err := c.resolver.Resolve(ref); err != nil {
					return nil, badRequest("asset %s/%s not found", ref.Kind, ref.ID)
				}
			}
		}
	}

	if err := c.store.PutRequest(ctx, req, jobs); err != nil {
		return nil, fmt.Errorf("persist request: %w", err)
	}
	c.log.Info().
		Str(clog.FieldRequestID, req.RequestID).
		Str("kind", string(req.Kind)).
		Int("jobs", len(jobs)).
		Msg("request accepted")
	return req, nil
}

// decompose maps a request onto its child jobs:
//
//	trim       -> 1 job [trim]
//	overlay    -> 1 job [overlay]
//	transcode  -> N jobs, one per rendition
//	composite  -> 1 job [trim, overlay], the overlay consuming the trim output
func (c *Coordinator) decompose(spec *model.RequestSpec) ([]*model.JobRecord, error) {
	if spec == nil {
		return nil, badRequest("empty request")
	}
	if spec.Source.IsZero() {
		return nil, badRequest("source asset is required")
	}

	switch spec.Kind {
	case model.RequestTrim:
		if spec.Trim == nil {
			return nil, badRequest("trim request requires trim parameters")
		}
		op := model.Operation{Kind: model.OpTrim, Input: spec.Source, Trim: spec.Trim}
		if err := op.Validate(); err != nil {
			return nil, badRequest("%v", err)
		}
		return []*model.JobRecord{{Operations: []model.Operation{op}}}, nil

	case model.RequestOverlay:
		if spec.Overlay == nil {
			return nil, badRequest("overlay request requires overlay parameters")
		}
		op := model.Operation{Kind: model.OpOverlay, Input: spec.Source, Overlay: spec.Overlay}
		if err := op.Validate(); err != nil {
			return nil, badRequest("%v", err)
		}
		return []*model.JobRecord{{Operations: []model.Operation{op}}}, nil

	case model.RequestTranscode:
		if len(spec.Renditions) == 0 {
			return nil, badRequest("transcode request requires at least one rendition")
		}
		seen := map[model.Rendition]bool{}
		jobs := make([]*model.JobRecord, 0, len(spec.Renditions))
		for _, r := range spec.Renditions {
			if seen[r] {
				return nil, badRequest("duplicate rendition %q", r)
			}
			seen[r] = true
			op := model.Operation{
				Kind:      model.OpTranscode,
				Input:     spec.Source,
				Transcode: &model.TranscodeParams{Rendition: r},
			}
			if err := op.Validate(); err != nil {
				return nil, badRequest("%v", err)
			}
			jobs = append(jobs, &model.JobRecord{Operations: []model.Operation{op}})
		}
		return jobs, nil

	case model.RequestComposite:
		if spec.Trim == nil || spec.Overlay == nil {
			return nil, badRequest("composite request requires trim and overlay parameters")
		}
		trimOp := model.Operation{Kind: model.OpTrim, Input: spec.Source, Trim: spec.Trim}
		// Zero input: the overlay consumes the trim's output.
		overlayOp := model.Operation{Kind: model.OpOverlay, Overlay: spec.Overlay}
		for _, op := range []model.Operation{trimOp, overlayOp} {
			if err := op.Validate(); err != nil {
				return nil, badRequest("%v", err)
			}
		}
		return []*model.JobRecord{{Operations: []model.Operation{trimOp, overlayOp}}}, nil
	}
	return nil, badRequest("unknown request kind %q", spec.Kind)
}

// Status derives the aggregate request view. The aggregate state is computed
// from the child jobs on every call, never stored.
func (c *Coordinator) Status(ctx context.Context, requestID string) (*model.RequestStatus, error) {
	req, err := c.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	jobs, err := store.JobsForRequest(ctx, c.store, requestID)
	if err != nil {
		return nil, err
	}

	status := &model.RequestStatus{
		RequestID: req.RequestID,
		Kind:      req.Kind,
		State:     model.AggregateState(jobs),
	}
	for _, j := range jobs {
		status.Jobs = append(status.Jobs, model.JobStatus{
			JobID:       j.JobID,
			State:       j.State,
			Attempts:    j.Attempts,
			Reason:      j.Reason,
			LastError:   j.LastError,
			OutputAsset: j.OutputAssetID,
			OutputPath:  j.OutputPath,
		})
	}
	return status, nil
}

// Cancel requests termination of every non-terminal child job. PENDING and
// RETRYING jobs fail immediately; RUNNING jobs are flagged and killed by
// their worker at the next poll point.
func (c *Coordinator) Cancel(ctx context.Context, requestID string) (*model.RequestStatus, error) {
	req, err := c.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	for _, jobID := range req.JobIDs {
		_, err := c.store.UpdateJob(ctx, jobID, func(r *model.JobRecord) error {
			if r.State.IsTerminal() {
				return nil
			}
			r.CancelRequested = true
			if r.State == model.JobRunning {
				// The owning worker observes the flag and finalizes.
				r.UpdatedAtUnix = time.Now().Unix()
				return nil
			}
			// Not yet claimed; no worker will ever see it, so finalize here.
			// PENDING has no edge to FAILED other than through RUNNING, so
			// walk the claim path in place.
			if r.State == model.JobRetrying {
				if terr := store.ApplyTransition(r, model.JobPending, model.RNone, "", time.Now()); terr != nil {
					return terr
				}
			}
			if terr := store.ApplyTransition(r, model.JobRunning, model.RNone, "", time.Now()); terr != nil {
				return terr
			}
			return store.ApplyTransition(r, model.JobFailed, model.RCancelled, "cancelled before execution", time.Now())
		})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	c.log.Info().Str(clog.FieldRequestID, requestID).Msg("cancel requested")
	return c.Status(ctx, requestID)
}
