// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/clipforge/internal/assets"
	"github.com/ManuGH/clipforge/internal/pipeline/model"
	"github.com/ManuGH/clipforge/internal/pipeline/store"
)

// fakeResolver resolves a fixed set of asset references.
type fakeResolver struct {
	known map[model.AssetRef]bool
}

func (f *fakeResolver) Resolve(ref model.AssetRef) (string, error) {
	if f.known[ref] {
		return "/assets/" + string(ref.Kind) + "/" + ref.ID, nil
	}
	return "", assets.ErrNotFound
}

func newTestCoordinator(t *testing.T, known ...model.AssetRef) (*Coordinator, store.StateStore) {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	r := &fakeResolver{known: map[model.AssetRef]bool{}}
	for _, ref := range known {
		r.known[ref] = true
	}
	return New(s, r, 3), s
}

var (
	sourceRef    = model.AssetRef{Kind: model.AssetSource, ID: "clip.mp4"}
	watermarkRef = model.AssetRef{Kind: model.AssetWatermark, ID: "logo.png"}
)

func TestSubmit_TrimCreatesSingleJob(t *testing.T) {
	c, s := newTestCoordinator(t, sourceRef)

	req, err := c.Submit(context.Background(), &model.RequestSpec{
		Kind:   model.RequestTrim,
		Source: sourceRef,
		Trim:   &model.TrimParams{StartSec: 1, EndSec: 9},
	})
	require.NoError(t, err)
	require.Len(t, req.JobIDs, 1)

	job, err := s.GetJob(context.Background(), req.JobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.State)
	assert.Equal(t, 3, job.MaxAttempts)
	require.Len(t, job.Operations, 1)
	assert.Equal(t, model.OpTrim, job.Operations[0].Kind)
	assert.Equal(t, sourceRef, job.Operations[0].Input)
}

func TestSubmit_TranscodeFansOutPerRendition(t *testing.T) {
	c, s := newTestCoordinator(t, sourceRef)

	req, err := c.Submit(context.Background(), &model.RequestSpec{
		Kind:       model.RequestTranscode,
		Source:     sourceRef,
		Renditions: []model.Rendition{model.Rendition1080p, model.Rendition720p, model.Rendition480p},
	})
	require.NoError(t, err)
	require.Len(t, req.JobIDs, 3)

	want := []model.Rendition{model.Rendition1080p, model.Rendition720p, model.Rendition480p}
	for i, jobID := range req.JobIDs {
		job, err := s.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		require.Len(t, job.Operations, 1)
		assert.Equal(t, want[i], job.Operations[0].Transcode.Rendition)
	}
}

func TestSubmit_CompositeBuildsTwoOperationJob(t *testing.T) {
	c, s := newTestCoordinator(t, sourceRef, watermarkRef)

	req, err := c.Submit(context.Background(), &model.RequestSpec{
		Kind:   model.RequestComposite,
		Source: sourceRef,
		Trim:   &model.TrimParams{StartSec: 0, EndSec: 30},
		Overlay: &model.OverlayParams{
			Content:  model.OverlayImage,
			Overlay:  watermarkRef,
			Position: model.PosTopRight,
		},
	})
	require.NoError(t, err)
	require.Len(t, req.JobIDs, 1)

	job, err := s.GetJob(context.Background(), req.JobIDs[0])
	require.NoError(t, err)

	want := []model.Operation{
		{
			Kind:  model.OpTrim,
			Input: sourceRef,
			Trim:  &model.TrimParams{StartSec: 0, EndSec: 30},
		},
		{
			// Zero input: the overlay consumes the trim output.
			Kind: model.OpOverlay,
			Overlay: &model.OverlayParams{
				Content:  model.OverlayImage,
				Overlay:  watermarkRef,
				Position: model.PosTopRight,
			},
		},
	}
	if diff := cmp.Diff(want, job.Operations); diff != "" {
		t.Fatalf("operations mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmit_Validation(t *testing.T) {
	c, _ := newTestCoordinator(t, sourceRef)
	ctx := context.Background()

	cases := []struct {
		name string
		spec *model.RequestSpec
	}{
		{"nil spec", nil},
		{"missing source", &model.RequestSpec{Kind: model.RequestTrim, Trim: &model.TrimParams{EndSec: 5}}},
		{"unknown kind", &model.RequestSpec{Kind: "resample", Source: sourceRef}},
		{"inverted trim window", &model.RequestSpec{
			Kind: model.RequestTrim, Source: sourceRef,
			Trim: &model.TrimParams{StartSec: 9, EndSec: 1},
		}},
		{"no renditions", &model.RequestSpec{Kind: model.RequestTranscode, Source: sourceRef}},
		{"duplicate renditions", &model.RequestSpec{
			Kind: model.RequestTranscode, Source: sourceRef,
			Renditions: []model.Rendition{model.Rendition720p, model.Rendition720p},
		}},
		{"bad position", &model.RequestSpec{
			Kind: model.RequestOverlay, Source: sourceRef,
			Overlay: &model.OverlayParams{Content: model.OverlayImage, Overlay: watermarkRef, Position: "middle"},
		}},
		{"composite without trim", &model.RequestSpec{
			Kind: model.RequestComposite, Source: sourceRef,
			Overlay: &model.OverlayParams{Content: model.OverlayImage, Overlay: watermarkRef, Position: model.PosCenter},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Submit(ctx, tc.spec)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestSubmit_RejectsDanglingAssetRefs(t *testing.T) {
	c, _ := newTestCoordinator(t, sourceRef) // watermark not known

	_, err := c.Submit(context.Background(), &model.RequestSpec{
		Kind:   model.RequestOverlay,
		Source: sourceRef,
		Overlay: &model.OverlayParams{
			Content:  model.OverlayImage,
			Overlay:  watermarkRef,
			Position: model.PosBottomRight,
		},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Msg, "logo.png")
}

func TestStatus_AggregatesChildJobs(t *testing.T) {
	c, s := newTestCoordinator(t, sourceRef)
	ctx := context.Background()

	req, err := c.Submit(ctx, &model.RequestSpec{
		Kind:       model.RequestTranscode,
		Source:     sourceRef,
		Renditions: []model.Rendition{model.Rendition1080p, model.Rendition720p},
	})
	require.NoError(t, err)

	// 1. All pending: aggregate RUNNING
	st, err := c.Status(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestRunning, st.State)
	assert.Len(t, st.Jobs, 2)

	// 2. One succeeded, one pending: still RUNNING
	job, err := s.ClaimNext(ctx, "w1", time.Now())
	require.NoError(t, err)
	_, err = store.Transition(ctx, s, job.JobID, model.JobSucceeded, model.RNone, "")
	require.NoError(t, err)

	st, err = c.Status(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestRunning, st.State)

	// 3. Both succeeded: SUCCEEDED
	job, err = s.ClaimNext(ctx, "w1", time.Now())
	require.NoError(t, err)
	_, err = store.Transition(ctx, s, job.JobID, model.JobSucceeded, model.RNone, "")
	require.NoError(t, err)

	st, err = c.Status(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestSucceeded, st.State)
}

func TestStatus_AnyFailedChildFailsRequest(t *testing.T) {
	c, s := newTestCoordinator(t, sourceRef)
	ctx := context.Background()

	req, err := c.Submit(ctx, &model.RequestSpec{
		Kind:       model.RequestTranscode,
		Source:     sourceRef,
		Renditions: []model.Rendition{model.Rendition1080p, model.Rendition720p},
	})
	require.NoError(t, err)

	job, err := s.ClaimNext(ctx, "w1", time.Now())
	require.NoError(t, err)
	_, err = store.Transition(ctx, s, job.JobID, model.JobFailed, model.REncoderFailed, "boom")
	require.NoError(t, err)

	st, err := c.Status(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestFailed, st.State)
}

func TestStatus_UnknownRequest(t *testing.T) {
	c, _ := newTestCoordinator(t)
	_, err := c.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCancel_FailsUnclaimedJobsImmediately(t *testing.T) {
	c, s := newTestCoordinator(t, sourceRef)
	ctx := context.Background()

	req, err := c.Submit(ctx, &model.RequestSpec{
		Kind:   model.RequestTrim,
		Source: sourceRef,
		Trim:   &model.TrimParams{StartSec: 0, EndSec: 5},
	})
	require.NoError(t, err)

	st, err := c.Cancel(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestFailed, st.State)

	job, err := s.GetJob(ctx, req.JobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, job.State)
	assert.Equal(t, model.RCancelled, job.Reason)
}

func TestCancel_FlagsRunningJobs(t *testing.T) {
	c, s := newTestCoordinator(t, sourceRef)
	ctx := context.Background()

	req, err := c.Submit(ctx, &model.RequestSpec{
		Kind:   model.RequestTrim,
		Source: sourceRef,
		Trim:   &model.TrimParams{StartSec: 0, EndSec: 5},
	})
	require.NoError(t, err)

	_, err = s.ClaimNext(ctx, "w1", time.Now())
	require.NoError(t, err)

	_, err = c.Cancel(ctx, req.RequestID)
	require.NoError(t, err)

	job, err := s.GetJob(ctx, req.JobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.JobRunning, job.State, "running jobs are flagged, not force-failed")
	assert.True(t, job.CancelRequested)
}

func TestCancel_IsIdempotentOnTerminalJobs(t *testing.T) {
	c, s := newTestCoordinator(t, sourceRef)
	ctx := context.Background()

	req, err := c.Submit(ctx, &model.RequestSpec{
		Kind:   model.RequestTrim,
		Source: sourceRef,
		Trim:   &model.TrimParams{StartSec: 0, EndSec: 5},
	})
	require.NoError(t, err)

	job, err := s.ClaimNext(ctx, "w1", time.Now())
	require.NoError(t, err)
	_, err = store.Transition(ctx, s, job.JobID, model.JobSucceeded, model.RNone, "")
	require.NoError(t, err)

	st, err := c.Cancel(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestSucceeded, st.State)

	got, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobSucceeded, got.State)
	assert.False(t, got.CancelRequested)
}
