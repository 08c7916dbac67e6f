// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to JobState }{
		{JobPending, JobRunning},
		{JobRunning, JobSucceeded},
		{JobRunning, JobRetrying},
		{JobRunning, JobFailed},
		{JobRetrying, JobPending},
	}
	for _, e := range legal {
		assert.True(t, CanTransition(e.from, e.to), "%s -> %s should be legal", e.from, e.to)
	}

	illegal := []struct{ from, to JobState }{
		{JobSucceeded, JobRunning},
		{JobSucceeded, JobPending},
		{JobFailed, JobPending},
		{JobFailed, JobRunning},
		{JobPending, JobSucceeded},
		{JobPending, JobFailed},
		{JobRetrying, JobRunning},
		{JobPending, JobRetrying},
	}
	for _, e := range illegal {
		assert.False(t, CanTransition(e.from, e.to), "%s -> %s should be illegal", e.from, e.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, JobSucceeded.IsTerminal())
	assert.True(t, JobFailed.IsTerminal())
	assert.False(t, JobPending.IsTerminal())
	assert.False(t, JobRunning.IsTerminal())
	assert.False(t, JobRetrying.IsTerminal())
}

func TestAggregateState(t *testing.T) {
	job := func(s JobState) *JobRecord { return &JobRecord{State: s} }

	cases := []struct {
		name string
		jobs []*JobRecord
		want RequestState
	}{
		{"all succeeded", []*JobRecord{job(JobSucceeded), job(JobSucceeded)}, RequestSucceeded},
		{"one failed wins", []*JobRecord{job(JobSucceeded), job(JobFailed), job(JobRunning)}, RequestFailed},
		{"still running", []*JobRecord{job(JobSucceeded), job(JobPending)}, RequestRunning},
		{"retrying counts as running", []*JobRecord{job(JobRetrying)}, RequestRunning},
		{"empty", nil, RequestRunning},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AggregateState(tc.jobs))
		})
	}
}

func TestReasonRetryable(t *testing.T) {
	assert.True(t, REncoderFailed.Retryable())
	assert.True(t, RTimeout.Retryable())
	assert.True(t, RIOError.Retryable())
	assert.False(t, RAssetNotFound.Retryable())
	assert.False(t, RBadRequest.Retryable())
	assert.False(t, RCancelled.Retryable())
}

func TestOperationValidate(t *testing.T) {
	src := AssetRef{Kind: AssetSource, ID: "in.mp4"}
	wm := AssetRef{Kind: AssetWatermark, ID: "logo.png"}

	valid := []Operation{
		{Kind: OpTrim, Input: src, Trim: &TrimParams{StartSec: 5, EndSec: 10}},
		{Kind: OpOverlay, Input: src, Overlay: &OverlayParams{Content: OverlayImage, Overlay: wm, Position: PosBottomRight}},
		{Kind: OpOverlay, Input: src, Overlay: &OverlayParams{Content: OverlayText, Text: "hello", Position: PosCenter}},
		{Kind: OpOverlay, Overlay: &OverlayParams{Content: OverlayImage, Overlay: wm, Position: PosTopLeft, WindowStartSec: 1, WindowEndSec: 4}},
		{Kind: OpTranscode, Input: src, Transcode: &TranscodeParams{Rendition: Rendition720p}},
	}
	for i, op := range valid {
		assert.NoError(t, op.Validate(), "case %d", i)
	}

	invalid := []Operation{
		{Kind: OpTrim, Input: src},
		{Kind: OpTrim, Input: src, Trim: &TrimParams{StartSec: 10, EndSec: 5}},
		{Kind: OpTrim, Input: src, Trim: &TrimParams{StartSec: 0, EndSec: 5}, Transcode: &TranscodeParams{Rendition: Rendition720p}},
		{Kind: OpOverlay, Input: src, Overlay: &OverlayParams{Content: OverlayImage, Position: PosTopLeft}},
		{Kind: OpOverlay, Input: src, Overlay: &OverlayParams{Content: OverlayText, Position: PosTopLeft}},
		{Kind: OpOverlay, Input: src, Overlay: &OverlayParams{Content: OverlayImage, Overlay: wm, Position: "middle"}},
		{Kind: OpOverlay, Input: src, Overlay: &OverlayParams{Content: OverlayImage, Overlay: wm, Position: PosTopLeft, WindowStartSec: 4, WindowEndSec: 2}},
		{Kind: OpTranscode, Input: src, Transcode: &TranscodeParams{Rendition: "4k"}},
		{Kind: "resize", Input: src},
	}
	for i, op := range invalid {
		assert.Error(t, op.Validate(), "case %d", i)
	}
}

func TestOperationInputRefs(t *testing.T) {
	src := AssetRef{Kind: AssetSource, ID: "in.mp4"}
	wm := AssetRef{Kind: AssetWatermark, ID: "logo.png"}

	op := Operation{Kind: OpOverlay, Input: src, Overlay: &OverlayParams{Content: OverlayImage, Overlay: wm, Position: PosTopLeft}}
	assert.Equal(t, []AssetRef{src, wm}, op.InputRefs())

	// Chained operation: primary input comes from the previous step.
	chained := Operation{Kind: OpOverlay, Overlay: &OverlayParams{Content: OverlayImage, Overlay: wm, Position: PosTopLeft}}
	assert.Equal(t, []AssetRef{wm}, chained.InputRefs())

	text := Operation{Kind: OpOverlay, Overlay: &OverlayParams{Content: OverlayText, Text: "t", Position: PosTopLeft}}
	assert.Empty(t, text.InputRefs())
}
