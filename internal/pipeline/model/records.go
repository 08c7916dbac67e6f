// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

// JobRecord is the store's source of truth for one schedulable unit: an
// ordered operation sequence with durable lifecycle state.
type JobRecord struct {
	JobID     string `json:"jobId"`
	RequestID string `json:"requestId"`

	Operations []Operation `json:"operations"`

	State        JobState   `json:"state"`
	Reason       ReasonCode `json:"reason"`
	LastError    string     `json:"lastError,omitempty"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"maxAttempts"`
	// Recovered counts crash-recovery requeues; a stale job is requeued once,
	// after that staleness is treated as an encoder failure.
	Recovered int `json:"recovered,omitempty"`

	// Seq is assigned by the store at creation and orders FIFO claims.
	Seq uint64 `json:"seq"`

	// Owner identifies the worker currently holding the claim.
	Owner string `json:"owner,omitempty"`

	CancelRequested bool `json:"cancelRequested,omitempty"`

	OutputAssetID     string  `json:"outputAssetId,omitempty"`
	OutputPath        string  `json:"outputPath,omitempty"`
	OutputDurationSec float64 `json:"outputDurationSec,omitempty"`
	OutputSizeBytes   int64   `json:"outputSizeBytes,omitempty"`

	CreatedAtUnix   int64 `json:"createdAtUnix"`
	UpdatedAtUnix   int64 `json:"updatedAtUnix"`
	ClaimedAtUnix   int64 `json:"claimedAtUnix,omitempty"`
	HeartbeatAtUnix int64 `json:"heartbeatAtUnix,omitempty"`
	// NotBeforeUnix delays the next claim while a retry backoff elapses.
	NotBeforeUnix int64 `json:"notBeforeUnix,omitempty"`
}

// RequestKind enumerates the client-facing request shapes.
type RequestKind string

const (
	RequestTrim      RequestKind = "trim"
	RequestOverlay   RequestKind = "overlay"
	RequestTranscode RequestKind = "transcode"
	// RequestComposite runs trim then overlay as one two-operation job.
	RequestComposite RequestKind = "composite"
)

// RequestSpec is the submission payload, validated before any job is created.
type RequestSpec struct {
	Kind       RequestKind    `json:"kind"`
	Source     AssetRef       `json:"source"`
	Trim       *TrimParams    `json:"trim,omitempty"`
	Overlay    *OverlayParams `json:"overlay,omitempty"`
	Renditions []Rendition    `json:"renditions,omitempty"`
}

// RequestRecord groups the jobs created from a single client call. Aggregate
// state is derived from child job states, never stored.
type RequestRecord struct {
	RequestID     string      `json:"requestId"`
	Kind          RequestKind `json:"kind"`
	JobIDs        []string    `json:"jobIds"`
	CreatedAtUnix int64       `json:"createdAtUnix"`
}

// JobStatus is the per-job detail returned on the status boundary.
type JobStatus struct {
	JobID       string     `json:"jobId"`
	State       JobState   `json:"state"`
	Attempts    int        `json:"attempts"`
	Reason      ReasonCode `json:"reason,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	OutputAsset string     `json:"outputAsset,omitempty"`
	OutputPath  string     `json:"outputPath,omitempty"`
}

// RequestStatus is the aggregate view returned on the status boundary.
type RequestStatus struct {
	RequestID string       `json:"requestId"`
	Kind      RequestKind  `json:"kind"`
	State     RequestState `json:"state"`
	Jobs      []JobStatus  `json:"jobs"`
}
