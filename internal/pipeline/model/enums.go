// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package model defines the records and state machine of the processing pipeline.
package model

// JobState is the durable lifecycle of a single job.
type JobState string

const (
	JobPending   JobState = "PENDING"
	JobRunning   JobState = "RUNNING"
	JobRetrying  JobState = "RETRYING"
	JobSucceeded JobState = "SUCCEEDED"
	JobFailed    JobState = "FAILED"
)

// IsTerminal returns true if the state has no outbound transitions.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobSucceeded, JobFailed:
		return true
	}
	return false
}

// legalTransitions is the closed edge set of the job state machine.
var legalTransitions = map[JobState][]JobState{
	JobPending:  {JobRunning},
	JobRunning:  {JobSucceeded, JobRetrying, JobFailed},
	JobRetrying: {JobPending},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to JobState) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RequestState is the client-visible aggregate over a request's child jobs.
// It is always derived, never stored.
type RequestState string

const (
	RequestRunning   RequestState = "RUNNING"
	RequestSucceeded RequestState = "SUCCEEDED"
	RequestFailed    RequestState = "FAILED"
)

// AggregateState derives the request state from its child jobs: FAILED if any
// child is terminally failed, SUCCEEDED only if all children succeeded,
// RUNNING otherwise.
func AggregateState(jobs []*JobRecord) RequestState {
	if len(jobs) == 0 {
		return RequestRunning
	}
	allSucceeded := true
	for _, j := range jobs {
		switch j.State {
		case JobFailed:
			return RequestFailed
		case JobSucceeded:
		default:
			allSucceeded = false
		}
	}
	if allSucceeded {
		return RequestSucceeded
	}
	return RequestRunning
}

// ReasonCode is a compact, typed failure/decision signal.
// Keep these stable: metrics and client UX depend on them.
type ReasonCode string

const (
	RNone          ReasonCode = "R_NONE"
	RBadRequest    ReasonCode = "R_BAD_REQUEST"
	RAssetNotFound ReasonCode = "R_ASSET_NOT_FOUND"
	REncoderFailed ReasonCode = "R_ENCODER_FAILED"
	RTimeout       ReasonCode = "R_TIMEOUT"
	RIOError       ReasonCode = "R_IO_ERROR"
	RCancelled     ReasonCode = "R_CANCELLED"
	RCrashRecovery ReasonCode = "R_CRASH_RECOVERY"
)

// Retryable reports whether a failure class may consume a retry attempt.
// Missing assets and bad requests fail immediately; encoder exits, timeouts
// and IO failures are transient.
func (r ReasonCode) Retryable() bool {
	switch r {
	case REncoderFailed, RTimeout, RIOError, RCrashRecovery:
		return true
	}
	return false
}
