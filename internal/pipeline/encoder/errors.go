// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package encoder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/clipforge/internal/assets"
	"github.com/ManuGH/clipforge/internal/pipeline/model"
)

// EncoderError reports a non-zero encoder exit. The stderr tail is carried so
// it can be attached to the job's last-error field.
type EncoderError struct {
	ExitCode   int
	StderrTail string
}

func (e *EncoderError) Error() string {
	return fmt.Sprintf("encoder exited with code %d: %s", e.ExitCode, e.StderrTail)
}

// TimeoutError reports that the encoder exceeded its wall-clock budget.
type TimeoutError struct {
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("encoder exceeded %s budget", e.Budget)
}

// IOError reports a filesystem failure around the encoder invocation.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// ReasonFor maps an execution error onto the pipeline's failure taxonomy.
func ReasonFor(err error) model.ReasonCode {
	var encErr *EncoderError
	var toErr *TimeoutError
	var ioErr *IOError
	switch {
	case err == nil:
		return model.RNone
	case errors.Is(err, assets.ErrNotFound):
		return model.RAssetNotFound
	case errors.Is(err, context.Canceled):
		return model.RCancelled
	case errors.As(err, &toErr):
		return model.RTimeout
	case errors.As(err, &encErr):
		return model.REncoderFailed
	case errors.As(err, &ioErr):
		return model.RIOError
	default:
		return model.RIOError
	}
}
