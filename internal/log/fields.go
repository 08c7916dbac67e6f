// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldAssetID   = "asset_id"
	FieldOwner     = "owner"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldOperation = "operation"
	FieldAttempt   = "attempt"
	FieldSlot      = "slot"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"

	// Path fields
	FieldPath       = "path"
	FieldOutputPath = "output_path"
)
