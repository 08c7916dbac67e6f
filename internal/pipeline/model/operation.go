// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import "fmt"

// AssetKind partitions the asset namespace. Each kind maps to its own
// directory under the asset root.
type AssetKind string

const (
	AssetSource       AssetKind = "source"
	AssetWatermark    AssetKind = "watermark"
	AssetOverlayVideo AssetKind = "overlay_video"
	AssetOverlayImage AssetKind = "overlay_image"
	AssetOutput       AssetKind = "output"
)

// AssetRef is a logical reference to a stored file. The ID is the file name
// within the kind's directory; resolution happens in the asset store.
type AssetRef struct {
	Kind AssetKind `json:"kind"`
	ID   string    `json:"id"`
}

func (r AssetRef) IsZero() bool { return r.ID == "" }

// AssetRecord describes a registered asset. Immutable once created except for
// output assets, which are created on job completion.
type AssetRecord struct {
	ID            string    `json:"id"`
	Kind          AssetKind `json:"kind"`
	Path          string    `json:"path"`
	SizeBytes     int64     `json:"sizeBytes,omitempty"`
	DurationSec   float64   `json:"durationSec,omitempty"`
	DerivedFrom   string    `json:"derivedFrom,omitempty"`
	CreatedAtUnix int64     `json:"createdAtUnix"`
}

// OperationKind enumerates the closed set of encode steps.
type OperationKind string

const (
	OpTrim      OperationKind = "trim"
	OpOverlay   OperationKind = "overlay"
	OpTranscode OperationKind = "transcode"
)

// OverlayContent selects what gets composited onto the base video.
type OverlayContent string

const (
	OverlayImage OverlayContent = "image"
	OverlayVideo OverlayContent = "video"
	OverlayText  OverlayContent = "text"
)

// Position names the five supported overlay anchor points.
type Position string

const (
	PosTopLeft     Position = "top-left"
	PosTopRight    Position = "top-right"
	PosBottomLeft  Position = "bottom-left"
	PosBottomRight Position = "bottom-right"
	PosCenter      Position = "center"
)

// Valid reports whether p is one of the supported anchor points.
func (p Position) Valid() bool {
	switch p {
	case PosTopLeft, PosTopRight, PosBottomLeft, PosBottomRight, PosCenter:
		return true
	}
	return false
}

// Rendition is a target output quality level.
type Rendition string

const (
	Rendition1080p Rendition = "1080p"
	Rendition720p  Rendition = "720p"
	Rendition480p  Rendition = "480p"
)

// Valid reports whether r is a supported rendition.
func (r Rendition) Valid() bool {
	switch r {
	case Rendition1080p, Rendition720p, Rendition480p:
		return true
	}
	return false
}

// TrimParams selects a [start, end) window in seconds.
type TrimParams struct {
	StartSec float64 `json:"startSec"`
	EndSec   float64 `json:"endSec"`
}

// OverlayParams composites an image, a video or drawn text onto the base.
// For image/video content Overlay references the composited asset; for text
// content Text/FontSize/FontColor apply instead. A WindowEndSec > 0 limits the
// overlay to the [WindowStartSec, WindowEndSec] interval.
type OverlayParams struct {
	Content        OverlayContent `json:"content"`
	Overlay        AssetRef       `json:"overlay,omitempty"`
	Text           string         `json:"text,omitempty"`
	FontSize       int            `json:"fontSize,omitempty"`
	FontColor      string         `json:"fontColor,omitempty"`
	Position       Position       `json:"position"`
	WindowStartSec float64        `json:"windowStartSec,omitempty"`
	WindowEndSec   float64        `json:"windowEndSec,omitempty"`
}

// TranscodeParams selects the target rendition.
type TranscodeParams struct {
	Rendition Rendition `json:"rendition"`
}

// Operation is one unit of encoder work: a tagged variant over trim, overlay
// and transcode. Input is the primary input asset; a zero Input means "the
// output of the previous operation in the job's sequence".
type Operation struct {
	Kind      OperationKind    `json:"kind"`
	Input     AssetRef         `json:"input,omitempty"`
	Trim      *TrimParams      `json:"trim,omitempty"`
	Overlay   *OverlayParams   `json:"overlay,omitempty"`
	Transcode *TranscodeParams `json:"transcode,omitempty"`
}

// Validate checks that exactly the parameter set matching Kind is present and
// well-formed. Operation parameters are statically enumerable, so every kind's
// requirements are checked at submission time.
func (op Operation) Validate() error {
	switch op.Kind {
	case OpTrim:
		if op.Trim == nil || op.Overlay != nil || op.Transcode != nil {
			return fmt.Errorf("trim operation requires exactly trim params")
		}
		if op.Trim.StartSec < 0 || op.Trim.EndSec <= op.Trim.StartSec {
			return fmt.Errorf("invalid trim window [%v, %v)", op.Trim.StartSec, op.Trim.EndSec)
		}
	case OpOverlay:
		if op.Overlay == nil || op.Trim != nil || op.Transcode != nil {
			return fmt.Errorf("overlay operation requires exactly overlay params")
		}
		if !op.Overlay.Position.Valid() {
			return fmt.Errorf("invalid overlay position %q", op.Overlay.Position)
		}
		switch op.Overlay.Content {
		case OverlayImage, OverlayVideo:
			if op.Overlay.Overlay.IsZero() {
				return fmt.Errorf("%s overlay requires an overlay asset", op.Overlay.Content)
			}
		case OverlayText:
			if op.Overlay.Text == "" {
				return fmt.Errorf("text overlay requires text")
			}
		default:
			return fmt.Errorf("invalid overlay content %q", op.Overlay.Content)
		}
		if op.Overlay.WindowEndSec > 0 && op.Overlay.WindowEndSec <= op.Overlay.WindowStartSec {
			return fmt.Errorf("invalid overlay window [%v, %v]", op.Overlay.WindowStartSec, op.Overlay.WindowEndSec)
		}
	case OpTranscode:
		if op.Transcode == nil || op.Trim != nil || op.Overlay != nil {
			return fmt.Errorf("transcode operation requires exactly transcode params")
		}
		if !op.Transcode.Rendition.Valid() {
			return fmt.Errorf("invalid rendition %q", op.Transcode.Rendition)
		}
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	return nil
}

// InputRefs lists every asset reference the operation needs resolvable before
// it may run. The primary input is omitted when it is the previous operation's
// output.
func (op Operation) InputRefs() []AssetRef {
	var refs []AssetRef
	if !op.Input.IsZero() {
		refs = append(refs, op.Input)
	}
	if op.Kind == OpOverlay && op.Overlay != nil && !op.Overlay.Overlay.IsZero() {
		refs = append(refs, op.Overlay.Overlay)
	}
	return refs
}
