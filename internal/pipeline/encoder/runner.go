// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/clipforge/internal/assets"
	"github.com/ManuGH/clipforge/internal/fsutil"
	clog "github.com/ManuGH/clipforge/internal/log"
	"github.com/ManuGH/clipforge/internal/pipeline/model"
	"github.com/ManuGH/clipforge/internal/procgroup"
)

// Result describes a successfully produced output file.
type Result struct {
	OutputName  string
	OutputPath  string
	DurationSec float64
	SizeBytes   int64
}

// Adapter runs one encoder process per operation. It resolves inputs through
// the asset store, writes to a temp path and promotes the output with a rename
// on success, so a killed or failed run never leaves a partial file in the
// output directory.
type Adapter struct {
	bin      string
	probeBin string
	store    *assets.Store
	timeout  time.Duration
	log      zerolog.Logger
}

func NewAdapter(bin, probeBin string, store *assets.Store, timeout time.Duration) *Adapter {
	return &Adapter{
		bin:      bin,
		probeBin: probeBin,
		store:    store,
		timeout:  timeout,
		log:      clog.WithComponent("encoder"),
	}
}

// Execute runs op to completion. prevOutput is the absolute path of the
// preceding operation's output within the same job; it serves as the primary
// input when op carries no input reference of its own.
func (a *Adapter) Execute(ctx context.Context, op model.Operation, prevOutput string) (*Result, error) {
	inputPath, err := a.resolveInput(op, prevOutput)
	if err != nil {
		return nil, err
	}

	var overlayPath string
	if op.Kind == model.OpOverlay {
		switch op.Overlay.Content {
		case model.OverlayImage, model.OverlayVideo:
			overlayPath, err = a.store.Resolve(op.Overlay.Overlay)
			if err != nil {
				return nil, err
			}
		}
	}

	outDir, err := a.store.Dir(model.AssetOutput)
	if err != nil {
		return nil, &IOError{Op: "resolve output dir", Err: err}
	}
	name := outputName(op)
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(a.store.TempDir(), name+".part")

	args, err := BuildArgs(op, inputPath, overlayPath, tmpPath)
	if err != nil {
		return nil, err
	}

	if err := a.run(ctx, args); err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, &IOError{Op: "promote output", Err: err}
	}

	res := &Result{OutputName: name, OutputPath: finalPath}
	if info, err := os.Stat(finalPath); err == nil {
		res.SizeBytes = info.Size()
	}
	// Probe failures degrade to a zero duration rather than failing the job.
	if dur, err := a.ProbeDuration(ctx, finalPath); err == nil {
		res.DurationSec = dur
	} else {
		a.log.Warn().Err(err).Str(clog.FieldPath, finalPath).Msg("output probe failed")
	}
	return res, nil
}

func (a *Adapter) resolveInput(op model.Operation, prevOutput string) (string, error) {
	if op.Input.IsZero() {
		if prevOutput == "" {
			return "", &IOError{Op: "resolve input", Err: errors.New("no input reference and no preceding output")}
		}
		if err := fsutil.IsRegularFile(prevOutput); err != nil {
			return "", &IOError{Op: "resolve input", Err: err}
		}
		return prevOutput, nil
	}
	return a.store.Resolve(op.Input)
}

func (a *Adapter) run(ctx context.Context, args []string) error {
	runCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	full := append([]string{"-nostdin", "-hide_banner", "-y"}, args...)
	cmd := exec.CommandContext(runCtx, a.bin, full...)
	ring := newLineRing(40)
	cmd.Stderr = ring
	// Kill the whole group on cancel so a wrapped or forking encoder cannot
	// keep the stderr pipe open past the budget. WaitDelay bounds the pipe
	// drain for anything that escapes the group.
	procgroup.Set(cmd)
	cmd.Cancel = func() error { return procgroup.Kill(cmd) }
	cmd.WaitDelay = 3 * time.Second

	a.log.Debug().Strs("args", full).Msg("encoder spawn")
	start := time.Now()
	err := cmd.Run()
	if err == nil {
		a.log.Debug().Dur("elapsed", time.Since(start)).Msg("encoder done")
		return nil
	}

	if ctx.Err() != nil {
		return context.Canceled
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return &TimeoutError{Budget: a.timeout}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &EncoderError{ExitCode: exitErr.ExitCode(), StderrTail: ring.Tail(10)}
	}
	return &IOError{Op: "spawn encoder", Err: err}
}

func outputName(op model.Operation) string {
	prefix := "out"
	switch op.Kind {
	case model.OpTrim:
		prefix = "trimmed"
	case model.OpTranscode:
		prefix = string(op.Transcode.Rendition)
	case model.OpOverlay:
		switch op.Overlay.Content {
		case model.OverlayImage:
			prefix = "with_image"
		case model.OverlayVideo:
			prefix = "with_broll"
		case model.OverlayText:
			prefix = "with_text"
		}
	}
	return fmt.Sprintf("%s_%s.mp4", prefix, uuid.NewString()[:8])
}
