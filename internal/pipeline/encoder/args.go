// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package encoder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ManuGH/clipforge/internal/pipeline/model"
)

const defaultFontFile = "/usr/share/fonts/truetype/freefont/FreeSans.ttf"

const (
	defaultFontSize  = 24
	defaultFontColor = "white"
)

// renditionSettings maps a rendition to its output resolution and video
// bitrate.
var renditionSettings = map[model.Rendition]struct {
	Resolution string
	Bitrate    string
}{
	model.Rendition1080p: {"1920x1080", "4000k"},
	model.Rendition720p:  {"1280x720", "2500k"},
	model.Rendition480p:  {"854x480", "1000k"},
}

// overlayPositions maps an anchor to the overlay filter's x:y expression in
// terms of the main and overlay dimensions, with a 10px margin.
var overlayPositions = map[model.Position]string{
	model.PosTopLeft:     "10:10",
	model.PosTopRight:    "main_w-overlay_w-10:10",
	model.PosBottomLeft:  "10:main_h-overlay_h-10",
	model.PosBottomRight: "main_w-overlay_w-10:main_h-overlay_h-10",
	model.PosCenter:      "(main_w-overlay_w)/2:(main_h-overlay_h)/2",
}

// drawtextPositions expresses the same anchors in drawtext's coordinate
// vocabulary (w/h for the frame, text_w/text_h for the rendered text).
var drawtextPositions = map[model.Position][2]string{
	model.PosTopLeft:     {"10", "10"},
	model.PosTopRight:    {"w-text_w-10", "10"},
	model.PosBottomLeft:  {"10", "h-text_h-10"},
	model.PosBottomRight: {"w-text_w-10", "h-text_h-10"},
	model.PosCenter:      {"(w-text_w)/2", "(h-text_h)/2"},
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// BuildArgs assembles the encoder argument list for one operation. Paths are
// already resolved; overlayPath is empty except for image/video overlays.
// The returned slice excludes the global prefix flags the runner prepends.
func BuildArgs(op model.Operation, inputPath, overlayPath, outputPath string) ([]string, error) {
	switch op.Kind {
	case model.OpTrim:
		return []string{
			"-i", inputPath,
			"-ss", formatSeconds(op.Trim.StartSec),
			"-to", formatSeconds(op.Trim.EndSec),
			"-c", "copy",
			outputPath,
		}, nil

	case model.OpOverlay:
		p := op.Overlay
		switch p.Content {
		case model.OverlayImage, model.OverlayVideo:
			filter := fmt.Sprintf("[0:v][1:v] overlay=%s", overlayPositions[p.Position])
			if p.WindowEndSec > 0 {
				filter += fmt.Sprintf(":enable='between(t,%s,%s)'",
					formatSeconds(p.WindowStartSec), formatSeconds(p.WindowEndSec))
			}
			filter += " [v]"
			return []string{
				"-i", inputPath,
				"-i", overlayPath,
				"-filter_complex", filter,
				"-map", "[v]",
				"-map", "0:a",
				"-c:a", "copy",
				outputPath,
			}, nil
		case model.OverlayText:
			size := p.FontSize
			if size <= 0 {
				size = defaultFontSize
			}
			color := p.FontColor
			if color == "" {
				color = defaultFontColor
			}
			xy := drawtextPositions[p.Position]
			vf := fmt.Sprintf("drawtext=text='%s':fontfile=%s:fontsize=%d:fontcolor=%s:x=%s:y=%s",
				escapeDrawtext(p.Text), defaultFontFile, size, color, xy[0], xy[1])
			return []string{
				"-i", inputPath,
				"-vf", vf,
				"-c:a", "copy",
				outputPath,
			}, nil
		default:
			return nil, fmt.Errorf("unknown overlay content %q", p.Content)
		}

	case model.OpTranscode:
		settings, ok := renditionSettings[op.Transcode.Rendition]
		if !ok {
			return nil, fmt.Errorf("unknown rendition %q", op.Transcode.Rendition)
		}
		return []string{
			"-i", inputPath,
			"-s", settings.Resolution,
			"-b:v", settings.Bitrate,
			"-c:a", "copy",
			outputPath,
		}, nil
	}
	return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
}

// escapeDrawtext neutralizes the characters drawtext treats specially inside a
// single-quoted text value.
func escapeDrawtext(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`%`, `\%`,
	)
	return r.Replace(s)
}
