// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build !unix

package procgroup

import "os/exec"

func set(cmd *exec.Cmd) {}

func kill(cmd *exec.Cmd) error {
	// Best effort on platforms without process groups.
	return cmd.Process.Kill()
}
