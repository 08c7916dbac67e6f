// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package procgroup starts external commands in their own process group so
// that cancellation reaps the whole tree, not just the direct child. An
// encoder that shells out (or is wrapped by a launcher script) would
// otherwise leave grandchildren holding the stderr pipe open past the kill.
package procgroup

import "os/exec"

// Set configures cmd to start as a process group leader. Must be called
// before the command is started; Kill depends on it.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Kill forcibly terminates the command's entire process group. Safe to call
// on a nil or already-exited process.
func Kill(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return kill(cmd)
}
