// Package reload implements the full-environment reload trigger: replacing
// the current host process with a fresh copy of itself so the new process
// fetches the current manifest instead of the stale one the old process
// was holding.
package reload

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// Reloader triggers a full reload of the hosting environment. Fire and
// forget: once invoked the process is expected to be torn down and
// replaced, so callers must not plan for life after a successful call.
type Reloader interface {
	Reload() error
}

// Func adapts a plain function to a Reloader (tests, embedded hosts)
type Func func() error

func (f Func) Reload() error { return f() }

// ExecReloader replaces the current process image with a re-execution of
// the same binary, argv, and environment. The session ID variable is part
// of the environment, so the replacement continues the session and sees
// the recovery flag the dying process wrote.
type ExecReloader struct {
	// PreReload, when set, runs before the exec (flush logs, deregister
	// from the server). Its error is logged by the caller, not fatal.
	PreReload func() error
}

// Reload re-executes the current binary. On platforms where exec is not
// available it falls back to spawning a child and exiting. It only
// returns on failure to start the replacement.
func (r *ExecReloader) Reload() error {
	if r.PreReload != nil {
		_ = r.PreReload()
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable for reload: %w", err)
	}

	if err := syscall.Exec(self, os.Args, os.Environ()); err != nil {
		// exec failed (e.g. unsupported platform): degrade to fork+exit.
		cmd := exec.Command(self, os.Args[1:]...)
		cmd.Env = os.Environ()
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if serr := cmd.Start(); serr != nil {
			return fmt.Errorf("failed to restart process: %w", serr)
		}
		os.Exit(0)
	}
	return nil
}
