// Package clihelp is the single place that turns an error into the CLI
// contract spec.md §6/§7 demands: a one-sentence cause, a one-sentence
// remedy, and a process exit code. Every other package returns typed
// errors; only this package knows how to print them.
package clihelp

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/atlasbridge/atlasbridge/internal/daemonctl"
	"github.com/atlasbridge/atlasbridge/internal/domain"
)

// Render turns err into the two-line message the CLI writes to stderr
// and the process exit code main() should return. A nil err renders
// the empty string and ExitOK.
func Render(err error) (string, domain.ExitCode) {
	if err == nil {
		return "", domain.ExitOK
	}

	var relayErr domain.RelayError
	if errors.As(err, &relayErr) {
		return fmt.Sprintf("%s\n%s", relayErr.Cause(), relayErr.Remedy()), relayErr.ExitCode()
	}

	var alreadyRunning *daemonctl.AlreadyRunningError
	if errors.As(err, &alreadyRunning) {
		return fmt.Sprintf("%s\n%s", "a daemon instance is already running", "stop it first with 'atlasbridge stop', or check for a stale daemon.pid"), domain.ExitConfig
	}

	if errors.Is(err, context.Canceled) {
		return fmt.Sprintf("%s\n%s", "the operation was interrupted", "re-run the command if this was unexpected"), domain.ExitInterrupted
	}

	if os.IsPermission(err) {
		return fmt.Sprintf("%s\n%s", "a required file or directory is not accessible", "check ownership and permissions on the data directory"), domain.ExitPermission
	}

	return fmt.Sprintf("%s\n%s", err.Error(), "this is an unclassified error; check the logs for more detail"), domain.ExitGeneral
}

// ExitProcess prints Render's output to stderr and returns the exit
// code for main() to pass to os.Exit. Kept separate from Render so
// tests can assert on the (message, code) pair without touching stderr.
func ExitProcess(err error) domain.ExitCode {
	msg, code := Render(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	return code
}
