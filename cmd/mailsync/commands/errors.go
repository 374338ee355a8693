package commands

import (
	"errors"

	"github.com/mailsync/mailsync/pkg/engine"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitValidation = 2
	ExitAuth       = 3
	ExitPolicy     = 4
)

var (
	// ErrPolicyDenied is returned when a policy blocks a push.
	ErrPolicyDenied = errors.New("push denied by policy")

	// ErrChangesFailed is returned when a push resolved with failed changes.
	ErrChangesFailed = errors.New("some changes failed")

	// ErrNotConfirmed is returned when the user declines the confirmation.
	ErrNotConfirmed = errors.New("push cancelled by user")

	// ErrNonInteractive is returned when a confirmation is needed but stdin
	// is not a terminal.
	ErrNonInteractive = errors.New("confirmation required: stdin is not a terminal (use --force)")

	// ErrNoAPIKey is returned when no API key was found in any source.
	ErrNoAPIKey = errors.New("no API key: pass --api-key, set MAILSYNC_API_KEY or run 'mailsync login'")
)

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrPolicyDenied):
		return ExitPolicy
	case engine.IsAuth(err):
		return ExitAuth
	case engine.IsValidation(err):
		return ExitValidation
	default:
		return ExitFailure
	}
}
