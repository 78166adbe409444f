package migration

import (
	"context"
	"errors"
)

// Process exit codes. Each error class keeps its code across releases so
// scripts can branch on them.
const (
	ExitOK         = 0
	ExitUnexpected = 1
	ExitUsage      = 2
	ExitValidation = 3
	ExitDrift      = 4
	ExitLockBusy   = 5
	ExitExecution  = 6
)

// ErrorKind maps sentinel and typed errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrLockBusy):
		return "lock_busy"
	case errors.Is(err, ErrDriftDetected):
		return "drift"
	case errors.Is(err, ErrExecutionFailed):
		return "execution"
	case errors.Is(err, ErrInvalidMigrationFile):
		return "parse"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	return "unexpected"
}

// ExitCode maps an error to the process exit status for its class.
func ExitCode(err error) int {
	switch ErrorKind(err) {
	case "":
		return ExitOK
	case "validation", "parse":
		return ExitValidation
	case "drift":
		return ExitDrift
	case "lock_busy":
		return ExitLockBusy
	case "execution":
		return ExitExecution
	default:
		return ExitUnexpected
	}
}
