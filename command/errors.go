// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package command

import (
	"log/slog"
	"time"
)

type (
	// Error is the failure of a single dispatch.
	Error struct {
		Message string
		Kind    Kind
		Command string

		TimeoutValue time.Duration

		Nested error
	}

	// Kind classifies a dispatch failure.
	Kind int
)

// The following are the defined error kinds.
const (
	// WriteFailed means the command was never written; no acknowledgment
	// watch was opened.
	WriteFailed Kind = iota

	// WatchFailed means the command was written but watching for the
	// acknowledgment failed or was lost.
	WatchFailed

	// Timeout means no acknowledgment arrived in time.
	Timeout

	// Cancelled means the caller's context ended or the dispatcher closed.
	Cancelled

	// Busy means another dispatch held the command path.
	Busy

	// Argument means the command token was unusable.
	Argument
)

func (k Kind) String() string {
	switch k {
	case WriteFailed:
		return "write failed"
	case WatchFailed:
		return "watch failed"
	case Timeout:
		return "timeout"
	case Cancelled:
		return "cancelled"
	case Busy:
		return "busy"
	case Argument:
		return "invalid argument"
	default:
		return "unknown"
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Nested != nil {
		msg += ": " + e.Nested.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Nested
}

// Attrs exposes the error detail to structured logging.
func (e *Error) Attrs() []slog.Attr {
	a := []slog.Attr{
		slog.String("kind", e.Kind.String()),
		slog.String("command", e.Command),
	}
	if e.Kind == Timeout {
		a = append(a, slog.Duration("timeout", e.TimeoutValue))
	}
	return a
}
