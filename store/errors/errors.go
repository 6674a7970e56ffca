// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package errors

import (
	"errors"
	"fmt"
	"log/slog"
)

type (
	// Argument errors indicate an invalid argument.
	Argument struct {
		Name  string
		Value any
	}

	// Payload errors indicate a malformed or unexpected stored value.
	Payload string

	// Unavailable errors indicate that the store could not be reached or that
	// an established subscription was lost.
	Unavailable struct {
		Op   string
		Path string
		Err  error
	}
)

var (
	ErrArgument    = errors.New("invalid argument")
	ErrPayload     = errors.New("malformed payload")
	ErrUnavailable = errors.New("store unavailable")
	ErrClosed      = errors.New("store closed")
)

func (e Argument) Error() string {
	return fmt.Sprintf("%s: %s=%v", ErrArgument, e.Name, e.Value)
}

func (Argument) Unwrap() error {
	return ErrArgument
}

func (e Payload) Error() string {
	return fmt.Sprintf("%s: %s", ErrPayload, string(e))
}

func (Payload) Unwrap() error {
	return ErrPayload
}

// PayloadError formats a payload error.
func PayloadError(msg string, args ...any) Payload {
	return Payload(fmt.Sprintf(msg, args...))
}

func (e *Unavailable) Error() string {
	msg := fmt.Sprintf("%s: %s %s", ErrUnavailable, e.Op, e.Path)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Unavailable) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUnavailable}
	}
	return []error{ErrUnavailable, e.Err}
}

// Attrs exposes the failed operation to structured logging.
func (e *Unavailable) Attrs() []slog.Attr {
	return []slog.Attr{
		slog.String("op", e.Op),
		slog.String("path", e.Path),
	}
}
