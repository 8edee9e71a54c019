// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ErrorKind classifies why a position source could not deliver a sample.
type ErrorKind int

const (
	ErrorUnavailable ErrorKind = iota
	ErrorPermissionDenied
	ErrorTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorPermissionDenied:
		return "permission denied"
	case ErrorTimeout:
		return "timeout"
	default:
		return "unavailable"
	}
}

var (
	ErrPermissionDenied = &PositionError{Kind: ErrorPermissionDenied}
	ErrTimeout          = &PositionError{Kind: ErrorTimeout}
	ErrUnavailable      = &PositionError{Kind: ErrorUnavailable}
)

// PositionError is delivered through the stream in place of a sample. It never terminates the stream.
type PositionError struct {
	Kind   ErrorKind
	Source string
	Err    error
}

// NewPositionError wraps err for the given source and derives the error kind from it.
func NewPositionError(source string, err error) *PositionError {
	return &PositionError{Kind: Classify(err), Source: source, Err: err}
}

func (e *PositionError) Error() string {
	switch {
	case e.Source != "" && e.Err != nil:
		return fmt.Sprintf("position source %s: %s: %s", e.Source, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("position %s: %s", e.Kind, e.Err)
	case e.Source != "":
		return fmt.Sprintf("position source %s: %s", e.Source, e.Kind)
	}
	return "position " + e.Kind.String()
}

func (e *PositionError) Unwrap() error {
	return e.Err
}

// Is reports a match for any PositionError of the same kind, so errors.Is(err, ErrTimeout) works.
func (e *PositionError) Is(target error) bool {
	var other *PositionError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Classify maps common OS and context errors to an ErrorKind.
func Classify(err error) ErrorKind {
	var perr *PositionError
	switch {
	case err == nil:
		return ErrorUnavailable
	case errors.As(err, &perr):
		return perr.Kind
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ErrorTimeout
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EPERM), errors.Is(err, syscall.EACCES):
		return ErrorPermissionDenied
	}
	var terr interface{ Timeout() bool }
	if errors.As(err, &terr) && terr.Timeout() {
		return ErrorTimeout
	}
	return ErrorUnavailable
}
