// Package janaerr defines the semantic error kinds from spec.md §7:
// ConfigurationError, TopologyError, ResourceExhausted,
// UserComponentFailure, HierarchyMismatch, Timeout, and Shutdown.
//
// These are sentinel-wrapped error types, following the teacher's own
// pattern of typed sentinel errors (see internal/pool.ErrConcurrencyLimit
// in the original nova codebase) with errors.Is/errors.As support via
// Unwrap.
package janaerr

import (
	"errors"
	"fmt"
)

// Kind identifies which semantic error category an error belongs to.
type Kind int

const (
	KindConfiguration Kind = iota
	KindTopology
	KindResourceExhausted
	KindUserComponentFailure
	KindHierarchyMismatch
	KindTimeout
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindTopology:
		return "TopologyError"
	case KindResourceExhausted:
		return "ResourceExhausted"
	case KindUserComponentFailure:
		return "UserComponentFailure"
	case KindHierarchyMismatch:
		return "HierarchyMismatch"
	case KindTimeout:
		return "Timeout"
	case KindShutdown:
		return "Shutdown"
	default:
		return "UnknownError"
	}
}

// Error is the common error type for all engine-level failures.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is comparisons against a Kind-only sentinel built
// with New(kind, "").
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New constructs an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an *Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// UserComponentFailure enriches a caught panic/error from user Init,
// Process, Emit, etc. with the factory/component/plugin identity
// required by spec.md §7.
type UserComponentFailure struct {
	Component string // factory type name, arrow name, processor name, etc.
	Plugin    string
	Prefix    string
	Source    string
	Cause     error
}

func (e *UserComponentFailure) Error() string {
	return fmt.Sprintf("user component failure in %q (plugin=%q prefix=%q source=%q): %v",
		e.Component, e.Plugin, e.Prefix, e.Source, e.Cause)
}

func (e *UserComponentFailure) Unwrap() error { return e.Cause }

// AsJanaError reports whether err is a *Error of the given kind.
func AsJanaError(err error, kind Kind) bool {
	var je *Error
	if errors.As(err, &je) {
		return je.Kind == kind
	}
	return false
}

var (
	// ErrFrozen is returned by topology mutation methods called after Freeze.
	ErrFrozen = New(KindTopology, "topology is frozen")
	// ErrShutdown indicates a cooperative termination request in progress.
	ErrShutdown = New(KindShutdown, "shutdown requested")
)
