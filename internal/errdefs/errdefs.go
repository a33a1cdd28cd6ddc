// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package errdefs defines the error taxonomy shared across the model
// lifecycle engine. Callers match categories with errors.Is against the
// sentinel values; the typed errors carry the entity name and reason so
// user-facing messages never degrade to a bare generic failure.
package errdefs

import (
	"errors"
	"fmt"
)

// Category sentinels. Typed errors below resolve to one of these via
// errors.Is.
var (
	// ErrNotFound indicates a named entity (model, label file, runtime
	// executable) is absent.
	ErrNotFound = errors.New("tagsense: not found")

	// ErrInvalidState indicates an entity exists but is unusable
	// (empty label file, zero-output inference, incomplete descriptor).
	ErrInvalidState = errors.New("tagsense: invalid state")

	// ErrExternalProcess indicates a subprocess exited non-zero.
	ErrExternalProcess = errors.New("tagsense: external process failed")

	// ErrNetwork indicates an HTTP failure: transport error, non-2xx
	// status, or a malformed JSON body.
	ErrNetwork = errors.New("tagsense: network failure")

	// ErrValidation indicates a produced artifact failed post checks.
	ErrValidation = errors.New("tagsense: validation failed")
)

// NotFoundError reports an absent entity by kind and name.
type NotFoundError struct {
	// Kind is the entity class, e.g. "model", "label file", "runtime".
	Kind string
	// Name identifies the missing entity.
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound constructs a NotFoundError.
func NotFound(kind, name string) error {
	return &NotFoundError{Kind: kind, Name: name}
}

// InvalidStateError reports an entity in a state that prevents the
// requested operation.
type InvalidStateError struct {
	Entity string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Entity, e.Reason)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// InvalidState constructs an InvalidStateError.
func InvalidState(entity, reason string) error {
	return &InvalidStateError{Entity: entity, Reason: reason}
}

// ExternalProcessError reports a failed subprocess with its captured
// standard error attached for diagnosis.
type ExternalProcessError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExternalProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, e.Stderr)
}

func (e *ExternalProcessError) Unwrap() error { return ErrExternalProcess }

// NetworkError reports an HTTP-level failure. Status is zero when the
// request never produced a response.
type NetworkError struct {
	URL    string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Err != nil && e.Status > 0:
		return fmt.Sprintf("request to %s failed with status %d: %v", e.URL, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("request to %s failed with status %d", e.URL, e.Status)
	}
}

// Unwrap exposes the transport cause so callers can reach context errors
// (e.g. context.Canceled) through the chain.
func (e *NetworkError) Unwrap() error { return e.Err }

// Is matches the ErrNetwork category.
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// ValidationError reports a produced artifact that failed its post checks.
type ValidationError struct {
	Artifact string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation of %s failed: %s", e.Artifact, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Validation constructs a ValidationError.
func Validation(artifact, reason string) error {
	return &ValidationError{Artifact: artifact, Reason: reason}
}
