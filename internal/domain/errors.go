package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable identifier of an engine failure.
type ErrorCode string

const (
	CodeNotFound            ErrorCode = "not_found"
	CodeInvalidTransition   ErrorCode = "invalid_transition"
	CodeMissingPrerequisite ErrorCode = "missing_prerequisite"
	CodeTerminalState       ErrorCode = "terminal_state"
	CodeConcurrencyConflict ErrorCode = "concurrency_conflict"
	CodeValidation          ErrorCode = "validation_error"
	CodeInternal            ErrorCode = "internal_error"
)

// NotFoundError indicates a referenced entity is absent.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (NotFoundError) Code() ErrorCode { return CodeNotFound }

// InvalidTransitionError indicates the target is not adjacent to the current state.
type InvalidTransitionError struct {
	Resource string
	From     string
	To       string
	Reason   string
}

func (e InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s in status %s: %s", e.resource(), e.From, e.Reason)
	}
	if e.From == e.To {
		return fmt.Sprintf("%s already in status %s", e.resource(), e.From)
	}
	return fmt.Sprintf("invalid %s transition %s -> %s", e.resource(), e.From, e.To)
}

func (e InvalidTransitionError) resource() string {
	if e.Resource == "" {
		return "report"
	}
	return e.Resource
}

func (InvalidTransitionError) Code() ErrorCode { return CodeInvalidTransition }

// MissingPrerequisiteError indicates a required department/officer binding is absent.
type MissingPrerequisiteError struct {
	Requirement string
	Target      string
}

func (e MissingPrerequisiteError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s required", e.Requirement)
	}
	return fmt.Sprintf("%s required before %s", e.Requirement, e.Target)
}

func (MissingPrerequisiteError) Code() ErrorCode { return CodeMissingPrerequisite }

// TerminalStateError indicates a mutation on a closed report outside the reopen path.
type TerminalStateError struct {
	Resource string
	Status   string
}

func (e TerminalStateError) Error() string {
	resource := e.Resource
	if resource == "" {
		resource = "report"
	}
	return fmt.Sprintf("%s is in terminal status %s", resource, e.Status)
}

func (TerminalStateError) Code() ErrorCode { return CodeTerminalState }

// ConcurrencyConflictError indicates a stale or contended write lost the race.
type ConcurrencyConflictError struct {
	Resource string
	ID       string
}

func (e ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently; retry", e.Resource, e.ID)
}

func (ConcurrencyConflictError) Code() ErrorCode { return CodeConcurrencyConflict }

// ValidationError indicates malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (ValidationError) Code() ErrorCode { return CodeValidation }

// InternalError wraps a failure that has no domain meaning, such as a
// storage error. The cause stays reachable through Unwrap for logging.
type InternalError struct {
	Op  string
	Err error
}

func (e InternalError) Error() string {
	if e.Err == nil {
		return e.Op + ": internal error"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e InternalError) Unwrap() error { return e.Err }

func (InternalError) Code() ErrorCode { return CodeInternal }

type coded interface {
	error
	Code() ErrorCode
}

// CodeOf returns the typed code carried by err, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var c coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeInternal
}
