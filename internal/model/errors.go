package model

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the client. Match with errors.Is.
var (
	ErrNotInitialized       = errors.New("not initialized")
	ErrInitializationFailed = errors.New("initialization failed")
	ErrSchemaMismatch       = errors.New("schema mismatch")
	ErrRemoteRejected       = errors.New("remote rejected")
	ErrVersionConflict      = errors.New("version conflict")
	ErrStreamTerminated     = errors.New("stream terminated")
	ErrNotFound             = errors.New("not found")
	ErrInvalidRecord        = errors.New("invalid record")
)

// Remote error types carried in the errorType member of a response
const (
	ErrorTypeConflict     = "ConflictUnhandled"
	ErrorTypeUnauthorized = "Unauthorized"
	ErrorTypeSchema       = "SchemaMismatch"
	ErrorTypeValidation   = "ValidationError"
	ErrorTypeNotFound     = "NotFound"
	ErrorTypeInternal     = "InternalFailure"
)

// ConflictError reports that a mutation's expected version did not match the
// stored record. Current is the state the remote accepted last.
type ConflictError struct {
	Current Todo
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: remote is at version %d", e.Current.ID, e.Current.Version)
}

func (e *ConflictError) Unwrap() error {
	return ErrVersionConflict
}

// RemoteError is an error returned by the remote endpoint
type RemoteError struct {
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Type == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap maps the remote error type to a local error kind
func (e *RemoteError) Unwrap() error {
	switch e.Type {
	case ErrorTypeSchema:
		return errors.Join(ErrSchemaMismatch, ErrRemoteRejected)
	case ErrorTypeNotFound:
		return errors.Join(ErrNotFound, ErrRemoteRejected)
	case ErrorTypeConflict:
		return ErrVersionConflict
	case ErrorTypeInternal:
		return nil
	default:
		return ErrRemoteRejected
	}
}

// Retryable returns true if the failure is on the remote side and the
// mutation should stay queued
func (e *RemoteError) Retryable() bool {
	return e.Type == ErrorTypeInternal
}
