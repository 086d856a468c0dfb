package datastore

import "github.com/existflow/todosync/internal/model"

// Error kinds returned by the facade, re-exported for callers that only
// import this package
var (
	ErrNotInitialized       = model.ErrNotInitialized
	ErrInitializationFailed = model.ErrInitializationFailed
	ErrSchemaMismatch       = model.ErrSchemaMismatch
	ErrRemoteRejected       = model.ErrRemoteRejected
	ErrVersionConflict      = model.ErrVersionConflict
	ErrStreamTerminated     = model.ErrStreamTerminated
	ErrNotFound             = model.ErrNotFound
	ErrInvalidRecord        = model.ErrInvalidRecord
)
