package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/existflow/todosync/internal/datastore"
	"github.com/existflow/todosync/internal/logger"
	"github.com/existflow/todosync/internal/model"
)

// flushTimeout bounds the push a command does before exiting
const flushTimeout = 10 * time.Second

// flush pushes the outbox before the process exits. A command's write
// already succeeded locally, so an offline endpoint is only reported.
func flush(ctx context.Context, f *datastore.Facade) {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	result, err := f.Sync(ctx)
	if errors.Is(err, model.ErrNotInitialized) || errors.Is(err, model.ErrSchemaMismatch) {
		return
	}
	if err != nil {
		logger.Warn("Sync after write failed", logger.F("error", err))
		return
	}
	if result.Offline {
		fmt.Printf("📴 Offline: %d change(s) queued locally\n", result.Pending)
	}
}

// MaybeSync pulls remote changes before a read when requested
func MaybeSync(ctx context.Context, f *datastore.Facade, force bool) {
	if !force {
		return
	}
	result, err := f.Sync(ctx)
	if err != nil {
		fmt.Printf("⚠️  Sync failed: %v\n", err)
		return
	}
	if result.Offline {
		fmt.Println("📴 Offline: showing local data")
	}
}

func describeResult(r model.SyncResult) string {
	s := fmt.Sprintf("Pushed: %d, Pulled: %d", r.Pushed, r.Pulled)
	if r.Conflicts > 0 {
		s += fmt.Sprintf(", Conflicts: %d", r.Conflicts)
	}
	if r.Rejected > 0 {
		s += fmt.Sprintf(", Rejected: %d", r.Rejected)
	}
	if r.Pending > 0 {
		s += fmt.Sprintf(", Pending: %d", r.Pending)
	}
	return s
}
