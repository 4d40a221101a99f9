package shared

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/techscreen/internal/domain"
)

// conflictRetryDelay spaces the single retry so the competing writer can commit.
const conflictRetryDelay = 50 * time.Millisecond

// RetryOnConflict runs fn and, if it fails with domain.ErrPersistenceConflict,
// runs it exactly once more. A second conflict is returned to the caller.
func RetryOnConflict(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if !errors.Is(err, domain.ErrPersistenceConflict) {
		return err
	}

	slog.Debug("Persistence conflict, retrying once", "op", op, "error", err)

	timer := time.NewTimer(conflictRetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return err
	case <-timer.C:
	}

	return fn()
}
