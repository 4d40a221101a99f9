package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ashureev/techscreen/internal/domain"
)

func TestRetryOnConflictRetriesOnce(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), "test", func() error {
		calls++
		return fmt.Errorf("update: %w", domain.ErrPersistenceConflict)
	})
	if !errors.Is(err, domain.ErrPersistenceConflict) {
		t.Fatalf("expected conflict to surface, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
}

func TestRetryOnConflictSucceedsOnSecondAttempt(t *testing.T) {
	calls := 0
	err := RetryOnConflict(context.Background(), "test", func() error {
		calls++
		if calls == 1 {
			return domain.ErrPersistenceConflict
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestRetryOnConflictIgnoresOtherErrors(t *testing.T) {
	calls := 0
	want := errors.New("boom")
	err := RetryOnConflict(context.Background(), "test", func() error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected original error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-conflict errors must not be retried, got %d attempts", calls)
	}
}

func TestWrapSQLiteError(t *testing.T) {
	busy := errors.New("database is locked (5) (SQLITE_BUSY)")
	if err := WrapSQLiteError("op", busy); !errors.Is(err, domain.ErrPersistenceConflict) {
		t.Errorf("busy error should map to conflict, got %v", err)
	}
	other := errors.New("no such table")
	if err := WrapSQLiteError("op", other); errors.Is(err, domain.ErrPersistenceConflict) {
		t.Errorf("plain error must not map to conflict: %v", err)
	}
	if WrapSQLiteError("op", nil) != nil {
		t.Error("nil error should stay nil")
	}
}
