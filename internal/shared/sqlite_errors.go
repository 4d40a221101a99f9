// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"fmt"
	"strings"

	"github.com/ashureev/techscreen/internal/domain"
)

// conflictMarkers are the driver messages for a write that lost the lock.
var conflictMarkers = []string{"SQLITE_BUSY", "database is locked", "SQLITE_LOCKED"}

// IsSQLiteConflictError reports whether err is a SQLite busy/locked failure.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range conflictMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// WrapSQLiteError annotates err with op. Busy/locked failures also wrap
// domain.ErrPersistenceConflict so callers can retry with RetryOnConflict.
func WrapSQLiteError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsSQLiteConflictError(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistenceConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
