package app

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestIsLockRelatedError verifies lock error detection for all known lock error patterns
func TestIsLockRelatedError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		shouldMatch bool
	}{
		// Lock errors that should be retried
		{
			name:        "database.ErrLocked",
			err:         errors.New("can't acquire lock"),
			shouldMatch: true,
		},
		{
			name:        "postgres advisory lock failure",
			err:         errors.New("migrate.New: failed to open database: try lock failed in line 0: SELECT pg_advisory_lock($1)"),
			shouldMatch: true,
		},
		{
			name:        "wrapped lock error",
			err:         errors.New("migration attempt 1: can't acquire lock"),
			shouldMatch: true,
		},

		// Non-lock errors that should NOT be retried
		{
			name:        "connection refused",
			err:         errors.New("connection refused"),
			shouldMatch: false,
		},
		{
			name:        "syntax error in migration",
			err:         errors.New("migration failed: syntax error at or near \"CREAT\""),
			shouldMatch: false,
		},
		{
			name:        "nil error",
			err:         nil,
			shouldMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.shouldMatch, isLockRelatedError(tt.err))
		})
	}
}
