package adapters

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func Test_IsSerializationFailure(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "pgx serialization failure",
			err:      &pgconn.PgError{Code: "40001"},
			expected: true,
		},
		{
			name:     "pgx deadlock detected",
			err:      &pgconn.PgError{Code: "40P01"},
			expected: true,
		},
		{
			name:     "wrapped pgx serialization failure",
			err:      fmt.Errorf("committing: %w", &pgconn.PgError{Code: "40001"}),
			expected: true,
		},
		{
			name:     "lib/pq serialization failure",
			err:      &pq.Error{Code: "40001"},
			expected: true,
		},
		{
			name:     "lib/pq unrelated error code",
			err:      &pq.Error{Code: "23505"},
			expected: false,
		},
		{
			name:     "message fallback serialization failure",
			err:      errors.New("ERROR: could not serialize access (SQLSTATE 40001)"),
			expected: true,
		},
		{
			name:     "message fallback deadlock",
			err:      errors.New("ERROR: deadlock detected (SQLSTATE 40P01)"),
			expected: true,
		},
		{
			name:     "unrelated error",
			err:      errors.New("connection refused"),
			expected: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsSerializationFailure(tc.err))
		})
	}
}
