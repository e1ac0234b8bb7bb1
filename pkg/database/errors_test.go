package database

import (
	"database/sql/driver"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timeflow/timeflow-backend/pkg/errors"
)

func TestMapPQError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"duplicate overtime", &pq.Error{Code: "23505", Constraint: ConstraintOvertimeUnique}, "CONFLICT"},
		{"over conversion", &pq.Error{Code: "23514", Constraint: ConstraintConvertedLEApproved}, "INVALID_STATE"},
		{"other check", &pq.Error{Code: "23514", Constraint: "something_else"}, "BAD_REQUEST"},
		{"foreign key", &pq.Error{Code: "23503"}, "BAD_REQUEST"},
		{"not null", &pq.Error{Code: "23502", Column: "employee_id"}, "VALIDATION_ERROR"},
		{"serialization", &pq.Error{Code: "40001"}, "TRANSIENT"},
		{"connection", &pq.Error{Code: "08006"}, "TRANSIENT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := MapPQError(fmt.Errorf("wrapped: %w", tt.err))
			require.NotNil(t, appErr)
			assert.Equal(t, tt.wantCode, appErr.Code)
		})
	}

	assert.Nil(t, MapPQError(stderrors.New("plain")))
	assert.Nil(t, MapPQError(&pq.Error{Code: "42P01"}))
}

func TestMapError(t *testing.T) {
	assert.NoError(t, MapError(nil))
	assert.True(t, errors.IsRetryable(MapError(driver.ErrBadConn)))

	plain := stderrors.New("plain")
	assert.Same(t, plain, MapError(plain))
}

func TestIsUniqueViolation(t *testing.T) {
	raw := &pq.Error{Code: "23505", Constraint: ConstraintOvertimeUnique}

	assert.True(t, IsUniqueViolation(raw, ConstraintOvertimeUnique))
	assert.True(t, IsUniqueViolation(raw, ""))
	assert.False(t, IsUniqueViolation(raw, ConstraintLinkUnique))
	assert.True(t, IsUniqueViolation(MapError(raw), ConstraintOvertimeUnique))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23514"}, ""))
	assert.False(t, IsUniqueViolation(stderrors.New("x"), ""))
}
