package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name     string
		granted  []string
		required string
		want     bool
	}{
		{"exact", []string{OvertimeApprove}, OvertimeApprove, true},
		{"resource wildcard", []string{"overtime.*"}, OvertimeApproveAll, true},
		{"wildcard does not leak across resources", []string{"overtime.*"}, RecoveryApprove, false},
		{"full access", []string{"*"}, RecoveryRegularize, true},
		{"missing", []string{OvertimeViewOwn}, OvertimeApprove, false},
		{"prefix is not a wildcard", []string{"overtime"}, OvertimeApprove, false},
		{"nothing required", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPermission(tt.granted, tt.required))
		})
	}
}

func TestHasAnyPermission(t *testing.T) {
	assert.True(t, HasAnyPermission([]string{AdminFullAccess}, ApproverPermissions))
	assert.False(t, HasAnyPermission([]string{OvertimeView}, ApproverPermissions))
}
