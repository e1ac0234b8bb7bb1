// Package permissions checks permission grants with wildcard support.
//
// Permission format:
//   - "*" grants everything
//   - "resource.*" grants every action on a resource (e.g. "overtime.*")
//   - "resource.action" grants one action (e.g. "overtime.approve")
package permissions

import "strings"

// Permissions consulted by the overtime engine.
const (
	OvertimeViewOwn    = "overtime.view_own"
	OvertimeView       = "overtime.view"
	OvertimeCreate     = "overtime.create"
	OvertimeApprove    = "overtime.approve"
	OvertimeApproveAll = "overtime.approve_all"
	RecoveryConvert    = "recovery.convert"
	RecoveryApprove    = "recovery.approve"
	RecoveryRegularize = "recovery.regularize"
	AdminFullAccess    = "admin.full_access"
)

// ApproverPermissions are the grants that allow auto-approving a conversion.
var ApproverPermissions = []string{OvertimeApprove, OvertimeApproveAll, RecoveryApprove, AdminFullAccess}

// HasPermission checks whether granted covers required.
func HasPermission(granted []string, required string) bool {
	if required == "" {
		return true
	}

	for _, p := range granted {
		if p == "*" || p == required {
			return true
		}
		if prefix, ok := strings.CutSuffix(p, ".*"); ok && strings.HasPrefix(required, prefix+".") {
			return true
		}
	}
	return false
}

// HasAnyPermission checks whether granted covers at least one of required.
func HasAnyPermission(granted []string, required []string) bool {
	for _, req := range required {
		if HasPermission(granted, req) {
			return true
		}
	}
	return false
}
