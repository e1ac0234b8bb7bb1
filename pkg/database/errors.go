package database

import (
	"database/sql/driver"
	stderrors "errors"
	"net"
	"strings"

	"github.com/lib/pq"
	"github.com/timeflow/timeflow-backend/pkg/errors"
)

// Constraint names referenced by the overtime schema.
const (
	ConstraintOvertimeUnique      = "overtime_entries_tenant_employee_date_key"
	ConstraintConvertedLEApproved = "overtime_entries_converted_le_approved"
	ConstraintApprovedHoursStatus = "overtime_entries_approved_hours_status"
	ConstraintLinkUnique          = "overtime_recovery_days_overtime_id_recovery_day_id_key"
)

// MapPQError converts a PostgreSQL error to an AppError.
// Returns nil if the error is not a pq.Error or has no mapping.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr)).WithDetail("constraint", pqErr.Constraint)

	case "23514":
		return mapCheckConstraint(pqErr)

	case "23503":
		return errors.BadRequest("referenced record does not exist").WithDetail("constraint", pqErr.Constraint)

	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{col: "must not be empty"})

	// serialization_failure, deadlock_detected, lock_not_available
	case "40001", "40P01", "55P03":
		return errors.Transient(err)
	}

	// connection_exception class
	if strings.HasPrefix(string(pqErr.Code), "08") || pqErr.Code == "57P01" {
		return errors.Transient(err)
	}

	return nil
}

// MapError maps driver and network failures onto the error taxonomy and
// returns any other error unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if appErr := MapPQError(err); appErr != nil {
		return appErr
	}
	var netErr net.Error
	if stderrors.Is(err, driver.ErrBadConn) || stderrors.As(err, &netErr) {
		return errors.Transient(err)
	}
	return err
}

// IsUniqueViolation reports whether err is a unique violation on constraint.
// An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		var appErr *errors.AppError
		if stderrors.As(err, &appErr) && appErr.Code == "CONFLICT" {
			return constraint == "" || appErr.Details["constraint"] == constraint
		}
		return false
	}
	return pqErr.Code == "23505" && (constraint == "" || pqErr.Constraint == constraint)
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	switch pqErr.Constraint {
	case ConstraintConvertedLEApproved:
		return errors.InvalidState("overtime_entry", "OVER_CONVERTED").
			WithDetail("constraint", pqErr.Constraint)
	case ConstraintApprovedHoursStatus:
		return errors.InvalidState("overtime_entry", "APPROVED_HOURS_WITHOUT_APPROVAL").
			WithDetail("constraint", pqErr.Constraint)
	default:
		return errors.BadRequest("data validation failed: " + pqErr.Constraint)
	}
}

func formatConstraintMessage(pqErr *pq.Error) string {
	switch pqErr.Constraint {
	case ConstraintOvertimeUnique:
		return "an overtime entry already exists for this employee and date"
	case ConstraintLinkUnique:
		return "this overtime entry is already linked to the recovery day"
	default:
		return "a record with these values already exists"
	}
}
