package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/timeflow/timeflow-backend/pkg/database"
	"github.com/timeflow/timeflow-backend/pkg/tenant"
)

// HolidaySet holds holiday dates keyed YYYY-MM-DD.
type HolidaySet map[string]struct{}

// NewHolidaySet builds a set from dates.
func NewHolidaySet(dates ...time.Time) HolidaySet {
	s := make(HolidaySet, len(dates))
	for _, d := range dates {
		s[DateArg(d)] = struct{}{}
	}
	return s
}

// Contains reports whether date is a holiday.
func (s HolidaySet) Contains(date time.Time) bool {
	_, ok := s[DateArg(date)]
	return ok
}

// Leave statuses that block overtime and recovery days.
var ApprovedLeaveStatuses = []string{"APPROVED", "MANAGER_APPROVED", "HR_APPROVED"}

// Leave is an approved absence window owned by the leave service.
type Leave struct {
	ID         uuid.UUID `db:"id"`
	EmployeeID uuid.UUID `db:"employee_id"`
	StartDate  time.Time `db:"start_date"`
	EndDate    time.Time `db:"end_date"`
	Status     string    `db:"status"`
}

// Absence reasons
const (
	AbsenceReasonLeave    = "leave"
	AbsenceReasonRecovery = "recovery_day"
)

// AbsenceCheck is the result of the combined leave and recovery lookup.
type AbsenceCheck struct {
	OnLeave bool
	Reason  string
}

// CalendarRepository reads holidays, leaves and recovery coverage
type CalendarRepository struct {
	db *database.DB
}

// NewCalendarRepository creates a new calendar repository
func NewCalendarRepository(db *database.DB) *CalendarRepository {
	return &CalendarRepository{db: db}
}

// ListHolidayDates returns the tenant's holidays within [from, to].
func (r *CalendarRepository) ListHolidayDates(ctx context.Context, from, to time.Time) (HolidaySet, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var dates []time.Time
	err = r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `SELECT date FROM holidays WHERE tenant_id = $1 AND date BETWEEN $2 AND $3`
		return sqlx.SelectContext(ctx, r.db.Querier(ctx), &dates, query, tenantID, DateArg(from), DateArg(to))
	})
	if err != nil {
		return nil, database.MapError(err)
	}
	return NewHolidaySet(dates...), nil
}

// IsEmployeeOnLeaveOrRecovery checks approved leaves and approved or used
// recovery days covering date in one round trip. Leave wins the reason.
func (r *CalendarRepository) IsEmployeeOnLeaveOrRecovery(ctx context.Context, employeeID uuid.UUID, date time.Time) (AbsenceCheck, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return AbsenceCheck{}, err
	}

	var row struct {
		OnLeave    bool `db:"on_leave"`
		OnRecovery bool `db:"on_recovery"`
	}
	err = r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `
			SELECT
				EXISTS (
					SELECT 1 FROM leaves
					WHERE tenant_id = $4 AND employee_id = $1 AND status = ANY($3) AND start_date <= $2 AND end_date >= $2
				) AS on_leave,
				EXISTS (
					SELECT 1 FROM recovery_days
					WHERE tenant_id = $4 AND employee_id = $1 AND status IN ('APPROVED', 'USED') AND start_date <= $2 AND end_date >= $2
				) AS on_recovery
		`
		return sqlx.GetContext(ctx, r.db.Querier(ctx), &row, query,
			employeeID, DateArg(date), pq.StringArray(ApprovedLeaveStatuses), tenantID)
	})
	if err != nil {
		return AbsenceCheck{}, database.MapError(err)
	}

	switch {
	case row.OnLeave:
		return AbsenceCheck{OnLeave: true, Reason: AbsenceReasonLeave}, nil
	case row.OnRecovery:
		return AbsenceCheck{OnLeave: true, Reason: AbsenceReasonRecovery}, nil
	default:
		return AbsenceCheck{}, nil
	}
}

// ListOverlappingLeaves returns approved leaves of the employee intersecting [start, end].
func (r *CalendarRepository) ListOverlappingLeaves(ctx context.Context, employeeID uuid.UUID, start, end time.Time) ([]Leave, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var leaves []Leave
	err = r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `
			SELECT id, employee_id, start_date, end_date, status
			FROM leaves
			WHERE employee_id = $1 AND status = ANY($4) AND start_date <= $3 AND end_date >= $2 AND tenant_id = $5
			ORDER BY start_date
		`
		return sqlx.SelectContext(ctx, r.db.Querier(ctx), &leaves, query,
			employeeID, DateArg(start), DateArg(end), pq.StringArray(ApprovedLeaveStatuses), tenantID)
	})
	return leaves, database.MapError(err)
}
