package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/timeflow/timeflow-backend/pkg/database"
	"github.com/timeflow/timeflow-backend/pkg/errors"
	"github.com/timeflow/timeflow-backend/pkg/tenant"
)

// AttendanceRecord is an OUT event carrying overtime minutes, joined with the
// employee's overtime settings and the IN that opened the shift.
type AttendanceRecord struct {
	AttendanceID    uuid.UUID  `db:"attendance_id"`
	EmployeeID      uuid.UUID  `db:"employee_id"`
	Timestamp       time.Time  `db:"timestamp"`
	OvertimeMinutes int        `db:"overtime_minutes"`
	ShiftStart      *time.Time `db:"shift_start"`

	IsEligibleForOvertime bool             `db:"is_eligible_for_overtime"`
	MaxMonthlyHours       *decimal.Decimal `db:"max_overtime_hours_per_month"`
	MaxWeeklyHours        *decimal.Decimal `db:"max_overtime_hours_per_week"`
}

// Caps returns the employee's configured overtime caps.
func (a AttendanceRecord) Caps() Caps {
	return Caps{Monthly: a.MaxMonthlyHours, Weekly: a.MaxWeeklyHours}
}

// AttendanceRepository reads clock events owned by the attendance service
type AttendanceRepository struct {
	db *database.DB
}

// NewAttendanceRepository creates a new attendance repository
func NewAttendanceRepository(db *database.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// The opening IN is the latest IN within 24 hours before the OUT, ignoring
// punches the attendance service flagged as debounced or as absences.
const attendanceSelect = `
	SELECT a.id AS attendance_id, a.employee_id, a.timestamp, a.overtime_minutes,
		i.timestamp AS shift_start,
		e.is_eligible_for_overtime, e.max_overtime_hours_per_month, e.max_overtime_hours_per_week
	FROM attendances a
	JOIN employees e ON e.id = a.employee_id AND e.tenant_id = a.tenant_id
	LEFT JOIN LATERAL (
		SELECT ai.timestamp
		FROM attendances ai
		WHERE ai.tenant_id = a.tenant_id
			AND ai.employee_id = a.employee_id
			AND ai.type = 'IN'
			AND ai.timestamp < a.timestamp
			AND ai.timestamp >= a.timestamp - INTERVAL '24 hours'
			AND (ai.anomaly_type IS NULL OR ai.anomaly_type NOT IN ('DEBOUNCE_BLOCKED', 'ABSENCE'))
		ORDER BY ai.timestamp DESC
		LIMIT 1
	) i ON TRUE
`

// ListOutEventsWithOvertime returns OUT events in [from, to) whose overtime
// minutes exceed minMinutes, in timestamp order.
func (r *AttendanceRepository) ListOutEventsWithOvertime(ctx context.Context, from, to time.Time, minMinutes int) ([]AttendanceRecord, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var records []AttendanceRecord
	err = r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := attendanceSelect + `
			WHERE a.tenant_id = $1
				AND a.type = 'OUT'
				AND a.timestamp >= $2
				AND a.timestamp < $3
				AND a.overtime_minutes > $4
			ORDER BY a.timestamp, a.id
		`
		return sqlx.SelectContext(ctx, r.db.Querier(ctx), &records, query, tenantID, from, to, minMinutes)
	})
	return records, database.MapError(err)
}

// GetOutEvent returns a single OUT event by attendance ID.
func (r *AttendanceRepository) GetOutEvent(ctx context.Context, attendanceID uuid.UUID) (*AttendanceRecord, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var rec AttendanceRecord
	err = r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := attendanceSelect + ` WHERE a.tenant_id = $1 AND a.id = $2 AND a.type = 'OUT'`
		return sqlx.GetContext(ctx, r.db.Querier(ctx), &rec, query, tenantID, attendanceID)
	})
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("attendance").WithDetail("id", attendanceID.String())
	}
	if err != nil {
		return nil, database.MapError(err)
	}
	return &rec, nil
}
