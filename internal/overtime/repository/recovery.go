package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/timeflow/timeflow-backend/pkg/database"
	"github.com/timeflow/timeflow-backend/pkg/errors"
	"github.com/timeflow/timeflow-backend/pkg/tenant"
)

// Recovery day statuses
const (
	RecoveryStatusPending   = "PENDING"
	RecoveryStatusApproved  = "APPROVED"
	RecoveryStatusUsed      = "USED"
	RecoveryStatusCancelled = "CANCELLED"
)

// Recovery day source types
const (
	RecoverySourceOvertime      = "OVERTIME"
	RecoverySourceSupplementary = "SUPPLEMENTARY"
	RecoverySourceManual        = "MANUAL"
)

// RecoveryDay is a grant of time off.
type RecoveryDay struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	TenantID           uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	EmployeeID         uuid.UUID       `db:"employee_id" json:"employee_id"`
	StartDate          time.Time       `db:"start_date" json:"start_date"`
	EndDate            time.Time       `db:"end_date" json:"end_date"`
	Days               decimal.Decimal `db:"days" json:"days"`
	SourceHours        decimal.Decimal `db:"source_hours" json:"source_hours"`
	ConversionRate     decimal.Decimal `db:"conversion_rate" json:"conversion_rate"`
	Status             string          `db:"status" json:"status"`
	SourceType         string          `db:"source_type" json:"source_type"`
	IsRegularization   bool            `db:"is_regularization" json:"is_regularization"`
	Notes              *string         `db:"notes" json:"notes,omitempty"`
	ApprovedBy         *uuid.UUID      `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt         *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	CancelledBy        *uuid.UUID      `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancellationReason *string         `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// SourceLink ties hours of one overtime entry to one recovery day.
type SourceLink struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	TenantID      uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	OvertimeID    uuid.UUID       `db:"overtime_id" json:"overtime_id"`
	RecoveryDayID uuid.UUID       `db:"recovery_day_id" json:"recovery_day_id"`
	HoursUsed     decimal.Decimal `db:"hours_used" json:"hours_used"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// RecoveryFilter holds filters for listing recovery days. From and To select
// days whose window overlaps [From, To].
type RecoveryFilter struct {
	EmployeeID *uuid.UUID
	Status     *string
	From       *time.Time
	To         *time.Time
	Page       int
	PerPage    int
}

// RecoveryRepository handles recovery days and their source links
type RecoveryRepository struct {
	db *database.DB
}

// NewRecoveryRepository creates a new recovery repository
func NewRecoveryRepository(db *database.DB) *RecoveryRepository {
	return &RecoveryRepository{db: db}
}

const recoveryColumns = `id, tenant_id, employee_id, start_date, end_date, days, source_hours,
	conversion_rate, status, source_type, is_regularization, notes, approved_by, approved_at,
	cancelled_by, cancelled_at, cancellation_reason, created_at, updated_at`

const linkColumns = `id, tenant_id, overtime_id, recovery_day_id, hours_used, created_at`

// Create inserts a recovery day
// TENANT-ISOLATED: tenant_id comes from the context
func (r *RecoveryRepository) Create(ctx context.Context, d *RecoveryDay) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.TenantID = tenantID

	return r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO recovery_days (
				id, tenant_id, employee_id, start_date, end_date, days, source_hours, conversion_rate,
				status, source_type, is_regularization, notes, approved_by, approved_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING created_at, updated_at
		`
		err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
			d.ID, d.TenantID, d.EmployeeID, DateArg(d.StartDate), DateArg(d.EndDate),
			d.Days, d.SourceHours, d.ConversionRate, d.Status, d.SourceType,
			d.IsRegularization, d.Notes, d.ApprovedBy, d.ApprovedAt,
		).Scan(&d.CreatedAt, &d.UpdatedAt)
		return database.MapError(err)
	})
}

// GetByID gets a recovery day by ID
func (r *RecoveryRepository) GetByID(ctx context.Context, id uuid.UUID) (*RecoveryDay, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate gets a recovery day by ID with the row locked.
func (r *RecoveryRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*RecoveryDay, error) {
	return r.get(ctx, id, true)
}

func (r *RecoveryRepository) get(ctx context.Context, id uuid.UUID, lock bool) (*RecoveryDay, error) {
	var d RecoveryDay
	err := r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `SELECT ` + recoveryColumns + ` FROM recovery_days WHERE id = $1`
		if lock {
			query += ` FOR UPDATE`
		}
		return sqlx.GetContext(ctx, r.db.Querier(ctx), &d, query, id)
	})
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("recovery_day").WithDetail("id", id.String())
	}
	if err != nil {
		return nil, database.MapError(err)
	}
	return &d, nil
}

// GetByIDs returns the recovery days with the given IDs.
func (r *RecoveryRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]RecoveryDay, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var days []RecoveryDay
	err := r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `SELECT ` + recoveryColumns + ` FROM recovery_days WHERE id = ANY($1::uuid[]) ORDER BY start_date`
		return sqlx.SelectContext(ctx, r.db.Querier(ctx), &days, query, pq.StringArray(uuidStrings(ids)))
	})
	return days, database.MapError(err)
}

// Update writes the window, status, amounts and the approval and
// cancellation fields back.
func (r *RecoveryRepository) Update(ctx context.Context, d *RecoveryDay) error {
	err := r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `
			UPDATE recovery_days SET
				days = $2, source_hours = $3, status = $4, notes = $5,
				approved_by = $6, approved_at = $7,
				cancelled_by = $8, cancelled_at = $9, cancellation_reason = $10,
				start_date = $11, end_date = $12,
				updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at
		`
		return r.db.Querier(ctx).QueryRowxContext(ctx, query,
			d.ID, d.Days, d.SourceHours, d.Status, d.Notes,
			d.ApprovedBy, d.ApprovedAt,
			d.CancelledBy, d.CancelledAt, d.CancellationReason,
			DateArg(d.StartDate), DateArg(d.EndDate),
		).Scan(&d.UpdatedAt)
	})
	if err == sql.ErrNoRows {
		return errors.NotFound("recovery_day").WithDetail("id", d.ID.String())
	}
	return database.MapError(err)
}

// ListByEmployee returns every recovery day of an employee, latest first.
func (r *RecoveryRepository) ListByEmployee(ctx context.Context, employeeID uuid.UUID) ([]RecoveryDay, error) {
	return r.ListMatching(ctx, RecoveryFilter{EmployeeID: &employeeID})
}

// List returns a page of recovery days, latest window first, and the number
// of days matching the filter.
func (r *RecoveryRepository) List(ctx context.Context, f RecoveryFilter) ([]RecoveryDay, int64, error) {
	where, args, err := f.where(ctx)
	if err != nil {
		return nil, 0, err
	}

	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}

	var (
		days  []RecoveryDay
		total int64
	)
	err = r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		q := r.db.Querier(ctx)
		if err := sqlx.GetContext(ctx, q, &total, `SELECT COUNT(*) FROM recovery_days `+where, args...); err != nil {
			return err
		}

		query := fmt.Sprintf(`SELECT %s FROM recovery_days %s ORDER BY start_date DESC, created_at DESC LIMIT $%d OFFSET $%d`,
			recoveryColumns, where, len(args)+1, len(args)+2)
		pageArgs := append(append([]any{}, args...), f.PerPage, (f.Page-1)*f.PerPage)
		return sqlx.SelectContext(ctx, q, &days, query, pageArgs...)
	})
	if err != nil {
		return nil, 0, database.MapError(err)
	}
	return days, total, nil
}

// ListMatching returns every recovery day matching the filter, latest window
// first. Page and PerPage are ignored.
func (r *RecoveryRepository) ListMatching(ctx context.Context, f RecoveryFilter) ([]RecoveryDay, error) {
	where, args, err := f.where(ctx)
	if err != nil {
		return nil, err
	}

	var days []RecoveryDay
	err = r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `SELECT ` + recoveryColumns + ` FROM recovery_days ` + where + ` ORDER BY start_date DESC, created_at DESC`
		return sqlx.SelectContext(ctx, r.db.Querier(ctx), &days, query, args...)
	})
	return days, database.MapError(err)
}

// where always scopes to the tenant in ctx.
func (f RecoveryFilter) where(ctx context.Context) (string, []any, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return "", nil, err
	}

	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.EmployeeID != nil {
		add("employee_id = $%d", *f.EmployeeID)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.From != nil {
		add("end_date >= $%d", DateArg(*f.From))
	}
	if f.To != nil {
		add("start_date <= $%d", DateArg(*f.To))
	}
	return "WHERE " + strings.Join(conds, " AND "), args, nil
}

// ListOverlapping returns the employee's recovery days in one of statuses whose
// window intersects [start, end].
func (r *RecoveryRepository) ListOverlapping(ctx context.Context, employeeID uuid.UUID, start, end time.Time, statuses []string) ([]RecoveryDay, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var days []RecoveryDay
	err = r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `
			SELECT ` + recoveryColumns + `
			FROM recovery_days
			WHERE employee_id = $1
				AND start_date <= $3
				AND end_date >= $2
				AND status = ANY($4)
				AND tenant_id = $5
			ORDER BY start_date
		`
		return sqlx.SelectContext(ctx, r.db.Querier(ctx), &days, query,
			employeeID, DateArg(start), DateArg(end), pq.StringArray(statuses), tenantID)
	})
	return days, database.MapError(err)
}

// ListEndedBefore returns recovery days in status whose window ended before date.
func (r *RecoveryRepository) ListEndedBefore(ctx context.Context, status string, date time.Time) ([]RecoveryDay, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var days []RecoveryDay
	err = r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `SELECT ` + recoveryColumns + ` FROM recovery_days WHERE tenant_id = $1 AND status = $2 AND end_date < $3 ORDER BY end_date, id`
		return sqlx.SelectContext(ctx, r.db.Querier(ctx), &days, query, tenantID, status, DateArg(date))
	})
	return days, database.MapError(err)
}

// CreateLink records hours of an overtime entry consumed by a recovery day.
func (r *RecoveryRepository) CreateLink(ctx context.Context, l *SourceLink) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.TenantID = tenantID

	return r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO overtime_recovery_days (id, tenant_id, overtime_id, recovery_day_id, hours_used)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at
		`
		err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
			l.ID, l.TenantID, l.OvertimeID, l.RecoveryDayID, l.HoursUsed,
		).Scan(&l.CreatedAt)
		return database.MapError(err)
	})
}

// ListLinksByRecoveryDay returns the source links funding a recovery day.
func (r *RecoveryRepository) ListLinksByRecoveryDay(ctx context.Context, recoveryDayID uuid.UUID) ([]SourceLink, error) {
	var links []SourceLink
	err := r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `SELECT ` + linkColumns + ` FROM overtime_recovery_days WHERE recovery_day_id = $1 ORDER BY overtime_id`
		return sqlx.SelectContext(ctx, r.db.Querier(ctx), &links, query, recoveryDayID)
	})
	return links, database.MapError(err)
}

// ListLinksByRecoveryDays returns the source links of several recovery days.
func (r *RecoveryRepository) ListLinksByRecoveryDays(ctx context.Context, recoveryDayIDs []uuid.UUID) ([]SourceLink, error) {
	if len(recoveryDayIDs) == 0 {
		return nil, nil
	}

	var links []SourceLink
	err := r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `SELECT ` + linkColumns + ` FROM overtime_recovery_days WHERE recovery_day_id = ANY($1::uuid[]) ORDER BY recovery_day_id, overtime_id`
		return sqlx.SelectContext(ctx, r.db.Querier(ctx), &links, query, pq.StringArray(uuidStrings(recoveryDayIDs)))
	})
	return links, database.MapError(err)
}

// ListLinksByOvertime returns the source links drawing on an overtime entry.
func (r *RecoveryRepository) ListLinksByOvertime(ctx context.Context, overtimeID uuid.UUID) ([]SourceLink, error) {
	var links []SourceLink
	err := r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `SELECT ` + linkColumns + ` FROM overtime_recovery_days WHERE overtime_id = $1 ORDER BY created_at`
		return sqlx.SelectContext(ctx, r.db.Querier(ctx), &links, query, overtimeID)
	})
	return links, database.MapError(err)
}

// DeleteLinksByRecoveryDay removes every link of a recovery day.
func (r *RecoveryRepository) DeleteLinksByRecoveryDay(ctx context.Context, recoveryDayID uuid.UUID) error {
	return r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		_, err := r.db.Querier(ctx).ExecContext(ctx, `DELETE FROM overtime_recovery_days WHERE recovery_day_id = $1`, recoveryDayID)
		return database.MapError(err)
	})
}
