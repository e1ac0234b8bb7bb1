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

// Overtime types
const (
	OvertimeTypeStandard  = "STANDARD"
	OvertimeTypeNight     = "NIGHT"
	OvertimeTypeHoliday   = "HOLIDAY"
	OvertimeTypeEmergency = "EMERGENCY"
)

// Overtime statuses
const (
	OvertimeStatusPending  = "PENDING"
	OvertimeStatusApproved = "APPROVED"
	OvertimeStatusRejected = "REJECTED"
)

// Where an entry came from
const (
	OvertimeSourceManual        = "MANUAL"
	OvertimeSourceRealtime      = "REALTIME"
	OvertimeSourceConsolidation = "CONSOLIDATION"
)

// OvertimeEntry is one day of overtime for one employee.
type OvertimeEntry struct {
	ID                      uuid.UUID        `db:"id" json:"id"`
	TenantID                uuid.UUID        `db:"tenant_id" json:"tenant_id"`
	EmployeeID              uuid.UUID        `db:"employee_id" json:"employee_id"`
	Date                    time.Time        `db:"date" json:"date"`
	RequestedHours          decimal.Decimal  `db:"requested_hours" json:"requested_hours"`
	ApprovedHours           *decimal.Decimal `db:"approved_hours" json:"approved_hours,omitempty"`
	Type                    string           `db:"type" json:"type"`
	Rate                    decimal.Decimal  `db:"rate" json:"rate"`
	Status                  string           `db:"status" json:"status"`
	IsNightShift            bool             `db:"is_night_shift" json:"is_night_shift"`
	ApprovedBy              *uuid.UUID       `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt              *time.Time       `db:"approved_at" json:"approved_at,omitempty"`
	RejectionReason         *string          `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ConvertedToRecoveryDays bool             `db:"converted_to_recovery_days" json:"converted_to_recovery_days"`
	ConvertedHours          decimal.Decimal  `db:"converted_hours_to_recovery_days" json:"converted_hours_to_recovery_days"`
	Source                  string           `db:"source" json:"source"`
	Notes                   *string          `db:"notes" json:"notes,omitempty"`
	CreatedAt               time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time        `db:"updated_at" json:"updated_at"`

	// Joined fields
	EmployeeName *string `db:"employee_name" json:"employee_name,omitempty"`
	Department   *string `db:"department" json:"department,omitempty"`
}

// Approved returns the approved hours, zero when unset.
func (e *OvertimeEntry) Approved() decimal.Decimal {
	if e.ApprovedHours == nil {
		return decimal.Zero
	}
	return *e.ApprovedHours
}

// EffectiveHours is what counts against caps: approved hours once set,
// requested hours before.
func (e *OvertimeEntry) EffectiveHours() decimal.Decimal {
	if e.ApprovedHours != nil {
		return *e.ApprovedHours
	}
	return e.RequestedHours
}

// Available returns the approved hours not yet converted to recovery days.
func (e *OvertimeEntry) Available() decimal.Decimal {
	if e.Status != OvertimeStatusApproved {
		return decimal.Zero
	}
	avail := e.Approved().Sub(e.ConvertedHours)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// SyncConvertedFlag recomputes ConvertedToRecoveryDays from the hours.
func (e *OvertimeEntry) SyncConvertedFlag() {
	approved := e.Approved()
	e.ConvertedToRecoveryDays = approved.IsPositive() && e.ConvertedHours.GreaterThanOrEqual(approved)
}

// OvertimeFilter holds filters for listing and reporting overtime
type OvertimeFilter struct {
	EmployeeID   *uuid.UUID
	Status       *string
	Type         *string
	IsNightShift *bool
	From         *time.Time
	To           *time.Time
	Department   *string
	Site         *string
	Page         int
	PerPage      int
}

// OvertimeRepository handles overtime entry persistence
type OvertimeRepository struct {
	db *database.DB
}

// NewOvertimeRepository creates a new overtime repository
func NewOvertimeRepository(db *database.DB) *OvertimeRepository {
	return &OvertimeRepository{db: db}
}

const overtimeColumns = `o.id, o.tenant_id, o.employee_id, o.date, o.requested_hours, o.approved_hours,
	o.type, o.rate, o.status, o.is_night_shift, o.approved_by, o.approved_at, o.rejection_reason,
	o.converted_to_recovery_days, o.converted_hours_to_recovery_days, o.source, o.notes,
	o.created_at, o.updated_at`

// Create inserts a new entry. A second entry for the same employee and date
// fails with a CONFLICT carrying the unique constraint name.
// TENANT-ISOLATED: tenant_id comes from the context
func (r *OvertimeRepository) Create(ctx context.Context, e *OvertimeEntry) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.TenantID = tenantID

	return r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO overtime_entries (
				id, tenant_id, employee_id, date, requested_hours, approved_hours, type, rate,
				status, is_night_shift, approved_by, approved_at, converted_to_recovery_days,
				converted_hours_to_recovery_days, source, notes
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING created_at, updated_at
		`
		err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
			e.ID, e.TenantID, e.EmployeeID, DateArg(e.Date), e.RequestedHours, e.ApprovedHours,
			e.Type, e.Rate, e.Status, e.IsNightShift, e.ApprovedBy, e.ApprovedAt,
			e.ConvertedToRecoveryDays, e.ConvertedHours, e.Source, e.Notes,
		).Scan(&e.CreatedAt, &e.UpdatedAt)
		return database.MapError(err)
	})
}

// GetByID gets an entry by ID
func (r *OvertimeRepository) GetByID(ctx context.Context, id uuid.UUID) (*OvertimeEntry, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate gets an entry by ID and locks the row until the surrounding
// transaction ends.
func (r *OvertimeRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*OvertimeEntry, error) {
	return r.get(ctx, id, true)
}

func (r *OvertimeRepository) get(ctx context.Context, id uuid.UUID, lock bool) (*OvertimeEntry, error) {
	var e OvertimeEntry
	err := r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `SELECT ` + overtimeColumns + ` FROM overtime_entries o WHERE o.id = $1`
		if lock {
			query += ` FOR UPDATE`
		}
		return sqlx.GetContext(ctx, r.db.Querier(ctx), &e, query, id)
	})
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("overtime_entry").WithDetail("id", id.String())
	}
	if err != nil {
		return nil, database.MapError(err)
	}
	return &e, nil
}

// ExistsForEmployeeDate reports whether an entry exists for the employee on date.
func (r *OvertimeRepository) ExistsForEmployeeDate(ctx context.Context, employeeID uuid.UUID, date time.Time) (bool, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return false, err
	}

	var exists bool
	err = r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `SELECT EXISTS (SELECT 1 FROM overtime_entries WHERE tenant_id = $1 AND employee_id = $2 AND date = $3)`
		return sqlx.GetContext(ctx, r.db.Querier(ctx), &exists, query, tenantID, employeeID, DateArg(date))
	})
	return exists, database.MapError(err)
}

// Update writes the mutable columns of an entry back.
func (r *OvertimeRepository) Update(ctx context.Context, e *OvertimeEntry) error {
	err := r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `
			UPDATE overtime_entries SET
				requested_hours = $2, approved_hours = $3, type = $4, rate = $5, status = $6,
				is_night_shift = $7, approved_by = $8, approved_at = $9, rejection_reason = $10,
				converted_to_recovery_days = $11, converted_hours_to_recovery_days = $12,
				notes = $13, date = $14, updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at
		`
		return r.db.Querier(ctx).QueryRowxContext(ctx, query,
			e.ID, e.RequestedHours, e.ApprovedHours, e.Type, e.Rate, e.Status,
			e.IsNightShift, e.ApprovedBy, e.ApprovedAt, e.RejectionReason,
			e.ConvertedToRecoveryDays, e.ConvertedHours, e.Notes, DateArg(e.Date),
		).Scan(&e.UpdatedAt)
	})
	if err == sql.ErrNoRows {
		return errors.NotFound("overtime_entry").WithDetail("id", e.ID.String())
	}
	return database.MapError(err)
}

// Delete hard-deletes an entry
func (r *OvertimeRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		result, err := r.db.Querier(ctx).ExecContext(ctx, `DELETE FROM overtime_entries WHERE id = $1`, id)
		if err != nil {
			return database.MapError(err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return errors.NotFound("overtime_entry").WithDetail("id", id.String())
		}
		return nil
	})
}

// List returns a page of entries, the total count and the total hours of
// everything matching the filter.
func (r *OvertimeRepository) List(ctx context.Context, f OvertimeFilter) ([]OvertimeEntry, int64, decimal.Decimal, error) {
	where, args := f.where()

	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}

	var (
		entries []OvertimeEntry
		totals  struct {
			Total int64           `db:"total"`
			Hours decimal.Decimal `db:"total_hours"`
		}
	)

	err := r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		q := r.db.Querier(ctx)

		countQuery := `
			SELECT COUNT(*) AS total,
				COALESCE(SUM(COALESCE(o.approved_hours, o.requested_hours)), 0) AS total_hours
			FROM overtime_entries o
			JOIN employees e ON e.id = o.employee_id
		` + where
		if err := sqlx.GetContext(ctx, q, &totals, countQuery, args...); err != nil {
			return err
		}

		listQuery := fmt.Sprintf(`
			SELECT %s, e.first_name || ' ' || e.last_name AS employee_name, e.department
			FROM overtime_entries o
			JOIN employees e ON e.id = o.employee_id
			%s
			ORDER BY o.date DESC, o.created_at DESC
			LIMIT $%d OFFSET $%d
		`, overtimeColumns, where, len(args)+1, len(args)+2)
		pageArgs := append(append([]any{}, args...), f.PerPage, (f.Page-1)*f.PerPage)

		return sqlx.SelectContext(ctx, q, &entries, listQuery, pageArgs...)
	})
	if err != nil {
		return nil, 0, decimal.Zero, database.MapError(err)
	}

	return entries, totals.Total, totals.Hours, nil
}

// ListForStats returns every entry matching the filter with employee name
// and department joined, without pagination.
func (r *OvertimeRepository) ListForStats(ctx context.Context, f OvertimeFilter) ([]OvertimeEntry, error) {
	where, args := f.where()

	var entries []OvertimeEntry
	err := r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `
			SELECT ` + overtimeColumns + `, e.first_name || ' ' || e.last_name AS employee_name, e.department
			FROM overtime_entries o
			JOIN employees e ON e.id = o.employee_id
		` + where + ` ORDER BY o.date`
		return sqlx.SelectContext(ctx, r.db.Querier(ctx), &entries, query, args...)
	})
	return entries, database.MapError(err)
}

// ListByEmployee returns every entry of an employee, oldest first.
func (r *OvertimeRepository) ListByEmployee(ctx context.Context, employeeID uuid.UUID) ([]OvertimeEntry, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var entries []OvertimeEntry
	err = r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `SELECT ` + overtimeColumns + ` FROM overtime_entries o WHERE o.tenant_id = $1 AND o.employee_id = $2 ORDER BY o.date, o.created_at`
		return sqlx.SelectContext(ctx, r.db.Querier(ctx), &entries, query, tenantID, employeeID)
	})
	return entries, database.MapError(err)
}

// SumUsage returns the hours counting against caps (approved where set,
// requested otherwise) of PENDING and APPROVED entries dated within [from, to].
// excludeID leaves out the entry under evaluation.
func (r *OvertimeRepository) SumUsage(ctx context.Context, employeeID uuid.UUID, from, to time.Time, excludeID *uuid.UUID) (decimal.Decimal, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	var sum decimal.Decimal
	err = r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `
			SELECT COALESCE(SUM(COALESCE(approved_hours, requested_hours)), 0)
			FROM overtime_entries
			WHERE employee_id = $1
				AND date BETWEEN $2 AND $3
				AND status IN ('PENDING', 'APPROVED')
				AND ($4::uuid IS NULL OR id <> $4::uuid)
				AND tenant_id = $5
		`
		return sqlx.GetContext(ctx, r.db.Querier(ctx), &sum, query, employeeID, DateArg(from), DateArg(to), excludeID, tenantID)
	})
	return sum, database.MapError(err)
}

// ListAvailable returns APPROVED entries of the employee dated on or after
// since that still have unconverted hours, oldest first.
func (r *OvertimeRepository) ListAvailable(ctx context.Context, employeeID uuid.UUID, since time.Time) ([]OvertimeEntry, error) {
	return r.listAvailable(ctx, employeeID, since, false)
}

// ListAvailableForUpdate is ListAvailable with the rows locked.
func (r *OvertimeRepository) ListAvailableForUpdate(ctx context.Context, employeeID uuid.UUID, since time.Time) ([]OvertimeEntry, error) {
	return r.listAvailable(ctx, employeeID, since, true)
}

func (r *OvertimeRepository) listAvailable(ctx context.Context, employeeID uuid.UUID, since time.Time, lock bool) ([]OvertimeEntry, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var entries []OvertimeEntry
	err = r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `
			SELECT ` + overtimeColumns + `
			FROM overtime_entries o
			WHERE o.employee_id = $1
				AND o.status = 'APPROVED'
				AND o.approved_hours > o.converted_hours_to_recovery_days
				AND o.date >= $2
				AND o.tenant_id = $3
			ORDER BY o.date, o.created_at, o.id
		`
		if lock {
			query += ` FOR UPDATE`
		}
		return sqlx.SelectContext(ctx, r.db.Querier(ctx), &entries, query, employeeID, DateArg(since), tenantID)
	})
	return entries, database.MapError(err)
}

// ListByIDs returns the entries with the given IDs in date order.
func (r *OvertimeRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]OvertimeEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var entries []OvertimeEntry
	err := r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `SELECT ` + overtimeColumns + ` FROM overtime_entries o WHERE o.id = ANY($1::uuid[]) ORDER BY o.date, o.id`
		return sqlx.SelectContext(ctx, r.db.Querier(ctx), &entries, query, pq.StringArray(uuidStrings(ids)))
	})
	return entries, database.MapError(err)
}

// ListByIDsForUpdate locks and returns the entries with the given IDs in ID
// order. Unknown IDs are simply absent from the result.
func (r *OvertimeRepository) ListByIDsForUpdate(ctx context.Context, ids []uuid.UUID) ([]OvertimeEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var entries []OvertimeEntry
	err := r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `SELECT ` + overtimeColumns + ` FROM overtime_entries o WHERE o.id = ANY($1::uuid[]) ORDER BY o.id FOR UPDATE`
		return sqlx.SelectContext(ctx, r.db.Querier(ctx), &entries, query, pq.StringArray(uuidStrings(ids)))
	})
	return entries, database.MapError(err)
}

func (f OvertimeFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.EmployeeID != nil {
		add("o.employee_id = $%d", *f.EmployeeID)
	}
	if f.Status != nil {
		add("o.status = $%d", *f.Status)
	}
	if f.Type != nil {
		add("o.type = $%d", *f.Type)
	}
	if f.IsNightShift != nil {
		add("o.is_night_shift = $%d", *f.IsNightShift)
	}
	if f.From != nil {
		add("o.date >= $%d", DateArg(*f.From))
	}
	if f.To != nil {
		add("o.date <= $%d", DateArg(*f.To))
	}
	if f.Department != nil {
		add("e.department = $%d", *f.Department)
	}
	if f.Site != nil {
		add("e.site = $%d", *f.Site)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// DateArg formats a civil date for a DATE parameter so the session time zone
// never shifts it.
func DateArg(t time.Time) string {
	return t.Format("2006-01-02")
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
