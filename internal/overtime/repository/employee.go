package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/timeflow/timeflow-backend/pkg/database"
	"github.com/timeflow/timeflow-backend/pkg/errors"
	"github.com/timeflow/timeflow-backend/pkg/tenant"
)

// Caps are an employee's overtime ceilings in hours. Nil means no cap.
type Caps struct {
	Monthly *decimal.Decimal
	Weekly  *decimal.Decimal
}

// Any reports whether at least one cap is configured.
func (c Caps) Any() bool {
	return c.Monthly != nil || c.Weekly != nil
}

// Employee is the slice of the staff record the overtime engine needs.
type Employee struct {
	ID                    uuid.UUID        `db:"id" json:"id"`
	TenantID              uuid.UUID        `db:"tenant_id" json:"tenant_id"`
	FirstName             string           `db:"first_name" json:"first_name"`
	LastName              string           `db:"last_name" json:"last_name"`
	Department            *string          `db:"department" json:"department,omitempty"`
	Site                  *string          `db:"site" json:"site,omitempty"`
	IsActive              bool             `db:"is_active" json:"is_active"`
	IsEligibleForOvertime bool             `db:"is_eligible_for_overtime" json:"is_eligible_for_overtime"`
	MaxMonthlyHours       *decimal.Decimal `db:"max_overtime_hours_per_month" json:"max_overtime_hours_per_month,omitempty"`
	MaxWeeklyHours        *decimal.Decimal `db:"max_overtime_hours_per_week" json:"max_overtime_hours_per_week,omitempty"`
}

// FullName returns "First Last"
func (e *Employee) FullName() string {
	return e.FirstName + " " + e.LastName
}

// Caps returns the employee's configured overtime caps.
func (e *Employee) Caps() Caps {
	return Caps{Monthly: e.MaxMonthlyHours, Weekly: e.MaxWeeklyHours}
}

// EmployeeRepository reads employees owned by the staff service
type EmployeeRepository struct {
	db *database.DB
}

// NewEmployeeRepository creates a new employee repository
func NewEmployeeRepository(db *database.DB) *EmployeeRepository {
	return &EmployeeRepository{db: db}
}

// GetEmployee gets an employee of the tenant in ctx
func (r *EmployeeRepository) GetEmployee(ctx context.Context, id uuid.UUID) (*Employee, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var e Employee
	err = r.db.WithTenantTx(ctx, func(ctx context.Context) error {
		query := `
			SELECT id, tenant_id, first_name, last_name, department, site, is_active,
				is_eligible_for_overtime, max_overtime_hours_per_month, max_overtime_hours_per_week
			FROM employees
			WHERE tenant_id = $1 AND id = $2
		`
		return sqlx.GetContext(ctx, r.db.Querier(ctx), &e, query, tenantID, id)
	})
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("employee").WithDetail("id", id.String())
	}
	if err != nil {
		return nil, database.MapError(err)
	}
	return &e, nil
}
