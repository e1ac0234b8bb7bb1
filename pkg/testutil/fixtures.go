package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// EmployeeFixture represents test employee data
type EmployeeFixture struct {
	ID              uuid.UUID
	FirstName       string
	LastName        string
	Department      string
	Site            string
	Eligible        bool
	MaxMonthlyHours *decimal.Decimal
	MaxWeeklyHours  *decimal.Decimal
}

// Fixtures inserts collaborator rows as the table owner
type Fixtures struct {
	db       *sqlx.DB
	sequence int
}

// NewFixtures creates a fixture writer
func NewFixtures(db *sqlx.DB) *Fixtures {
	return &Fixtures{db: db}
}

func (f *Fixtures) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Tenant inserts an active tenant and returns its ID.
func (f *Fixtures) Tenant(t *testing.T, ctx context.Context) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.exec(t, ctx, `INSERT INTO public.tenants (id, name) VALUES ($1, $2)`, id, fmt.Sprintf("tenant-%d", f.nextSeq()))
	return id
}

// Employee inserts an employee with sensible defaults.
func (f *Fixtures) Employee(t *testing.T, ctx context.Context, tenantID uuid.UUID, opts ...func(*EmployeeFixture)) EmployeeFixture {
	t.Helper()

	seq := f.nextSeq()
	e := EmployeeFixture{
		ID:         uuid.New(),
		FirstName:  "Test",
		LastName:   fmt.Sprintf("Employee%d", seq),
		Department: "Operations",
		Site:       "HQ",
		Eligible:   true,
	}
	for _, opt := range opts {
		opt(&e)
	}

	f.exec(t, ctx, `
		INSERT INTO employees (id, tenant_id, first_name, last_name, department, site,
			is_eligible_for_overtime, max_overtime_hours_per_month, max_overtime_hours_per_week)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, tenantID, e.FirstName, e.LastName, e.Department, e.Site,
		e.Eligible, e.MaxMonthlyHours, e.MaxWeeklyHours)
	return e
}

// WithMonthlyCap sets the monthly overtime cap
func WithMonthlyCap(hours string) func(*EmployeeFixture) {
	return func(e *EmployeeFixture) {
		d := decimal.RequireFromString(hours)
		e.MaxMonthlyHours = &d
	}
}

// Ineligible marks the employee as not eligible for overtime
func Ineligible() func(*EmployeeFixture) {
	return func(e *EmployeeFixture) {
		e.Eligible = false
	}
}

// Shift inserts an IN/OUT pair. overtimeMinutes is recorded on the OUT.
func (f *Fixtures) Shift(t *testing.T, ctx context.Context, tenantID, employeeID uuid.UUID, in, out time.Time, overtimeMinutes int) uuid.UUID {
	t.Helper()
	f.exec(t, ctx, `INSERT INTO attendances (tenant_id, employee_id, type, timestamp) VALUES ($1, $2, 'IN', $3)`,
		tenantID, employeeID, in)
	outID := uuid.New()
	f.exec(t, ctx, `INSERT INTO attendances (id, tenant_id, employee_id, type, timestamp, overtime_minutes) VALUES ($1, $2, $3, 'OUT', $4, $5)`,
		outID, tenantID, employeeID, out, overtimeMinutes)
	return outID
}

// Leave inserts an approved leave
func (f *Fixtures) Leave(t *testing.T, ctx context.Context, tenantID, employeeID uuid.UUID, start, end time.Time) {
	t.Helper()
	f.exec(t, ctx, `INSERT INTO leaves (tenant_id, employee_id, start_date, end_date, status) VALUES ($1, $2, $3, $4, 'APPROVED')`,
		tenantID, employeeID, start.Format("2006-01-02"), end.Format("2006-01-02"))
}

// Holiday inserts a holiday
func (f *Fixtures) Holiday(t *testing.T, ctx context.Context, tenantID uuid.UUID, date time.Time) {
	t.Helper()
	f.exec(t, ctx, `INSERT INTO holidays (tenant_id, date, name) VALUES ($1, $2, 'Holiday')`,
		tenantID, date.Format("2006-01-02"))
}

// Settings inserts a tenant_settings row with the given column values.
func (f *Fixtures) Settings(t *testing.T, ctx context.Context, tenantID uuid.UUID, autoApprove bool, autoApproveMax string) {
	t.Helper()
	f.exec(t, ctx, `INSERT INTO tenant_settings (tenant_id, overtime_auto_approve, overtime_auto_approve_max_hours) VALUES ($1, $2, $3)`,
		tenantID, autoApprove, autoApproveMax)
}

func (f *Fixtures) exec(t *testing.T, ctx context.Context, query string, args ...any) {
	t.Helper()
	if _, err := f.db.ExecContext(ctx, query, args...); err != nil {
		t.Fatalf("fixture insert failed: %v", err)
	}
}
