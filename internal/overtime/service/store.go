package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/timeflow/timeflow-backend/internal/overtime/repository"
)

// The service depends on these narrow contracts. The repository package
// implements them over PostgreSQL; tests use in-memory fakes.

// Transactor opens, or joins, the tenant transaction for ctx.
type Transactor interface {
	WithTenantTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OvertimeStore persists overtime entries.
type OvertimeStore interface {
	Create(ctx context.Context, e *repository.OvertimeEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*repository.OvertimeEntry, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*repository.OvertimeEntry, error)
	ExistsForEmployeeDate(ctx context.Context, employeeID uuid.UUID, date time.Time) (bool, error)
	Update(ctx context.Context, e *repository.OvertimeEntry) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f repository.OvertimeFilter) ([]repository.OvertimeEntry, int64, decimal.Decimal, error)
	ListForStats(ctx context.Context, f repository.OvertimeFilter) ([]repository.OvertimeEntry, error)
	ListByEmployee(ctx context.Context, employeeID uuid.UUID) ([]repository.OvertimeEntry, error)
	SumUsage(ctx context.Context, employeeID uuid.UUID, from, to time.Time, excludeID *uuid.UUID) (decimal.Decimal, error)
	ListAvailable(ctx context.Context, employeeID uuid.UUID, since time.Time) ([]repository.OvertimeEntry, error)
	ListAvailableForUpdate(ctx context.Context, employeeID uuid.UUID, since time.Time) ([]repository.OvertimeEntry, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]repository.OvertimeEntry, error)
	ListByIDsForUpdate(ctx context.Context, ids []uuid.UUID) ([]repository.OvertimeEntry, error)
}

// RecoveryStore persists recovery days and source links.
type RecoveryStore interface {
	Create(ctx context.Context, d *repository.RecoveryDay) error
	GetByID(ctx context.Context, id uuid.UUID) (*repository.RecoveryDay, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*repository.RecoveryDay, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]repository.RecoveryDay, error)
	Update(ctx context.Context, d *repository.RecoveryDay) error
	ListByEmployee(ctx context.Context, employeeID uuid.UUID) ([]repository.RecoveryDay, error)
	List(ctx context.Context, f repository.RecoveryFilter) ([]repository.RecoveryDay, int64, error)
	ListMatching(ctx context.Context, f repository.RecoveryFilter) ([]repository.RecoveryDay, error)
	ListOverlapping(ctx context.Context, employeeID uuid.UUID, start, end time.Time, statuses []string) ([]repository.RecoveryDay, error)
	ListEndedBefore(ctx context.Context, status string, date time.Time) ([]repository.RecoveryDay, error)
	CreateLink(ctx context.Context, l *repository.SourceLink) error
	ListLinksByRecoveryDay(ctx context.Context, recoveryDayID uuid.UUID) ([]repository.SourceLink, error)
	ListLinksByRecoveryDays(ctx context.Context, recoveryDayIDs []uuid.UUID) ([]repository.SourceLink, error)
	ListLinksByOvertime(ctx context.Context, overtimeID uuid.UUID) ([]repository.SourceLink, error)
	DeleteLinksByRecoveryDay(ctx context.Context, recoveryDayID uuid.UUID) error
}

// PolicySource supplies the tenant overtime policy.
type PolicySource interface {
	GetOvertimePolicy(ctx context.Context, tenantID uuid.UUID) (repository.OvertimePolicy, error)
}

// AttendanceSource supplies OUT events carrying overtime minutes.
type AttendanceSource interface {
	ListOutEventsWithOvertime(ctx context.Context, from, to time.Time, minMinutes int) ([]repository.AttendanceRecord, error)
	GetOutEvent(ctx context.Context, attendanceID uuid.UUID) (*repository.AttendanceRecord, error)
}

// HolidaySource supplies holiday dates.
type HolidaySource interface {
	ListHolidayDates(ctx context.Context, from, to time.Time) (repository.HolidaySet, error)
}

// AbsenceSource supplies leave and recovery coverage.
type AbsenceSource interface {
	IsEmployeeOnLeaveOrRecovery(ctx context.Context, employeeID uuid.UUID, date time.Time) (repository.AbsenceCheck, error)
	ListOverlappingLeaves(ctx context.Context, employeeID uuid.UUID, start, end time.Time) ([]repository.Leave, error)
}

// EmployeeDirectory looks employees up.
type EmployeeDirectory interface {
	GetEmployee(ctx context.Context, id uuid.UUID) (*repository.Employee, error)
}

// TenantLister lists tenants the nightly jobs visit.
type TenantLister interface {
	ListActiveTenantIDs(ctx context.Context) ([]uuid.UUID, error)
}

// EventPublisher announces ledger changes. Publishing never fails the caller.
type EventPublisher interface {
	PublishEntry(ctx context.Context, eventType string, e *repository.OvertimeEntry, actorID uuid.UUID, reason string)
	PublishRecovery(ctx context.Context, eventType string, d *repository.RecoveryDay, links []repository.SourceLink, actorID uuid.UUID, reason string)
}
