package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timeflow/timeflow-backend/internal/overtime/repository"
	"github.com/timeflow/timeflow-backend/pkg/database"
	"github.com/timeflow/timeflow-backend/pkg/errors"
	"github.com/timeflow/timeflow-backend/pkg/testutil"
)

var overtimeRowColumns = []string{
	"id", "tenant_id", "employee_id", "date", "requested_hours", "approved_hours",
	"type", "rate", "status", "is_night_shift", "approved_by", "approved_at", "rejection_reason",
	"converted_to_recovery_days", "converted_hours_to_recovery_days", "source", "notes",
	"created_at", "updated_at",
}

func overtimeRow(rows *sqlmock.Rows, id, tenantID, employeeID uuid.UUID, date time.Time, requested, approved, converted string) *sqlmock.Rows {
	var approvedVal any
	status := repository.OvertimeStatusPending
	if approved != "" {
		approvedVal = approved
		status = repository.OvertimeStatusApproved
	}
	now := time.Now()
	return rows.AddRow(
		id.String(), tenantID.String(), employeeID.String(), date, requested, approvedVal,
		"STANDARD", "1.25", status, false, nil, nil, nil,
		false, converted, "MANUAL", nil,
		now, now,
	)
}

func TestOvertimeRepository_Create(t *testing.T) {
	ctx, tenantID := testutil.TenantContext()
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewOvertimeRepository(mockDB.DB)

	entry := &repository.OvertimeEntry{
		EmployeeID:     uuid.New(),
		Date:           time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		RequestedHours: decimal.RequireFromString("2.5"),
		Type:           repository.OvertimeTypeNight,
		Rate:           decimal.RequireFromString("1.5"),
		Status:         repository.OvertimeStatusPending,
		Source:         repository.OvertimeSourceManual,
	}

	now := time.Now()
	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("INSERT INTO overtime_entries").
		WithArgs(sqlmock.AnyArg(), tenantID.String(), entry.EmployeeID.String(), "2024-03-04",
			"2.5", nil, "NIGHT", "1.5", "PENDING", false, nil, nil, false, "0", "MANUAL", nil).
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))
	mockDB.ExpectCommit()

	err := repo.Create(ctx, entry)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.Equal(t, tenantID, entry.TenantID)
	assert.Equal(t, now, entry.CreatedAt)
	mockDB.ExpectationsWereMet(t)
}

func TestOvertimeRepository_Create_DuplicateDateIsConflict(t *testing.T) {
	ctx, tenantID := testutil.TenantContext()
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewOvertimeRepository(mockDB.DB)

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("INSERT INTO overtime_entries").
		WillReturnError(&pq.Error{Code: "23505", Constraint: database.ConstraintOvertimeUnique})
	mockDB.ExpectRollback()

	err := repo.Create(ctx, &repository.OvertimeEntry{
		EmployeeID:     uuid.New(),
		Date:           time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		RequestedHours: decimal.NewFromInt(1),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
	assert.True(t, database.IsUniqueViolation(err, database.ConstraintOvertimeUnique))
	mockDB.ExpectationsWereMet(t)
}

func TestOvertimeRepository_Create_RequiresTenant(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewOvertimeRepository(mockDB.DB)

	err := repo.Create(context.Background(), &repository.OvertimeEntry{})

	require.Error(t, err)
	mockDB.ExpectationsWereMet(t)
}

func TestOvertimeRepository_GetByID_NotFound(t *testing.T) {
	ctx, tenantID := testutil.TenantContext()
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewOvertimeRepository(mockDB.DB)
	id := uuid.New()

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("FROM overtime_entries o WHERE o.id = $1").
		WithArgs(id.String()).
		WillReturnRows(testutil.MockRows(overtimeRowColumns...))
	mockDB.ExpectRollback()

	entry, err := repo.GetByID(ctx, id)

	assert.Nil(t, entry)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	mockDB.ExpectationsWereMet(t)
}

func TestOvertimeRepository_GetForUpdate_LocksRow(t *testing.T) {
	ctx, tenantID := testutil.TenantContext()
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewOvertimeRepository(mockDB.DB)
	id, employeeID := uuid.New(), uuid.New()
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("WHERE o.id = $1 FOR UPDATE").
		WithArgs(id.String()).
		WillReturnRows(overtimeRow(testutil.MockRows(overtimeRowColumns...), id, tenantID, employeeID, date, "8.00", "8.00", "3.00"))
	mockDB.ExpectCommit()

	entry, err := repo.GetForUpdate(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, id, entry.ID)
	assert.True(t, entry.Approved().Equal(decimal.NewFromInt(8)))
	assert.True(t, entry.Available().Equal(decimal.NewFromInt(5)))
	mockDB.ExpectationsWereMet(t)
}

func TestOvertimeRepository_SumUsage(t *testing.T) {
	ctx, tenantID := testutil.TenantContext()
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewOvertimeRepository(mockDB.DB)
	employeeID, excludeID := uuid.New(), uuid.New()

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("SELECT COALESCE(SUM(COALESCE(approved_hours, requested_hours)), 0)").
		WithArgs(employeeID.String(), "2024-03-01", "2024-03-31", excludeID.String(), tenantID.String()).
		WillReturnRows(testutil.MockRows("sum").AddRow("8.50"))
	mockDB.ExpectCommit()

	sum, err := repo.SumUsage(ctx, employeeID,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		&excludeID)
	require.NoError(t, err)

	assert.Equal(t, "8.5", sum.String())
	mockDB.ExpectationsWereMet(t)
}

func TestOvertimeRepository_List_FiltersAndTotals(t *testing.T) {
	ctx, tenantID := testutil.TenantContext()
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewOvertimeRepository(mockDB.DB)

	employeeID := uuid.New()
	status := repository.OvertimeStatusApproved
	department := "ICU"
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("WHERE o.employee_id = $1 AND o.status = $2 AND e.department = $3").
		WithArgs(employeeID.String(), status, department).
		WillReturnRows(testutil.MockRows("total", "total_hours").AddRow(int64(1), "8.00"))
	mockDB.ExpectQuery("LIMIT $4 OFFSET $5").
		WithArgs(employeeID.String(), status, department, 20, 0).
		WillReturnRows(overtimeRow(testutil.MockRows(overtimeRowColumns...), uuid.New(), tenantID, employeeID, date, "8.00", "8.00", "0"))
	mockDB.ExpectCommit()

	entries, total, hours, err := repo.List(ctx, repository.OvertimeFilter{
		EmployeeID: &employeeID,
		Status:     &status,
		Department: &department,
	})
	require.NoError(t, err)

	assert.Len(t, entries, 1)
	assert.Equal(t, int64(1), total)
	assert.True(t, hours.Equal(decimal.NewFromInt(8)))
	mockDB.ExpectationsWereMet(t)
}

func TestOvertimeRepository_ListByIDsForUpdate_OrdersByID(t *testing.T) {
	ctx, tenantID := testutil.TenantContext()
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewOvertimeRepository(mockDB.DB)
	a, b := uuid.New(), uuid.New()

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("WHERE o.id = ANY($1::uuid[]) ORDER BY o.id FOR UPDATE").
		WithArgs(`{"` + a.String() + `","` + b.String() + `"}`).
		WillReturnRows(testutil.MockRows(overtimeRowColumns...))
	mockDB.ExpectCommit()

	entries, err := repo.ListByIDsForUpdate(ctx, []uuid.UUID{a, b})
	require.NoError(t, err)
	assert.Empty(t, entries)
	mockDB.ExpectationsWereMet(t)
}

func TestOvertimeRepository_Delete_MissingRow(t *testing.T) {
	ctx, tenantID := testutil.TenantContext()
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewOvertimeRepository(mockDB.DB)
	id := uuid.New()

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectExec("DELETE FROM overtime_entries WHERE id = $1").
		WithArgs(id.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.ExpectRollback()

	err := repo.Delete(ctx, id)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	mockDB.ExpectationsWereMet(t)
}

func TestOvertimeEntry_SyncConvertedFlag(t *testing.T) {
	approved := decimal.NewFromInt(8)
	e := &repository.OvertimeEntry{Status: repository.OvertimeStatusApproved, ApprovedHours: &approved}

	e.ConvertedHours = decimal.NewFromInt(4)
	e.SyncConvertedFlag()
	assert.False(t, e.ConvertedToRecoveryDays)

	e.ConvertedHours = decimal.NewFromInt(8)
	e.SyncConvertedFlag()
	assert.True(t, e.ConvertedToRecoveryDays)
	assert.True(t, e.Available().IsZero())
}

func TestOvertimeRepository_ExistsForEmployeeDate_ScopedToTenant(t *testing.T) {
	ctx, tenantID := testutil.TenantContext()
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewOvertimeRepository(mockDB.DB)
	employeeID := uuid.New()

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("WHERE tenant_id = $1 AND employee_id = $2 AND date = $3").
		WithArgs(tenantID.String(), employeeID.String(), "2024-03-04").
		WillReturnRows(testutil.MockRows("exists").AddRow(true))
	mockDB.ExpectCommit()

	exists, err := repo.ExistsForEmployeeDate(ctx, employeeID, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, exists)
	mockDB.ExpectationsWereMet(t)
}

func TestOvertimeRepository_ListAvailable_ScopedToTenant(t *testing.T) {
	ctx, tenantID := testutil.TenantContext()
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewOvertimeRepository(mockDB.DB)
	employeeID := uuid.New()
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("AND o.tenant_id = $3").
		WithArgs(employeeID.String(), "2023-03-15", tenantID.String()).
		WillReturnRows(overtimeRow(testutil.MockRows(overtimeRowColumns...), uuid.New(), tenantID, employeeID, date, "4.00", "4.00", "1.00"))
	mockDB.ExpectCommit()

	entries, err := repo.ListAvailable(ctx, employeeID, time.Date(2023, 3, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Equal(t, "3", entries[0].Available().String())
	mockDB.ExpectationsWereMet(t)
}

func TestOvertimeRepository_TenantReadsRequireTenant(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewOvertimeRepository(mockDB.DB)
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	_, err := repo.ExistsForEmployeeDate(ctx, uuid.New(), day)
	assert.Error(t, err)
	_, err = repo.SumUsage(ctx, uuid.New(), day, day, nil)
	assert.Error(t, err)
	_, err = repo.ListAvailable(ctx, uuid.New(), day)
	assert.Error(t, err)
	_, err = repo.ListByEmployee(ctx, uuid.New())
	assert.Error(t, err)
	mockDB.ExpectationsWereMet(t)
}

func TestOvertimeRepository_Update_WritesDate(t *testing.T) {
	ctx, tenantID := testutil.TenantContext()
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewOvertimeRepository(mockDB.DB)
	now := time.Now()

	e := &repository.OvertimeEntry{
		ID:             uuid.New(),
		Date:           time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
		RequestedHours: decimal.RequireFromString("1.75"),
		Type:           repository.OvertimeTypeStandard,
		Rate:           decimal.RequireFromString("1.25"),
		Status:         repository.OvertimeStatusPending,
	}

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("notes = $13, date = $14").
		WithArgs(e.ID.String(), "1.75", nil, "STANDARD", "1.25", "PENDING",
			false, nil, nil, nil, false, "0", nil, "2024-03-06").
		WillReturnRows(testutil.MockRows("updated_at").AddRow(now))
	mockDB.ExpectCommit()

	require.NoError(t, repo.Update(ctx, e))
	assert.Equal(t, now, e.UpdatedAt)
	mockDB.ExpectationsWereMet(t)
}

func TestOvertimeRepository_ListByIDs(t *testing.T) {
	ctx, tenantID := testutil.TenantContext()
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewOvertimeRepository(mockDB.DB)
	id, employeeID := uuid.New(), uuid.New()
	date := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("WHERE o.id = ANY($1::uuid[]) ORDER BY o.date, o.id").
		WithArgs(`{"` + id.String() + `"}`).
		WillReturnRows(overtimeRow(testutil.MockRows(overtimeRowColumns...), id, tenantID, employeeID, date, "2.00", "2.00", "2.00"))
	mockDB.ExpectCommit()

	entries, err := repo.ListByIDs(ctx, []uuid.UUID{id})
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.True(t, entries[0].Available().IsZero())
	mockDB.ExpectationsWereMet(t)
}
