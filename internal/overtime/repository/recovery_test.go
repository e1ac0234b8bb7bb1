package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timeflow/timeflow-backend/internal/overtime/repository"
	"github.com/timeflow/timeflow-backend/pkg/testutil"
)

var recoveryRowColumns = []string{
	"id", "tenant_id", "employee_id", "start_date", "end_date", "days", "source_hours",
	"conversion_rate", "status", "source_type", "is_regularization", "notes", "approved_by", "approved_at",
	"cancelled_by", "cancelled_at", "cancellation_reason", "created_at", "updated_at",
}

func TestRecoveryRepository_CreateWithLinkInOneTransaction(t *testing.T) {
	ctx, tenantID := testutil.TenantContext()
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewRecoveryRepository(mockDB.DB)
	now := time.Now()

	day := &repository.RecoveryDay{
		EmployeeID:     uuid.New(),
		StartDate:      time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		Days:           decimal.NewFromInt(1),
		SourceHours:    decimal.RequireFromString("7.33"),
		ConversionRate: decimal.RequireFromString("7.33"),
		Status:         repository.RecoveryStatusPending,
		SourceType:     repository.RecoverySourceOvertime,
	}

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("INSERT INTO recovery_days").
		WithArgs(sqlmock.AnyArg(), tenantID.String(), day.EmployeeID.String(), "2024-04-01", "2024-04-01",
			"1", "7.33", "7.33", "PENDING", "OVERTIME", false, nil, nil, nil).
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))
	mockDB.ExpectQuery("INSERT INTO overtime_recovery_days").
		WithArgs(sqlmock.AnyArg(), tenantID.String(), sqlmock.AnyArg(), sqlmock.AnyArg(), "7.33").
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	mockDB.ExpectCommit()

	err := mockDB.DB.WithTenantTx(ctx, func(ctx context.Context) error {
		if err := repo.Create(ctx, day); err != nil {
			return err
		}
		return repo.CreateLink(ctx, &repository.SourceLink{
			OvertimeID:    uuid.New(),
			RecoveryDayID: day.ID,
			HoursUsed:     decimal.RequireFromString("7.33"),
		})
	})
	require.NoError(t, err)

	assert.Equal(t, tenantID, day.TenantID)
	mockDB.ExpectationsWereMet(t)
}

func TestRecoveryRepository_ListOverlapping(t *testing.T) {
	ctx, tenantID := testutil.TenantContext()
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewRecoveryRepository(mockDB.DB)
	employeeID := uuid.New()
	start := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 3, 0, 0, 0, 0, time.UTC)
	now := time.Now()

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("AND status = ANY($4)").
		WithArgs(employeeID.String(), "2024-04-01", "2024-04-03", `{"APPROVED","USED"}`, tenantID.String()).
		WillReturnRows(testutil.MockRows(recoveryRowColumns...).AddRow(
			uuid.NewString(), tenantID.String(), employeeID.String(), start, start, "1.00", "7.33",
			"7.33", "APPROVED", "OVERTIME", false, nil, nil, nil,
			nil, nil, nil, now, now,
		))
	mockDB.ExpectCommit()

	days, err := repo.ListOverlapping(ctx, employeeID, start, end,
		[]string{repository.RecoveryStatusApproved, repository.RecoveryStatusUsed})
	require.NoError(t, err)

	require.Len(t, days, 1)
	assert.Equal(t, repository.RecoveryStatusApproved, days[0].Status)
	assert.Equal(t, "7.33", days[0].SourceHours.String())
	mockDB.ExpectationsWereMet(t)
}

func recoveryRow(rows *sqlmock.Rows, id, tenantID, employeeID uuid.UUID, start time.Time, status string) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(
		id.String(), tenantID.String(), employeeID.String(), start, start, "1.00", "7.33",
		"7.33", status, "OVERTIME", false, nil, nil, nil,
		nil, nil, nil, now, now,
	)
}

func TestRecoveryRepository_List_FiltersAndPages(t *testing.T) {
	ctx, tenantID := testutil.TenantContext()
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewRecoveryRepository(mockDB.DB)

	employeeID := uuid.New()
	status := repository.RecoveryStatusPending
	from := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("SELECT COUNT(*) FROM recovery_days WHERE tenant_id = $1 AND employee_id = $2 AND status = $3 AND end_date >= $4 AND start_date <= $5").
		WithArgs(tenantID.String(), employeeID.String(), status, "2024-04-01", "2024-04-30").
		WillReturnRows(testutil.MockRows("count").AddRow(int64(11)))
	mockDB.ExpectQuery("ORDER BY start_date DESC, created_at DESC LIMIT $6 OFFSET $7").
		WithArgs(tenantID.String(), employeeID.String(), status, "2024-04-01", "2024-04-30", 10, 10).
		WillReturnRows(recoveryRow(testutil.MockRows(recoveryRowColumns...), uuid.New(), tenantID, employeeID, from, status))
	mockDB.ExpectCommit()

	days, total, err := repo.List(ctx, repository.RecoveryFilter{
		EmployeeID: &employeeID,
		Status:     &status,
		From:       &from,
		To:         &to,
		Page:       2,
		PerPage:    10,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(11), total)
	require.Len(t, days, 1)
	assert.Equal(t, employeeID, days[0].EmployeeID)
	mockDB.ExpectationsWereMet(t)
}

func TestRecoveryRepository_ListByEmployee_ScopedToTenant(t *testing.T) {
	ctx, tenantID := testutil.TenantContext()
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewRecoveryRepository(mockDB.DB)
	employeeID := uuid.New()

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("FROM recovery_days WHERE tenant_id = $1 AND employee_id = $2 ORDER BY start_date DESC").
		WithArgs(tenantID.String(), employeeID.String()).
		WillReturnRows(testutil.MockRows(recoveryRowColumns...))
	mockDB.ExpectCommit()

	days, err := repo.ListByEmployee(ctx, employeeID)
	require.NoError(t, err)
	assert.Empty(t, days)
	mockDB.ExpectationsWereMet(t)
}

func TestRecoveryRepository_ListEndedBefore_ScopedToTenant(t *testing.T) {
	ctx, tenantID := testutil.TenantContext()
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewRecoveryRepository(mockDB.DB)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("WHERE tenant_id = $1 AND status = $2 AND end_date < $3").
		WithArgs(tenantID.String(), repository.RecoveryStatusApproved, "2024-03-15").
		WillReturnRows(recoveryRow(testutil.MockRows(recoveryRowColumns...), uuid.New(), tenantID, uuid.New(), start, repository.RecoveryStatusApproved))
	mockDB.ExpectCommit()

	days, err := repo.ListEndedBefore(ctx, repository.RecoveryStatusApproved, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, days, 1)
	mockDB.ExpectationsWereMet(t)
}

func TestRecoveryRepository_Update_WritesWindow(t *testing.T) {
	ctx, tenantID := testutil.TenantContext()
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewRecoveryRepository(mockDB.DB)
	now := time.Now()

	day := &repository.RecoveryDay{
		ID:          uuid.New(),
		StartDate:   time.Date(2024, 4, 8, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2024, 4, 9, 0, 0, 0, 0, time.UTC),
		Days:        decimal.RequireFromString("1.5"),
		SourceHours: decimal.RequireFromString("11"),
		Status:      repository.RecoveryStatusPending,
	}

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("start_date = $11, end_date = $12").
		WithArgs(day.ID.String(), "1.5", "11", "PENDING", nil, nil, nil, nil, nil, nil, "2024-04-08", "2024-04-09").
		WillReturnRows(testutil.MockRows("updated_at").AddRow(now))
	mockDB.ExpectCommit()

	require.NoError(t, repo.Update(ctx, day))
	assert.Equal(t, now, day.UpdatedAt)
	mockDB.ExpectationsWereMet(t)
}

func TestRecoveryRepository_ListLinksByRecoveryDays(t *testing.T) {
	ctx, tenantID := testutil.TenantContext()
	mockDB := testutil.NewMockDB(t)
	repo := repository.NewRecoveryRepository(mockDB.DB)
	a, b := uuid.New(), uuid.New()

	mockDB.ExpectTenantTx(tenantID)
	mockDB.ExpectQuery("WHERE recovery_day_id = ANY($1::uuid[])").
		WithArgs(`{"` + a.String() + `","` + b.String() + `"}`).
		WillReturnRows(testutil.MockRows("id", "tenant_id", "overtime_id", "recovery_day_id", "hours_used", "created_at").
			AddRow(uuid.NewString(), tenantID.String(), uuid.NewString(), a.String(), "3.50", time.Now()))
	mockDB.ExpectCommit()

	links, err := repo.ListLinksByRecoveryDays(ctx, []uuid.UUID{a, b})
	require.NoError(t, err)

	require.Len(t, links, 1)
	assert.Equal(t, a, links[0].RecoveryDayID)
	assert.Equal(t, "3.5", links[0].HoursUsed.String())
	mockDB.ExpectationsWereMet(t)

	links, err = repo.ListLinksByRecoveryDays(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, links)
}
