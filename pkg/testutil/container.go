// Package testutil provides testing utilities for the overtime service:
// a sqlmock wrapper, a PostgreSQL testcontainer with the full schema, and
// SQL fixtures for the collaborator tables.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/timeflow/timeflow-backend/migrations"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance
type PostgresContainer struct {
	*postgres.PostgresContainer
	DSN string
}

// PostgresContainerConfig configures the test PostgreSQL container
type PostgresContainerConfig struct {
	Database string
	Username string
	Password string
	Image    string // Optional: defaults to postgres:15-alpine
}

// DefaultPostgresConfig returns sensible defaults for test containers
func DefaultPostgresConfig() PostgresContainerConfig {
	return PostgresContainerConfig{
		Database: "timeflow_test",
		Username: "test",
		Password: "test",
		Image:    "postgres:15-alpine",
	}
}

// NewPostgresContainer creates a new PostgreSQL test container.
func NewPostgresContainer(ctx context.Context, cfg PostgresContainerConfig) (*PostgresContainer, error) {
	if cfg.Image == "" {
		cfg.Image = "postgres:15-alpine"
	}
	if cfg.Database == "" {
		cfg.Database = "timeflow_test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(cfg.Image),
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: container,
		DSN:               dsn,
	}, nil
}

// Connect returns a sqlx.DB connection to the container
func (c *PostgresContainer) Connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}
	return db, nil
}

// ApplySchema creates the collaborator tables, the overtime schema and an
// application role subject to RLS.
func (c *PostgresContainer) ApplySchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, collaboratorSchema); err != nil {
		return fmt.Errorf("failed to create collaborator schema: %w", err)
	}
	if err := migrations.Apply(ctx, db); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, appRoleSchema); err != nil {
		return fmt.Errorf("failed to create app role: %w", err)
	}
	return nil
}

// Tables owned by the staff, attendance, leave and tenant services. Only the
// columns the overtime engine reads are declared.
const collaboratorSchema = `
	CREATE TABLE IF NOT EXISTS public.tenants (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name VARCHAR(255) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS tenant_settings (
		tenant_id UUID PRIMARY KEY,
		overtime_minimum_threshold INT,
		overtime_rounding INT,
		overtime_auto_detect_type BOOLEAN,
		night_shift_start VARCHAR(5),
		night_shift_end VARCHAR(5),
		overtime_majoration_enabled BOOLEAN,
		overtime_rate_standard NUMERIC(4,2),
		overtime_rate_night NUMERIC(4,2),
		overtime_rate_holiday NUMERIC(4,2),
		overtime_rate_emergency NUMERIC(4,2),
		overtime_auto_approve BOOLEAN,
		overtime_auto_approve_max_hours NUMERIC(5,2),
		daily_working_hours NUMERIC(4,2),
		recovery_conversion_rate NUMERIC(4,2),
		recovery_expiry_days INT
	);

	CREATE TABLE IF NOT EXISTS employees (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id UUID NOT NULL,
		first_name VARCHAR(100) NOT NULL,
		last_name VARCHAR(100) NOT NULL,
		department VARCHAR(100),
		site VARCHAR(100),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_eligible_for_overtime BOOLEAN NOT NULL DEFAULT TRUE,
		max_overtime_hours_per_month NUMERIC(6,2),
		max_overtime_hours_per_week NUMERIC(6,2)
	);

	CREATE TABLE IF NOT EXISTS attendances (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id UUID NOT NULL,
		employee_id UUID NOT NULL,
		type VARCHAR(10) NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		overtime_minutes INT NOT NULL DEFAULT 0,
		anomaly_type VARCHAR(50)
	);

	CREATE TABLE IF NOT EXISTS holidays (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id UUID NOT NULL,
		date DATE NOT NULL,
		name VARCHAR(255) NOT NULL
	);

	CREATE TABLE IF NOT EXISTS leaves (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id UUID NOT NULL,
		employee_id UUID NOT NULL,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		status VARCHAR(30) NOT NULL
	);

	DO $$
	DECLARE t TEXT;
	BEGIN
		FOREACH t IN ARRAY ARRAY['tenant_settings', 'employees', 'attendances', 'holidays', 'leaves'] LOOP
			EXECUTE format('ALTER TABLE %I ENABLE ROW LEVEL SECURITY', t);
			EXECUTE format('ALTER TABLE %I FORCE ROW LEVEL SECURITY', t);
			EXECUTE format('DROP POLICY IF EXISTS tenant_isolation ON %I', t);
			EXECUTE format('CREATE POLICY tenant_isolation ON %I USING (tenant_id = current_setting(''app.current_tenant'', true)::uuid)', t);
		END LOOP;
	END $$;
`

// The container user is a superuser and bypasses even forced RLS, which the
// fixtures rely on. The service connects as timeflow_app so policies apply.
const appRoleSchema = `
	DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = 'timeflow_app') THEN
			CREATE ROLE timeflow_app LOGIN PASSWORD 'app';
		END IF;
	END $$;
	GRANT USAGE ON SCHEMA public TO timeflow_app;
	GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO timeflow_app;
`
