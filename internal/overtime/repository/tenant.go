package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/timeflow/timeflow-backend/pkg/database"
)

// TenantRepository lists tenants for the nightly jobs
type TenantRepository struct {
	db *database.DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *database.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// ListActiveTenantIDs returns every active tenant. public.tenants carries no
// RLS policy, so this runs outside a tenant transaction.
func (r *TenantRepository) ListActiveTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := sqlx.SelectContext(ctx, r.db, &ids, `SELECT id FROM public.tenants WHERE is_active = TRUE ORDER BY id`)
	return ids, database.MapError(err)
}
