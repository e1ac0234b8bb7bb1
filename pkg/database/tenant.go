package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/timeflow/timeflow-backend/pkg/tenant"
)

type txKey struct{}

// WithTenantRLS runs fn inside a transaction scoped to tenantID.
//
// app.current_tenant is set transaction-locally, so RLS policies of the form
// USING (tenant_id = current_setting('app.current_tenant')::uuid) filter every
// statement issued through Querier(ctx). The setting disappears on commit or
// rollback, which keeps pooled connections clean.
func (db *DB) WithTenantRLS(ctx context.Context, tenantID uuid.UUID, fn func(context.Context) error) error {
	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT set_config('app.current_tenant', $1, true)", tenantID.String()); err != nil {
			return MapError(fmt.Errorf("failed to set app.current_tenant: %w", err))
		}

		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// WithTenantTx runs fn in the tenant transaction already carried by ctx, or
// opens one for the tenant stored in ctx.
func (db *DB) WithTenantTx(ctx context.Context, fn func(context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	return db.WithTenantRLS(ctx, tenantID, fn)
}

// Querier returns the transaction stored in ctx, or the pool when there is none.
func (db *DB) Querier(ctx context.Context) sqlx.ExtContext {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return db.DB
}

// TxFromContext extracts the transaction from ctx, nil when absent.
func TxFromContext(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}
