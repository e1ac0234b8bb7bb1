package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type contextKey string

const tenantIDKey contextKey = "tenant_id"

// ErrNoTenantInContext is returned when tenant context is missing
var ErrNoTenantInContext = errors.New("no tenant in context")

// WithTenantID adds the tenant ID to the context
func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// TenantID extracts tenant ID from context
func TenantID(ctx context.Context) (uuid.UUID, error) {
	id, ok := ctx.Value(tenantIDKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, ErrNoTenantInContext
	}
	return id, nil
}

// MustTenantID panics when the tenant is missing. Only for code paths where a
// missing tenant is a programming error.
func MustTenantID(ctx context.Context) uuid.UUID {
	id, err := TenantID(ctx)
	if err != nil {
		panic("tenant ID not found in context")
	}
	return id
}
