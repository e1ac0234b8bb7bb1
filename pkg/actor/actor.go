// Package actor identifies who performs a ledger mutation. The identity is
// written to approval and cancellation columns and checked against
// permissions for privileged conversions.
package actor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/timeflow/timeflow-backend/pkg/permissions"
)

// SystemID is the actor ID recorded for jobs and consumers.
var SystemID = uuid.Nil

// Actor represents the entity performing an action in the system.
type Actor struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	TenantID    uuid.UUID `json:"tenant_id"`
	Permissions []string  `json:"permissions,omitempty"`
}

// Can reports whether the actor holds permission. The system actor holds all.
func (a *Actor) Can(permission string) bool {
	if a == nil {
		return false
	}
	if a.IsSystem() {
		return true
	}
	return permissions.HasPermission(a.Permissions, permission)
}

// CanAny reports whether the actor holds at least one of perms.
func (a *Actor) CanAny(perms ...string) bool {
	for _, p := range perms {
		if a.Can(p) {
			return true
		}
	}
	return false
}

// String returns a representation for logging
func (a *Actor) String() string {
	if a == nil || a.IsSystem() {
		return "system"
	}
	return fmt.Sprintf("%s (%s)", a.Name, a.ID)
}

// IsSystem returns true if the actor represents the system.
func (a *Actor) IsSystem() bool {
	return a != nil && a.ID == SystemID
}

type contextKey string

const actorContextKey contextKey = "actor"

// FromContext retrieves the Actor from the context, nil when absent.
func FromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	a, ok := ctx.Value(actorContextKey).(*Actor)
	if !ok {
		return nil
	}
	return a
}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, a)
}

// SystemActor returns the Actor used by background jobs and consumers.
func SystemActor() *Actor {
	return &Actor{ID: SystemID, Name: "System"}
}
