package authz

import (
	"context"
	"net/http"

	"github.com/stanstork/lms-import/internal/models"
)

type contextKey struct{}

// Identity is the verified caller of a request.
type Identity struct {
	TenantID string
	UserID   string
	Roles    []models.UserRole
}

// WithIdentity stores tenant, user, and role information on the context.
func WithIdentity(ctx context.Context, tenantID, userID string, roles []models.UserRole) context.Context {
	return context.WithValue(ctx, contextKey{}, Identity{
		TenantID: tenantID,
		UserID:   userID,
		Roles:    models.EnsureDefaultRole(models.NormalizeRoles(roles)),
	})
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

func TenantIDFromRequest(r *http.Request) (string, bool) {
	id, ok := IdentityFromContext(r.Context())
	if !ok || id.TenantID == "" {
		return "", false
	}
	return id.TenantID, true
}

func UserIDFromRequest(r *http.Request) (string, bool) {
	id, ok := IdentityFromContext(r.Context())
	if !ok || id.UserID == "" {
		return "", false
	}
	return id.UserID, true
}

func RolesFromRequest(r *http.Request) ([]models.UserRole, bool) {
	id, ok := IdentityFromContext(r.Context())
	if !ok || !models.IsValidRoleList(id.Roles) {
		return nil, false
	}
	return id.Roles, true
}
