package domain

import "context"

// Role names seeded by the deployment. Roles are opaque labels to the
// realtime plane; these constants exist for the category routing table and
// tests.
const (
	RoleAdmin              = "admin"
	RoleEnvironmentOfficer = "environment_officer"
	RoleUtilityOfficer     = "utility_officer"
	RoleTrafficControl     = "traffic_control"
	RoleViewer             = "viewer"
)

// DefaultCategoryRoles maps an alert category to the role responsible for it.
// New categories are additive entries here, not new conditionals.
func DefaultCategoryRoles() map[string]string {
	return map[string]string{
		"traffic":     RoleTrafficControl,
		"environment": RoleEnvironmentOfficer,
		"utility":     RoleUtilityOfficer,
	}
}

// Identity is the authenticated principal behind a connection.
type Identity struct {
	UserID int
	Role   string
}

// IdentityResolver turns a handshake credential into a verified identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}
