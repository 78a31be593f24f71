// Package rbac decides which roles may run ban commands.
package rbac

import "github.com/NicolasHaas/gobans/pkg/model"

// permissionMatrix maps roles to their allowed permissions.
var permissionMatrix = map[model.Role]map[model.Permission]bool{
	model.RoleAdmin: {
		model.PermManageBans: true,
	},
	model.RoleModerator: {
		model.PermManageBans: true,
	},
	model.RoleUser: {
		// Chat only.
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role model.Role, perm model.Permission) bool {
	perms, ok := permissionMatrix[role]
	if !ok {
		return false
	}
	return perms[perm]
}

// RequirePermission returns an error message if the role lacks the permission, or empty string if allowed.
func RequirePermission(role model.Role, perm model.Permission) string {
	if HasPermission(role, perm) {
		return ""
	}
	return "permission denied: " + permName(perm) + " requires higher role"
}

func permName(p model.Permission) string {
	switch p {
	case model.PermManageBans:
		return "manage_bans"
	default:
		return "unknown"
	}
}

// Roster assigns roles to player ids. Ids not listed are plain users.
type Roster struct {
	roles map[string]model.Role
}

// NewRoster builds a Roster from admin and moderator id lists. An id in
// both lists is an admin.
func NewRoster(admins, moderators []string) *Roster {
	r := &Roster{roles: make(map[string]model.Role, len(admins)+len(moderators))}
	for _, id := range moderators {
		r.roles[id] = model.RoleModerator
	}
	for _, id := range admins {
		r.roles[id] = model.RoleAdmin
	}
	return r
}

// Assign sets the role of subjectID, replacing any role from the lists.
func (r *Roster) Assign(subjectID string, role model.Role) {
	r.roles[subjectID] = role
}

// Role returns the role of subjectID.
func (r *Roster) Role(subjectID string) model.Role {
	if role, ok := r.roles[subjectID]; ok {
		return role
	}
	return model.RoleUser
}

// Can reports whether subjectID holds perm.
func (r *Roster) Can(subjectID string, perm model.Permission) bool {
	return HasPermission(r.Role(subjectID), perm)
}
