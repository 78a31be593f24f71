package model

import (
	"fmt"
	"strings"
)

// Role is a player's moderation level on the host.
type Role int

const (
	RoleUser      Role = iota // plain player, chat only
	RoleModerator             // may issue and remove bans
	RoleAdmin                 // same as moderator today; kept apart for config
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleModerator:
		return "moderator"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseRole converts a role name from config to a Role, ignoring case.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, nil
	case "moderator", "mod":
		return RoleModerator, nil
	case "user":
		return RoleUser, nil
	default:
		return RoleUser, &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", s)}
	}
}

// Valid reports whether r is RoleUser, RoleModerator or RoleAdmin.
func (r Role) Valid() bool {
	return r >= RoleUser && r <= RoleAdmin
}

// Permission is an action checked against a Role.
type Permission int

const (
	PermManageBans Permission = iota // issue and remove bans from chat
)
