package model

import (
	"fmt"
	"strings"
	"time"
)

// Role is a user's permission level.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleUser, RoleModerator, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q (want user, moderator or admin)", s)
	}
}

// User is a member account stored in the serviceUsers list. Name is the
// display name and the case-insensitive unique key.
type User struct {
	Name                string     `json:"fullname"`
	PasswordHash        string     `json:"passwordHash,omitempty"`
	LegacyPassword      string     `json:"password,omitempty"`
	Role                Role       `json:"role"`
	Regiment            string     `json:"regiment,omitempty"`
	ForcePasswordChange bool       `json:"forcePasswordChange,omitempty"`
	CreatedAt           *time.Time `json:"createdAt,omitempty"`
}

// IsAdmin reports whether u holds the admin role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// CanModerate reports whether u is a moderator or an admin.
func (u User) CanModerate() bool { return u.Role == RoleModerator || u.Role == RoleAdmin }

// SameName compares user names the way the users list keys them.
func SameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
