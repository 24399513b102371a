package models

import (
	"sort"
	"strings"
	"time"
)

type UserRole string

const (
	RoleViewer     UserRole = "viewer"
	RoleEditor     UserRole = "editor"
	RoleAdmin      UserRole = "admin"
	RoleSuperAdmin UserRole = "super_admin"
)

var roleRank = map[UserRole]int{
	RoleViewer:     1,
	RoleEditor:     2,
	RoleAdmin:      3,
	RoleSuperAdmin: 4,
}

type User struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Email        string     `json:"email"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	PasswordHash string     `json:"-"`
	IsActive     bool       `json:"is_active"`
	Roles        []UserRole `json:"roles"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Profile is the learner-facing record seeded when an import provisions an account.
type Profile struct {
	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`
}

func IsValidRole(role UserRole) bool {
	_, ok := roleRank[role]
	return ok
}

func IsValidRoleList(roles []UserRole) bool {
	if len(roles) == 0 {
		return false
	}
	for _, role := range roles {
		if !IsValidRole(role) {
			return false
		}
	}
	return true
}

// NormalizeRoles lowercases, de-duplicates and orders roles from lowest to highest tier.
func NormalizeRoles(roles []UserRole) []UserRole {
	seen := make(map[UserRole]struct{}, len(roles))
	out := make([]UserRole, 0, len(roles))
	for _, role := range roles {
		r := UserRole(strings.ToLower(strings.TrimSpace(string(role))))
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return roleRank[out[i]] < roleRank[out[j]]
	})
	return out
}

// EnsureDefaultRole guarantees every identity carries at least the viewer role.
func EnsureDefaultRole(roles []UserRole) []UserRole {
	for _, role := range roles {
		if role == RoleViewer {
			return roles
		}
	}
	return append([]UserRole{RoleViewer}, roles...)
}

func HighestRole(roles []UserRole) UserRole {
	highest := RoleViewer
	for _, role := range roles {
		if roleRank[role] > roleRank[highest] {
			highest = role
		}
	}
	return highest
}

func HasAtLeast(roles []UserRole, required UserRole) bool {
	need, ok := roleRank[required]
	if !ok {
		return false
	}
	for _, role := range roles {
		if roleRank[role] >= need {
			return true
		}
	}
	return false
}
