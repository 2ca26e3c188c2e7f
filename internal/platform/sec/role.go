// Copyright (c) 2026 Public Health. All rights reserved.
// Author: platform@publichealth.example

package sec

// # User Roles

// UserRole represents the authorization level granted to an account.
//
// The identity subsystem deliberately knows only two roles; anything finer
// grained belongs to a future authorization layer, not here.
type UserRole string

const (
	// Unrestricted access to the admin registry endpoints
	RoleAdmin UserRole = "admin"

	// Default role for standard registered users
	RoleUser UserRole = "user"
)

// # Role Hierarchy

// AtLeast checks if the current role meets or exceeds the required target role.
func (r UserRole) AtLeast(target UserRole) bool {
	return r.level() >= target.level()
}

// level maps a role to a numeric hierarchy level for comparison logic.
func (r UserRole) level() int {

	// Linear scale leaves room for intermediate roles later
	switch r {
	case RoleAdmin:
		return 20
	case RoleUser:
		return 10
	default:
		return 0
	}
}

// Normalize coerces any stored value to a member of the closed role set.
// Unknown strings degrade to [RoleUser], never to admin.
func Normalize(value string) UserRole {
	if UserRole(value) == RoleAdmin {
		return RoleAdmin
	}
	return RoleUser
}
