// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rbac

import "time"

// User is an identity record. Permissions are materialized from Role and are
// never edited independently; PIN is only used to authenticate and is never
// serialized.
type User struct {
	ID          string        `json:"id"`
	Username    string        `json:"username"`
	DisplayName string        `json:"displayName"`
	Role        Role          `json:"role"`
	Permissions PermissionSet `json:"permissions"`
	Active      bool          `json:"isActive"`
	CreatedAt   time.Time     `json:"createdAt"`
	LastLogin   *time.Time    `json:"lastLogin,omitempty"`
	PIN         string        `json:"-"`
}

// NewUser returns an active user whose permissions come from the shipped table.
func NewUser(id, username string, role Role) *User {
	return &User{
		ID:          id,
		Username:    username,
		DisplayName: username,
		Role:        role,
		Permissions: PermissionsForRole(role),
		Active:      true,
	}
}

// Clone returns a deep copy of u. A nil user clones to nil.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Permissions = u.Permissions.Clone()
	if u.LastLogin != nil {
		t := *u.LastLogin
		out.LastLogin = &t
	}
	return &out
}

// WithPermissionsFrom returns a copy of u whose permissions are re-derived
// from table and whose PIN is cleared.
func (u *User) WithPermissionsFrom(table RoleTable) *User {
	out := u.Clone()
	if out == nil {
		return nil
	}
	out.Permissions = table.PermissionsFor(out.Role)
	out.PIN = ""
	return out
}

// =============================================================================
// PREDICATES
// =============================================================================

// HasPermission reports whether an active user holds p.
func HasPermission(u *User, p Permission) bool {
	if u == nil || !u.Active {
		return false
	}
	return u.Permissions.Has(p)
}

// HasAnyPermission reports whether an active user holds at least one of perms.
// An empty list is false.
func HasAnyPermission(u *User, perms ...Permission) bool {
	if u == nil || !u.Active {
		return false
	}
	for _, p := range perms {
		if u.Permissions.Has(p) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether an active user holds every one of perms.
// An empty list is true.
func HasAllPermissions(u *User, perms ...Permission) bool {
	if u == nil || !u.Active {
		return false
	}
	for _, p := range perms {
		if !u.Permissions.Has(p) {
			return false
		}
	}
	return true
}

// MissingPermissions returns the members of perms the user does not hold,
// in the order given.
func MissingPermissions(u *User, perms ...Permission) []Permission {
	var missing []Permission
	for _, p := range perms {
		if !HasPermission(u, p) {
			missing = append(missing, p)
		}
	}
	return missing
}
