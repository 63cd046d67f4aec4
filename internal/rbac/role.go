// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rbac

import (
	"fmt"
	"strings"
)

// =============================================================================
// ROLES
// =============================================================================

// Role is a named bundle of permissions.
type Role string

const (
	// RoleAdmin has every permission, including user and system management.
	RoleAdmin Role = "admin"

	// RoleManager runs the store: menu, refunds, voids, inventory, reports, staff.
	RoleManager Role = "manager"

	// RoleCashier rings up sales and applies discounts.
	RoleCashier Role = "cashier"

	// RoleTrainee can view the menu and process sales only.
	RoleTrainee Role = "trainee"
)

// Roles returns every role from most to least privileged.
func Roles() []Role {
	return []Role{RoleAdmin, RoleManager, RoleCashier, RoleTrainee}
}

// ParseRole converts a name into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSpace(strings.ToLower(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// Valid reports whether r is a defined role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleCashier, RoleTrainee:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// =============================================================================
// ROLE PERMISSIONS TABLE
// =============================================================================

// RoleTable maps each role to its permission set.
type RoleTable map[Role]PermissionSet

// defaultRolePermissions is the shipped permission matrix.
var defaultRolePermissions = map[Role][]Permission{
	RoleAdmin: allPermissions,
	RoleManager: {
		PermMenuView, PermMenuCreate, PermMenuEdit, PermMenuDelete,
		PermSalesView, PermSalesProcess, PermSalesDiscount, PermSalesRefund, PermSalesVoid,
		PermInventoryView, PermInventoryEdit, PermInventoryImport,
		PermReportsView, PermReportsExport,
		PermUsersView, PermUsersCreate, PermUsersEdit,
		PermSystemSettings, PermSystemAudit,
	},
	RoleCashier: {
		PermMenuView,
		PermSalesView, PermSalesProcess, PermSalesDiscount,
		PermInventoryView,
		PermReportsView,
	},
	RoleTrainee: {
		PermMenuView,
		PermSalesView, PermSalesProcess,
	},
}

// DefaultRoleTable returns a fresh copy of the shipped matrix.
// Callers may mutate the result without affecting other tables.
func DefaultRoleTable() RoleTable {
	t := make(RoleTable, len(defaultRolePermissions))
	for role, perms := range defaultRolePermissions {
		t[role] = NewPermissionSet(perms...)
	}
	return t
}

// PermissionsFor returns the permission set for role, or an empty set for an
// unknown role. The returned set is a copy.
func (t RoleTable) PermissionsFor(role Role) PermissionSet {
	set, ok := t[role]
	if !ok {
		return PermissionSet{}
	}
	return set.Clone()
}

// Clone deep-copies the table.
func (t RoleTable) Clone() RoleTable {
	out := make(RoleTable, len(t))
	for role, set := range t {
		out[role] = set.Clone()
	}
	return out
}

// Grant adds permissions to role, creating its set if needed.
func (t RoleTable) Grant(role Role, perms ...Permission) {
	set, ok := t[role]
	if !ok {
		set = PermissionSet{}
		t[role] = set
	}
	for _, p := range perms {
		set.Add(p)
	}
}

// Revoke removes permissions from role.
func (t RoleTable) Revoke(role Role, perms ...Permission) {
	set, ok := t[role]
	if !ok {
		return
	}
	for _, p := range perms {
		set.Remove(p)
	}
}

// PermissionsForRole returns the shipped permission set for role.
func PermissionsForRole(role Role) PermissionSet {
	return NewPermissionSet(defaultRolePermissions[role]...)
}

// =============================================================================
// ROLE DESCRIPTIONS
// =============================================================================

// RoleDescription provides human-readable information about a role.
type RoleDescription struct {
	Role         Role     `json:"role"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
}

var roleDescriptions = map[Role]RoleDescription{
	RoleAdmin: {
		Role:        RoleAdmin,
		Name:        "Administrator",
		Description: "Full access to the register, staff accounts, and system maintenance",
		Capabilities: []string{
			"Manage staff accounts",
			"Change system settings and run maintenance",
			"Back up data and review the audit log",
			"Everything a manager can do",
		},
	},
	RoleManager: {
		Role:        RoleManager,
		Name:        "Manager",
		Description: "Runs the store: menu, inventory, refunds, voids, and reports",
		Capabilities: []string{
			"Edit the menu and inventory",
			"Issue refunds and void sales",
			"Export reports",
			"Create and edit staff accounts",
		},
	},
	RoleCashier: {
		Role:        RoleCashier,
		Name:        "Cashier",
		Description: "Rings up sales and applies discounts",
		Capabilities: []string{
			"Process sales",
			"Apply discounts",
			"View menu, inventory, and reports",
		},
	},
	RoleTrainee: {
		Role:        RoleTrainee,
		Name:        "Trainee",
		Description: "Processes sales under supervision",
		Capabilities: []string{
			"Process sales",
			"View the menu",
		},
	},
}

// DescribeRole returns a description of role. Unknown roles get a stub
// description naming the role.
func DescribeRole(role Role) RoleDescription {
	if desc, ok := roleDescriptions[role]; ok {
		desc.Capabilities = append([]string(nil), desc.Capabilities...)
		return desc
	}
	return RoleDescription{Role: role, Name: string(role), Description: "Unknown role"}
}
