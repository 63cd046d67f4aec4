// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package rbac is the permission model for the point-of-sale authorization core.
//
// Permissions and roles are closed enumerations. Each role maps to a fixed
// permission set through a RoleTable, and a logged-in User carries the set
// materialized from its role at login time.
//
// # Key Types
//
//   - Permission: a dotted capability token such as "sales.process"
//   - Role: admin, manager, cashier or trainee
//   - PermissionSet: an unordered set of permissions
//   - RoleTable: the role to permission-set mapping
//   - User: an identity record with its materialized permissions
//
// # Predicates
//
// HasPermission, HasAnyPermission and HasAllPermissions are pure. All three
// return false for a nil or inactive user. HasAnyPermission is false for an
// empty list; HasAllPermissions is true for one.
//
//	user := rbac.NewUser("u1", "sam", rbac.RoleCashier)
//	if rbac.HasPermission(user, rbac.PermSalesProcess) {
//	    // ring up the sale
//	}
package rbac
