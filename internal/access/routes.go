// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package access

import "github.com/jeranaias/tillguard/internal/rbac"

// DefaultRoutes returns the register's route table. Every call returns a
// fresh slice.
func DefaultRoutes() []RouteRule {
	return []RouteRule{
		{
			Path:        "/",
			Description: "Home screen",
		},
		{
			Path:                "/menu",
			RequiredPermissions: []rbac.Permission{rbac.PermMenuView},
			Description:         "Browse the menu",
		},
		{
			Path:                "/menu/edit",
			RequiredPermissions: []rbac.Permission{rbac.PermMenuCreate, rbac.PermMenuEdit},
			Description:         "Add and edit menu items",
		},
		{
			Path:                "/menu/delete",
			RequiredPermissions: []rbac.Permission{rbac.PermMenuEdit, rbac.PermMenuDelete},
			RequireAll:          true,
			Description:         "Remove menu items",
		},
		{
			Path:                "/sales",
			RequiredPermissions: []rbac.Permission{rbac.PermSalesProcess},
			Description:         "Ring up sales",
		},
		{
			Path:                "/sales/refund",
			RequiredPermissions: []rbac.Permission{rbac.PermSalesRefund},
			Description:         "Refund a completed sale",
		},
		{
			Path:                "/sales/void",
			RequiredPermissions: []rbac.Permission{rbac.PermSalesVoid},
			Description:         "Void an open sale",
		},
		{
			Path:                "/inventory",
			RequiredPermissions: []rbac.Permission{rbac.PermInventoryView},
			Description:         "View stock levels",
		},
		{
			Path:                "/inventory/edit",
			RequiredPermissions: []rbac.Permission{rbac.PermInventoryEdit},
			Description:         "Adjust stock levels",
		},
		{
			Path:                "/inventory/import",
			RequiredPermissions: []rbac.Permission{rbac.PermInventoryEdit, rbac.PermInventoryImport},
			RequireAll:          true,
			Description:         "Bulk import stock",
		},
		{
			Path:                "/reports",
			RequiredPermissions: []rbac.Permission{rbac.PermReportsView},
			Description:         "Sales reports",
		},
		{
			Path:                "/reports/export",
			RequiredPermissions: []rbac.Permission{rbac.PermReportsExport},
			Description:         "Export reports",
		},
		{
			Path:                "/admin/users",
			RequiredPermissions: []rbac.Permission{rbac.PermUsersView, rbac.PermUsersEdit},
			RequireAll:          true,
			AllowedRoles:        []rbac.Role{rbac.RoleAdmin, rbac.RoleManager},
			Description:         "Manage staff accounts",
		},
		{
			Path:                "/admin/settings",
			RequiredPermissions: []rbac.Permission{rbac.PermSystemSettings},
			AllowedRoles:        []rbac.Role{rbac.RoleAdmin},
			Description:         "System settings",
		},
		{
			Path:                "/admin/maintenance",
			RequiredPermissions: []rbac.Permission{rbac.PermSystemMaintenance, rbac.PermSystemBackup},
			RequireAll:          true,
			AllowedRoles:        []rbac.Role{rbac.RoleAdmin},
			Description:         "Maintenance and backups",
		},
		{
			Path:                "/admin/audit",
			RequiredPermissions: []rbac.Permission{rbac.PermSystemAudit},
			AllowedRoles:        []rbac.Role{rbac.RoleAdmin, rbac.RoleManager},
			Description:         "Review the access audit log",
		},
	}
}

// FindRoute returns the rule for path.
func FindRoute(rules []RouteRule, path string) (RouteRule, bool) {
	for _, r := range rules {
		if r.Path == path {
			return r, true
		}
	}
	return RouteRule{}, false
}
