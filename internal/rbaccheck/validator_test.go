// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rbaccheck

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/tillguard/internal/access"
	"github.com/jeranaias/tillguard/internal/rbac"
)

func TestValidate_DefaultsAreClean(t *testing.T) {
	res := New().Validate()

	require.True(t, res.IsValid)
	require.Empty(t, res.Issues)
	require.NotNil(t, res.Issues)
	require.Equal(t, 4, res.Summary.RolesValidated)
	require.Equal(t, len(access.DefaultRoutes()), res.Summary.RoutesValidated)
	require.Equal(t, 4, res.Summary.ComponentsValidated)
	require.Greater(t, res.Summary.TotalChecks, 0)
	require.Zero(t, res.Summary.CriticalIssues)
	require.Zero(t, res.Summary.Warnings)
}

func TestValidate_Deterministic(t *testing.T) {
	table := rbac.DefaultRoleTable()
	table.Grant(rbac.RoleTrainee, rbac.PermMenuEdit, rbac.PermSystemMaintenance)
	v := New(WithRoleTable(table))

	require.Equal(t, v.Validate(), v.Validate())
}

func TestValidate_TraineeWithMaintenance(t *testing.T) {
	table := rbac.DefaultRoleTable()
	table.Grant(rbac.RoleTrainee, rbac.PermSystemMaintenance)

	res := New(WithRoleTable(table)).Validate()
	require.False(t, res.IsValid)

	critical := res.Critical()
	require.Len(t, critical, 1)
	require.Equal(t, ComponentRoles, critical[0].Component)
	require.Contains(t, critical[0].Description, "trainee")
	require.Contains(t, critical[0].Description, "system.maintenance")
	require.Equal(t, 1, res.Summary.CriticalIssues)
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	table := rbac.DefaultRoleTable()
	table.Grant(rbac.RoleTrainee, rbac.PermMenuDelete)
	before := table.Clone()

	New(WithRoleTable(table)).Validate()
	require.Equal(t, before, table)
}

func TestValidate_EmptyRole(t *testing.T) {
	table := rbac.DefaultRoleTable()
	table[rbac.RoleTrainee] = rbac.NewPermissionSet()

	res := New(WithRoleTable(table)).Validate()
	require.False(t, res.IsValid)
	require.Contains(t, res.Critical()[0].Description, "Role trainee has no permissions")
}

func TestValidate_AdminMissingRequired(t *testing.T) {
	table := rbac.DefaultRoleTable()
	table.Revoke(rbac.RoleAdmin, rbac.PermUsersCreate)

	res := New(WithRoleTable(table)).Validate()
	require.True(t, res.IsValid)

	warnings := res.Warnings()
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Description, "users.create")
	require.Equal(t, 1, res.Summary.Warnings)
}

func TestValidate_UnassignedPermission(t *testing.T) {
	table := rbac.DefaultRoleTable()
	table.Revoke(rbac.RoleAdmin, rbac.PermSystemBackup)

	res := New(WithRoleTable(table)).Validate()
	require.True(t, res.IsValid)
	require.Len(t, res.Warnings(), 1)
	require.Equal(t, ComponentPermissions, res.Warnings()[0].Component)
	require.Contains(t, res.Warnings()[0].Description, "system.backup")
}

func TestValidate_AdminSmallerThanManager(t *testing.T) {
	table := rbac.DefaultRoleTable()
	table.Revoke(rbac.RoleAdmin, rbac.PermMenuView, rbac.PermMenuCreate, rbac.PermMenuEdit, rbac.PermMenuDelete)

	res := New(WithRoleTable(table)).Validate()

	var found bool
	for _, w := range res.Warnings() {
		if strings.Contains(w.Description, "more permissions than admin") {
			found = true
		}
	}
	require.True(t, found)

	// Admin can no longer view the menu.
	var menu bool
	for _, w := range res.Warnings() {
		if strings.Contains(w.Description, "Role admin cannot view /menu") {
			menu = true
		}
	}
	require.True(t, menu)
}

func TestValidate_CashierDeniedSales(t *testing.T) {
	table := rbac.DefaultRoleTable()
	table.Revoke(rbac.RoleCashier, rbac.PermSalesProcess)

	res := New(WithRoleTable(table)).Validate()
	require.False(t, res.IsValid)
	require.Contains(t, res.Critical()[0].Description, "Role cashier cannot access sales route /sales")
}

func TestValidate_UnprotectedAdminRoute(t *testing.T) {
	routes := append(access.DefaultRoutes(), access.RouteRule{Path: "/admin/backup"})

	res := New(WithRoutes(routes)).Validate()
	require.False(t, res.IsValid)

	var components []string
	for _, issue := range res.Critical() {
		require.Contains(t, issue.Description, "/admin/backup")
		components = append(components, issue.Component)
	}
	require.ElementsMatch(t, []string{ComponentRoutes, ComponentSecurity}, components)
}

func TestValidate_NoRoutes(t *testing.T) {
	res := New(WithRoutes(nil)).Validate()
	require.True(t, res.IsValid)
	require.Len(t, res.Issues, 1)
	require.Equal(t, SeverityInfo, res.Issues[0].Severity)
}

func TestIsAdministrativePath(t *testing.T) {
	require.True(t, IsAdministrativePath("/admin"))
	require.True(t, IsAdministrativePath("/admin/users"))
	require.True(t, IsAdministrativePath("/system/x"))
	require.True(t, IsAdministrativePath("/menu/delete"))
	require.True(t, IsAdministrativePath("/reports/audit"))
	require.False(t, IsAdministrativePath("/administrator"))
	require.False(t, IsAdministrativePath("/sales"))
	require.False(t, IsAdministrativePath("/menu/edit"))
}

func TestReport(t *testing.T) {
	clean := Report(New().Validate())
	require.Contains(t, clean, "# RBAC Validation Report")
	require.Contains(t, clean, "**Status:** PASSED")
	require.Contains(t, clean, "No issues found.")

	table := rbac.DefaultRoleTable()
	table.Grant(rbac.RoleTrainee, rbac.PermSystemMaintenance)
	table.Revoke(rbac.RoleAdmin, rbac.PermUsersCreate)
	report := Report(New(WithRoleTable(table)).Validate())

	require.Contains(t, report, "**Status:** FAILED")
	require.Contains(t, report, "## Critical Issues")
	require.Contains(t, report, "## Warnings")
	require.Contains(t, report, "Revoke system.maintenance from trainee")
	require.NotContains(t, report, "## Info")
}
