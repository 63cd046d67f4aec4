// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package rbaccheck statically inspects a role table and route rules for
// structural security defects.
//
// The validator never mutates what it inspects and is deterministic: the
// same tables always yield the same issues in the same order.
package rbaccheck

import (
	"fmt"
	"strings"

	"github.com/jeranaias/tillguard/internal/access"
	"github.com/jeranaias/tillguard/internal/rbac"
)

// =============================================================================
// TYPES
// =============================================================================

// Severity ranks an issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Components checked by the validator.
const (
	ComponentRoles       = "Role Permissions"
	ComponentRoutes      = "Route Access"
	ComponentPermissions = "Permission Coverage"
	ComponentSecurity    = "Security Posture"
)

// Issue is one finding. Issues are values, not errors.
type Issue struct {
	Severity       Severity `json:"severity"`
	Component      string   `json:"component"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation"`
}

// Summary counts what was checked and found.
type Summary struct {
	TotalChecks         int `json:"totalChecks"`
	CriticalIssues      int `json:"criticalIssues"`
	Warnings            int `json:"warnings"`
	RolesValidated      int `json:"rolesValidated"`
	RoutesValidated     int `json:"routesValidated"`
	ComponentsValidated int `json:"componentsValidated"`
}

// Result is the outcome of Validate. IsValid is false when any issue is critical.
type Result struct {
	IsValid bool    `json:"isValid"`
	Issues  []Issue `json:"issues"`
	Summary Summary `json:"summary"`
}

// Critical returns the critical issues.
func (r Result) Critical() []Issue { return r.filter(SeverityCritical) }

// Warnings returns the warning issues.
func (r Result) Warnings() []Issue { return r.filter(SeverityWarning) }

func (r Result) filter(sev Severity) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == sev {
			out = append(out, issue)
		}
	}
	return out
}

// =============================================================================
// FIXED EXPECTATIONS
// =============================================================================

var (
	// traineeRestricted must never be granted to trainees.
	traineeRestricted = []rbac.Permission{
		rbac.PermMenuEdit,
		rbac.PermMenuDelete,
		rbac.PermInventoryEdit,
		rbac.PermSystemMaintenance,
	}

	// adminRequired must always be granted to admins.
	adminRequired = []rbac.Permission{
		rbac.PermSystemSettings,
		rbac.PermUsersCreate,
		rbac.PermUsersEdit,
	}

	// salesRoles are expected to ring up sales and browse the menu.
	salesRoles = []rbac.Role{rbac.RoleCashier, rbac.RoleManager, rbac.RoleAdmin}

	salesCriticalPaths = []string{"/sales"}
	menuViewPaths      = []string{"/menu"}

	adminPrefixes  = []string{"/admin", "/users", "/system"}
	adminFragments = []string{"settings", "maintenance", "audit", "backup", "delete"}

	destructiveFragments = []string{"edit", "delete", "void", "refund", "import"}
)

// IsAdministrativePath reports whether path names an administrative area.
func IsAdministrativePath(path string) bool {
	p := strings.ToLower(path)
	for _, prefix := range adminPrefixes {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	for _, frag := range adminFragments {
		if strings.Contains(p, frag) {
			return true
		}
	}
	return false
}

// isSensitiveRoute reports whether a rule's path or declared permissions imply
// a destructive or administrative operation.
func isSensitiveRoute(rule access.RouteRule) bool {
	if IsAdministrativePath(rule.Path) {
		return true
	}
	p := strings.ToLower(rule.Path)
	for _, frag := range destructiveFragments {
		if strings.Contains(p, frag) {
			return true
		}
	}
	for _, perm := range rule.RequiredPermissions {
		if perm.IsDestructive() {
			return true
		}
	}
	return false
}

// =============================================================================
// VALIDATOR
// =============================================================================

// Validator checks a role table against a route table.
type Validator struct {
	table  rbac.RoleTable
	routes []access.RouteRule
}

// Option configures a Validator.
type Option func(*Validator)

// WithRoleTable sets the role table to inspect. The table is copied.
func WithRoleTable(t rbac.RoleTable) Option {
	return func(v *Validator) {
		v.table = t.Clone()
	}
}

// WithRoutes sets the route rules to inspect.
func WithRoutes(routes []access.RouteRule) Option {
	return func(v *Validator) {
		v.routes = append([]access.RouteRule(nil), routes...)
	}
}

// New creates a validator over the default role and route tables unless
// overridden.
func New(opts ...Option) *Validator {
	v := &Validator{
		table:  rbac.DefaultRoleTable(),
		routes: access.DefaultRoutes(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// run accumulates issues and the check counter.
type run struct {
	issues []Issue
	checks int
}

func (r *run) check(ok bool, sev Severity, component, description, recommendation string) {
	r.checks++
	if ok {
		return
	}
	r.issues = append(r.issues, Issue{
		Severity:       sev,
		Component:      component,
		Description:    description,
		Recommendation: recommendation,
	})
}

// Validate runs every check.
func (v *Validator) Validate() Result {
	r := &run{issues: []Issue{}}

	v.checkRoles(r)
	v.checkRoutes(r)
	v.checkPermissionCoverage(r)
	v.checkSecurityPosture(r)

	res := Result{
		Issues: r.issues,
		Summary: Summary{
			TotalChecks:         r.checks,
			RolesValidated:      len(rbac.Roles()),
			RoutesValidated:     len(v.routes),
			ComponentsValidated: 4,
		},
	}
	for _, issue := range r.issues {
		switch issue.Severity {
		case SeverityCritical:
			res.Summary.CriticalIssues++
		case SeverityWarning:
			res.Summary.Warnings++
		}
	}
	res.IsValid = res.Summary.CriticalIssues == 0
	return res
}

// ===== ROLE SANITY =====

func (v *Validator) checkRoles(r *run) {
	for _, role := range rbac.Roles() {
		perms := v.table.PermissionsFor(role)
		r.check(perms.Len() > 0, SeverityCritical, ComponentRoles,
			fmt.Sprintf("Role %s has no permissions", role),
			fmt.Sprintf("Assign at least one permission to %s or remove the role", role))
	}

	trainee := v.table.PermissionsFor(rbac.RoleTrainee)
	for _, perm := range traineeRestricted {
		r.check(!trainee.Has(perm), SeverityCritical, ComponentRoles,
			fmt.Sprintf("Role trainee has restricted permission %s", perm),
			fmt.Sprintf("Revoke %s from trainee", perm))
	}

	admin := v.table.PermissionsFor(rbac.RoleAdmin)
	for _, perm := range adminRequired {
		r.check(admin.Has(perm), SeverityWarning, ComponentRoles,
			fmt.Sprintf("Role admin is missing required permission %s", perm),
			fmt.Sprintf("Grant %s to admin", perm))
	}
}

// ===== ROUTE COVERAGE =====

func (v *Validator) syntheticContext(role rbac.Role) access.Context {
	user := rbac.NewUser("rbaccheck-"+string(role), string(role), role).WithPermissionsFrom(v.table)
	return access.Context{User: user, IsAuthenticated: true}
}

func (v *Validator) checkRoutes(r *run) {
	if len(v.routes) == 0 {
		r.issues = append(r.issues, Issue{
			Severity:       SeverityInfo,
			Component:      ComponentRoutes,
			Description:    "No routes declared",
			Recommendation: "Declare route rules so access can be checked",
		})
		return
	}

	trainee := v.syntheticContext(rbac.RoleTrainee)
	for _, rule := range v.routes {
		if !IsAdministrativePath(rule.Path) {
			continue
		}
		d := access.HasRouteAccess(rule, trainee)
		r.check(!d.Allowed, SeverityCritical, ComponentRoutes,
			fmt.Sprintf("Role trainee can access administrative route %s", rule.Path),
			fmt.Sprintf("Restrict %s with allowedRoles or requiredPermissions", rule.Path))
	}

	for _, role := range salesRoles {
		ctx := v.syntheticContext(role)
		for _, path := range salesCriticalPaths {
			rule, ok := access.FindRoute(v.routes, path)
			if !ok {
				continue
			}
			d := access.HasRouteAccess(rule, ctx)
			r.check(d.Allowed, SeverityCritical, ComponentRoutes,
				fmt.Sprintf("Role %s cannot access sales route %s: %s", role, path, d.Reason),
				fmt.Sprintf("Grant %s the permissions required by %s", role, path))
		}
		for _, path := range menuViewPaths {
			rule, ok := access.FindRoute(v.routes, path)
			if !ok {
				continue
			}
			d := access.HasRouteAccess(rule, ctx)
			r.check(d.Allowed, SeverityWarning, ComponentRoutes,
				fmt.Sprintf("Role %s cannot view %s: %s", role, path, d.Reason),
				fmt.Sprintf("Grant %s to %s", rbac.PermMenuView, role))
		}
	}
}

// ===== PERMISSION COVERAGE =====

func (v *Validator) checkPermissionCoverage(r *run) {
	for _, perm := range rbac.AllPermissions() {
		assigned := false
		for _, role := range rbac.Roles() {
			if v.table.PermissionsFor(role).Has(perm) {
				assigned = true
				break
			}
		}
		r.check(assigned, SeverityWarning, ComponentPermissions,
			fmt.Sprintf("Permission %s is not assigned to any role", perm),
			fmt.Sprintf("Assign %s to a role or drop it from the vocabulary", perm))
	}

	adminCount := v.table.PermissionsFor(rbac.RoleAdmin).Len()
	for _, role := range rbac.Roles() {
		if role == rbac.RoleAdmin {
			continue
		}
		n := v.table.PermissionsFor(role).Len()
		r.check(adminCount >= n, SeverityWarning, ComponentPermissions,
			fmt.Sprintf("Role %s has more permissions than admin (%d > %d)", role, n, adminCount),
			"Review the role table so admin holds the widest permission set")
	}
}

// ===== SECURITY POSTURE =====

func (v *Validator) checkSecurityPosture(r *run) {
	for _, rule := range v.routes {
		if !isSensitiveRoute(rule) {
			continue
		}
		r.check(len(rule.RequiredPermissions) > 0, SeverityCritical, ComponentSecurity,
			fmt.Sprintf("Sensitive route %s declares no required permissions", rule.Path),
			fmt.Sprintf("Add requiredPermissions to %s", rule.Path))
	}
}
