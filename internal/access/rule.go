// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package access decides whether the current session may reach a route or
// operation, and keeps a bounded audit log of those decisions.
package access

import (
	"strings"

	"github.com/jeranaias/tillguard/internal/rbac"
)

// Decision reasons.
const (
	ReasonNotAuthenticated = "Not authenticated"
	ReasonInactive         = "User account is inactive"
	ReasonUnrestricted     = "No access restrictions"
	ReasonGranted          = "Access granted"

	reasonRolesPrefix       = "Access restricted to roles: "
	reasonPermissionsPrefix = "Missing required permissions: "
)

// RouteRule is a declarative access policy for a path or operation.
// Rules are built at configuration time and never mutated afterwards.
type RouteRule struct {
	Path                string            `json:"path" toml:"path"`
	RequiredPermissions []rbac.Permission `json:"requiredPermissions,omitempty" toml:"required_permissions"`
	RequireAll          bool              `json:"requireAllPermissions,omitempty" toml:"require_all"`
	AllowedRoles        []rbac.Role       `json:"allowedRoles,omitempty" toml:"allowed_roles"`
	Description         string            `json:"description,omitempty" toml:"description"`
}

// Restricted reports whether the rule declares any role or permission gate.
func (r RouteRule) Restricted() bool {
	return len(r.AllowedRoles) > 0 || len(r.RequiredPermissions) > 0
}

// Context is the slice of session state an access check needs.
type Context struct {
	User            *rbac.User
	IsAuthenticated bool
}

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool   `json:"hasAccess"`
	Reason  string `json:"reason"`
}

// HasRouteAccess evaluates rule against ctx. It has no side effects.
//
// The role gate and the permission gate are conjunctive: when a rule declares
// both, the user must pass both.
func HasRouteAccess(rule RouteRule, ctx Context) Decision {
	if !ctx.IsAuthenticated || ctx.User == nil {
		return Decision{Reason: ReasonNotAuthenticated}
	}
	user := ctx.User
	if !user.Active {
		return Decision{Reason: ReasonInactive}
	}

	if len(rule.AllowedRoles) > 0 && !containsRole(rule.AllowedRoles, user.Role) {
		return Decision{Reason: reasonRolesPrefix + joinRoles(rule.AllowedRoles)}
	}

	if len(rule.RequiredPermissions) > 0 {
		ok := rbac.HasAnyPermission(user, rule.RequiredPermissions...)
		if rule.RequireAll {
			ok = rbac.HasAllPermissions(user, rule.RequiredPermissions...)
		}
		if !ok {
			missing := rbac.MissingPermissions(user, rule.RequiredPermissions...)
			return Decision{Reason: reasonPermissionsPrefix + joinPermissions(missing)}
		}
	}

	if !rule.Restricted() {
		return Decision{Allowed: true, Reason: ReasonUnrestricted}
	}
	return Decision{Allowed: true, Reason: ReasonGranted}
}

// AccessibleRoutes filters rules down to those ctx may reach. It never writes
// to an audit log.
func AccessibleRoutes(rules []RouteRule, ctx Context) []RouteRule {
	var out []RouteRule
	for _, rule := range rules {
		if HasRouteAccess(rule, ctx).Allowed {
			out = append(out, rule)
		}
	}
	return out
}

func containsRole(roles []rbac.Role, role rbac.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func joinRoles(roles []rbac.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}

func joinPermissions(perms []rbac.Permission) string {
	parts := make([]string, len(perms))
	for i, p := range perms {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}
