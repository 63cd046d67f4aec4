// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package authz is the caller surface of the authorization core. One Authz is
// built per process and handed to every screen and command that needs to ask
// "who is signed in" or "may they do this".
package authz

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jeranaias/tillguard/internal/access"
	"github.com/jeranaias/tillguard/internal/auth"
	"github.com/jeranaias/tillguard/internal/rbac"
	"github.com/jeranaias/tillguard/internal/rbaccheck"
)

// Authz wires the session manager, the access engine and the validator over
// one role table and one route table.
type Authz struct {
	manager   *auth.Manager
	engine    *access.Engine
	validator *rbaccheck.Validator
	table     rbac.RoleTable
	routes    []access.RouteRule
}

type options struct {
	table      rbac.RoleTable
	routes     []access.RouteRule
	logger     zerolog.Logger
	authOpts   []auth.Option
	engineOpts []access.EngineOption
}

// Option configures an Authz.
type Option func(*options)

// WithRoleTable sets the role table used for login and validation.
func WithRoleTable(t rbac.RoleTable) Option {
	return func(o *options) {
		o.table = t.Clone()
	}
}

// WithRoutes sets the route table.
func WithRoutes(routes []access.RouteRule) Option {
	return func(o *options) {
		o.routes = append([]access.RouteRule(nil), routes...)
	}
}

// WithLogger sets the logger shared by the manager and the engine.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithAuthOptions passes options through to the session manager.
func WithAuthOptions(opts ...auth.Option) Option {
	return func(o *options) {
		o.authOpts = append(o.authOpts, opts...)
	}
}

// WithEngineOptions passes options through to the access engine.
func WithEngineOptions(opts ...access.EngineOption) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, opts...)
	}
}

// New builds an Authz. The session manager rehydrates from its store here.
func New(opts ...Option) *Authz {
	o := &options{
		table:  rbac.DefaultRoleTable(),
		routes: access.DefaultRoutes(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.routes == nil {
		o.routes = access.DefaultRoutes()
	}

	authOpts := append([]auth.Option{
		auth.WithRoleTable(o.table),
		auth.WithLogger(o.logger.With().Str("component", "auth").Logger()),
	}, o.authOpts...)
	engineOpts := append([]access.EngineOption{
		access.WithLogger(o.logger.With().Str("component", "access").Logger()),
	}, o.engineOpts...)

	return &Authz{
		manager:   auth.NewManager(authOpts...),
		engine:    access.NewEngine(o.routes, engineOpts...),
		validator: rbaccheck.New(rbaccheck.WithRoleTable(o.table), rbaccheck.WithRoutes(o.routes)),
		table:     o.table,
		routes:    o.routes,
	}
}

// Manager returns the session manager.
func (a *Authz) Manager() *auth.Manager { return a.manager }

// Engine returns the access engine.
func (a *Authz) Engine() *access.Engine { return a.engine }

// RoleTable returns a copy of the role table.
func (a *Authz) RoleTable() rbac.RoleTable { return a.table.Clone() }

// Close stops background work.
func (a *Authz) Close() { a.manager.Close() }

// ===== SESSION =====

// Login authenticates creds. See auth.Manager.Login for the error types.
func (a *Authz) Login(ctx context.Context, creds auth.Credentials) error {
	return a.manager.Login(ctx, creds)
}

// Logout ends the session.
func (a *Authz) Logout() { a.manager.Logout() }

// UpdateActivity pushes the session expiry forward.
func (a *Authz) UpdateActivity() { a.manager.UpdateActivity() }

// UpdateUser merges profile changes into the signed-in user.
func (a *Authz) UpdateUser(update auth.UserUpdate) error { return a.manager.UpdateUser(update) }

// SwitchUser makes target the signed-in user. Admin only.
func (a *Authz) SwitchUser(target *rbac.User) error { return a.manager.SwitchUser(target) }

// SwitchUserByID switches to the directory user with id. Admin only.
func (a *Authz) SwitchUserByID(id string) error { return a.manager.SwitchUserByID(id) }

// Session returns a snapshot of the session.
func (a *Authz) Session() auth.Session { return a.manager.Session() }

// CurrentUser returns a copy of the signed-in user, or nil.
func (a *Authz) CurrentUser() *rbac.User { return a.manager.CurrentUser() }

// Context returns the access context for the current session.
func (a *Authz) Context() access.Context {
	s := a.manager.Session()
	return access.Context{User: s.User, IsAuthenticated: s.IsAuthenticated}
}

// ===== PERMISSIONS =====

// HasPermission reports whether the signed-in user holds p.
func (a *Authz) HasPermission(p rbac.Permission) bool {
	return rbac.HasPermission(a.signedIn(), p)
}

// HasAnyPermission reports whether the signed-in user holds any of perms.
func (a *Authz) HasAnyPermission(perms ...rbac.Permission) bool {
	return rbac.HasAnyPermission(a.signedIn(), perms...)
}

// HasAllPermissions reports whether the signed-in user holds all of perms.
func (a *Authz) HasAllPermissions(perms ...rbac.Permission) bool {
	return rbac.HasAllPermissions(a.signedIn(), perms...)
}

func (a *Authz) signedIn() *rbac.User {
	s := a.manager.Session()
	if !s.IsAuthenticated {
		return nil
	}
	return s.User
}

// ===== ROUTES =====

// HasRouteAccess checks rule for the current session and records the
// decision in the audit log.
func (a *Authz) HasRouteAccess(rule access.RouteRule) access.Decision {
	return a.engine.Check(rule, a.Context())
}

// CheckPath looks path up in the route table and checks it.
func (a *Authz) CheckPath(path string) (access.Decision, error) {
	return a.engine.CheckPath(path, a.Context())
}

// AccessibleRoutes lists the routes the current session may open. Nothing is
// audited.
func (a *Authz) AccessibleRoutes() []access.RouteRule {
	return a.engine.Accessible(a.Context())
}

// AuditLog returns the route-check audit log.
func (a *Authz) AuditLog() *access.AuditLog { return a.engine.AuditLog() }

// ===== VALIDATION =====

// ValidateRBAC checks the configured role and route tables.
func (a *Authz) ValidateRBAC() rbaccheck.Result { return a.validator.Validate() }

// GenerateRBACReport renders ValidateRBAC as Markdown.
func (a *Authz) GenerateRBACReport() string { return rbaccheck.Report(a.ValidateRBAC()) }
