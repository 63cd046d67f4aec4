// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package access

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnknownRoute is returned when a path has no declared rule.
var ErrUnknownRoute = errors.New("no route rule declared")

// Engine evaluates route rules for a session and records decisions in an
// AuditLog. Both the rule set and the log are shared read-mostly state, so an
// Engine may be used from any goroutine.
type Engine struct {
	routes  []RouteRule
	audit   *AuditLog
	logging bool
	logger  zerolog.Logger
	now     func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithAuditLog sets the log decisions are written to.
func WithAuditLog(log *AuditLog) EngineOption {
	return func(e *Engine) {
		e.audit = log
	}
}

// WithAuditing turns audit logging of direct checks on or off. It is on by default.
func WithAuditing(enabled bool) EngineOption {
	return func(e *Engine) {
		e.logging = enabled
	}
}

// WithLogger sets the structured logger for denied checks.
func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock overrides the time source for audit timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine over routes. A nil routes slice means DefaultRoutes.
func NewEngine(routes []RouteRule, opts ...EngineOption) *Engine {
	if routes == nil {
		routes = DefaultRoutes()
	}
	e := &Engine{
		routes:  append([]RouteRule(nil), routes...),
		logging: true,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.audit == nil {
		e.audit = NewAuditLog(DefaultAuditCapacity)
	}
	return e
}

// Routes returns a copy of the engine's rule set.
func (e *Engine) Routes() []RouteRule {
	return append([]RouteRule(nil), e.routes...)
}

// AuditLog returns the log decisions are written to.
func (e *Engine) AuditLog() *AuditLog { return e.audit }

// Check evaluates rule for ctx and, when auditing is enabled, records the decision.
func (e *Engine) Check(rule RouteRule, ctx Context) Decision {
	return e.check(rule, ctx, e.logging)
}

// CheckQuiet evaluates rule for ctx without writing to the audit log.
func (e *Engine) CheckQuiet(rule RouteRule, ctx Context) Decision {
	return e.check(rule, ctx, false)
}

// CheckPath looks up the rule for path and evaluates it like Check.
func (e *Engine) CheckPath(path string, ctx Context) (Decision, error) {
	rule, ok := FindRoute(e.routes, path)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownRoute, path)
	}
	return e.Check(rule, ctx), nil
}

// Accessible returns the engine's routes reachable by ctx. Nothing is logged.
func (e *Engine) Accessible(ctx Context) []RouteRule {
	return AccessibleRoutes(e.routes, ctx)
}

func (e *Engine) check(rule RouteRule, ctx Context, record bool) Decision {
	d := HasRouteAccess(rule, ctx)
	if !record {
		return d
	}

	userID := AnonymousUserID
	if ctx.User != nil {
		userID = ctx.User.ID
	}
	action := ActionAllowed
	if !d.Allowed {
		action = ActionDenied
		e.logger.Debug().
			Str("user", userID).
			Str("route", rule.Path).
			Str("reason", d.Reason).
			Msg("route access denied")
	}
	e.audit.Append(AuditEntry{
		Timestamp: e.now(),
		UserID:    userID,
		Route:     rule.Path,
		Action:    action,
		Reason:    d.Reason,
	})
	return d
}
