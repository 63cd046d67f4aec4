// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"time"

	"github.com/jeranaias/tillguard/internal/rbac"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultMaxFailedAttempts is the number of consecutive failures before lockout.
	DefaultMaxFailedAttempts = 3

	// DefaultLockoutDuration is how long a lockout lasts.
	DefaultLockoutDuration = 15 * time.Minute

	// DefaultSessionTimeout is how long a session lives without activity.
	DefaultSessionTimeout = 480 * time.Minute

	// DefaultPINLength is the number of digits in a PIN.
	DefaultPINLength = 4

	// DefaultMonitorInterval is how often the expiry monitor checks the session.
	DefaultMonitorInterval = 60 * time.Second
)

// =============================================================================
// STATE
// =============================================================================

// State is the session's position in the login lifecycle.
type State int

const (
	// StateLoggedOut means no user is signed in.
	StateLoggedOut State = iota
	// StateAuthenticating means a login is awaiting the authenticator.
	StateAuthenticating
	// StateAuthenticated means a user is signed in.
	StateAuthenticated
	// StateLockedOut means logins are refused until the lockout elapses.
	StateLockedOut
	// StateSessionExpired is passed through on timeout; the reducer settles in StateLoggedOut.
	StateSessionExpired
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "LoggedOut"
	case StateAuthenticating:
		return "Authenticating"
	case StateAuthenticated:
		return "Authenticated"
	case StateLockedOut:
		return "LockedOut"
	case StateSessionExpired:
		return "SessionExpired"
	default:
		return "Unknown"
	}
}

// =============================================================================
// SESSION
// =============================================================================

// Session is the process-wide authentication state.
type Session struct {
	State           State      `json:"state"`
	IsAuthenticated bool       `json:"isAuthenticated"`
	User            *rbac.User `json:"user"`
	Loading         bool       `json:"loading"`
	Error           string     `json:"error,omitempty"`
	FailedAttempts  int        `json:"failedAttempts"`
	LockoutUntil    *time.Time `json:"lockoutUntil"`
	LastActivity    *time.Time `json:"lastActivity"`
	SessionExpiry   *time.Time `json:"sessionExpiry"`
}

// InitialSession returns the logged-out starting state.
func InitialSession() Session {
	return Session{State: StateLoggedOut}
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := s
	out.User = s.User.Clone()
	out.LockoutUntil = copyTime(s.LockoutUntil)
	out.LastActivity = copyTime(s.LastActivity)
	out.SessionExpiry = copyTime(s.SessionExpiry)
	return out
}

// LockedAt reports whether a lockout is in effect at now.
func (s Session) LockedAt(now time.Time) bool {
	return s.LockoutUntil != nil && now.Before(*s.LockoutUntil)
}

// LockoutRemaining returns how long the lockout still runs at now.
func (s Session) LockoutRemaining(now time.Time) time.Duration {
	if !s.LockedAt(now) {
		return 0
	}
	return s.LockoutUntil.Sub(now)
}

// ExpiredAt reports whether an authenticated session has passed its expiry at now.
func (s Session) ExpiredAt(now time.Time) bool {
	return s.IsAuthenticated && s.SessionExpiry != nil && !now.Before(*s.SessionExpiry)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time { return &t }

// =============================================================================
// POLICY
// =============================================================================

// Policy holds the tunable limits.
type Policy struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	SessionTimeout    time.Duration
	PINLength         int
}

// DefaultPolicy returns the shipped limits.
func DefaultPolicy() Policy {
	return Policy{
		MaxFailedAttempts: DefaultMaxFailedAttempts,
		LockoutDuration:   DefaultLockoutDuration,
		SessionTimeout:    DefaultSessionTimeout,
		PINLength:         DefaultPINLength,
	}
}

// withDefaults fills non-positive fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxFailedAttempts <= 0 {
		p.MaxFailedAttempts = d.MaxFailedAttempts
	}
	if p.LockoutDuration <= 0 {
		p.LockoutDuration = d.LockoutDuration
	}
	if p.SessionTimeout <= 0 {
		p.SessionTimeout = d.SessionTimeout
	}
	if p.PINLength <= 0 {
		p.PINLength = d.PINLength
	}
	return p
}
