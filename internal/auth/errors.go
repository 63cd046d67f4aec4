// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jeranaias/tillguard/internal/rbac"
)

var (
	// ErrLocked matches any LockoutError via errors.Is.
	ErrLocked = errors.New("account locked")

	// ErrNotAuthenticated is returned by operations that need a logged-in user.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrSessionExpired is returned when an operation finds the session past its expiry.
	ErrSessionExpired = errors.New("session expired")

	// ErrUnknownUser is returned when a switch target does not exist.
	ErrUnknownUser = errors.New("unknown user")

	// ErrInactiveUser is returned when switching to a deactivated account.
	ErrInactiveUser = errors.New("user account is inactive")
)

// AuthenticationError reports rejected credentials.
type AuthenticationError struct {
	// Remaining is the number of attempts left before lockout.
	Remaining int
	// Locked is true when this failure started a lockout.
	Locked bool
	// Message is the user-facing text, also stored in Session.Error.
	Message string
}

func (e *AuthenticationError) Error() string { return e.Message }

// LockoutError is returned by Login while a lockout is in effect. It does not
// count as a further failed attempt.
type LockoutError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *LockoutError) Error() string { return lockoutMessage(e.Remaining) }

// Is makes errors.Is(err, ErrLocked) true for lockout errors.
func (e *LockoutError) Is(target error) bool { return target == ErrLocked }

// Minutes returns the remaining lockout rounded up to whole minutes.
func (e *LockoutError) Minutes() int { return ceilMinutes(e.Remaining) }

// PermissionError is returned when a privileged operation is attempted
// without the required role. Session state is left untouched.
type PermissionError struct {
	Op       string
	Role     rbac.Role
	Required rbac.Role
}

func (e *PermissionError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("%s requires role %s", e.Op, e.Required)
	}
	return fmt.Sprintf("%s requires role %s (current role: %s)", e.Op, e.Required, e.Role)
}

// PersistenceError wraps a store failure. Managers log these and carry on
// with in-memory state; they are never returned to callers.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// =============================================================================
// MESSAGES
// =============================================================================

// SessionExpiredMessage is stored in Session.Error when the session times out.
const SessionExpiredMessage = "Session expired. Please log in again."

func lockoutMessage(remaining time.Duration) string {
	return fmt.Sprintf("Account locked. Try again in %d minute(s).", ceilMinutes(remaining))
}

func lockoutStartedMessage(d time.Duration) string {
	return fmt.Sprintf("Too many failed attempts. Account locked for %d minute(s).", ceilMinutes(d))
}

func invalidCredentialsMessage(remaining int) string {
	return fmt.Sprintf("Invalid credentials. %d attempt(s) remaining.", remaining)
}

// ceilMinutes rounds d up to whole minutes; any positive remainder counts as one.
func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds() / 60))
}
