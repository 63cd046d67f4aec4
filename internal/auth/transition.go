// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"time"

	"github.com/jeranaias/tillguard/internal/rbac"
)

// Action is an input to Policy.Transition.
type Action interface {
	isAction()
}

// LoginStarted marks a login as in flight.
type LoginStarted struct{}

// LockoutRejected records a login refused because a lockout is active.
type LockoutRejected struct{ At time.Time }

// LockoutElapsed clears the bookkeeping of a lockout that has run out.
type LockoutElapsed struct{}

// LoginSucceeded signs User in. User must already carry derived permissions.
type LoginSucceeded struct {
	User *rbac.User
	At   time.Time
}

// LoginFailed counts a rejected attempt.
type LoginFailed struct{ At time.Time }

// LoggedOut signs the user out.
type LoggedOut struct{ At time.Time }

// ActivityRecorded extends the session after user activity.
type ActivityRecorded struct{ At time.Time }

// UserUpdated merges profile fields into the current user.
type UserUpdated struct{ Update UserUpdate }

// UserSwitched replaces the current user.
type UserSwitched struct {
	User *rbac.User
	At   time.Time
}

// SessionTimedOut ends a session that passed its expiry.
type SessionTimedOut struct{}

// Restored replaces the whole session, used for startup rehydration.
type Restored struct{ Session Session }

func (LoginStarted) isAction()     {}
func (LockoutRejected) isAction()  {}
func (LockoutElapsed) isAction()   {}
func (LoginSucceeded) isAction()   {}
func (LoginFailed) isAction()      {}
func (LoggedOut) isAction()        {}
func (ActivityRecorded) isAction() {}
func (UserUpdated) isAction()      {}
func (UserSwitched) isAction()     {}
func (SessionTimedOut) isAction()  {}
func (Restored) isAction()         {}

// UserUpdate lists the profile fields UpdateUser may change. Nil fields are
// left alone. Role and permissions are deliberately absent.
type UserUpdate struct {
	Username    *string `json:"username,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
	Active      *bool   `json:"isActive,omitempty"`
}

// Transition applies a to s and returns the new session. It never mutates s
// and performs no I/O.
func (p Policy) Transition(s Session, a Action) Session {
	p = p.withDefaults()
	next := s.Clone()

	switch a := a.(type) {
	case LoginStarted:
		next.State = StateAuthenticating
		next.Loading = true
		next.Error = ""

	case LockoutRejected:
		next.State = StateLockedOut
		next.Loading = false
		next.Error = lockoutMessage(s.LockoutRemaining(a.At))

	case LockoutElapsed:
		next.FailedAttempts = 0
		next.LockoutUntil = nil
		if next.State == StateLockedOut {
			next.State = StateLoggedOut
		}

	case LoginSucceeded:
		if a.User == nil {
			return next
		}
		user := a.User.Clone()
		user.PIN = ""
		user.LastLogin = timePtr(a.At)
		next = Session{
			State:           StateAuthenticated,
			IsAuthenticated: true,
			User:            user,
			LastActivity:    timePtr(a.At),
			SessionExpiry:   timePtr(a.At.Add(p.SessionTimeout)),
		}

	case LoginFailed:
		next.State = StateLoggedOut
		next.IsAuthenticated = false
		next.User = nil
		next.Loading = false
		next.LastActivity = nil
		next.SessionExpiry = nil
		next.FailedAttempts = s.FailedAttempts + 1
		if next.FailedAttempts >= p.MaxFailedAttempts {
			next.State = StateLockedOut
			next.LockoutUntil = timePtr(a.At.Add(p.LockoutDuration))
			next.Error = lockoutStartedMessage(p.LockoutDuration)
		} else {
			next.Error = invalidCredentialsMessage(p.MaxFailedAttempts - next.FailedAttempts)
		}

	case LoggedOut:
		next = InitialSession()
		// Logging out is not a way around an active lockout.
		if s.LockedAt(a.At) {
			next.State = StateLockedOut
			next.FailedAttempts = s.FailedAttempts
			next.LockoutUntil = copyTime(s.LockoutUntil)
		}

	case ActivityRecorded:
		if !s.IsAuthenticated {
			return next
		}
		expiry := a.At.Add(p.SessionTimeout)
		if s.SessionExpiry != nil && s.SessionExpiry.After(expiry) {
			expiry = *s.SessionExpiry
		}
		next.LastActivity = timePtr(a.At)
		next.SessionExpiry = timePtr(expiry)

	case UserUpdated:
		if next.User == nil {
			return next
		}
		if a.Update.Username != nil {
			next.User.Username = *a.Update.Username
		}
		if a.Update.DisplayName != nil {
			next.User.DisplayName = *a.Update.DisplayName
		}
		if a.Update.Active != nil {
			next.User.Active = *a.Update.Active
		}

	case UserSwitched:
		if !s.IsAuthenticated || a.User == nil {
			return next
		}
		user := a.User.Clone()
		user.PIN = ""
		next.User = user
		next.LastActivity = timePtr(a.At)

	case SessionTimedOut:
		if !s.IsAuthenticated {
			return next
		}
		next = InitialSession()
		next.Error = SessionExpiredMessage

	case Restored:
		next = a.Session.Clone()
	}
	return next
}
