// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jeranaias/tillguard/internal/rbac"
)

// Store keys.
const (
	UserKey    = "pos_auth_user"
	SessionKey = "pos_auth_session"
)

// storeTimeout bounds each store call.
const storeTimeout = 5 * time.Second

// sessionMeta is the persisted part of a Session besides the user.
type sessionMeta struct {
	FailedAttempts int        `json:"failedAttempts"`
	LockoutUntil   *time.Time `json:"lockoutUntil"`
	LastActivity   *time.Time `json:"lastActivity"`
	SessionExpiry  *time.Time `json:"sessionExpiry"`
}

func metaFrom(s Session) sessionMeta {
	return sessionMeta{
		FailedAttempts: s.FailedAttempts,
		LockoutUntil:   s.LockoutUntil,
		LastActivity:   s.LastActivity,
		SessionExpiry:  s.SessionExpiry,
	}
}

// =============================================================================
// WRITES
// =============================================================================

func (m *Manager) persistUserLocked() {
	if m.session.User == nil {
		return
	}
	data, err := json.Marshal(m.session.User)
	if err != nil {
		m.logPersistence(&PersistenceError{Op: "encode", Key: UserKey, Err: err})
		return
	}
	m.setLocked(UserKey, string(data))
}

func (m *Manager) persistMetaLocked() {
	data, err := json.Marshal(metaFrom(m.session))
	if err != nil {
		m.logPersistence(&PersistenceError{Op: "encode", Key: SessionKey, Err: err})
		return
	}
	m.setLocked(SessionKey, string(data))
}

func (m *Manager) clearStoreLocked() {
	m.removeLocked(UserKey)
	m.removeLocked(SessionKey)
}

func (m *Manager) removeLocked(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.store.Remove(ctx, key); err != nil {
		m.logPersistence(&PersistenceError{Op: "remove", Key: key, Err: err})
	}
}

func (m *Manager) setLocked(key, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.store.Set(ctx, key, value); err != nil {
		m.logPersistence(&PersistenceError{Op: "write", Key: key, Err: err})
	}
}

func (m *Manager) logPersistence(err *PersistenceError) {
	m.logger.Warn().Err(err).Str("key", err.Key).Msg("session persistence failed, keeping in-memory state")
}

// =============================================================================
// REHYDRATION
// =============================================================================

// readLocked fetches key, treating any failure as absent.
func (m *Manager) readLocked(key string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	v, ok, err := m.store.Get(ctx, key)
	if err != nil {
		m.logPersistence(&PersistenceError{Op: "read", Key: key, Err: err})
		return "", false
	}
	return v, ok
}

// rehydrateLocked restores the session persisted by a previous process.
//
// An active lockout is restored as LockedOut. An expired session is cleared
// and reported as expired. Otherwise the user must still exist and be active
// in the directory. Anything unparseable is cleared.
func (m *Manager) rehydrateLocked() {
	now := m.now()

	var meta sessionMeta
	rawMeta, hasMeta := m.readLocked(SessionKey)
	if hasMeta {
		if err := json.Unmarshal([]byte(rawMeta), &meta); err != nil {
			m.logger.Warn().Err(err).Msg("persisted session unreadable, clearing")
			m.clearStoreLocked()
			return
		}
	}

	var user *rbac.User
	if rawUser, ok := m.readLocked(UserKey); ok {
		user = &rbac.User{}
		if err := json.Unmarshal([]byte(rawUser), user); err != nil || user.ID == "" {
			m.logger.Warn().Err(err).Msg("persisted user unreadable, clearing")
			m.clearStoreLocked()
			return
		}
	}

	if meta.LockoutUntil != nil && now.Before(*meta.LockoutUntil) {
		restored := InitialSession()
		restored.State = StateLockedOut
		restored.FailedAttempts = meta.FailedAttempts
		restored.LockoutUntil = meta.LockoutUntil
		restored.Error = lockoutMessage(meta.LockoutUntil.Sub(now))
		m.applyLocked(Restored{Session: restored})
		m.logger.Info().Time("until", *meta.LockoutUntil).Msg("restored active lockout")
		return
	}

	if user == nil {
		// Keep a pre-lockout failure count across restarts.
		if meta.FailedAttempts > 0 {
			restored := InitialSession()
			restored.FailedAttempts = meta.FailedAttempts
			restored.LockoutUntil = meta.LockoutUntil
			m.applyLocked(Restored{Session: restored})
		}
		return
	}

	if meta.SessionExpiry == nil || !now.Before(*meta.SessionExpiry) {
		m.clearStoreLocked()
		restored := InitialSession()
		restored.Error = SessionExpiredMessage
		m.applyLocked(Restored{Session: restored})
		m.logger.Info().Str("user", maskIdentifier(user.ID)).Msg("persisted session expired")
		return
	}

	current := user
	if m.dir != nil {
		found, ok := m.dir.FindByID(user.ID)
		if !ok || !found.Active {
			m.clearStoreLocked()
			m.logger.Warn().Str("user", maskIdentifier(user.ID)).Msg("persisted user no longer valid, clearing")
			return
		}
		// The directory decides existence, status and role; profile edits
		// made through UpdateUser are kept.
		if user.Username != "" {
			found.Username = user.Username
		}
		if user.DisplayName != "" {
			found.DisplayName = user.DisplayName
		}
		found.LastLogin = user.LastLogin
		current = found
	}

	restored := Session{
		State:           StateAuthenticated,
		IsAuthenticated: true,
		User:            current.WithPermissionsFrom(m.table),
		LastActivity:    meta.LastActivity,
		SessionExpiry:   meta.SessionExpiry,
	}
	m.applyLocked(Restored{Session: restored})
	m.persistUserLocked()
	m.startMonitorLocked()
	m.logger.Info().Str("user", maskIdentifier(current.ID)).Msg("session restored")
}
