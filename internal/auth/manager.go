// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/jeranaias/tillguard/internal/rbac"
	"github.com/jeranaias/tillguard/internal/store"
)

// logoutNotifyTimeout bounds the detached authenticator logout call.
const logoutNotifyTimeout = 10 * time.Second

// =============================================================================
// COLLABORATORS
// =============================================================================

// Credentials are what a user presents at the login screen. Either PIN or
// Username identifies the user; Password is forwarded to the authenticator
// only and is never checked locally.
type Credentials struct {
	PIN      string `json:"pin,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Authenticator is the external credential service.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (*rbac.User, error)
	Logout(ctx context.Context) error
}

// Directory is the embedded user roster used when the authenticator fails.
type Directory interface {
	FindByPIN(pin string) (*rbac.User, bool)
	FindByUsername(username string) (*rbac.User, bool)
	FindByID(id string) (*rbac.User, bool)
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns the process-wide Session and applies every transition to it.
// Each transition reads and writes the session under one lock, so
// interleaved callers (UI events, the expiry monitor, a login resuming after
// the authenticator returns) never observe a half-applied change.
type Manager struct {
	mu      sync.Mutex
	session Session

	policy   Policy
	table    rbac.RoleTable
	authn    Authenticator
	dir      Directory
	store    store.Store
	now      func() time.Time
	logger   zerolog.Logger
	validate *validator.Validate

	monitorInterval time.Duration
	monitorStop     chan struct{}
	monitorGen      uint64
	monitorWG       sync.WaitGroup

	notifyWG sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithAuthenticator sets the external credential service.
func WithAuthenticator(a Authenticator) Option {
	return func(m *Manager) {
		m.authn = a
	}
}

// WithDirectory sets the fallback roster, also used to re-validate a
// rehydrated user.
func WithDirectory(d Directory) Option {
	return func(m *Manager) {
		m.dir = d
	}
}

// WithStore sets where the user and session metadata are persisted.
func WithStore(s store.Store) Option {
	return func(m *Manager) {
		m.store = s
	}
}

// WithPolicy overrides the limits. Non-positive fields keep their defaults.
func WithPolicy(p Policy) Option {
	return func(m *Manager) {
		m.policy = p.withDefaults()
	}
}

// WithRoleTable sets the table permissions are derived from.
func WithRoleTable(t rbac.RoleTable) Option {
	return func(m *Manager) {
		m.table = t.Clone()
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMonitorInterval sets the expiry monitor period. Zero disables the
// monitor; callers then drive CheckExpiry themselves.
func WithMonitorInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.monitorInterval = d
	}
}

// NewManager builds a Manager and rehydrates it from its store.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		session:         InitialSession(),
		policy:          DefaultPolicy(),
		table:           rbac.DefaultRoleTable(),
		now:             time.Now,
		logger:          zerolog.Nop(),
		validate:        validator.New(),
		monitorInterval: DefaultMonitorInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = store.NewMemory()
	}

	m.mu.Lock()
	m.rehydrateLocked()
	m.mu.Unlock()
	return m
}

// Session returns a copy of the current session.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.State
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (m *Manager) CurrentUser() *rbac.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.session.IsAuthenticated {
		return nil
	}
	return m.session.User.Clone()
}

// Policy returns the limits in effect.
func (m *Manager) Policy() Policy { return m.policy }

// applyLocked runs the reducer. Caller must hold mu.
func (m *Manager) applyLocked(a Action) {
	m.session = m.policy.Transition(m.session, a)
}

// =============================================================================
// LOGIN
// =============================================================================

// Login authenticates creds. It returns a *LockoutError without counting an
// attempt while a lockout is active, and an *AuthenticationError when the
// credentials are rejected.
//
// Concurrent logins are not serialized: each one applies its own result when
// its authenticator call returns, so the last to finish decides the session.
func (m *Manager) Login(ctx context.Context, creds Credentials) error {
	now := m.now()

	m.mu.Lock()
	if m.session.LockedAt(now) {
		m.applyLocked(LockoutRejected{At: now})
		err := &LockoutError{Until: *m.session.LockoutUntil, Remaining: m.session.LockoutRemaining(now)}
		m.mu.Unlock()
		m.logger.Warn().Str("remaining", err.Remaining.Round(time.Second).String()).Msg("login refused: account locked")
		return err
	}
	if m.session.LockoutUntil != nil {
		m.applyLocked(LockoutElapsed{})
		m.logger.Info().Msg("lockout elapsed")
	}
	m.applyLocked(LoginStarted{})
	m.mu.Unlock()

	user, source := m.resolve(ctx, creds)
	now = m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if user == nil || !user.Active {
		m.applyLocked(LoginFailed{At: now})
		m.removeLocked(UserKey)
		m.persistMetaLocked()

		s := m.session
		ev := m.logger.Warn().Int("failed_attempts", s.FailedAttempts)
		if user != nil {
			ev = ev.Str("user", maskIdentifier(user.ID)).Str("reason", "inactive")
		}
		ev.Msg("login failed")
		if s.LockoutUntil != nil {
			m.logger.Warn().Time("until", *s.LockoutUntil).Msg("account locked after repeated failures")
		}
		return &AuthenticationError{
			Remaining: max(m.policy.MaxFailedAttempts-s.FailedAttempts, 0),
			Locked:    s.LockoutUntil != nil,
			Message:   s.Error,
		}
	}

	m.applyLocked(LoginSucceeded{User: user.WithPermissionsFrom(m.table), At: now})
	m.persistUserLocked()
	m.persistMetaLocked()
	m.startMonitorLocked()

	m.logger.Info().
		Str("user", maskIdentifier(user.ID)).
		Str("role", string(user.Role)).
		Str("source", source).
		Msg("login succeeded")
	return nil
}

// resolve finds the user for creds: the authenticator first, then the
// directory. Authenticator failures of any kind fall through.
func (m *Manager) resolve(ctx context.Context, creds Credentials) (*rbac.User, string) {
	if creds.PIN == "" && creds.Username == "" {
		return nil, ""
	}
	if creds.PIN != "" {
		rule := fmt.Sprintf("len=%d,number", m.policy.PINLength)
		if err := m.validate.Var(creds.PIN, rule); err != nil {
			m.logger.Debug().Msg("pin rejected: wrong format")
			return nil, ""
		}
	}

	if m.authn != nil {
		user, err := m.authn.Authenticate(ctx, creds)
		if err == nil && user != nil {
			return user, "authenticator"
		}
		m.logger.Warn().Err(err).Msg("authenticator unavailable or rejected credentials, using directory")
	}

	if m.dir == nil {
		return nil, ""
	}
	if creds.PIN != "" {
		if u, ok := m.dir.FindByPIN(creds.PIN); ok {
			return u, "directory"
		}
		return nil, ""
	}
	// Directory records carry no password, so a username match is enough here.
	if u, ok := m.dir.FindByUsername(creds.Username); ok {
		return u, "directory"
	}
	return nil, ""
}

// =============================================================================
// LOGOUT
// =============================================================================

// Logout signs the user out and clears the persisted session. The
// authenticator is notified in the background; its failure is only logged.
func (m *Manager) Logout() {
	now := m.now()

	m.mu.Lock()
	var userID string
	if m.session.User != nil {
		userID = m.session.User.ID
	}
	m.stopMonitorLocked()
	m.applyLocked(LoggedOut{At: now})
	m.clearStoreLocked()
	if m.session.LockoutUntil != nil {
		m.persistMetaLocked()
	}
	m.mu.Unlock()

	if userID != "" {
		m.logger.Info().Str("user", maskIdentifier(userID)).Msg("logged out")
	}
	m.notifyLogout()
}

// notifyLogout tells the authenticator about a logout without waiting for it.
func (m *Manager) notifyLogout() {
	if m.authn == nil {
		return
	}
	m.notifyWG.Add(1)
	go func() {
		defer m.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), logoutNotifyTimeout)
		defer cancel()
		if err := m.authn.Logout(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("authenticator logout failed")
		}
	}()
}

// =============================================================================
// SESSION UPKEEP
// =============================================================================

// UpdateActivity extends the session to now + SessionTimeout. It never
// shortens the expiry and does nothing when no one is signed in. A session
// already past its expiry is ended instead of extended.
func (m *Manager) UpdateActivity() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.session.IsAuthenticated {
		return
	}
	if m.session.ExpiredAt(now) {
		m.expireLocked()
		return
	}
	m.applyLocked(ActivityRecorded{At: now})
	m.persistMetaLocked()
}

// UpdateUser merges profile changes into the signed-in user.
func (m *Manager) UpdateUser(update UserUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.session.IsAuthenticated {
		return ErrNotAuthenticated
	}
	m.applyLocked(UserUpdated{Update: update})
	m.persistUserLocked()
	return nil
}

// SwitchUser replaces the signed-in user with target. Only an admin may do
// this; anyone else gets a *PermissionError and the session is untouched.
func (m *Manager) SwitchUser(target *rbac.User) error {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.session.IsAuthenticated || m.session.User == nil {
		return &PermissionError{Op: "switch user", Required: rbac.RoleAdmin}
	}
	if m.session.User.Role != rbac.RoleAdmin {
		return &PermissionError{Op: "switch user", Role: m.session.User.Role, Required: rbac.RoleAdmin}
	}
	if target == nil {
		return fmt.Errorf("switch user: %w", ErrUnknownUser)
	}
	if !target.Active {
		return fmt.Errorf("switch user: %w", ErrInactiveUser)
	}

	from := m.session.User.ID
	m.applyLocked(UserSwitched{User: target.WithPermissionsFrom(m.table), At: now})
	m.persistUserLocked()
	m.persistMetaLocked()

	m.logger.Info().
		Str("from", maskIdentifier(from)).
		Str("to", maskIdentifier(target.ID)).
		Str("role", string(target.Role)).
		Msg("user switched")
	return nil
}

// SwitchUserByID looks id up in the directory and switches to that user.
// The permission check runs before the lookup result is considered.
func (m *Manager) SwitchUserByID(id string) error {
	var target *rbac.User
	if m.dir != nil {
		target, _ = m.dir.FindByID(id)
	}
	return m.SwitchUser(target)
}

// CheckExpiry ends the session if it has passed its expiry and reports
// whether it did. Checking a session that is not signed in is a no-op.
func (m *Manager) CheckExpiry() bool {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.session.ExpiredAt(now) {
		return false
	}
	m.expireLocked()
	return true
}

func (m *Manager) expireLocked() {
	var userID string
	if m.session.User != nil {
		userID = m.session.User.ID
	}
	m.stopMonitorLocked()
	m.applyLocked(SessionTimedOut{})
	m.clearStoreLocked()
	m.logger.Info().Str("user", maskIdentifier(userID)).Msg("session expired")
}

// Close stops the expiry monitor and waits for background logout
// notifications to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	m.stopMonitorLocked()
	m.mu.Unlock()

	m.monitorWG.Wait()
	m.notifyWG.Wait()
}

// maskIdentifier hashes an identifier for logging.
func maskIdentifier(id string) string {
	if id == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(id))
	return "hash:" + hex.EncodeToString(hash[:])[:12]
}
