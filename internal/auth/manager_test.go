// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/tillguard/internal/directory"
	"github.com/jeranaias/tillguard/internal/rbac"
	"github.com/jeranaias/tillguard/internal/store"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubAuthenticator answers from a PIN table. A PIN with a gate blocks until
// the gate is closed.
type stubAuthenticator struct {
	mu        sync.Mutex
	users     map[string]*rbac.User
	gates     map[string]chan struct{}
	err       error
	calls     int
	logouts   int
	logoutErr error
}

func (a *stubAuthenticator) Authenticate(ctx context.Context, creds Credentials) (*rbac.User, error) {
	a.mu.Lock()
	a.calls++
	gate := a.gates[creds.PIN]
	a.mu.Unlock()

	if gate != nil {
		<-gate
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	if u, ok := a.users[creds.PIN]; ok {
		return u.Clone(), nil
	}
	return nil, errors.New("rejected")
}

func (a *stubAuthenticator) Logout(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logouts++
	return a.logoutErr
}

// failingStore fails every call.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk on fire")
}
func (failingStore) Set(context.Context, string, string) error { return errors.New("disk on fire") }
func (failingStore) Remove(context.Context, string) error      { return errors.New("disk on fire") }

func newTestManager(t *testing.T, clock *fakeClock, s store.Store, opts ...Option) *Manager {
	t.Helper()
	base := []Option{
		WithDirectory(directory.New()),
		WithStore(s),
		WithClock(clock.Now),
		WithMonitorInterval(0),
	}
	m := NewManager(append(base, opts...)...)
	t.Cleanup(m.Close)
	return m
}

func loginPIN(m *Manager, pin string) error {
	return m.Login(context.Background(), Credentials{PIN: pin})
}

// =============================================================================
// LOGIN TESTS
// =============================================================================

// TestLogin_ValidCashierPIN covers a normal cashier sign-in.
func TestLogin_ValidCashierPIN(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemory()
	m := newTestManager(t, clock, mem)

	require.NoError(t, loginPIN(m, "3456"))

	s := m.Session()
	require.Equal(t, StateAuthenticated, s.State)
	require.True(t, s.IsAuthenticated)
	require.False(t, s.Loading)
	require.Zero(t, s.FailedAttempts)
	require.Equal(t, rbac.RoleCashier, s.User.Role)
	require.Empty(t, s.User.PIN)
	require.Equal(t, t0.Add(480*time.Minute), *s.SessionExpiry)
	require.True(t, rbac.HasPermission(m.CurrentUser(), rbac.PermSalesProcess))

	raw, ok, err := mem.Get(context.Background(), UserKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotContains(t, raw, "3456")

	raw, ok, err = mem.Get(context.Background(), SessionKey)
	require.NoError(t, err)
	require.True(t, ok)
	var meta sessionMeta
	require.NoError(t, json.Unmarshal([]byte(raw), &meta))
	require.True(t, meta.SessionExpiry.Equal(t0.Add(480*time.Minute)))
}

func TestLogin_ByUsername(t *testing.T) {
	m := newTestManager(t, newFakeClock(), store.NewMemory())
	require.NoError(t, m.Login(context.Background(), Credentials{Username: "Manager"}))
	require.Equal(t, rbac.RoleManager, m.CurrentUser().Role)
}

func TestLogin_UnknownUsername(t *testing.T) {
	m := newTestManager(t, newFakeClock(), store.NewMemory())
	err := m.Login(context.Background(), Credentials{Username: "ghost", Password: "1111"})
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.Nil(t, m.CurrentUser())
}

func TestLogin_WrongPIN(t *testing.T) {
	m := newTestManager(t, newFakeClock(), store.NewMemory())

	err := loginPIN(m, "0000")
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, 2, authErr.Remaining)
	require.False(t, authErr.Locked)

	s := m.Session()
	require.Equal(t, 1, s.FailedAttempts)
	require.Equal(t, "Invalid credentials. 2 attempt(s) remaining.", s.Error)
	require.False(t, s.Loading)
}

func TestLogin_RejectsMalformedAndEmpty(t *testing.T) {
	m := newTestManager(t, newFakeClock(), store.NewMemory())

	var authErr *AuthenticationError
	require.ErrorAs(t, loginPIN(m, "34"), &authErr)
	require.ErrorAs(t, loginPIN(m, "34a6"), &authErr)
	require.Equal(t, 2, m.Session().FailedAttempts)

	require.ErrorAs(t, m.Login(context.Background(), Credentials{}), &authErr)
	require.Equal(t, StateLockedOut, m.State())
}

func TestLogin_RejectsSignedAndDecimalPINs(t *testing.T) {
	stub := &stubAuthenticator{users: map[string]*rbac.User{
		"+123": rbac.NewUser("s1", "signed", rbac.RoleCashier),
		"1.23": rbac.NewUser("s2", "decimal", rbac.RoleCashier),
	}}
	m := newTestManager(t, newFakeClock(), store.NewMemory(), WithAuthenticator(stub))

	var authErr *AuthenticationError
	require.ErrorAs(t, loginPIN(m, "+123"), &authErr)
	require.ErrorAs(t, loginPIN(m, "1.23"), &authErr)
	require.False(t, m.Session().IsAuthenticated)
	require.Equal(t, 2, m.Session().FailedAttempts)
}

func TestLogin_InactiveUserCountsAsFailure(t *testing.T) {
	m := newTestManager(t, newFakeClock(), store.NewMemory())
	var authErr *AuthenticationError
	require.ErrorAs(t, loginPIN(m, "9999"), &authErr)
	require.False(t, m.Session().IsAuthenticated)
	require.Equal(t, 1, m.Session().FailedAttempts)
}

// TestLogin_LockoutAfterThreeFailures covers lockout and its expiry.
func TestLogin_LockoutAfterThreeFailures(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, store.NewMemory())

	for i := 0; i < 3; i++ {
		require.Error(t, loginPIN(m, "0000"))
	}
	s := m.Session()
	require.Equal(t, StateLockedOut, s.State)
	require.True(t, s.LockoutUntil.After(clock.Now()))

	// Correct PIN is refused while locked, without counting.
	err := loginPIN(m, "3456")
	require.ErrorIs(t, err, ErrLocked)
	var lockErr *LockoutError
	require.ErrorAs(t, err, &lockErr)
	require.Equal(t, 15, lockErr.Minutes())
	require.Equal(t, "Account locked. Try again in 15 minute(s).", err.Error())
	require.Equal(t, 3, m.Session().FailedAttempts)
	require.False(t, m.Session().IsAuthenticated)

	clock.Advance(10*time.Minute + 30*time.Second)
	err = loginPIN(m, "3456")
	require.ErrorAs(t, err, &lockErr)
	require.Equal(t, 5, lockErr.Minutes())
	require.Equal(t, err.Error(), m.Session().Error)

	clock.Advance(5 * time.Minute)
	require.NoError(t, loginPIN(m, "3456"))
	s = m.Session()
	require.True(t, s.IsAuthenticated)
	require.Zero(t, s.FailedAttempts)
	require.Nil(t, s.LockoutUntil)
}

func TestLogin_FailureAfterElapsedLockoutStartsFresh(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, store.NewMemory())
	for i := 0; i < 3; i++ {
		require.Error(t, loginPIN(m, "0000"))
	}
	clock.Advance(16 * time.Minute)

	var authErr *AuthenticationError
	require.ErrorAs(t, loginPIN(m, "0000"), &authErr)
	require.Equal(t, 1, m.Session().FailedAttempts)
	require.Equal(t, 2, authErr.Remaining)
}

func TestLogin_AuthenticatorPreferred(t *testing.T) {
	remote := rbac.NewUser("r-7", "remote", rbac.RoleManager)
	// A remote record claiming extra permissions gets them re-derived.
	remote.Permissions = rbac.NewPermissionSet(rbac.PermMenuView)
	authn := &stubAuthenticator{users: map[string]*rbac.User{"7777": remote}}

	m := newTestManager(t, newFakeClock(), store.NewMemory(), WithAuthenticator(authn))
	require.NoError(t, loginPIN(m, "7777"))

	u := m.CurrentUser()
	require.Equal(t, "r-7", u.ID)
	require.Equal(t, rbac.PermissionsForRole(rbac.RoleManager), u.Permissions)
}

func TestLogin_FallsBackToDirectory(t *testing.T) {
	for name, authn := range map[string]*stubAuthenticator{
		"unavailable": {err: errors.New("connection refused")},
		"rejected":    {users: map[string]*rbac.User{}},
	} {
		t.Run(name, func(t *testing.T) {
			m := newTestManager(t, newFakeClock(), store.NewMemory(), WithAuthenticator(authn))
			require.NoError(t, loginPIN(m, "1234"))
			require.Equal(t, rbac.RoleAdmin, m.CurrentUser().Role)
			require.Equal(t, 1, authn.calls)
		})
	}
}

func TestLogin_LoadingWhileAwaitingAuthenticator(t *testing.T) {
	gate := make(chan struct{})
	authn := &stubAuthenticator{
		users: map[string]*rbac.User{"7777": rbac.NewUser("r-7", "remote", rbac.RoleCashier)},
		gates: map[string]chan struct{}{"7777": gate},
	}
	m := newTestManager(t, newFakeClock(), store.NewMemory(), WithAuthenticator(authn))

	done := make(chan error)
	go func() { done <- loginPIN(m, "7777") }()

	require.Eventually(t, func() bool { return m.Session().Loading }, time.Second, time.Millisecond)
	require.Equal(t, StateAuthenticating, m.State())

	close(gate)
	require.NoError(t, <-done)
	require.False(t, m.Session().Loading)
}

// TestLogin_OverlappingLastCompletionWins pins down the unserialized login race.
func TestLogin_OverlappingLastCompletionWins(t *testing.T) {
	slow := make(chan struct{})
	authn := &stubAuthenticator{
		users: map[string]*rbac.User{
			"7001": rbac.NewUser("slow", "slow", rbac.RoleManager),
			"7002": rbac.NewUser("fast", "fast", rbac.RoleCashier),
		},
		gates: map[string]chan struct{}{"7001": slow},
	}
	m := newTestManager(t, newFakeClock(), store.NewMemory(), WithAuthenticator(authn))

	first := make(chan error)
	go func() { first <- loginPIN(m, "7001") }()
	require.Eventually(t, func() bool { return m.Session().Loading }, time.Second, time.Millisecond)

	require.NoError(t, loginPIN(m, "7002"))
	require.Equal(t, "fast", m.CurrentUser().ID)

	close(slow)
	require.NoError(t, <-first)
	require.Equal(t, "slow", m.CurrentUser().ID)
}

// =============================================================================
// LOGOUT TESTS
// =============================================================================

func TestLogout_ResetsAndClearsStore(t *testing.T) {
	mem := store.NewMemory()
	authn := &stubAuthenticator{err: errors.New("down"), logoutErr: errors.New("down")}
	m := newTestManager(t, newFakeClock(), mem, WithAuthenticator(authn))

	require.NoError(t, loginPIN(m, "3456"))
	m.Logout()

	require.Equal(t, InitialSession(), m.Session())
	require.Equal(t, 0, mem.Keys())

	m.Close()
	authn.mu.Lock()
	defer authn.mu.Unlock()
	require.Equal(t, 1, authn.logouts)
}

func TestLogout_DoesNotClearActiveLockout(t *testing.T) {
	mem := store.NewMemory()
	m := newTestManager(t, newFakeClock(), mem)
	for i := 0; i < 3; i++ {
		require.Error(t, loginPIN(m, "0000"))
	}
	m.Logout()

	require.Equal(t, StateLockedOut, m.State())
	require.ErrorIs(t, loginPIN(m, "3456"), ErrLocked)
	_, ok, _ := mem.Get(context.Background(), SessionKey)
	require.True(t, ok)
}

// =============================================================================
// ACTIVITY / EXPIRY TESTS
// =============================================================================

func TestUpdateActivity(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, store.NewMemory())

	m.UpdateActivity()
	require.Equal(t, InitialSession(), m.Session(), "no effect while signed out")

	require.NoError(t, loginPIN(m, "3456"))
	before := *m.Session().SessionExpiry

	clock.Advance(30 * time.Minute)
	m.UpdateActivity()
	after := *m.Session().SessionExpiry
	require.True(t, after.After(before))
	require.Equal(t, clock.Now().Add(480*time.Minute), after)

	m.UpdateActivity()
	require.Equal(t, after, *m.Session().SessionExpiry)
}

func TestUpdateActivity_AfterExpiryEndsSession(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, store.NewMemory())
	require.NoError(t, loginPIN(m, "3456"))

	clock.Advance(481 * time.Minute)
	m.UpdateActivity()

	s := m.Session()
	require.False(t, s.IsAuthenticated)
	require.Contains(t, s.Error, "Session expired")
}

func TestCheckExpiry(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemory()
	m := newTestManager(t, clock, mem)
	require.NoError(t, loginPIN(m, "3456"))

	clock.Advance(479 * time.Minute)
	require.False(t, m.CheckExpiry())
	require.True(t, m.Session().IsAuthenticated)

	clock.Advance(time.Minute)
	require.True(t, m.CheckExpiry())

	s := m.Session()
	require.Equal(t, StateLoggedOut, s.State)
	require.False(t, s.IsAuthenticated)
	require.Equal(t, SessionExpiredMessage, s.Error)
	require.Equal(t, 0, mem.Keys())

	// Idempotent.
	require.False(t, m.CheckExpiry())
	require.Equal(t, s, m.Session())
}

func TestExpiryMonitor_EndsIdleSession(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, store.NewMemory(), WithMonitorInterval(5*time.Millisecond))
	require.NoError(t, loginPIN(m, "3456"))

	clock.Advance(481 * time.Minute)
	require.Eventually(t, func() bool {
		s := m.Session()
		return !s.IsAuthenticated && s.Error == SessionExpiredMessage
	}, 2*time.Second, 5*time.Millisecond)
}

func TestExpiryMonitor_StopsOnLogout(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, store.NewMemory(), WithMonitorInterval(2*time.Millisecond))
	require.NoError(t, loginPIN(m, "3456"))

	m.Logout()
	clock.Advance(481 * time.Minute)
	require.Never(t, func() bool { return m.Session().Error != "" }, 50*time.Millisecond, 5*time.Millisecond)
}

// =============================================================================
// UPDATE / SWITCH TESTS
// =============================================================================

func TestUpdateUser(t *testing.T) {
	mem := store.NewMemory()
	m := newTestManager(t, newFakeClock(), mem)

	name := "Till Two"
	require.ErrorIs(t, m.UpdateUser(UserUpdate{DisplayName: &name}), ErrNotAuthenticated)

	require.NoError(t, loginPIN(m, "3456"))
	perms := m.CurrentUser().Permissions
	require.NoError(t, m.UpdateUser(UserUpdate{DisplayName: &name}))

	u := m.CurrentUser()
	require.Equal(t, "Till Two", u.DisplayName)
	require.Equal(t, perms, u.Permissions)

	raw, _, err := mem.Get(context.Background(), UserKey)
	require.NoError(t, err)
	require.Contains(t, raw, "Till Two")
}

func TestSwitchUser_RequiresAdmin(t *testing.T) {
	for _, pin := range []string{"2345", "3456", "4567"} {
		m := newTestManager(t, newFakeClock(), store.NewMemory())
		require.NoError(t, loginPIN(m, pin))
		before := m.Session()

		err := m.SwitchUser(rbac.NewUser("1", "admin", rbac.RoleAdmin))
		var permErr *PermissionError
		require.ErrorAs(t, err, &permErr)
		require.Equal(t, rbac.RoleAdmin, permErr.Required)
		require.Equal(t, before, m.Session())
	}
}

func TestSwitchUser_SignedOut(t *testing.T) {
	m := newTestManager(t, newFakeClock(), store.NewMemory())
	var permErr *PermissionError
	require.ErrorAs(t, m.SwitchUser(rbac.NewUser("3", "cashier", rbac.RoleCashier)), &permErr)
	require.Equal(t, InitialSession(), m.Session())
}

func TestSwitchUser_AsAdmin(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemory()
	m := newTestManager(t, clock, mem)
	require.NoError(t, loginPIN(m, "1234"))

	clock.Advance(time.Minute)
	target := rbac.NewUser("4", "trainee", rbac.RoleTrainee)
	target.Permissions.Add(rbac.PermSystemMaintenance)
	require.NoError(t, m.SwitchUser(target))

	s := m.Session()
	require.Equal(t, "4", s.User.ID)
	require.False(t, s.User.Permissions.Has(rbac.PermSystemMaintenance))
	require.Equal(t, clock.Now(), *s.LastActivity)

	raw, _, err := mem.Get(context.Background(), UserKey)
	require.NoError(t, err)
	require.Contains(t, raw, `"role":"trainee"`)
}

func TestSwitchUserByID(t *testing.T) {
	m := newTestManager(t, newFakeClock(), store.NewMemory())
	require.NoError(t, loginPIN(m, "1234"))

	require.ErrorIs(t, m.SwitchUserByID("404"), ErrUnknownUser)
	require.ErrorIs(t, m.SwitchUserByID("5"), ErrInactiveUser)
	require.NoError(t, m.SwitchUserByID("3"))
	require.Equal(t, rbac.RoleCashier, m.CurrentUser().Role)

	// Now a cashier: further switches are refused.
	var permErr *PermissionError
	require.ErrorAs(t, m.SwitchUserByID("1"), &permErr)
}

// =============================================================================
// REHYDRATION TESTS
// =============================================================================

func TestRehydrate_RestoresSession(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemory()
	a := newTestManager(t, clock, mem)
	require.NoError(t, loginPIN(a, "2345"))

	clock.Advance(time.Hour)
	b := newTestManager(t, clock, mem)
	s := b.Session()
	require.Equal(t, StateAuthenticated, s.State)
	require.Equal(t, "2", s.User.ID)
	require.Equal(t, rbac.PermissionsForRole(rbac.RoleManager), s.User.Permissions)
	require.Equal(t, t0.Add(480*time.Minute), *s.SessionExpiry)
}

func TestRehydrate_KeepsProfileEdits(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemory()
	a := newTestManager(t, clock, mem)
	require.NoError(t, loginPIN(a, "3456"))

	name := "Dana at Till 2"
	require.NoError(t, a.UpdateUser(UserUpdate{DisplayName: &name}))

	b := newTestManager(t, clock, mem)
	s := b.Session()
	require.True(t, s.IsAuthenticated)
	require.Equal(t, "Dana at Till 2", s.User.DisplayName)
	require.Equal(t, "cashier", s.User.Username)
	require.Equal(t, rbac.RoleCashier, s.User.Role)
	require.Equal(t, rbac.PermissionsForRole(rbac.RoleCashier), s.User.Permissions)
}

func TestRehydrate_ExpiredSession(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemory()
	a := newTestManager(t, clock, mem)
	require.NoError(t, loginPIN(a, "2345"))

	clock.Advance(481 * time.Minute)
	b := newTestManager(t, clock, mem)
	s := b.Session()
	require.False(t, s.IsAuthenticated)
	require.Equal(t, SessionExpiredMessage, s.Error)
	require.Equal(t, 0, mem.Keys())
}

func TestRehydrate_ActiveLockout(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemory()
	a := newTestManager(t, clock, mem)
	for i := 0; i < 3; i++ {
		require.Error(t, loginPIN(a, "0000"))
	}

	clock.Advance(time.Minute)
	b := newTestManager(t, clock, mem)
	require.Equal(t, StateLockedOut, b.State())
	require.Equal(t, "Account locked. Try again in 14 minute(s).", b.Session().Error)
	require.ErrorIs(t, loginPIN(b, "3456"), ErrLocked)
}

func TestRehydrate_FailureCountSurvivesRestart(t *testing.T) {
	clock := newFakeClock()
	mem := store.NewMemory()
	a := newTestManager(t, clock, mem)
	require.Error(t, loginPIN(a, "0000"))
	require.Error(t, loginPIN(a, "0000"))

	b := newTestManager(t, clock, mem)
	require.Equal(t, 2, b.Session().FailedAttempts)
	require.Error(t, loginPIN(b, "0000"))
	require.Equal(t, StateLockedOut, b.State())
}

func TestRehydrate_CorruptDataCleared(t *testing.T) {
	ctx := context.Background()
	for name, seed := range map[string]map[string]string{
		"bad session": {SessionKey: "{not json"},
		"bad user":    {SessionKey: `{"failedAttempts":0}`, UserKey: "[]"},
		"bad perms":   {SessionKey: `{"failedAttempts":0}`, UserKey: `{"id":"1","permissions":["root.all"]}`},
	} {
		t.Run(name, func(t *testing.T) {
			mem := store.NewMemory()
			for k, v := range seed {
				require.NoError(t, mem.Set(ctx, k, v))
			}
			m := newTestManager(t, newFakeClock(), mem)
			require.Equal(t, InitialSession(), m.Session())
			require.Equal(t, 0, mem.Keys())
		})
	}
}

func TestRehydrate_UserNoLongerValid(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	expiry := t0.Add(time.Hour)
	meta, err := json.Marshal(sessionMeta{SessionExpiry: &expiry, LastActivity: &t0})
	require.NoError(t, err)

	for name, user := range map[string]*rbac.User{
		"deleted":  rbac.NewUser("404", "ghost", rbac.RoleCashier),
		"inactive": rbac.NewUser("5", "former", rbac.RoleCashier),
	} {
		t.Run(name, func(t *testing.T) {
			mem := store.NewMemory()
			raw, err := json.Marshal(user)
			require.NoError(t, err)
			require.NoError(t, mem.Set(ctx, UserKey, string(raw)))
			require.NoError(t, mem.Set(ctx, SessionKey, string(meta)))

			m := newTestManager(t, clock, mem)
			require.False(t, m.Session().IsAuthenticated)
			require.Equal(t, 0, mem.Keys())
		})
	}
}

// =============================================================================
// PERSISTENCE FAILURE TESTS
// =============================================================================

func TestPersistenceFailuresAreAbsorbed(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, failingStore{})

	require.NoError(t, loginPIN(m, "3456"))
	require.True(t, m.Session().IsAuthenticated)

	m.UpdateActivity()
	name := "x"
	require.NoError(t, m.UpdateUser(UserUpdate{DisplayName: &name}))
	m.Logout()
	require.Equal(t, InitialSession(), m.Session())
}
