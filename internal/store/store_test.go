// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// backends returns one fresh instance of every Store implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	file, err := NewFile(filepath.Join(dir, "state.json"))
	require.NoError(t, err)

	db, err := NewSQLite(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"file":   file,
		"sqlite": db,
		"redis":  NewRedis(client),
	}
}

// =============================================================================
// CONTRACT TESTS
// =============================================================================

func TestStore_Contract(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get(ctx, "pos_auth_user")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, s.Set(ctx, "pos_auth_user", `{"id":"1"}`))
			require.NoError(t, s.Set(ctx, "pos_auth_session", `{"failedAttempts":0}`))

			v, ok, err := s.Get(ctx, "pos_auth_user")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, `{"id":"1"}`, v)

			require.NoError(t, s.Set(ctx, "pos_auth_user", `{"id":"2"}`))
			v, _, err = s.Get(ctx, "pos_auth_user")
			require.NoError(t, err)
			require.Equal(t, `{"id":"2"}`, v)

			require.NoError(t, s.Remove(ctx, "pos_auth_user"))
			_, ok, err = s.Get(ctx, "pos_auth_user")
			require.NoError(t, err)
			require.False(t, ok)

			// Removing a missing key is not an error.
			require.NoError(t, s.Remove(ctx, "pos_auth_user"))

			_, ok, err = s.Get(ctx, "pos_auth_session")
			require.NoError(t, err)
			require.True(t, ok)
		})
	}
}

// =============================================================================
// FILE STORE TESTS
// =============================================================================

func TestFile_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	a, err := NewFile(path)
	require.NoError(t, err)
	require.NoError(t, a.Set(ctx, "k", "v"))

	b, err := NewFile(path)
	require.NoError(t, err)
	v, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)

	info, err := os.Stat(path)
	require.NoError(t, err)
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o077 != 0 {
		t.Fatalf("store file permissions too open: %v", info.Mode().Perm())
	}
}

func TestFile_TamperedDocumentReadsEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	f, err := NewFile(path, WithKey([]byte("test-key")))
	require.NoError(t, err)
	require.NoError(t, f.Set(ctx, "pos_auth_user", `{"role":"cashier"}`))
	require.NoError(t, f.Verify())

	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := bytes.Replace(payload, []byte("cashier"), []byte("admin"), 1)
	require.NoError(t, os.WriteFile(path, tampered, 0600))

	require.ErrorIs(t, f.Verify(), ErrTampered)
	_, ok, err := f.Get(ctx, "pos_auth_user")
	require.NoError(t, err)
	require.False(t, ok)

	// The next write replaces the bad document with a signed one.
	require.NoError(t, f.Set(ctx, "k", "v"))
	require.NoError(t, f.Verify())
}

func TestFile_WrongKeyReadsEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	a, err := NewFile(path, WithKey([]byte("one")))
	require.NoError(t, err)
	require.NoError(t, a.Set(ctx, "k", "v"))

	b, err := NewFile(path, WithKey([]byte("two")))
	require.NoError(t, err)
	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFile_PassphraseDerivesStableKey(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	a, err := NewFile(path, WithPassphrase("register 4 back office"))
	require.NoError(t, err)
	require.NoError(t, a.Set(ctx, "k", "v"))

	b, err := NewFile(path, WithPassphrase("register 4 back office"))
	require.NoError(t, err)
	v, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)

	c, err := NewFile(path, WithPassphrase("register 5"))
	require.NoError(t, err)
	require.ErrorIs(t, c.Verify(), ErrTampered)
	require.Len(t, deriveKey("x"), 32)
}

func TestNewFile_EmptyPath(t *testing.T) {
	_, err := NewFile("")
	require.Error(t, err)
}

// =============================================================================
// REDIS STORE TESTS
// =============================================================================

func TestRedis_PrefixAndTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	r := NewRedis(client, WithPrefix("pos:"), WithTTL(10*time.Minute))
	require.NoError(t, r.Set(ctx, "pos_auth_user", "x"))

	require.True(t, mr.Exists("pos:pos_auth_user"))
	require.Equal(t, 10*time.Minute, mr.TTL("pos:pos_auth_user"))

	mr.FastForward(10*time.Minute)
	_, ok, err := r.Get(ctx, "pos_auth_user")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedis_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := DialRedis(context.Background(), addr)
	require.Error(t, err)
}

// =============================================================================
// OPEN TESTS
// =============================================================================

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, closeFn, err := Open(ctx, Options{})
	require.NoError(t, err)
	require.IsType(t, &Memory{}, s)
	require.NoError(t, closeFn())

	s, closeFn, err = Open(ctx, Options{Backend: BackendSQLite, Path: filepath.Join(dir, "a.db")})
	require.NoError(t, err)
	require.IsType(t, &SQLite{}, s)
	require.NoError(t, closeFn())

	s, _, err = Open(ctx, Options{Backend: BackendFile, Path: filepath.Join(dir, "a.json"), HMACKey: "k"})
	require.NoError(t, err)
	require.IsType(t, &File{}, s)

	mr := miniredis.RunT(t)
	s, closeFn, err = Open(ctx, Options{Backend: BackendRedis, RedisAddr: mr.Addr()})
	require.NoError(t, err)
	require.IsType(t, &Redis{}, s)
	require.NoError(t, closeFn())

	_, _, err = Open(ctx, Options{Backend: "etcd"})
	require.Error(t, err)
}
