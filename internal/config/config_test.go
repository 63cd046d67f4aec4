// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/tillguard/internal/auth"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, auth.DefaultPolicy(), cfg.Policy())
	require.Equal(t, 1000, cfg.Audit.Capacity)
	require.True(t, cfg.Audit.LogRouteChecks)
}

func TestLoadFile_PartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
[auth]
max_failed_attempts = 5
lockout_duration = "10m"

[store]
backend = "sqlite"
path = "/tmp/tillguard.db"
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Auth.MaxFailedAttempts)
	require.Equal(t, 10*time.Minute, cfg.Auth.LockoutDuration)
	require.Equal(t, auth.DefaultSessionTimeout, cfg.Auth.SessionTimeout)
	require.Equal(t, "sqlite", cfg.Store.Backend)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFile_UnknownKey(t *testing.T) {
	path := writeConfig(t, `
[auth]
max_attempts = 5
`)
	_, err := LoadFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "auth.max_attempts")
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, Default().Auth, cfg.Auth)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TILLGUARD_AUTH_MAX_FAILED_ATTEMPTS", "7")
	t.Setenv("TILLGUARD_AUTH_SESSION_TIMEOUT", "2h")
	t.Setenv("TILLGUARD_STORE_BACKEND", "redis")
	t.Setenv("TILLGUARD_STORE_REDIS_ADDR", "localhost:6379")
	t.Setenv("TILLGUARD_SERVER_JWT_SECRET", "0123456789abcdef")

	path := writeConfig(t, "[auth]\nmax_failed_attempts = 5\n")
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Auth.MaxFailedAttempts)
	require.Equal(t, 2*time.Hour, cfg.Auth.SessionTimeout)
	require.Equal(t, "redis", cfg.Store.Backend)
	require.Equal(t, "localhost:6379", cfg.Store.RedisAddr)
	require.Equal(t, "0123456789abcdef", cfg.Server.JWTSecret)
}

func TestEnvOverrides_BadValue(t *testing.T) {
	t.Setenv("TILLGUARD_AUTH_PIN_LENGTH", "four")
	require.Error(t, Default().ApplyEnvOverrides())
}

func TestValidate_Errors(t *testing.T) {
	cfg := Default()
	cfg.Auth.PINLength = 2
	cfg.Store.Backend = "etcd"
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))

	fields := map[string]string{}
	for _, e := range verrs {
		fields[e.Field] = e.Message
	}
	require.Contains(t, fields, "auth.pin_length")
	require.Contains(t, fields, "store.backend")
	require.Contains(t, fields, "log.format")
	require.Contains(t, fields["log.format"], "console, json")
}

func TestValidate_BackendRequirements(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "file"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "store.path")

	cfg = Default()
	cfg.Store.Backend = "redis"
	require.ErrorContains(t, cfg.Validate(), "store.redis_addr")

	cfg = Default()
	cfg.Directory.Watch = true
	require.ErrorContains(t, cfg.Validate(), "directory.watch")
}

func TestValidate_PINLengthNeedsDirectoryFile(t *testing.T) {
	cfg := Default()
	cfg.Auth.PINLength = 6
	err := cfg.Validate()
	require.ErrorContains(t, err, "auth.pin_length")
	require.ErrorContains(t, err, "directory.path")

	cfg.Directory.Path = "/etc/tillguard/users.toml"
	require.NoError(t, cfg.Validate())
}

func TestValidate_Durations(t *testing.T) {
	cfg := Default()
	cfg.Auth.SessionTimeout = time.Second
	require.ErrorContains(t, cfg.Validate(), "auth.session_timeout")

	cfg = Default()
	cfg.Auth.MonitorInterval = 0
	require.NoError(t, cfg.Validate())
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	cfg := Default()
	cfg.Auth.MaxFailedAttempts = 4
	cfg.Directory.Path = "/etc/tillguard/users.toml"
	require.NoError(t, Save(cfg, path))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 4, loaded.Auth.MaxFailedAttempts)
	require.Equal(t, cfg.Auth.LockoutDuration, loaded.Auth.LockoutDuration)
	require.Equal(t, "/etc/tillguard/users.toml", loaded.Directory.Path)
}

func TestString_Redacts(t *testing.T) {
	cfg := Default()
	cfg.Store.HMACKey = "super-secret-key"
	cfg.Server.JWTSecret = "another-secret-value"

	out := cfg.String()
	require.NotContains(t, out, "super-secret-key")
	require.NotContains(t, out, "another-secret-value")
	require.Contains(t, out, "[REDACTED]")
	require.Equal(t, "super-secret-key", cfg.Store.HMACKey)
}

func TestStoreOptions(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "file"
	cfg.Store.Path = "/var/lib/tillguard/session.json"

	opts := cfg.StoreOptions()
	require.Equal(t, "file", opts.Backend)
	require.Equal(t, "/var/lib/tillguard/session.json", opts.Path)
}
