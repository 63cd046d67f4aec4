// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"github.com/jeranaias/tillguard/internal/auth"
	"github.com/jeranaias/tillguard/internal/directory"
	"github.com/jeranaias/tillguard/internal/store"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TILLGUARD"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete tillguard configuration.
type Config struct {
	Auth          AuthConfig          `toml:"auth" json:"auth"`
	Store         StoreConfig         `toml:"store" json:"store"`
	Directory     DirectoryConfig     `toml:"directory" json:"directory"`
	Authenticator AuthenticatorConfig `toml:"authenticator" json:"authenticator"`
	Audit         AuditConfig         `toml:"audit" json:"audit"`
	Log           LogConfig           `toml:"log" json:"log"`
	Server        ServerConfig        `toml:"server" json:"server"`
}

// AuthConfig holds the session policy.
type AuthConfig struct {
	// MaxFailedAttempts is the number of consecutive failures that triggers a lockout.
	MaxFailedAttempts int `toml:"max_failed_attempts" json:"max_failed_attempts" split_words:"true" validate:"min=1,max=100"`
	// LockoutDuration is how long a lockout lasts.
	LockoutDuration time.Duration `toml:"lockout_duration" json:"lockout_duration" split_words:"true" validate:"min=1s"`
	// SessionTimeout is the idle time after which a session expires.
	SessionTimeout time.Duration `toml:"session_timeout" json:"session_timeout" split_words:"true" validate:"min=1m"`
	// PINLength is the exact number of digits in a PIN.
	PINLength int `toml:"pin_length" json:"pin_length" split_words:"true" validate:"min=4,max=12"`
	// MonitorInterval is how often the expiry monitor runs. Zero disables it.
	MonitorInterval time.Duration `toml:"monitor_interval" json:"monitor_interval" split_words:"true" validate:"min=0s"`
}

// StoreConfig selects the session persistence backend.
type StoreConfig struct {
	// Backend is one of memory, file, sqlite, redis.
	Backend string `toml:"backend" json:"backend" split_words:"true" validate:"oneof=memory file sqlite redis"`
	// Path is the file or database path for the file and sqlite backends.
	Path string `toml:"path" json:"path" split_words:"true"`
	// RedisAddr is host:port of the Redis server.
	RedisAddr string `toml:"redis_addr" json:"redis_addr" split_words:"true" validate:"omitempty,hostname_port"`
	// RedisPrefix namespaces the keys in Redis.
	RedisPrefix string `toml:"redis_prefix" json:"redis_prefix" split_words:"true"`
	// HMACKey signs the file backend. Empty means a generated key file.
	HMACKey string `toml:"hmac_key,omitempty" json:"hmac_key,omitempty" split_words:"true"`
}

// DirectoryConfig locates the fallback user directory.
type DirectoryConfig struct {
	// Path is a TOML user file. Empty means the built-in roster.
	Path string `toml:"path" json:"path" split_words:"true"`
	// Watch reloads the file when it changes.
	Watch bool `toml:"watch" json:"watch" split_words:"true"`
}

// AuthenticatorConfig points at the remote credential service.
type AuthenticatorConfig struct {
	// URL of the service. Empty disables it and logins use the directory only.
	URL     string        `toml:"url" json:"url" split_words:"true" validate:"omitempty,url"`
	Timeout time.Duration `toml:"timeout" json:"timeout" split_words:"true" validate:"min=100ms"`
	Rate    float64       `toml:"rate" json:"rate" split_words:"true" validate:"gt=0"`
	Burst   int           `toml:"burst" json:"burst" split_words:"true" validate:"min=1"`
}

// AuditConfig sizes the route-check audit log.
type AuditConfig struct {
	Capacity       int  `toml:"capacity" json:"capacity" split_words:"true" validate:"min=1,max=1000000"`
	LogRouteChecks bool `toml:"log_route_checks" json:"log_route_checks" split_words:"true"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `toml:"level" json:"level" split_words:"true" validate:"oneof=trace debug info warn error"`
	Format string `toml:"format" json:"format" split_words:"true" validate:"oneof=console json"`
}

// ServerConfig configures the reference credential service.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr" split_words:"true" validate:"required,hostname_port"`
	// JWTSecret signs issued tokens. Empty means a random per-process secret.
	JWTSecret         string        `toml:"jwt_secret,omitempty" json:"jwt_secret,omitempty" split_words:"true" validate:"omitempty,min=16"`
	RequestsPerMinute int           `toml:"requests_per_minute" json:"requests_per_minute" split_words:"true" validate:"min=1"`
	TokenTTL          time.Duration `toml:"token_ttl" json:"token_ttl" split_words:"true" validate:"min=1m"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Auth: AuthConfig{
			MaxFailedAttempts: auth.DefaultMaxFailedAttempts,
			LockoutDuration:   auth.DefaultLockoutDuration,
			SessionTimeout:    auth.DefaultSessionTimeout,
			PINLength:         auth.DefaultPINLength,
			MonitorInterval:   auth.DefaultMonitorInterval,
		},
		Store: StoreConfig{
			Backend:     store.BackendMemory,
			RedisPrefix: store.DefaultRedisPrefix,
		},
		Authenticator: AuthenticatorConfig{
			Timeout: 5 * time.Second,
			Rate:    5,
			Burst:   10,
		},
		Audit: AuditConfig{
			Capacity:       1000,
			LogRouteChecks: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Addr:              "127.0.0.1:8089",
			RequestsPerMinute: 30,
			TokenTTL:          8 * time.Hour,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the tillguard configuration directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".tillguard"), nil
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the default config file if it exists, then applies environment
// overrides and validates. A missing file is not an error.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		return finish(Default())
	}
	return LoadFile(path)
}

// LoadFile reads the config at path, then applies environment overrides and
// validates. Keys missing from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults restores zero values that have no meaning of their own.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = defaults.Store.Backend
	}
	if cfg.Store.RedisPrefix == "" {
		cfg.Store.RedisPrefix = defaults.Store.RedisPrefix
	}
	if cfg.Audit.Capacity <= 0 {
		cfg.Audit.Capacity = defaults.Audit.Capacity
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Store.Backend = strings.ToLower(cfg.Store.Backend)
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies TILLGUARD_* environment variables, named after
// the section and key, e.g. TILLGUARD_AUTH_MAX_FAILED_ATTEMPTS or
// TILLGUARD_STORE_BACKEND.
func (c *Config) ApplyEnvOverrides() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE
// =============================================================================

// Save writes cfg to path as TOML with 0600 permissions, creating the
// parent directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# tillguard configuration file")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every field and returns ValidateErrors listing each
// invalid one by its TOML key, e.g. "auth.pin_length".
func (c *Config) Validate() error {
	var errs ValidateErrors

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			_, field, _ := strings.Cut(fe.Namespace(), ".")
			errs = append(errs, ValidationError{Field: field, Message: describe(fe)})
		}
	}

	switch c.Store.Backend {
	case store.BackendFile, store.BackendSQLite:
		if c.Store.Path == "" {
			errs = append(errs, ValidationError{
				Field:   "store.path",
				Message: fmt.Sprintf("is required for the %s backend", c.Store.Backend),
			})
		}
	case store.BackendRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, ValidationError{Field: "store.redis_addr", Message: "is required for the redis backend"})
		}
	}
	// The built-in roster only has DefaultPINLength-digit PINs.
	if c.Directory.Path == "" && c.Auth.PINLength > directory.DefaultPINLength {
		errs = append(errs, ValidationError{
			Field:   "auth.pin_length",
			Message: fmt.Sprintf("must be %d without directory.path", directory.DefaultPINLength),
		})
	}
	if c.Directory.Watch && c.Directory.Path == "" {
		errs = append(errs, ValidationError{Field: "directory.watch", Message: "requires directory.path"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("invalid value %v, must be one of: %s", fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min", "gt":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "required":
		return "is required"
	case "url":
		return fmt.Sprintf("invalid URL %q", fe.Value())
	case "hostname_port":
		return fmt.Sprintf("invalid address %q, expected host:port", fe.Value())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// Policy returns the session policy.
func (c *Config) Policy() auth.Policy {
	return auth.Policy{
		MaxFailedAttempts: c.Auth.MaxFailedAttempts,
		LockoutDuration:   c.Auth.LockoutDuration,
		SessionTimeout:    c.Auth.SessionTimeout,
		PINLength:         c.Auth.PINLength,
	}
}

// StoreOptions returns the options for store.Open. The caller sets the logger.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend:     c.Store.Backend,
		Path:        c.Store.Path,
		RedisAddr:   c.Store.RedisAddr,
		RedisPrefix: c.Store.RedisPrefix,
		HMACKey:     c.Store.HMACKey,
	}
}

// String returns the config as JSON with secrets redacted.
func (c *Config) String() string {
	safe := *c
	if safe.Store.HMACKey != "" {
		safe.Store.HMACKey = "[REDACTED]"
	}
	if safe.Server.JWTSecret != "" {
		safe.Server.JWTSecret = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
