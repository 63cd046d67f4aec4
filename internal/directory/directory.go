// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package directory is the embedded user directory the session state machine
// falls back to when the credential authenticator is unavailable.
//
// The directory ships with a seed roster and can be replaced by a TOML file:
//
//	[[users]]
//	id = "u-100"
//	username = "dana"
//	display_name = "Dana"
//	role = "cashier"
//	pin = "5821"
package directory

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/jeranaias/tillguard/internal/rbac"
)

// DefaultPINLength is the PIN length seed users are created with.
const DefaultPINLength = 4

var (
	// ErrDuplicateUser is returned when two records share an id, username or PIN.
	ErrDuplicateUser = errors.New("duplicate user")

	// ErrInvalidRecord is returned for a record that fails validation.
	ErrInvalidRecord = errors.New("invalid user record")
)

// Record is one user entry in a directory file.
type Record struct {
	ID          string `toml:"id" validate:"required"`
	Username    string `toml:"username" validate:"required,max=64"`
	DisplayName string `toml:"display_name"`
	Role        string `toml:"role" validate:"required,oneof=admin manager cashier trainee"`
	PIN         string `toml:"pin" validate:"required,number"`
	Active      *bool  `toml:"active"`
}

type file struct {
	Users []Record `toml:"users"`
}

// Directory holds the fallback user roster. It is safe for concurrent use.
type Directory struct {
	mu        sync.RWMutex
	users     []*rbac.User
	path      string
	pinLength int
	validate  *validator.Validate
}

// Option configures a Directory.
type Option func(*Directory)

// WithPINLength sets the PIN length records must have.
func WithPINLength(n int) Option {
	return func(d *Directory) {
		if n > 0 {
			d.pinLength = n
		}
	}
}

// New returns a directory populated with the seed roster. Seed PINs are
// always DefaultPINLength digits; WithPINLength applies to loaded files.
func New(opts ...Option) *Directory {
	d := &Directory{
		pinLength: DefaultPINLength,
		validate:  validator.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	users, err := d.build(SeedRecords(), DefaultPINLength)
	if err != nil {
		// The seed roster is static; a failure here is a programming error.
		panic(fmt.Sprintf("directory: invalid seed roster: %v", err))
	}
	d.users = users
	return d
}

// Load reads a directory file. The file replaces the seed roster entirely.
func Load(path string, opts ...Option) (*Directory, error) {
	d := New(opts...)
	d.path = path
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Path returns the backing file, or "" for the seed roster.
func (d *Directory) Path() string { return d.path }

// Reload re-reads the backing file. On error the current roster is kept.
func (d *Directory) Reload() error {
	if d.path == "" {
		return nil
	}
	var f file
	if _, err := toml.DecodeFile(d.path, &f); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("directory file not found: %s", d.path)
		}
		return fmt.Errorf("failed to parse directory file: %w", err)
	}
	users, err := d.build(f.Users, d.pinLength)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.users = users
	d.mu.Unlock()
	return nil
}

func (d *Directory) build(records []Record, pinLength int) ([]*rbac.User, error) {
	seenID := make(map[string]bool, len(records))
	seenName := make(map[string]bool, len(records))
	seenPIN := make(map[string]bool, len(records))

	users := make([]*rbac.User, 0, len(records))
	for i, rec := range records {
		if err := d.validate.Struct(rec); err != nil {
			return nil, fmt.Errorf("%w %d (%s): %v", ErrInvalidRecord, i, rec.Username, err)
		}
		if err := d.validate.Var(rec.PIN, fmt.Sprintf("len=%d", pinLength)); err != nil {
			return nil, fmt.Errorf("%w %d (%s): pin must be %d digits", ErrInvalidRecord, i, rec.Username, pinLength)
		}
		name := strings.ToLower(rec.Username)
		switch {
		case seenID[rec.ID]:
			return nil, fmt.Errorf("%w: id %q", ErrDuplicateUser, rec.ID)
		case seenName[name]:
			return nil, fmt.Errorf("%w: username %q", ErrDuplicateUser, rec.Username)
		case seenPIN[rec.PIN]:
			return nil, fmt.Errorf("%w: pin shared by %q", ErrDuplicateUser, rec.Username)
		}
		seenID[rec.ID], seenName[name], seenPIN[rec.PIN] = true, true, true

		role := rbac.Role(rec.Role)
		u := rbac.NewUser(rec.ID, rec.Username, role)
		if rec.DisplayName != "" {
			u.DisplayName = rec.DisplayName
		}
		if rec.Active != nil {
			u.Active = *rec.Active
		}
		u.PIN = rec.PIN
		u.CreatedAt = seedCreatedAt
		users = append(users, u)
	}
	return users, nil
}

// FindByPIN returns the user whose PIN matches, including inactive users.
func (d *Directory) FindByPIN(pin string) (*rbac.User, bool) {
	return d.find(func(u *rbac.User) bool { return pin != "" && u.PIN == pin })
}

// FindByUsername returns the user with username, case-insensitively.
func (d *Directory) FindByUsername(username string) (*rbac.User, bool) {
	return d.find(func(u *rbac.User) bool { return username != "" && strings.EqualFold(u.Username, username) })
}

// FindByID returns the user with id.
func (d *Directory) FindByID(id string) (*rbac.User, bool) {
	return d.find(func(u *rbac.User) bool { return id != "" && u.ID == id })
}

// Users returns copies of every user, PINs cleared.
func (d *Directory) Users() []*rbac.User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*rbac.User, len(d.users))
	for i, u := range d.users {
		c := u.Clone()
		c.PIN = ""
		out[i] = c
	}
	return out
}

func (d *Directory) find(match func(*rbac.User) bool) (*rbac.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if match(u) {
			return u.Clone(), true
		}
	}
	return nil, false
}

// =============================================================================
// SEED ROSTER
// =============================================================================

var seedCreatedAt = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// SeedRecords returns the built-in roster: one user per role plus an
// inactive former employee.
func SeedRecords() []Record {
	inactive := false
	return []Record{
		{ID: "1", Username: "admin", DisplayName: "Store Admin", Role: "admin", PIN: "1234"},
		{ID: "2", Username: "manager", DisplayName: "Shift Manager", Role: "manager", PIN: "2345"},
		{ID: "3", Username: "cashier", DisplayName: "Front Cashier", Role: "cashier", PIN: "3456"},
		{ID: "4", Username: "trainee", DisplayName: "New Trainee", Role: "trainee", PIN: "4567"},
		{ID: "5", Username: "former", DisplayName: "Former Cashier", Role: "cashier", PIN: "9999", Active: &inactive},
	}
}
