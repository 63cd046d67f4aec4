// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/hkdf"
)

// signatureSize is the length of the HMAC-SHA256 suffix on the state file.
const signatureSize = sha256.Size

// ErrTampered is returned by Verify when the signature does not match.
var ErrTampered = errors.New("state file integrity check failed")

// fileState is the on-disk document.
type fileState struct {
	Entries map[string]string `json:"entries"`
	SavedAt time.Time         `json:"saved_at"`
	Version string            `json:"version"`
}

// File is a Store backed by one JSON document with an HMAC-SHA256 suffix.
// Writes go through a temp file, fsync and rename so a crash never leaves a
// partial document. A document whose signature does not verify is treated
// as empty.
type File struct {
	path   string
	key    []byte
	logger zerolog.Logger

	mu sync.Mutex
}

// FileOption configures a File store.
type FileOption func(*File)

// WithKey sets the HMAC key. Without it the key is read from (or generated
// into) path + ".key".
func WithKey(key []byte) FileOption {
	return func(f *File) {
		f.key = append([]byte(nil), key...)
	}
}

// WithPassphrase derives the HMAC key from a configured passphrase of any
// length with HKDF-SHA256.
func WithPassphrase(passphrase string) FileOption {
	return func(f *File) {
		f.key = deriveKey(passphrase)
	}
}

// keyInfo binds derived keys to this use.
const keyInfo = "tillguard session store v1"

func deriveKey(passphrase string) []byte {
	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, []byte(passphrase), nil, []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		// HKDF-SHA256 can produce up to 255*32 bytes.
		panic(err)
	}
	return key
}

// WithFileLogger sets the logger for integrity warnings.
func WithFileLogger(logger zerolog.Logger) FileOption {
	return func(f *File) {
		f.logger = logger
	}
}

// NewFile opens a file store at path, creating its directory if needed.
func NewFile(path string, opts ...FileOption) (*File, error) {
	if path == "" {
		return nil, errors.New("store path cannot be empty")
	}
	f := &File{path: path, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(f)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	if len(f.key) == 0 {
		key, err := f.loadOrCreateKey()
		if err != nil {
			return nil, err
		}
		f.key = key
	}
	return f, nil
}

// Path returns the document path.
func (f *File) Path() string { return f.path }

// Get implements Store.
func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := state.Entries[key]
	return v, ok, nil
}

// Set implements Store.
func (f *File) Set(_ context.Context, key, value string) error {
	return f.update(func(entries map[string]string) {
		entries[key] = value
	})
}

// Remove implements Store.
func (f *File) Remove(_ context.Context, key string) error {
	return f.update(func(entries map[string]string) {
		delete(entries, key)
	})
}

// Verify checks the document signature. A missing document verifies.
func (f *File) Verify() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	payload, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if _, ok := f.open(payload); !ok {
		return ErrTampered
	}
	return nil
}

func (f *File) update(mutate func(map[string]string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	unlock, err := lockFile(f.path + ".lock")
	if err != nil {
		return fmt.Errorf("failed to lock store: %w", err)
	}
	defer unlock()

	state, err := f.read()
	if err != nil {
		return err
	}
	mutate(state.Entries)
	return f.write(state)
}

// read loads the document. Missing, unreadable-as-JSON or tampered documents
// come back empty; only I/O errors are returned.
func (f *File) read() (*fileState, error) {
	empty := &fileState{Entries: make(map[string]string)}

	payload, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return empty, nil
		}
		return nil, fmt.Errorf("failed to read store: %w", err)
	}

	data, ok := f.open(payload)
	if !ok {
		f.logger.Warn().Str("path", f.path).Msg("store signature mismatch, ignoring contents")
		return empty, nil
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		f.logger.Warn().Err(err).Str("path", f.path).Msg("store contents unparseable, ignoring")
		return empty, nil
	}
	if state.Entries == nil {
		state.Entries = make(map[string]string)
	}
	return &state, nil
}

// open splits payload into data and signature and verifies it.
func (f *File) open(payload []byte) ([]byte, bool) {
	if len(payload) < signatureSize {
		return nil, false
	}
	data := payload[:len(payload)-signatureSize]
	sig := payload[len(payload)-signatureSize:]
	return data, hmac.Equal(sig, f.sign(data))
}

func (f *File) sign(data []byte) []byte {
	mac := hmac.New(sha256.New, f.key)
	mac.Write(data)
	return mac.Sum(nil)
}

func (f *File) write(state *fileState) error {
	state.SavedAt = time.Now().UTC()
	state.Version = "1"

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}
	payload := append(data, f.sign(data)...)
	if err := atomicWriteFile(f.path, payload, 0600); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	return nil
}

func (f *File) loadOrCreateKey() ([]byte, error) {
	keyPath := f.path + ".key"
	if key, err := os.ReadFile(keyPath); err == nil && len(key) == 32 {
		return key, nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate store key: %w", err)
	}
	if err := atomicWriteFile(keyPath, key, 0600); err != nil {
		return nil, fmt.Errorf("failed to save store key: %w", err)
	}
	return key, nil
}

// atomicWriteFile writes data via temp file, fsync and rename.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".store_*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set temp file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true

	if runtime.GOOS != "windows" {
		// Best effort: the rename already happened.
		if d, err := os.Open(dir); err == nil {
			d.Sync()
			d.Close()
		}
	}
	return nil
}
