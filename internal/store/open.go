// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	Path        string
	RedisAddr   string
	RedisPrefix string
	HMACKey     string
	Logger      zerolog.Logger
}

// Open builds the backend named by opts.Backend. The returned close function
// is never nil.
func Open(ctx context.Context, opts Options) (Store, func() error, error) {
	noop := func() error { return nil }

	switch opts.Backend {
	case "", BackendMemory:
		return NewMemory(), noop, nil

	case BackendFile:
		fileOpts := []FileOption{WithFileLogger(opts.Logger)}
		if opts.HMACKey != "" {
			fileOpts = append(fileOpts, WithPassphrase(opts.HMACKey))
		}
		f, err := NewFile(opts.Path, fileOpts...)
		if err != nil {
			return nil, noop, err
		}
		return f, noop, nil

	case BackendSQLite:
		s, err := NewSQLite(opts.Path)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil

	case BackendRedis:
		var redisOpts []RedisOption
		if opts.RedisPrefix != "" {
			redisOpts = append(redisOpts, WithPrefix(opts.RedisPrefix))
		}
		r, err := DialRedis(ctx, opts.RedisAddr, redisOpts...)
		if err != nil {
			return nil, noop, err
		}
		return r, r.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown store backend %q", opts.Backend)
}
