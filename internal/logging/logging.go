// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/tillguard/internal/config"
)

// Option adjusts the logger.
type Option func(*settings)

type settings struct {
	noColor bool
}

// WithNoColor disables ANSI colour in console output.
func WithNoColor(noColor bool) Option {
	return func(s *settings) {
		s.noColor = noColor
	}
}

// New returns a logger writing to w at cfg.Level. Format "console" writes
// human-readable lines; anything else writes JSON.
func New(w io.Writer, cfg config.LogConfig, opts ...Option) (zerolog.Logger, error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	out := w
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    s.noColor,
			TimeFormat: time.TimeOnly,
		}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// ParseLevel maps a level name to a zerolog level. Empty means info.
func ParseLevel(name string) (zerolog.Level, error) {
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}
