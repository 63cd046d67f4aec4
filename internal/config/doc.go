// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads tillguard's configuration.
//
// # Configuration Precedence
//
// Values are taken from (highest first):
//   - Environment variables (TILLGUARD_<SECTION>_<KEY>)
//   - ~/.tillguard/config.toml, or the file passed to LoadFile
//   - Built-in defaults
//
// # Sections
//
//   - auth: lockout and session policy
//   - store: session persistence backend
//   - directory: fallback user roster
//   - authenticator: remote credential service
//   - audit: route-check audit log
//   - log: log level and format
//   - server: the reference credential service
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	policy := cfg.Policy()
package config
