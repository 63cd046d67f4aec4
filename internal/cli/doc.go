// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the tillguard command line.
//
// # Commands
//
//   - validate: run the RBAC validator and print its report
//   - routes: list route rules, or one role's access to them
//   - roles: show each role's permissions
//   - check: sign in with a PIN and test a single route
//   - login: interactive PIN pad
//   - shell: interactive register shell
//   - serve: reference credential service
//   - version: build information
//
// # Exit Codes
//
// 0 on success, 1 on errors, failed sign-in or validation failures, and 2
// when check finds the route denied.
package cli
