// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package authn talks to the credential service over HTTP.
//
// Client implements auth.Authenticator. Server is a small reference
// credential service backed by a user directory; the CLI's serve command runs
// it, and the client tests run against it.
//
// # Wire format
//
//	POST /auth/login   {"pin":"1234"} or {"username":"admin"}
//	  200 {"user": {...}, "token": "<jwt>"}
//	  401 {"errors": ["Invalid credentials"]}
//	POST /auth/logout  Authorization: Bearer <jwt>
//	  204
//	GET  /healthz
//	  200 ok
package authn
