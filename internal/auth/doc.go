// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth owns the register's authentication session: the current user,
// failed-attempt counting, lockout, and session expiry.
//
// The package is split in two layers:
//
//   - Policy.Transition is a pure reducer from (Session, Action) to Session.
//     All lockout, expiry and activity arithmetic lives there.
//   - Manager is the controller. It consults the credential authenticator and
//     the fallback directory, feeds actions into the reducer, persists the
//     result, and runs the expiry monitor.
//
// # Lifecycle
//
//	LoggedOut --login--> Authenticating --ok--> Authenticated
//	                                    --fail (n < max)--> LoggedOut
//	                                    --fail (n == max)--> LockedOut
//	Authenticated --logout | expiry--> LoggedOut
//
// A Manager is constructed once per process and injected into every consumer.
// It rehydrates from its store on construction.
package auth
