// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"

	"github.com/jeranaias/tillguard/internal/access"
	"github.com/jeranaias/tillguard/internal/auth"
	"github.com/jeranaias/tillguard/internal/authn"
	"github.com/jeranaias/tillguard/internal/authz"
	"github.com/jeranaias/tillguard/internal/directory"
	"github.com/jeranaias/tillguard/internal/store"
)

// stack is an Authz plus the resources that back it.
type stack struct {
	az      *authz.Authz
	dir     *directory.Directory
	closers []func() error
}

// Close releases everything opened by openStack, newest first.
func (r *stack) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// openDirectory loads the configured user directory, or the built-in roster.
func (a *app) openDirectory() (*directory.Directory, error) {
	opts := []directory.Option{directory.WithPINLength(a.cfg.Auth.PINLength)}
	if a.cfg.Directory.Path == "" {
		return directory.New(opts...), nil
	}
	return directory.Load(a.cfg.Directory.Path, opts...)
}

// openStack wires the store, directory, authenticator and Authz from config.
func (a *app) openStack(ctx context.Context) (*stack, error) {
	rt := &stack{}

	dir, err := a.openDirectory()
	if err != nil {
		return nil, err
	}
	rt.dir = dir

	storeOpts := a.cfg.StoreOptions()
	storeOpts.Logger = a.logger.With().Str("component", "store").Logger()
	st, closeStore, err := store.Open(ctx, storeOpts)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeStore)

	if a.cfg.Directory.Watch {
		w, err := directory.Watch(ctx, dir,
			directory.WithWatchLogger(a.logger.With().Str("component", "directory").Logger()))
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, w.Close)
	}

	authOpts := []auth.Option{
		auth.WithDirectory(dir),
		auth.WithStore(st),
		auth.WithPolicy(a.cfg.Policy()),
		auth.WithMonitorInterval(a.cfg.Auth.MonitorInterval),
	}
	if a.cfg.Authenticator.URL != "" {
		client := authn.NewClient(a.cfg.Authenticator.URL,
			authn.WithTimeout(a.cfg.Authenticator.Timeout),
			authn.WithRateLimit(a.cfg.Authenticator.Rate, a.cfg.Authenticator.Burst),
			authn.WithClientLogger(a.logger.With().Str("component", "authn").Logger()),
		)
		authOpts = append(authOpts, auth.WithAuthenticator(client))
	}

	rt.az = authz.New(
		authz.WithLogger(a.logger),
		authz.WithAuthOptions(authOpts...),
		authz.WithEngineOptions(
			access.WithAuditLog(access.NewAuditLog(a.cfg.Audit.Capacity)),
			access.WithAuditing(a.cfg.Audit.LogRouteChecks),
		),
	)
	rt.closers = append(rt.closers, func() error {
		rt.az.Close()
		return nil
	})
	return rt, nil
}
