// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/tillguard/internal/authn"
)

// shutdownTimeout bounds graceful shutdown of the credential service.
const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference credential service",
		Long: "Serve runs an HTTP credential service backed by the user directory.\n" +
			"Point authenticator.url at it to exercise remote sign-in.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			dir, err := a.openDirectory()
			if err != nil {
				return err
			}

			secret := []byte(a.cfg.Server.JWTSecret)
			if len(secret) == 0 {
				secret = make([]byte, 32)
				if _, err := rand.Read(secret); err != nil {
					return fmt.Errorf("failed to generate token secret: %w", err)
				}
				a.logger.Warn().Msg("server.jwt_secret not set; tokens will not survive a restart")
			}

			srv, err := authn.NewServer(dir, secret,
				authn.WithTokenTTL(a.cfg.Server.TokenTTL),
				authn.WithRequestsPerMinute(a.cfg.Server.RequestsPerMinute),
				authn.WithServerLogger(a.logger.With().Str("component", "server").Logger()),
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			httpSrv := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      15 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			go func() {
				<-ctx.Done()
				a.logger.Info().Msg("shutting down credential service")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = httpSrv.Shutdown(shutdownCtx)
			}()

			a.logger.Info().Str("addr", addr).Msg("credential service listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}
