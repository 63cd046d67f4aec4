// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/tillguard/internal/config"
	"github.com/jeranaias/tillguard/internal/logging"
)

// Version information (overridden at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// exitError ends the process with code without printing anything further.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	return run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}

func run(args []string, in io.Reader, out, errOut io.Writer) int {
	root := newRootCmd(&app{in: in})
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	if err := root.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			return exit.code
		}
		fmt.Fprintln(errOut, errorStyle.Render("Error: "+err.Error()))
		return 1
	}
	return 0
}

// app carries what every command needs once flags are parsed.
type app struct {
	in     io.Reader
	cfg    *config.Config
	logger zerolog.Logger
	color  bool

	configPath string
	logLevel   string
	noColor    bool
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "tillguard",
		Short: "Point-of-sale authorization core",
		Long: "tillguard manages register sign-in, PIN lockout, session expiry and\n" +
			"role-based route access, and checks the role table for security defects.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default ~/.tillguard/config.toml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "Disable coloured output")

	root.AddCommand(
		newValidateCmd(a),
		newRoutesCmd(a),
		newRolesCmd(a),
		newCheckCmd(a),
		newLoginCmd(a),
		newShellCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFile(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	a.color = configureColor(cmd.OutOrStdout(), a.noColor)
	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log, logging.WithNoColor(!a.color))
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}
