// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newCheckCmd(a *app) *cobra.Command {
	var route, pin string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Sign in with a PIN and check one route",
		Long: "Check signs in, evaluates a single route, and signs out again.\n" +
			"Without --pin the PIN is read from the terminal without echo, or from\n" +
			"the first line of standard input. Exits 1 if sign-in fails and 2 if\n" +
			"access is denied.",
		Example: "  tillguard check --route /sales/refund --pin 2345\n" +
			"  echo 3456 | tillguard check --route /menu/edit",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			if pin == "" {
				var err error
				pin, err = readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "PIN: ")
				if err != nil {
					return err
				}
			}

			st, err := a.openStack(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.az.Login(cmd.Context(), loginCredentials(pin)); err != nil {
				fmt.Fprintln(out, errorStyle.Render(err.Error()))
				return &exitError{code: 1}
			}
			defer st.az.Logout()

			user := st.az.CurrentUser()
			d, err := st.az.CheckPath(route)
			if err != nil {
				return err
			}

			printField(out, "User", fmt.Sprintf("%s (%s)", user.DisplayName, user.Role))
			printField(out, "Route", route)
			printField(out, "Access", allowedLabel(d.Allowed))
			printField(out, "Reason", d.Reason)

			if !d.Allowed {
				return &exitError{code: 2}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&route, "route", "", "Route path to check (required)")
	cmd.Flags().StringVar(&pin, "pin", "", "PIN to sign in with")
	_ = cmd.MarkFlagRequired("route")
	return cmd
}

// readSecret reads a secret without echo from a terminal, or one line from
// any other reader.
func readSecret(in io.Reader, prompt io.Writer, label string) (string, error) {
	if f, ok := in.(fdWriter); ok && isTerminal(in) {
		fmt.Fprint(prompt, label)
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read PIN: %w", err)
		}
		return strings.TrimSpace(string(secret)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read PIN: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no PIN given")
	}
	return line, nil
}
