// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// shell.go - Interactive register shell.
//
// The shell keeps one Authz alive so lockout, expiry and the audit log can be
// observed across commands.

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/tillguard/internal/auth"
	"github.com/jeranaias/tillguard/internal/authz"
	"github.com/jeranaias/tillguard/internal/config"
	"github.com/jeranaias/tillguard/internal/rbac"
)

// historyFile is kept under the config directory.
const historyFile = "shell_history"

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive register shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStack(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			line := liner.NewLiner()
			defer line.Close()
			line.SetCtrlCAborts(true)
			line.SetCompleter(completeShell)

			if dir, err := config.ConfigDir(); err == nil {
				histPath := filepath.Join(dir, historyFile)
				if f, err := os.Open(histPath); err == nil {
					_, _ = line.ReadHistory(f)
					f.Close()
				}
				defer saveHistory(line, histPath)
			}

			sh := &shell{
				az:     st.az,
				out:    cmd.OutOrStdout(),
				color:  a.color,
				prompt: line.PasswordPrompt,
			}
			fmt.Fprintln(sh.out, titleStyle.Render("tillguard shell")+dimStyle.Render("  type help for commands"))

			for {
				input, err := line.Prompt(sh.promptText())
				if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
					fmt.Fprintln(sh.out)
					return nil
				}
				if err != nil {
					return fmt.Errorf("failed to read input: %w", err)
				}
				if strings.TrimSpace(input) == "" {
					continue
				}
				line.AppendHistory(input)

				quit, err := sh.exec(cmd.Context(), input)
				if err != nil {
					fmt.Fprintln(sh.out, errorStyle.Render(err.Error()))
				}
				if quit {
					return nil
				}
			}
		},
	}
}

func saveHistory(line *liner.State, path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.WriteHistory(f)
}

// =============================================================================
// COMMANDS
// =============================================================================

var shellCommands = map[string]string{
	"login":    "login [pin | username:password]  sign in",
	"logout":   "logout                            sign out",
	"whoami":   "whoami                            show the session",
	"can":      "can <permission>                  check a permission",
	"route":    "route <path>                      check a route",
	"routes":   "routes                            list accessible routes",
	"switch":   "switch <user-id>                  hand the register to another user",
	"activity": "activity                          record activity",
	"audit":    "audit [denied] [--json]           show the audit log",
	"validate": "validate                          run the RBAC validator",
	"help":     "help                              show this list",
	"quit":     "quit                              leave the shell",
}

type shell struct {
	az     *authz.Authz
	out    io.Writer
	color  bool
	prompt func(label string) (string, error)
}

func (s *shell) promptText() string {
	if u := s.az.CurrentUser(); u != nil && s.az.Session().IsAuthenticated {
		return fmt.Sprintf("%s@till> ", u.Username)
	}
	return "till> "
}

// exec runs one shell line. quit is true when the shell should exit.
func (s *shell) exec(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "quit", "exit":
		return true, nil
	case "help":
		s.help()
	case "login":
		return false, s.login(ctx, args)
	case "logout":
		s.az.Logout()
		fmt.Fprintln(s.out, "Signed out")
	case "whoami":
		s.whoami()
	case "can":
		return false, s.can(args)
	case "route":
		return false, s.route(args)
	case "routes":
		s.routes()
	case "switch":
		return false, s.switchUser(args)
	case "activity":
		s.az.UpdateActivity()
		s.whoami()
	case "audit":
		return false, s.audit(args)
	case "validate":
		writeReport(s.out, s.az.ValidateRBAC())
	default:
		return false, fmt.Errorf("unknown command %q, type help", name)
	}
	return false, nil
}

func (s *shell) help() {
	names := make([]string, 0, len(shellCommands))
	for n := range shellCommands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintln(s.out, "  "+shellCommands[n])
	}
}

func (s *shell) login(ctx context.Context, args []string) error {
	var secret string
	switch {
	case len(args) > 0:
		secret = args[0]
	case s.prompt != nil:
		var err error
		if secret, err = s.prompt("PIN: "); err != nil {
			return err
		}
	default:
		return errors.New("usage: login <pin>")
	}

	if err := s.az.Login(ctx, loginCredentials(secret)); err != nil {
		return err
	}
	u := s.az.CurrentUser()
	fmt.Fprintln(s.out, successStyle.Render(fmt.Sprintf("Signed in as %s (%s)", u.DisplayName, u.Role)))
	return nil
}

func (s *shell) whoami() {
	sess := s.az.Session()
	printField(s.out, "State", sess.State.String())
	if sess.User != nil {
		printField(s.out, "User", fmt.Sprintf("%s (%s)", sess.User.DisplayName, sess.User.Username))
		printField(s.out, "Role", string(sess.User.Role))
	}
	if sess.SessionExpiry != nil {
		printField(s.out, "Expires", sess.SessionExpiry.Format("15:04:05"))
	}
	if sess.FailedAttempts > 0 {
		printField(s.out, "Failed attempts", fmt.Sprint(sess.FailedAttempts))
	}
	if sess.LockoutUntil != nil {
		printField(s.out, "Locked until", sess.LockoutUntil.Format("15:04:05"))
	}
	if sess.Error != "" {
		printField(s.out, "Message", sess.Error)
	}
}

func (s *shell) can(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: can <permission>")
	}
	p, err := rbac.ParsePermission(args[0])
	if err != nil {
		return err
	}
	printField(s.out, string(p), allowedLabel(s.az.HasPermission(p)))
	return nil
}

func (s *shell) route(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: route <path>")
	}
	d, err := s.az.CheckPath(args[0])
	if err != nil {
		return err
	}
	printField(s.out, "Access", allowedLabel(d.Allowed))
	printField(s.out, "Reason", d.Reason)
	return nil
}

func (s *shell) routes() {
	routes := s.az.AccessibleRoutes()
	if len(routes) == 0 {
		fmt.Fprintln(s.out, dimStyle.Render("No accessible routes"))
		return
	}
	rows := make([][]string, len(routes))
	for i, r := range routes {
		rows[i] = []string{r.Path, r.Description}
	}
	writeTable(s.out, []string{"PATH", "DESCRIPTION"}, rows)
}

func (s *shell) switchUser(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: switch <user-id>")
	}
	if err := s.az.SwitchUserByID(args[0]); err != nil {
		return err
	}
	u := s.az.CurrentUser()
	fmt.Fprintln(s.out, successStyle.Render(fmt.Sprintf("Switched to %s (%s)", u.DisplayName, u.Role)))
	return nil
}

func (s *shell) audit(args []string) error {
	var deniedOnly, asJSON bool
	for _, a := range args {
		switch a {
		case "denied":
			deniedOnly = true
		case "--json":
			asJSON = true
		default:
			return fmt.Errorf("unknown audit option %q", a)
		}
	}

	entries := s.az.AuditLog().Entries()
	if deniedOnly {
		kept := entries[:0]
		for _, e := range entries {
			if e.Denied() {
				kept = append(kept, e)
			}
		}
		entries = kept
	}

	if asJSON {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		return writeJSON(s.out, string(data)+"\n", s.color)
	}
	if len(entries) == 0 {
		fmt.Fprintln(s.out, dimStyle.Render("Audit log is empty"))
		return nil
	}
	for _, e := range entries {
		fmt.Fprintln(s.out, e.ToLogLine())
	}
	return nil
}

// completeShell completes command names.
func completeShell(line string) []string {
	var out []string
	for n := range shellCommands {
		if strings.HasPrefix(n, strings.ToLower(line)) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// loginCredentials maps typed input to credentials: digits are a PIN and
// "name:secret" is a username login.
func loginCredentials(input string) auth.Credentials {
	input = strings.TrimSpace(input)
	if name, secret, ok := strings.Cut(input, ":"); ok && !isDigits(input) {
		return auth.Credentials{Username: name, Password: secret}
	}
	return auth.Credentials{PIN: input}
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
