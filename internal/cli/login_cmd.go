// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jeranaias/tillguard/internal/auth"
	"github.com/jeranaias/tillguard/internal/authz"
)

func newLoginCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in interactively with a PIN",
		Long: "Login opens a PIN pad. The session is kept in the configured store, so\n" +
			"with a persistent backend a later run picks it up again.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStack(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			if s := st.az.Session(); s.IsAuthenticated {
				fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("Already signed in as %s (%s)", s.User.DisplayName, s.User.Role)))
				return nil
			}

			m := newLoginModel(cmd.Context(), st.az, a.cfg.Auth.PINLength)
			final, err := tea.NewProgram(m, tea.WithInput(cmd.InOrStdin()), tea.WithOutput(out)).Run()
			if err != nil {
				return fmt.Errorf("login prompt failed: %w", err)
			}
			if lm, ok := final.(loginModel); ok && !lm.signedIn {
				return &exitError{code: 1}
			}
			return nil
		},
	}
}

// =============================================================================
// LOGIN MODEL
// =============================================================================

// loginResultMsg carries the outcome of one Login call.
type loginResultMsg struct{ err error }

type loginModel struct {
	ctx     context.Context
	az      *authz.Authz
	input   textinput.Model
	spinner spinner.Model

	busy     bool
	signedIn bool
	locked   bool
	message  string
}

func newLoginModel(ctx context.Context, az *authz.Authz, pinLength int) loginModel {
	ti := textinput.New()
	ti.Placeholder = strings.Repeat("0", pinLength)
	ti.EchoMode = textinput.EchoPassword
	ti.EchoCharacter = '*'
	ti.CharLimit = pinLength
	ti.Validate = func(s string) error {
		for _, r := range s {
			if !unicode.IsDigit(r) {
				return errors.New("digits only")
			}
		}
		return nil
	}
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = promptStyle

	return loginModel{ctx: ctx, az: az, input: ti, spinner: sp}
}

func (m loginModel) Init() tea.Cmd { return textinput.Blink }

// submit runs Login off the UI loop.
func (m loginModel) submit(pin string) tea.Cmd {
	return func() tea.Msg {
		return loginResultMsg{err: m.az.Login(m.ctx, auth.Credentials{PIN: pin})}
	}
}

func (m loginModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			pin := m.input.Value()
			m.input.Reset()
			m.busy = true
			m.message = ""
			return m, tea.Batch(m.spinner.Tick, m.submit(pin))
		}

	case loginResultMsg:
		m.busy = false
		var authErr *auth.AuthenticationError
		switch {
		case msg.err == nil:
			m.signedIn = true
			return m, tea.Quit
		case errors.Is(msg.err, auth.ErrLocked):
			m.locked = true
			m.message = msg.err.Error()
			return m, tea.Quit
		case errors.As(msg.err, &authErr):
			m.message = authErr.Message
			if authErr.Locked {
				m.locked = true
				return m, tea.Quit
			}
			return m, nil
		default:
			m.message = msg.err.Error()
			return m, nil
		}

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.busy {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m loginModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("tillguard sign in"))
	b.WriteString("\n\n")

	if m.signedIn {
		user := m.az.CurrentUser()
		b.WriteString(successStyle.Render(fmt.Sprintf("Signed in as %s (%s)", user.DisplayName, user.Role)))
		b.WriteString("\n\n")
		b.WriteString(sectionStyle.Render("Accessible routes"))
		b.WriteString("\n")
		for _, r := range m.az.AccessibleRoutes() {
			fmt.Fprintf(&b, "  %s  %s\n", padRight(r.Path, 20), dimStyle.Render(r.Description))
		}
		return b.String()
	}

	if m.busy {
		b.WriteString(m.spinner.View() + " Checking PIN...\n")
	} else if !m.locked {
		b.WriteString("PIN: " + m.input.View() + "\n")
	}
	if m.message != "" {
		style := errorStyle
		if !m.locked {
			style = warningStyle
		}
		b.WriteString("\n" + style.Render(m.message) + "\n")
	}
	if !m.locked {
		b.WriteString("\n" + dimStyle.Render("enter to submit, esc to cancel") + "\n")
	}
	return b.String()
}
