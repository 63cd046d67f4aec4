// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/jeranaias/tillguard/internal/rbaccheck"
)

func newValidateCmd(a *app) *cobra.Command {
	var plain, strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the role and route tables for security defects",
		Long: "Validate inspects the role table and route rules and prints a report.\n" +
			"It exits 1 when a critical issue is found, or on any warning with --strict.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res := rbaccheck.New().Validate()
			out := cmd.OutOrStdout()

			report := rbaccheck.Report(res)
			if plain || !a.color || !isTerminal(out) {
				fmt.Fprint(out, report)
			} else {
				fmt.Fprint(out, renderMarkdown(report, terminalWidth(out)))
			}

			a.logger.Debug().
				Int("checks", res.Summary.TotalChecks).
				Int("critical", res.Summary.CriticalIssues).
				Int("warnings", res.Summary.Warnings).
				Msg("rbac validation finished")

			if !res.IsValid || (strict && res.Summary.Warnings > 0) {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "Print raw Markdown")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail on warnings too")
	return cmd
}

// renderMarkdown renders md for the terminal, falling back to the raw text.
func renderMarkdown(md string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	rendered, err := r.Render(md)
	if err != nil {
		return md
	}
	return rendered
}

// writeReport is used by the shell, which always prints plain text.
func writeReport(w io.Writer, res rbaccheck.Result) {
	fmt.Fprint(w, rbaccheck.Report(res))
}
