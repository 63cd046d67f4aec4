// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/spf13/cobra"

	"github.com/jeranaias/tillguard/internal/rbac"
)

// roleView is the JSON shape of one role.
type roleView struct {
	rbac.RoleDescription
	Permissions []rbac.Permission `json:"permissions"`
}

func roleViews(table rbac.RoleTable) []roleView {
	views := make([]roleView, 0, len(rbac.Roles()))
	for _, role := range rbac.Roles() {
		views = append(views, roleView{
			RoleDescription: rbac.DescribeRole(role),
			Permissions:     table.PermissionsFor(role).Sorted(),
		})
	}
	return views
}

func newRolesCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Show the role table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			views := roleViews(rbac.DefaultRoleTable())

			if asJSON {
				data, err := json.MarshalIndent(views, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode roles: %w", err)
				}
				return writeJSON(out, string(data)+"\n", a.color)
			}

			for i, v := range views {
				if i > 0 {
					fmt.Fprintln(out)
				}
				printTitle(out, fmt.Sprintf("%s (%s)", v.Name, titleCase(string(v.Role))))
				printField(out, "Description", v.Description)
				printField(out, "Permissions", fmt.Sprintf("%d", len(v.Permissions)))
				for _, p := range v.Permissions {
					marker := " "
					if p.IsDestructive() {
						marker = warningStyle.Render("!")
					}
					fmt.Fprintf(out, "    %s %s\n", marker, p)
				}
				if len(v.Capabilities) > 0 {
					fmt.Fprintf(out, "  %s\n", dimStyle.Render(strings.Join(v.Capabilities, "; ")))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

// writeJSON prints data, highlighted when colour is on.
func writeJSON(w io.Writer, data string, color bool) error {
	if color {
		if err := quick.Highlight(w, data, "json", "terminal256", "monokai"); err == nil {
			return nil
		}
	}
	_, err := io.WriteString(w, data)
	return err
}
