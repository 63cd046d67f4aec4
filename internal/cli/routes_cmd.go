// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/tillguard/internal/access"
	"github.com/jeranaias/tillguard/internal/rbac"
)

func newRoutesCmd(a *app) *cobra.Command {
	var roleName string

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List routes and what they require",
		Example: "  tillguard routes\n" +
			"  tillguard routes --role trainee",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			routes := access.DefaultRoutes()

			if roleName == "" {
				printTitle(out, "Routes")
				rows := make([][]string, len(routes))
				for i, r := range routes {
					rows[i] = []string{r.Path, describeRequirement(r), joinRoles(r.AllowedRoles), r.Description}
				}
				writeTable(out, []string{"PATH", "REQUIRES", "ROLES", "DESCRIPTION"}, rows)
				return nil
			}

			role, err := rbac.ParseRole(roleName)
			if err != nil {
				return err
			}
			ctx := access.Context{
				User:            rbac.NewUser("cli-"+string(role), string(role), role),
				IsAuthenticated: true,
			}

			printTitle(out, fmt.Sprintf("Routes for %s", titleCase(string(role))))
			rows := make([][]string, len(routes))
			allowed := 0
			for i, r := range routes {
				d := access.HasRouteAccess(r, ctx)
				if d.Allowed {
					allowed++
				}
				rows[i] = []string{r.Path, accessWord(d.Allowed), d.Reason}
			}
			writeTable(out, []string{"PATH", "ACCESS", "REASON"}, rows)
			fmt.Fprintf(out, "\n  %s\n", dimStyle.Render(fmt.Sprintf("%d of %d routes accessible", allowed, len(routes))))
			return nil
		},
	}
	cmd.Flags().StringVar(&roleName, "role", "", "Evaluate every route for this role")
	return cmd
}

func accessWord(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

// describeRequirement summarises a rule's permission gate.
func describeRequirement(r access.RouteRule) string {
	if len(r.RequiredPermissions) == 0 {
		return "-"
	}
	perms := make([]string, len(r.RequiredPermissions))
	for i, p := range r.RequiredPermissions {
		perms[i] = string(p)
	}
	if len(perms) == 1 {
		return perms[0]
	}
	if r.RequireAll {
		return "all of " + strings.Join(perms, ", ")
	}
	return "any of " + strings.Join(perms, ", ")
}

func joinRoles(roles []rbac.Role) string {
	if len(roles) == 0 {
		return "-"
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
