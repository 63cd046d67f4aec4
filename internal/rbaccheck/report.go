// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rbaccheck

import (
	"fmt"
	"strings"
)

// Report renders res as Markdown.
func Report(res Result) string {
	var sb strings.Builder
	sb.Grow(1024)

	sb.WriteString("# RBAC Validation Report\n\n")
	if res.IsValid {
		sb.WriteString("**Status:** PASSED\n\n")
	} else {
		sb.WriteString("**Status:** FAILED\n\n")
	}

	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- Total checks: %d\n", res.Summary.TotalChecks)
	fmt.Fprintf(&sb, "- Critical issues: %d\n", res.Summary.CriticalIssues)
	fmt.Fprintf(&sb, "- Warnings: %d\n", res.Summary.Warnings)
	fmt.Fprintf(&sb, "- Roles validated: %d\n", res.Summary.RolesValidated)
	fmt.Fprintf(&sb, "- Routes validated: %d\n", res.Summary.RoutesValidated)
	fmt.Fprintf(&sb, "- Components validated: %d\n\n", res.Summary.ComponentsValidated)

	if len(res.Issues) == 0 {
		sb.WriteString("No issues found.\n")
		return sb.String()
	}

	writeSection(&sb, "Critical Issues", res.filter(SeverityCritical))
	writeSection(&sb, "Warnings", res.filter(SeverityWarning))
	writeSection(&sb, "Info", res.filter(SeverityInfo))
	return sb.String()
}

func writeSection(sb *strings.Builder, title string, issues []Issue) {
	if len(issues) == 0 {
		return
	}
	fmt.Fprintf(sb, "## %s\n\n", title)
	for i, issue := range issues {
		fmt.Fprintf(sb, "%d. **%s**: %s\n", i+1, issue.Component, issue.Description)
		fmt.Fprintf(sb, "   - Recommendation: %s\n", issue.Recommendation)
	}
	sb.WriteByte('\n')
}
