package engine

import (
	"fmt"
	"strings"

	"github.com/vectorhq/vector/model"
)

// BuildPRBody renders the PR description, including a verification
// summary table from the final report.
func BuildPRBody(p *model.Project, report *model.VerificationReport) string {
	var b strings.Builder

	if p.Description != "" {
		b.WriteString(p.Description)
		b.WriteString("\n\n")
	}
	if p.IssueNumber > 0 {
		fmt.Fprintf(&b, "Fixes #%d\n\n", p.IssueNumber)
	}

	if report != nil {
		b.WriteString("## Verification\n\n")
		b.WriteString("| Check | Result |\n|---|---|\n")

		switch {
		case report.TestsVacuous:
			b.WriteString("| Tests | ⚠️ none detected |\n")
		case report.Tests != nil:
			fmt.Fprintf(&b, "| Tests | %s `%s` |\n", passMark(report.Tests.Passed), report.Tests.Command)
		}
		if report.Build != nil {
			fmt.Fprintf(&b, "| Build | %s `%s` |\n", passMark(report.Build.Passed), report.Build.Command)
		}
		if report.Lint != nil {
			fmt.Fprintf(&b, "| Lint | %s `%s` |\n", passMark(report.Lint.Passed), report.Lint.Command)
		}
		if report.ReviewScore >= 0 {
			fmt.Fprintf(&b, "| Review | %d/100 |\n", report.ReviewScore)
		}
	}

	return strings.TrimSpace(b.String())
}

func passMark(passed bool) string {
	if passed {
		return "✅"
	}
	return "❌"
}
