package verify

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/vectorhq/vector/model"
	"github.com/vectorhq/vector/sandbox"
	"github.com/vectorhq/vector/session"
)

// Iteration budgets by backend. The CLI backend runs its own agentic
// loop internally, so one outer verification pass is usually enough; the
// tool-use backend benefits from more outer rounds.
const (
	DefaultCLIIterations     = 1
	DefaultToolUseIterations = 3
)

const maxFailureExcerpt = 4000

// FixLoop alternates verification with corrective prompts until the gate
// passes or the iteration budget is exhausted.
type FixLoop struct {
	verifier *Verifier
	// Task is included in review scoring; empty disables review.
	Task string
	// OnIteration, when set, is called with each verification report.
	OnIteration func(iteration int, report *model.VerificationReport)
}

// NewFixLoop creates a fix loop around the verifier.
func NewFixLoop(v *Verifier) *FixLoop {
	return &FixLoop{verifier: v}
}

// Run verifies first; if the gate passes no fix prompt is ever sent.
// Otherwise it synthesizes a fix prompt from the failing output and asks
// the session to address it, up to maxIterations verification passes
// (maxIterations-1 fix prompts). An exhausted budget is reported as
// failure; the final report is returned either way.
func (f *FixLoop) Run(ctx context.Context, sb sandbox.Sandbox, sess session.Session, rc *model.RepoConfig, maxIterations int) (bool, *model.VerificationReport, error) {
	if maxIterations < 1 {
		maxIterations = 1
	}

	var report *model.VerificationReport
	for i := 1; i <= maxIterations; i++ {
		var err error
		report, err = f.verifier.DetectAndRun(ctx, sb, rc)
		if err != nil {
			return false, nil, fmt.Errorf("verification pass %d: %w", i, err)
		}
		if f.Task != "" {
			f.verifier.Review(ctx, sb, f.Task, report)
		}
		if f.OnIteration != nil {
			f.OnIteration(i, report)
		}

		if report.GatePassed() {
			return true, report, nil
		}
		if i == maxIterations {
			break
		}

		prompt := FixPrompt(report)
		log.Printf("verify: iteration %d failed for project %s, sending fix prompt", i, sb.ProjectID())
		if _, err := sess.RunPrompt(ctx, prompt); err != nil {
			return false, report, fmt.Errorf("fix prompt %d: %w", i, err)
		}
	}

	return false, report, nil
}

// FixPrompt builds a corrective prompt from the failing parts of a report.
func FixPrompt(report *model.VerificationReport) string {
	var b strings.Builder
	b.WriteString("The verification checks failed. Fix the issues below, then stop.\n")
	b.WriteString("Do not start any dev servers or long-running processes.\n\n")

	if report.Tests != nil && !report.Tests.Passed {
		fmt.Fprintf(&b, "## Failing tests (`%s`, exit %d)\n```\n%s\n```\n\n",
			report.Tests.Command, report.Tests.ExitCode,
			model.Truncate(report.Tests.Output, maxFailureExcerpt))
	}
	if report.Build != nil && !report.Build.Passed {
		fmt.Fprintf(&b, "## Build failure (`%s`, exit %d)\n```\n%s\n```\n\n",
			report.Build.Command, report.Build.ExitCode,
			model.Truncate(report.Build.Output, maxFailureExcerpt))
	}
	if report.ReviewScore >= 0 && report.ReviewScore < model.ReviewThreshold {
		fmt.Fprintf(&b, "## Review feedback (score %d/100)\n%s\n\n",
			report.ReviewScore, model.Truncate(report.ReviewFeedback, maxFailureExcerpt))
	}

	b.WriteString("Make the smallest change that fixes these failures.")
	return b.String()
}
