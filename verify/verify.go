// Package verify detects and runs a repository's test, build and lint
// commands inside a sandbox, and drives the verify-fix loop.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/vectorhq/vector/llm"
	"github.com/vectorhq/vector/model"
	"github.com/vectorhq/vector/sandbox"
)

// Command timeouts by category.
const (
	testTimeout  = 10 * time.Minute
	buildTimeout = 10 * time.Minute
	lintTimeout  = 5 * time.Minute
)

// Commands holds the detected verification commands. A nil slice means
// the category does not apply to this repository.
type Commands struct {
	Test  []string
	Build []string
	Lint  []string
}

// packageJSON is the subset of package.json we care about.
type packageJSON struct {
	Scripts map[string]string `json:"scripts"`
}

// DetectCommands resolves verification commands for a repository.
// Per-category precedence: repo config override, then framework markers
// in the file listing. pkgJSON may be nil when package.json is absent.
func DetectCommands(files map[string]bool, pkgJSON []byte, rc *model.RepoConfig) Commands {
	var cmds Commands

	var scripts map[string]string
	if pkgJSON != nil {
		var pj packageJSON
		if err := json.Unmarshal(pkgJSON, &pj); err == nil {
			scripts = pj.Scripts
		}
	}

	// Test command.
	switch {
	case rc != nil && rc.TestCommand != "":
		cmds.Test = strings.Fields(rc.TestCommand)
	case files["package.json"] && scripts["test"] != "":
		cmds.Test = []string{"npm", "test", "--silent"}
	case files["pyproject.toml"] || files["requirements.txt"] || files["setup.py"]:
		cmds.Test = []string{"python", "-m", "pytest", "-x", "-q"}
	case files["go.mod"]:
		cmds.Test = []string{"go", "test", "./..."}
	case files["Cargo.toml"]:
		cmds.Test = []string{"cargo", "test"}
	}

	// Build command.
	switch {
	case rc != nil && rc.BuildCommand != "":
		cmds.Build = strings.Fields(rc.BuildCommand)
	case files["package.json"] && scripts["build"] != "":
		cmds.Build = []string{"npm", "run", "build"}
	case files["go.mod"]:
		cmds.Build = []string{"go", "build", "./..."}
	case files["Cargo.toml"]:
		cmds.Build = []string{"cargo", "build"}
	}

	// Lint command (best-effort, never gates).
	switch {
	case rc != nil && rc.LintCommand != "":
		cmds.Lint = strings.Fields(rc.LintCommand)
	case files[".eslintrc.js"] || files[".eslintrc.json"] || files["eslint.config.js"] || files["eslint.config.mjs"]:
		cmds.Lint = []string{"npx", "eslint", "."}
	case files["go.mod"]:
		cmds.Lint = []string{"go", "vet", "./..."}
	}

	return cmds
}

const reviewSystemPrompt = `You are a strict code reviewer scoring a change.

You will receive the task description and the full diff of changes made.
Evaluate correctness, completeness, and whether the change addresses the task
without unrelated modifications.

Respond with a line "SCORE: <0-100>" followed by brief, specific feedback.`

// Verifier runs verification commands inside a sandbox. The reviewer
// client is optional; when nil, no review score is produced.
type Verifier struct {
	reviewer llm.Client
}

// New creates a verifier. Pass nil to disable the review pass.
func New(reviewer llm.Client) *Verifier {
	return &Verifier{reviewer: reviewer}
}

// DetectAndRun resolves the repo's verification commands and runs them,
// producing an immutable report. A repository with no detectable test
// command is treated as vacuously passing, flagged in the report.
func (v *Verifier) DetectAndRun(ctx context.Context, sb sandbox.Sandbox, rc *model.RepoConfig) (*model.VerificationReport, error) {
	names, err := sb.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing repo files: %w", err)
	}
	files := make(map[string]bool, len(names))
	for _, n := range names {
		files[n] = true
	}

	var pkgJSON []byte
	if files["package.json"] {
		if content, err := sb.ReadFile(ctx, "package.json"); err == nil {
			pkgJSON = []byte(content)
		}
	}

	cmds := DetectCommands(files, pkgJSON, rc)

	report := &model.VerificationReport{
		ReviewScore: -1,
		CreatedAt:   time.Now().UTC(),
	}

	if cmds.Test != nil {
		report.Tests = runCheck(ctx, sb, cmds.Test, testTimeout)
	} else {
		report.TestsVacuous = true
		log.Printf("verify: no test command detected for project %s, treating tests as passed", sb.ProjectID())
	}
	if cmds.Build != nil {
		report.Build = runCheck(ctx, sb, cmds.Build, buildTimeout)
	}
	if cmds.Lint != nil {
		report.Lint = runCheck(ctx, sb, cmds.Lint, lintTimeout)
	}

	return report, nil
}

// Review scores the sandbox's current diff against the task. The score
// is written into the report; a reviewer failure leaves the report
// unscored rather than failing verification.
func (v *Verifier) Review(ctx context.Context, sb sandbox.Sandbox, task string, report *model.VerificationReport) {
	if v.reviewer == nil {
		return
	}
	diff, err := sb.Exec(ctx, []string{"git", "diff", "HEAD"})
	if err != nil {
		log.Printf("verify: diff for review failed: %v", err)
		return
	}
	if strings.TrimSpace(diff) == "" {
		return
	}

	user := fmt.Sprintf("## Task\n%s\n\n## Diff\n```diff\n%s\n```",
		task, model.Truncate(diff, 30000))
	response, err := v.reviewer.Complete(ctx, reviewSystemPrompt, user)
	if err != nil {
		log.Printf("verify: review completion failed: %v", err)
		return
	}

	score, feedback, ok := parseReview(response)
	if !ok {
		log.Printf("verify: unparseable review response, skipping score")
		return
	}
	report.ReviewScore = score
	report.ReviewFeedback = feedback
}

func parseReview(response string) (score int, feedback string, ok bool) {
	lines := strings.SplitN(strings.TrimSpace(response), "\n", 2)
	first := strings.TrimSpace(lines[0])
	if !strings.HasPrefix(strings.ToUpper(first), "SCORE:") {
		return 0, "", false
	}
	n, err := strconv.Atoi(strings.TrimSpace(first[len("SCORE:"):]))
	if err != nil || n < 0 || n > 100 {
		return 0, "", false
	}
	if len(lines) > 1 {
		feedback = strings.TrimSpace(lines[1])
	}
	return n, feedback, true
}

func runCheck(ctx context.Context, sb sandbox.Sandbox, argv []string, timeout time.Duration) *model.CheckOutcome {
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	output, err := sb.Exec(cmdCtx, argv)
	outcome := &model.CheckOutcome{
		Command:  strings.Join(argv, " "),
		Output:   output,
		Passed:   err == nil,
		Duration: time.Since(start),
	}
	if err != nil {
		var cmdErr *sandbox.CommandError
		if errors.As(err, &cmdErr) {
			outcome.ExitCode = cmdErr.ExitCode
			if cmdErr.Stderr != "" {
				outcome.Output += "\n" + cmdErr.Stderr
			}
		} else {
			outcome.ExitCode = -1
			outcome.Output += "\n" + err.Error()
		}
	}
	return outcome
}
