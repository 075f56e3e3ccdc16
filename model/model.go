// Package model defines the core domain types shared across all vector packages.
// It has zero dependencies on other vector packages.
package model

import "time"

// Status represents the lifecycle stage of a project's coding effort.
// Transitions move forward only: pending -> planning -> provisioning ->
// executing -> completed. Failed is reachable from any non-terminal state
// and is terminal, as is completed.
type Status string

const (
	StatusPending      Status = "pending"
	StatusPlanning     Status = "planning"
	StatusProvisioning Status = "provisioning"
	StatusExecuting    Status = "executing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// order maps each forward state to its rank in the pipeline.
var order = map[Status]int{
	StatusPending:      0,
	StatusPlanning:     1,
	StatusProvisioning: 2,
	StatusExecuting:    3,
	StatusCompleted:    4,
}

// CanTransition reports whether moving from s to next is a legal transition.
// Failed is always reachable from a non-terminal state.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	from, ok := order[s]
	to, ok2 := order[next]
	return ok && ok2 && to > from
}

// TicketType classifies the kind of change a project represents.
type TicketType string

const (
	TicketBug         TicketType = "bug"
	TicketFeature     TicketType = "feature"
	TicketEnhancement TicketType = "enhancement"
	TicketQuestion    TicketType = "question"
)

// LogLevel is the severity of an execution log entry.
type LogLevel string

const (
	LevelDebug   LogLevel = "debug"
	LevelInfo    LogLevel = "info"
	LevelWarning LogLevel = "warning"
	LevelError   LogLevel = "error"
)

// Project is one coding effort, from feedback to merged-ready PR.
type Project struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	TicketType   TicketType `json:"ticket_type"`
	Status       Status     `json:"status"`
	RepoConfigID string     `json:"repo_config_id"`
	PlanID       string     `json:"plan_id,omitempty"`
	IssueNumber  int        `json:"issue_number,omitempty"`
	IssueURL     string     `json:"issue_url,omitempty"`
	PRNumber     int        `json:"pr_number,omitempty"`
	PRURL        string     `json:"pr_url,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// RepoConfig describes the target repository for a project.
type RepoConfig struct {
	ID        string `json:"id" yaml:"id"`
	Owner     string `json:"owner" yaml:"owner"`
	Repo      string `json:"repo" yaml:"repo"`
	Branch    string `json:"branch" yaml:"branch"`
	Token     string `json:"-" yaml:"token"`
	// Override commands. Empty means auto-detect.
	TestCommand  string    `json:"test_command,omitempty" yaml:"test_command"`
	BuildCommand string    `json:"build_command,omitempty" yaml:"build_command"`
	LintCommand  string    `json:"lint_command,omitempty" yaml:"lint_command"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"-"`
}

// FullName returns "owner/repo".
func (rc *RepoConfig) FullName() string { return rc.Owner + "/" + rc.Repo }

// Plan is a generated implementation plan awaiting approval.
type Plan struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Version    int       `json:"version"`
	Approved   bool      `json:"approved"`
	ApprovedAt time.Time `json:"approved_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ExecutionLog is one step-level log entry for a project workflow.
// Execution logs are the only durable record of workflow progress.
type ExecutionLog struct {
	ID        int64     `json:"id"`
	ProjectID string    `json:"project_id"`
	StepName  string    `json:"step_name"`
	Message   string    `json:"message"`
	Level     LogLevel  `json:"level"`
	CreatedAt time.Time `json:"created_at"`
}

// Feedback is one piece of user feedback gathered from a channel.
type Feedback struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"` // channel identifier, e.g. telegram chat id
	Summary   string    `json:"summary"`
	Raw       string    `json:"raw,omitempty"`
	ProjectID string    `json:"project_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CheckOutcome is the result of running one verification command.
type CheckOutcome struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output"`
	Passed   bool          `json:"passed"`
	Duration time.Duration `json:"duration"`
}

// VerificationReport is the immutable result of one verification pass.
// A new report is produced on every fix-loop iteration; reports are never
// mutated after creation.
type VerificationReport struct {
	Tests *CheckOutcome `json:"tests,omitempty"` // nil: no test command detected
	Build *CheckOutcome `json:"build,omitempty"` // nil: no build step detected
	Lint  *CheckOutcome `json:"lint,omitempty"`  // best-effort, never gates

	// TestsVacuous is set when no test command could be determined and
	// testing was treated as passed. Called out so telemetry can flag it.
	TestsVacuous bool `json:"tests_vacuous,omitempty"`

	// ReviewScore is the optional automated review score (0-100).
	// Negative means review was not run.
	ReviewScore    int    `json:"review_score"`
	ReviewFeedback string `json:"review_feedback,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ReviewThreshold is the minimum review score that passes the gate
// when the review pass is enabled.
const ReviewThreshold = 80

// GatePassed reports whether this report satisfies the verification gate:
// tests pass (or are vacuous), build passes if present, and the review
// score meets the threshold if a review ran. Lint never gates.
func (r *VerificationReport) GatePassed() bool {
	if r.Tests != nil && !r.Tests.Passed {
		return false
	}
	if r.Build != nil && !r.Build.Passed {
		return false
	}
	if r.ReviewScore >= 0 && r.ReviewScore < ReviewThreshold {
		return false
	}
	return true
}

// WorkflowResult is the terminal outcome of one workflow invocation.
type WorkflowResult struct {
	Status        Status `json:"status"`
	PRURL         string `json:"pr_url,omitempty"`
	PRNumber      int    `json:"pr_number,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	// BranchPushed distinguishes the costly partial-failure mode where
	// changes were pushed but the PR was never created.
	BranchPushed bool `json:"branch_pushed,omitempty"`
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
