// Package sandbox provides isolated, disposable workspaces for running
// coding sessions against a cloned repository.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vectorhq/vector/model"
)

// DefaultTTL is how long a sandbox may live before it is reaped.
const DefaultTTL = 30 * time.Minute

// LineScanner reads command output line by line. Close releases the
// underlying process or stream.
type LineScanner interface {
	Scan() bool
	Text() string
	Err() error
	Close() error
}

// Sandbox is a provisioned workspace: a shallow clone of the target repo
// on a feature branch, with git identity and push credentials configured.
type Sandbox interface {
	// ID identifies the underlying workspace (container ID or local path).
	ID() string
	ProjectID() string
	Branch() string
	// RepoDir is the absolute path of the cloned repository inside the
	// sandbox. All relative paths given to Exec and the file helpers are
	// resolved against it.
	RepoDir() string

	// Exec runs a command (argument vector, never a shell string) in the
	// repo directory and returns combined output. A non-zero exit returns
	// a *CommandError wrapping the exit code and captured stderr.
	Exec(ctx context.Context, argv []string) (string, error)
	// ExecStream runs a command and returns a line scanner over its
	// merged stdout/stderr.
	ExecStream(ctx context.Context, argv []string) (LineScanner, error)

	// ReadFile and WriteFile operate on paths relative to RepoDir.
	// WriteFile creates parent directories as needed.
	ReadFile(ctx context.Context, relPath string) (string, error)
	WriteFile(ctx context.Context, relPath, content string) error

	// ListFiles returns top-level file and directory names in RepoDir.
	ListFiles(ctx context.Context) ([]string, error)
}

// Manager provisions and tears down sandboxes. Implementations keep a
// registry of live sandboxes keyed by project ID so that a workflow can
// reuse the sandbox its planning phase created.
type Manager interface {
	// Create provisions a fresh sandbox for the project. On failure all
	// partial state is torn down before a *ProvisionError is returned.
	Create(ctx context.Context, projectID string, rc *model.RepoConfig) (Sandbox, error)
	// ReuseIfExists returns the live sandbox for the project, or nil.
	// Expired sandboxes are reaped rather than returned.
	ReuseIfExists(projectID string) Sandbox
	// Cleanup tears the sandbox down. It is best-effort and never
	// returns an error; failures are logged.
	Cleanup(sb Sandbox)
}

// CommandError reports a command that exited non-zero (or was killed by a
// timeout). Callers detect it with errors.As.
type CommandError struct {
	Argv     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q exited with code %d: %s",
		strings.Join(e.Argv, " "), e.ExitCode, model.Truncate(e.Stderr, 500))
}

// ProvisionError reports a sandbox that could not be provisioned. Partial
// state has already been torn down when this is returned.
type ProvisionError struct {
	ProjectID string
	Stage     string
	Err       error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning sandbox for project %s failed at %s: %v",
		e.ProjectID, e.Stage, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// BranchName returns the feature branch name for a project, using the
// first 8 characters of the project ID.
func BranchName(projectID string) string {
	short := projectID
	if len(short) > 8 {
		short = short[:8]
	}
	return "fix/issue-" + short
}

// NewWorkspaceID returns a unique identifier for a local workspace dir.
func NewWorkspaceID() string {
	return uuid.NewString()[:8]
}

// CloneURL builds an authenticated HTTPS clone URL for the repo.
func CloneURL(rc *model.RepoConfig) string {
	if rc.Token != "" {
		return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", rc.Token, rc.FullName())
	}
	return fmt.Sprintf("https://github.com/%s.git", rc.FullName())
}

// GitIdentity is the commit author configured in every sandbox.
var GitIdentity = struct {
	Name  string
	Email string
}{
	Name:  "vector-bot",
	Email: "bot@vectorhq.dev",
}
