// Package gitprovider abstracts the hosting provider operations the
// workflow needs: issues, pull requests, and default branch lookup.
package gitprovider

import (
	"context"
	"fmt"
)

// IssueOptions configures a new issue.
type IssueOptions struct {
	Repo   string // "owner/repo"
	Title  string
	Body   string
	Labels []string
}

// PROptions configures a new pull request.
type PROptions struct {
	Repo   string // "owner/repo"
	Branch string // source branch
	Base   string // target branch (default: "main")
	Title  string
	Body   string
}

// Provider is the hosting provider interface.
type Provider interface {
	// CreateIssue opens an issue and returns its URL and number.
	CreateIssue(ctx context.Context, opts IssueOptions) (string, int, error)
	// CreatePR opens a pull request and returns the PR URL and number.
	CreatePR(ctx context.Context, opts PROptions) (string, int, error)
	// GetDefaultBranch returns the default branch for a repository.
	GetDefaultBranch(ctx context.Context, repoFullName string) (string, error)
}

// PRCreationError reports a PR that could not be created after the
// branch was already pushed. Callers surface this distinctly: the work
// exists on the remote even though no PR links to it.
type PRCreationError struct {
	Repo   string
	Branch string
	Err    error
}

func (e *PRCreationError) Error() string {
	return fmt.Sprintf("branch %s pushed to %s but PR creation failed: %v", e.Branch, e.Repo, e.Err)
}

func (e *PRCreationError) Unwrap() error { return e.Err }
