// Package github implements gitprovider.Provider against the GitHub API.
package github

import (
	"context"
	"fmt"
	"strings"

	gogh "github.com/google/go-github/v68/github"

	"github.com/vectorhq/vector/gitprovider"
)

// Client wraps the GitHub API.
type Client struct {
	gh *gogh.Client
}

// New creates a GitHub client authenticated with the given token.
func New(token string) *Client {
	return &Client{
		gh: gogh.NewClient(nil).WithAuthToken(token),
	}
}

// CreateIssue opens an issue and returns its URL and number.
func (c *Client) CreateIssue(ctx context.Context, opts gitprovider.IssueOptions) (string, int, error) {
	owner, repo, err := splitRepo(opts.Repo)
	if err != nil {
		return "", 0, err
	}

	req := &gogh.IssueRequest{
		Title: gogh.Ptr(opts.Title),
		Body:  gogh.Ptr(opts.Body),
	}
	if len(opts.Labels) > 0 {
		req.Labels = &opts.Labels
	}

	issue, _, err := c.gh.Issues.Create(ctx, owner, repo, req)
	if err != nil {
		return "", 0, fmt.Errorf("creating issue: %w", err)
	}
	return issue.GetHTMLURL(), issue.GetNumber(), nil
}

// CreatePR opens a pull request and returns the PR URL and number.
func (c *Client) CreatePR(ctx context.Context, opts gitprovider.PROptions) (string, int, error) {
	owner, repo, err := splitRepo(opts.Repo)
	if err != nil {
		return "", 0, err
	}

	base := opts.Base
	if base == "" {
		base = "main"
	}

	pr, _, err := c.gh.PullRequests.Create(ctx, owner, repo, &gogh.NewPullRequest{
		Title: gogh.Ptr(opts.Title),
		Body:  gogh.Ptr(opts.Body),
		Head:  gogh.Ptr(opts.Branch),
		Base:  gogh.Ptr(base),
	})
	if err != nil {
		return "", 0, &gitprovider.PRCreationError{Repo: opts.Repo, Branch: opts.Branch, Err: err}
	}
	return pr.GetHTMLURL(), pr.GetNumber(), nil
}

// GetDefaultBranch returns the default branch for a repository.
func (c *Client) GetDefaultBranch(ctx context.Context, repoFullName string) (string, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return "", err
	}

	r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("getting repository: %w", err)
	}
	return r.GetDefaultBranch(), nil
}

func splitRepo(fullName string) (owner, repo string, err error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format %q, expected \"owner/repo\"", fullName)
	}
	return parts[0], parts[1], nil
}
