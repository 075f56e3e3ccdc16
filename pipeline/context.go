package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vectorhq/vector/model"
	"github.com/vectorhq/vector/sandbox"
)

// RepoContext summarizes what kind of codebase a sandbox contains. It is
// computed once per workflow and cached alongside the sandbox.
type RepoContext struct {
	Languages     []string `json:"languages"`
	Framework     string   `json:"framework,omitempty"`
	HasTests      bool     `json:"has_tests"`
	FrontendHeavy bool     `json:"frontend_heavy"`
	FileTree      string   `json:"file_tree"`
}

// Summary renders the context for inclusion in prompts.
func (rc *RepoContext) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Languages: %s\n", strings.Join(rc.Languages, ", "))
	if rc.Framework != "" {
		fmt.Fprintf(&b, "Framework: %s\n", rc.Framework)
	}
	fmt.Fprintf(&b, "Has tests: %v\n", rc.HasTests)
	if rc.FileTree != "" {
		fmt.Fprintf(&b, "\nTop-level files:\n%s", rc.FileTree)
	}
	return b.String()
}

// frontend frameworks whose repos we treat as frontend-heavy: generated
// test cases for them are rarely automatable, so test-case generation is
// skipped.
var frontendFrameworks = []string{"react", "next", "vue", "svelte", "@angular/core"}

// DetectRepoContext inspects the sandbox's checkout and classifies it.
func DetectRepoContext(ctx context.Context, sb sandbox.Sandbox) (*RepoContext, error) {
	names, err := sb.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing repo files: %w", err)
	}
	files := make(map[string]bool, len(names))
	for _, n := range names {
		files[n] = true
	}

	rc := &RepoContext{FileTree: strings.Join(names, "\n")}

	if files["go.mod"] {
		rc.Languages = append(rc.Languages, "go")
	}
	if files["Cargo.toml"] {
		rc.Languages = append(rc.Languages, "rust")
	}
	if files["pyproject.toml"] || files["requirements.txt"] || files["setup.py"] {
		rc.Languages = append(rc.Languages, "python")
	}

	if files["package.json"] {
		content, err := sb.ReadFile(ctx, "package.json")
		if err == nil {
			lang := "javascript"
			if files["tsconfig.json"] {
				lang = "typescript"
			}
			rc.Languages = append(rc.Languages, lang)
			rc.Framework = detectFramework([]byte(content))
			rc.HasTests = hasTestScript([]byte(content))
			rc.FrontendHeavy = rc.Framework != "" && !rc.HasTests
		}
	}
	if len(rc.Languages) == 0 {
		rc.Languages = []string{"unknown"}
	}
	if !rc.HasTests {
		rc.HasTests = files["go.mod"] || files["Cargo.toml"] ||
			files["pyproject.toml"] || files["tests"] || files["test"]
	}

	return rc, nil
}

func detectFramework(pkgJSON []byte) string {
	var pj struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(pkgJSON, &pj); err != nil {
		return ""
	}
	for _, fw := range frontendFrameworks {
		if _, ok := pj.Dependencies[fw]; ok {
			return fw
		}
		if _, ok := pj.DevDependencies[fw]; ok {
			return fw
		}
	}
	return ""
}

func hasTestScript(pkgJSON []byte) bool {
	var pj struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(pkgJSON, &pj); err != nil {
		return false
	}
	return pj.Scripts["test"] != ""
}

// BuildImplementationPrompt assembles the coding session's main prompt
// from the project, its approved plan, repo context and test cases.
func BuildImplementationPrompt(p *model.Project, plan *model.Plan, repoCtx *RepoContext, testCases string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task: %s\n\n", p.Title)
	if p.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", p.Description)
	}
	if p.IssueNumber > 0 {
		fmt.Fprintf(&b, "This addresses issue #%d.\n\n", p.IssueNumber)
	}
	if plan != nil && plan.Content != "" {
		fmt.Fprintf(&b, "## Implementation plan\n%s\n\n", plan.Content)
	}
	if repoCtx != nil {
		fmt.Fprintf(&b, "## Codebase context\n%s\n\n", repoCtx.Summary())
	}
	if testCases != "" {
		fmt.Fprintf(&b, "## Acceptance test cases\n%s\n\n", testCases)
	}
	b.WriteString(implementationConstraints)
	return b.String()
}
