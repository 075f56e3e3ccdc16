package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vectorhq/vector/llm"
	"github.com/vectorhq/vector/model"
)

// GeneratePlan produces an implementation plan for a project.
func GeneratePlan(ctx context.Context, client llm.Client, p *model.Project, repoCtx *RepoContext) (string, error) {
	user := fmt.Sprintf("## Task: %s\n\n%s\n\n## Codebase context\n%s",
		p.Title, p.Description, repoCtx.Summary())
	plan, err := client.Complete(ctx, DefaultPlannerPrompt, user)
	if err != nil {
		return "", fmt.Errorf("plan generation: %w", err)
	}
	return strings.TrimSpace(plan), nil
}

// GenerateTestCases produces acceptance test cases for a task. Returns
// an empty string for frontend-heavy repos, where generated cases are
// rarely automatable.
func GenerateTestCases(ctx context.Context, client llm.Client, p *model.Project, repoCtx *RepoContext) (string, error) {
	if repoCtx.FrontendHeavy {
		return "", nil
	}
	user := fmt.Sprintf("## Task: %s\n\n%s\n\n## Codebase context\n%s",
		p.Title, p.Description, repoCtx.Summary())
	cases, err := client.Complete(ctx, DefaultTestCasePrompt, user)
	if err != nil {
		return "", fmt.Errorf("test case generation: %w", err)
	}
	return strings.TrimSpace(cases), nil
}

// EnrichIssue expands a project's description with codebase context so
// the filed GitHub issue is directly actionable.
func EnrichIssue(ctx context.Context, client llm.Client, p *model.Project, repoCtx *RepoContext) (string, error) {
	user := fmt.Sprintf("## Title: %s\n\n## Description\n%s\n\n## Codebase context\n%s",
		p.Title, p.Description, repoCtx.Summary())
	body, err := client.Complete(ctx, DefaultEnrichmentPrompt, user)
	if err != nil {
		return "", fmt.Errorf("issue enrichment: %w", err)
	}
	return strings.TrimSpace(body), nil
}

// Ticket is the structured result of aggregating feedback.
type Ticket struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	TicketType  string `json:"ticket_type"`
}

// AggregateFeedback turns raw feedback summaries into a project ticket.
func AggregateFeedback(ctx context.Context, client llm.Client, summaries []string) (*Ticket, error) {
	user := "## Feedback\n- " + strings.Join(summaries, "\n- ")
	response, err := client.Complete(ctx, DefaultAggregationPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("feedback aggregation: %w", err)
	}

	response = strings.TrimSpace(response)
	// Tolerate fenced output.
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")

	var t Ticket
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &t); err != nil {
		return nil, fmt.Errorf("parsing aggregation response: %w", err)
	}
	if t.Title == "" {
		return nil, fmt.Errorf("aggregation produced empty title")
	}
	switch model.TicketType(t.TicketType) {
	case model.TicketBug, model.TicketFeature, model.TicketEnhancement, model.TicketQuestion:
	default:
		t.TicketType = string(model.TicketBug)
	}
	return &t, nil
}
