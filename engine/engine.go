// Package engine orchestrates the coding workflow: it owns the project
// state machine and drives sandboxes, coding sessions, verification and
// PR creation. All collaborators are interfaces so the engine can be
// exercised hermetically in tests.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vectorhq/vector/eventbus"
	"github.com/vectorhq/vector/gitprovider"
	"github.com/vectorhq/vector/llm"
	"github.com/vectorhq/vector/model"
	"github.com/vectorhq/vector/pipeline"
	"github.com/vectorhq/vector/sandbox"
	"github.com/vectorhq/vector/session"
	"github.com/vectorhq/vector/store"
	"github.com/vectorhq/vector/verify"
)

// Step names used in execution logs.
const (
	StepCreate    = "create"
	StepPlan      = "plan"
	StepProvision = "provision"
	StepContext   = "context"
	StepTestCases = "test_cases"
	StepImplement = "implement"
	StepVerify    = "verify"
	StepCommit    = "commit"
	StepPush      = "push"
	StepPR        = "pull_request"
	StepCleanup   = "cleanup"
	StepComplete  = "complete"
)

// ErrWorkflowInFlight is returned when a workflow is already running for
// the project.
var ErrWorkflowInFlight = errors.New("workflow already in flight for project")

// SessionFactory builds a coding session bound to a sandbox.
type SessionFactory func(sb sandbox.Sandbox) session.Session

// Notifier receives workflow outcome notifications. Implementations must
// not block; delivery is fire-and-forget.
type Notifier interface {
	Notify(projectID, title, message string)
}

// Engine orchestrates coding workflows.
type Engine struct {
	store      store.Store
	bus        eventbus.Bus
	sandboxes  sandbox.Manager
	git        gitprovider.Provider
	llm        llm.Client
	verifier   *verify.Verifier
	newSession SessionFactory
	notifier   Notifier

	// maxIterations bounds fix-loop verification passes per workflow.
	maxIterations int

	mu       sync.Mutex
	inFlight map[string]bool

	contexts *ContextCache
}

// New creates an engine. notifier may be nil.
func New(
	st store.Store,
	bus eventbus.Bus,
	sandboxes sandbox.Manager,
	git gitprovider.Provider,
	llmClient llm.Client,
	verifier *verify.Verifier,
	newSession SessionFactory,
	notifier Notifier,
	maxIterations int,
) *Engine {
	if maxIterations < 1 {
		maxIterations = verify.DefaultCLIIterations
	}
	return &Engine{
		store:         st,
		bus:           bus,
		sandboxes:     sandboxes,
		git:           git,
		llm:           llmClient,
		verifier:      verifier,
		newSession:    newSession,
		notifier:      notifier,
		maxIterations: maxIterations,
		inFlight:      make(map[string]bool),
		contexts:      NewContextCache(),
	}
}

// Store returns the backing store.
func (e *Engine) Store() store.Store { return e.store }

// Bus returns the event bus.
func (e *Engine) Bus() eventbus.Bus { return e.bus }

// Contexts returns the repo context cache.
func (e *Engine) Contexts() *ContextCache { return e.contexts }

// --- Project creation ---

// CreateProject registers a new pending project.
func (e *Engine) CreateProject(title, description string, ticketType model.TicketType, repoConfigID string) (*model.Project, error) {
	if _, err := e.store.GetRepoConfig(repoConfigID); err != nil {
		return nil, fmt.Errorf("unknown repo config %q: %w", repoConfigID, err)
	}
	now := time.Now().UTC()
	p := &model.Project{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  description,
		TicketType:   ticketType,
		Status:       model.StatusPending,
		RepoConfigID: repoConfigID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateProject(p); err != nil {
		return nil, fmt.Errorf("creating project: %w", err)
	}
	e.logStep(p.ID, StepCreate, "project created: "+title, model.LevelInfo)
	return p, nil
}

// CreateProjectFromFeedback aggregates feedback summaries into a ticket
// and registers a project for it.
func (e *Engine) CreateProjectFromFeedback(ctx context.Context, summaries []string, repoConfigID string) (*model.Project, error) {
	if len(summaries) == 0 {
		return nil, errors.New("no feedback to aggregate")
	}
	ticket, err := pipeline.AggregateFeedback(ctx, e.llm, summaries)
	if err != nil {
		return nil, err
	}
	return e.CreateProject(ticket.Title, ticket.Description, model.TicketType(ticket.TicketType), repoConfigID)
}

// --- Planning ---

// StartPlanning moves a pending project into planning. The background
// poller picks it up and generates the plan.
func (e *Engine) StartPlanning(projectID string) (*model.Project, error) {
	p, err := e.store.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	if err := e.transition(p, model.StatusPlanning, "planning started"); err != nil {
		return nil, err
	}
	return p, nil
}

// GeneratePlan provisions (or reuses) the project's sandbox, detects the
// repo context, and produces a plan awaiting approval. The sandbox is
// kept alive so execution can reuse it after approval.
func (e *Engine) GeneratePlan(ctx context.Context, projectID string) (*model.Plan, error) {
	p, err := e.store.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	rc, err := e.store.GetRepoConfig(p.RepoConfigID)
	if err != nil {
		return nil, fmt.Errorf("loading repo config: %w", err)
	}

	sb, err := e.acquireSandbox(ctx, p, rc)
	if err != nil {
		e.failProject(p, StepProvision, err)
		return nil, err
	}
	// The sandbox is cached for execution only when planning succeeds;
	// on failure nothing would ever reap it.
	release := func() {
		e.sandboxes.Cleanup(sb)
		e.contexts.Evict(p.ID)
	}

	repoCtx, err := e.repoContext(ctx, p.ID, sb)
	if err != nil {
		release()
		e.failProject(p, StepContext, err)
		return nil, err
	}

	content, err := pipeline.GeneratePlan(ctx, e.llm, p, repoCtx)
	if err != nil {
		release()
		e.failProject(p, StepPlan, err)
		return nil, err
	}

	version := 1
	if prev, err := e.store.GetLatestPlan(p.ID); err == nil {
		version = prev.Version + 1
	}
	plan := &model.Plan{
		ID:        uuid.NewString(),
		ProjectID: p.ID,
		Title:     p.Title,
		Content:   content,
		Version:   version,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreatePlan(plan); err != nil {
		release()
		return nil, fmt.Errorf("storing plan: %w", err)
	}
	p.PlanID = plan.ID
	if err := e.store.UpdateProject(p); err != nil {
		release()
		return nil, fmt.Errorf("updating project: %w", err)
	}
	e.logStep(p.ID, StepPlan, fmt.Sprintf("plan v%d generated, awaiting approval", version), model.LevelInfo)
	return plan, nil
}

// ApprovePlan marks a plan approved and moves its project to executing.
// The background poller picks it up from there.
func (e *Engine) ApprovePlan(planID string) (*model.Plan, error) {
	plan, err := e.store.GetPlan(planID)
	if err != nil {
		return nil, err
	}
	p, err := e.store.GetProject(plan.ProjectID)
	if err != nil {
		return nil, err
	}
	plan.Approved = true
	plan.ApprovedAt = time.Now().UTC()
	if err := e.store.UpdatePlan(plan); err != nil {
		return nil, fmt.Errorf("approving plan: %w", err)
	}
	if err := e.transition(p, model.StatusExecuting, "plan approved, queued for execution"); err != nil {
		return nil, err
	}
	return plan, nil
}

// --- Workflow execution ---

// ExecuteWorkflow runs the full coding workflow for a project. Only one
// workflow may run per project at a time; concurrent calls for the same
// project return ErrWorkflowInFlight. The sandbox is cleaned up exactly
// once on every exit path.
func (e *Engine) ExecuteWorkflow(ctx context.Context, projectID string) (*model.WorkflowResult, error) {
	e.mu.Lock()
	if e.inFlight[projectID] {
		e.mu.Unlock()
		return nil, ErrWorkflowInFlight
	}
	e.inFlight[projectID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inFlight, projectID)
		e.mu.Unlock()
	}()

	p, err := e.store.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	rc, err := e.store.GetRepoConfig(p.RepoConfigID)
	if err != nil {
		return nil, fmt.Errorf("loading repo config: %w", err)
	}

	return e.runWorkflow(ctx, p, rc)
}

func (e *Engine) runWorkflow(ctx context.Context, p *model.Project, rc *model.RepoConfig) (*model.WorkflowResult, error) {
	if p.Status.CanTransition(model.StatusProvisioning) {
		if err := e.transition(p, model.StatusProvisioning, "provisioning sandbox"); err != nil {
			return nil, err
		}
	}

	sb, err := e.acquireSandbox(ctx, p, rc)
	if err != nil {
		e.failProject(p, StepProvision, err)
		return e.failureResult(p, err, false), nil
	}
	// Cleanup exactly once, on every exit path from here on.
	cleaned := false
	cleanup := func() {
		if cleaned {
			return
		}
		cleaned = true
		e.sandboxes.Cleanup(sb)
		e.contexts.Evict(p.ID)
		e.logStep(p.ID, StepCleanup, "sandbox cleaned up", model.LevelDebug)
	}
	defer cleanup()

	if p.Status.CanTransition(model.StatusExecuting) {
		if err := e.transition(p, model.StatusExecuting, "executing"); err != nil {
			return nil, err
		}
	}

	repoCtx, err := e.repoContext(ctx, p.ID, sb)
	if err != nil {
		e.failProject(p, StepContext, err)
		return e.failureResult(p, err, false), nil
	}

	// File the GitHub issue up front so the commit can reference it.
	if p.IssueNumber == 0 && e.git != nil {
		e.fileIssue(ctx, p, rc, repoCtx)
	}

	testCases, err := pipeline.GenerateTestCases(ctx, e.llm, p, repoCtx)
	if err != nil {
		e.logStep(p.ID, StepTestCases, "test case generation failed: "+err.Error(), model.LevelWarning)
		testCases = ""
	} else if testCases == "" {
		e.logStep(p.ID, StepTestCases, "skipped for frontend-heavy repo", model.LevelInfo)
	} else {
		e.logStep(p.ID, StepTestCases, "acceptance test cases generated", model.LevelInfo)
	}

	var plan *model.Plan
	if p.PlanID != "" {
		plan, _ = e.store.GetPlan(p.PlanID)
	}

	sess := e.newSession(sb)
	prompt := pipeline.BuildImplementationPrompt(p, plan, repoCtx, testCases)

	e.logStep(p.ID, StepImplement, "coding session started ("+sess.Backend()+")", model.LevelInfo)
	if _, err := sess.RunPrompt(ctx, prompt); err != nil {
		e.failProject(p, StepImplement, err)
		return e.failureResult(p, err, false), nil
	}
	e.logStep(p.ID, StepImplement, "coding session finished", model.LevelInfo)

	fixLoop := verify.NewFixLoop(e.verifier)
	fixLoop.Task = p.Title + "\n" + p.Description
	fixLoop.OnIteration = func(iter int, report *model.VerificationReport) {
		e.logStep(p.ID, StepVerify, verifySummary(iter, report), levelFor(report))
	}
	passed, report, err := fixLoop.Run(ctx, sb, sess, rc, e.maxIterations)
	if err != nil {
		e.failProject(p, StepVerify, err)
		return e.failureResult(p, err, false), nil
	}
	if !passed {
		gateErr := fmt.Errorf("verification gate failed after %d iteration(s)", e.maxIterations)
		e.failProject(p, StepVerify, gateErr)
		return e.failureResult(p, gateErr, false), nil
	}

	if err := e.commitAndPush(ctx, p, sb); err != nil {
		e.failProject(p, StepPush, err)
		return e.failureResult(p, err, false), nil
	}

	prURL, prNumber, err := e.createPR(ctx, p, rc, sb, report)
	if err != nil {
		// The branch is on the remote; surface that distinctly.
		e.failProject(p, StepPR, err)
		return e.failureResult(p, err, true), nil
	}
	p.PRURL = prURL
	p.PRNumber = prNumber

	if err := e.transition(p, model.StatusCompleted, "completed: "+prURL); err != nil {
		return nil, err
	}
	e.notify(p, fmt.Sprintf("Completed: %s\n%s", p.Title, prURL))

	return &model.WorkflowResult{
		Status:   model.StatusCompleted,
		PRURL:    prURL,
		PRNumber: prNumber,
	}, nil
}

// acquireSandbox reuses the project's live sandbox if one exists,
// otherwise provisions a fresh one.
func (e *Engine) acquireSandbox(ctx context.Context, p *model.Project, rc *model.RepoConfig) (sandbox.Sandbox, error) {
	if sb := e.sandboxes.ReuseIfExists(p.ID); sb != nil {
		e.logStep(p.ID, StepProvision, "reusing cached sandbox "+sb.ID(), model.LevelInfo)
		return sb, nil
	}
	sb, err := e.sandboxes.Create(ctx, p.ID, rc)
	if err != nil {
		return nil, err
	}
	e.logStep(p.ID, StepProvision, "sandbox ready on branch "+sb.Branch(), model.LevelInfo)
	return sb, nil
}

func (e *Engine) repoContext(ctx context.Context, projectID string, sb sandbox.Sandbox) (*pipeline.RepoContext, error) {
	if cached := e.contexts.Get(projectID); cached != nil {
		return cached, nil
	}
	repoCtx, err := pipeline.DetectRepoContext(ctx, sb)
	if err != nil {
		return nil, err
	}
	e.contexts.Put(projectID, repoCtx)
	e.logStep(projectID, StepContext, "repo context: "+strings.Join(repoCtx.Languages, ", "), model.LevelInfo)
	return repoCtx, nil
}

func (e *Engine) fileIssue(ctx context.Context, p *model.Project, rc *model.RepoConfig, repoCtx *pipeline.RepoContext) {
	body, err := pipeline.EnrichIssue(ctx, e.llm, p, repoCtx)
	if err != nil {
		log.Printf("engine: issue enrichment failed for project %s: %v", p.ID, err)
		body = p.Description
	}
	url, number, err := e.git.CreateIssue(ctx, gitprovider.IssueOptions{
		Repo:   rc.FullName(),
		Title:  p.Title,
		Body:   body,
		Labels: []string{string(p.TicketType)},
	})
	if err != nil {
		log.Printf("engine: issue creation failed for project %s: %v", p.ID, err)
		return
	}
	p.IssueNumber = number
	p.IssueURL = url
	if err := e.store.UpdateProject(p); err != nil {
		log.Printf("engine: saving issue link failed for project %s: %v", p.ID, err)
	}
	e.logStep(p.ID, StepCreate, fmt.Sprintf("issue #%d filed", number), model.LevelInfo)
}

func (e *Engine) commitAndPush(ctx context.Context, p *model.Project, sb sandbox.Sandbox) error {
	if _, err := sb.Exec(ctx, []string{"git", "add", "-A"}); err != nil {
		return fmt.Errorf("git add: %w", err)
	}
	if _, err := sb.Exec(ctx, []string{"git", "diff", "--cached", "--quiet"}); err == nil {
		return errors.New("no changes to commit")
	}

	message := commitMessage(p)
	if _, err := sb.Exec(ctx, []string{"git", "commit", "-m", message}); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}
	e.logStep(p.ID, StepCommit, "changes committed", model.LevelInfo)

	if _, err := sb.Exec(ctx, []string{"git", "push", "-u", "origin", sb.Branch()}); err != nil {
		return fmt.Errorf("git push: %w", err)
	}
	e.logStep(p.ID, StepPush, "branch "+sb.Branch()+" pushed", model.LevelInfo)
	return nil
}

func (e *Engine) createPR(ctx context.Context, p *model.Project, rc *model.RepoConfig, sb sandbox.Sandbox, report *model.VerificationReport) (string, int, error) {
	base := rc.Branch
	if base == "" {
		if db, err := e.git.GetDefaultBranch(ctx, rc.FullName()); err == nil {
			base = db
		}
	}
	url, number, err := e.git.CreatePR(ctx, gitprovider.PROptions{
		Repo:   rc.FullName(),
		Branch: sb.Branch(),
		Base:   base,
		Title:  "Fix: " + p.Title,
		Body:   BuildPRBody(p, report),
	})
	if err != nil {
		var prErr *gitprovider.PRCreationError
		if !errors.As(err, &prErr) {
			err = &gitprovider.PRCreationError{Repo: rc.FullName(), Branch: sb.Branch(), Err: err}
		}
		return "", 0, err
	}
	e.logStep(p.ID, StepPR, fmt.Sprintf("PR #%d opened: %s", number, url), model.LevelInfo)
	return url, number, nil
}

func commitMessage(p *model.Project) string {
	msg := "Fix: " + model.Truncate(p.Title, 69)
	if p.IssueNumber > 0 {
		msg += fmt.Sprintf("\n\nFixes #%d", p.IssueNumber)
	}
	return msg
}

// --- Status, logging, failure ---

// transition validates and persists a status change, emitting a step log.
func (e *Engine) transition(p *model.Project, next model.Status, msg string) error {
	if !p.Status.CanTransition(next) {
		return fmt.Errorf("invalid transition %s -> %s for project %s", p.Status, next, p.ID)
	}
	p.Status = next
	if err := e.store.UpdateProject(p); err != nil {
		return fmt.Errorf("persisting status %s: %w", next, err)
	}
	e.logStep(p.ID, "status:"+string(next), msg, model.LevelInfo)
	return nil
}

// failProject moves a project to failed from any non-terminal state.
func (e *Engine) failProject(p *model.Project, step string, cause error) {
	e.logStep(p.ID, step, cause.Error(), model.LevelError)
	if p.Status.Terminal() {
		return
	}
	p.Status = model.StatusFailed
	p.Error = cause.Error()
	if err := e.store.UpdateProject(p); err != nil {
		log.Printf("engine: persisting failure for project %s: %v", p.ID, err)
	}
	e.logStep(p.ID, "status:"+string(model.StatusFailed), cause.Error(), model.LevelError)
	e.notify(p, fmt.Sprintf("Failed at %s: %s\n%s", step, p.Title, cause.Error()))
}

func (e *Engine) failureResult(p *model.Project, cause error, branchPushed bool) *model.WorkflowResult {
	return &model.WorkflowResult{
		Status:        model.StatusFailed,
		FailureReason: cause.Error(),
		BranchPushed:  branchPushed,
	}
}

// logStep records a step log entry. Fire-and-forget: storage errors are
// logged, never propagated into the workflow.
func (e *Engine) logStep(projectID, step, message string, level model.LogLevel) {
	entry := &model.ExecutionLog{
		ProjectID: projectID,
		StepName:  step,
		Message:   message,
		Level:     level,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.AddExecutionLog(entry); err != nil {
		log.Printf("engine: step log write failed for project %s: %v", projectID, err)
	}
	e.bus.Publish(projectID, entry)
}

func (e *Engine) notify(p *model.Project, message string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(p.ID, p.Title, message)
}

func verifySummary(iter int, report *model.VerificationReport) string {
	parts := []string{fmt.Sprintf("iteration %d:", iter)}
	switch {
	case report.TestsVacuous:
		parts = append(parts, "tests: none detected (vacuous pass)")
	case report.Tests != nil && report.Tests.Passed:
		parts = append(parts, "tests: passed")
	case report.Tests != nil:
		parts = append(parts, fmt.Sprintf("tests: failed (exit %d)", report.Tests.ExitCode))
	}
	if report.Build != nil {
		if report.Build.Passed {
			parts = append(parts, "build: passed")
		} else {
			parts = append(parts, fmt.Sprintf("build: failed (exit %d)", report.Build.ExitCode))
		}
	}
	if report.Lint != nil && !report.Lint.Passed {
		parts = append(parts, "lint: issues (non-blocking)")
	}
	if report.ReviewScore >= 0 {
		parts = append(parts, fmt.Sprintf("review: %d/100", report.ReviewScore))
	}
	return strings.Join(parts, " ")
}

func levelFor(report *model.VerificationReport) model.LogLevel {
	if report.GatePassed() {
		return model.LevelInfo
	}
	return model.LevelWarning
}
