package verify

import (
	"context"
	"strings"
	"testing"

	"github.com/vectorhq/vector/model"
	"github.com/vectorhq/vector/sandbox"
)

// stubSession records fix prompts and can repair the sandbox when asked.
type stubSession struct {
	prompts []string
	onRun   func()
}

func (s *stubSession) RunPrompt(_ context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.onRun != nil {
		s.onRun()
	}
	return "addressed", nil
}

func (s *stubSession) Backend() string { return "stub" }

func TestFixLoopPassesFirstTryNoFixPrompts(t *testing.T) {
	sb := newStubSandbox("go.mod")
	sess := &stubSession{}
	loop := NewFixLoop(New(nil))

	passed, report, err := loop.Run(context.Background(), sb, sess, nil, 3)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !passed {
		t.Fatal("expected pass")
	}
	if report == nil {
		t.Fatal("expected a report")
	}
	if len(sess.prompts) != 0 {
		t.Fatalf("no fix prompts expected on first-try pass, got %d", len(sess.prompts))
	}
}

func TestFixLoopExhaustionIsFailure(t *testing.T) {
	sb := newStubSandbox("go.mod")
	sb.failures["go test ./..."] = &sandbox.CommandError{
		Argv: []string{"go", "test", "./..."}, ExitCode: 1, Stderr: "boom",
	}
	sess := &stubSession{}
	loop := NewFixLoop(New(nil))

	passed, report, err := loop.Run(context.Background(), sb, sess, nil, 3)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if passed {
		t.Fatal("expected failure after exhausting the budget")
	}
	if report == nil || report.GatePassed() {
		t.Fatal("expected a failing final report")
	}
	// 3 verification passes, 2 fix prompts.
	if len(sess.prompts) != 2 {
		t.Fatalf("expected 2 fix prompts, got %d", len(sess.prompts))
	}
}

func TestFixLoopRecoversAfterFix(t *testing.T) {
	sb := newStubSandbox("go.mod")
	sb.failures["go test ./..."] = &sandbox.CommandError{
		Argv: []string{"go", "test", "./..."}, ExitCode: 1,
	}
	sess := &stubSession{}
	// The fix prompt "repairs" the repo: the next verification passes.
	sess.onRun = func() { delete(sb.failures, "go test ./...") }

	loop := NewFixLoop(New(nil))
	var iterations []bool
	loop.OnIteration = func(_ int, report *model.VerificationReport) {
		iterations = append(iterations, report.GatePassed())
	}

	passed, _, err := loop.Run(context.Background(), sb, sess, nil, 3)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !passed {
		t.Fatal("expected pass after one fix round")
	}
	if len(sess.prompts) != 1 {
		t.Fatalf("expected 1 fix prompt, got %d", len(sess.prompts))
	}
	if len(iterations) != 2 || iterations[0] || !iterations[1] {
		t.Fatalf("expected fail-then-pass iterations, got %v", iterations)
	}
}

func TestFixLoopSingleIterationNeverPrompts(t *testing.T) {
	sb := newStubSandbox("go.mod")
	sb.failures["go test ./..."] = &sandbox.CommandError{
		Argv: []string{"go", "test", "./..."}, ExitCode: 1,
	}
	sess := &stubSession{}
	loop := NewFixLoop(New(nil))

	passed, _, err := loop.Run(context.Background(), sb, sess, nil, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if passed {
		t.Fatal("expected failure")
	}
	if len(sess.prompts) != 0 {
		t.Fatalf("a budget of 1 allows no fix prompts, got %d", len(sess.prompts))
	}
}

func TestFixPromptContainsFailingOutput(t *testing.T) {
	report := &model.VerificationReport{
		Tests: &model.CheckOutcome{
			Command:  "npm test --silent",
			ExitCode: 1,
			Output:   "Expected 200 but got 500",
			Passed:   false,
		},
		Build:       &model.CheckOutcome{Command: "npm run build", Passed: true},
		ReviewScore: -1,
	}

	prompt := FixPrompt(report)
	if !strings.Contains(prompt, "npm test --silent") {
		t.Fatalf("expected failing command in prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "Expected 200 but got 500") {
		t.Fatalf("expected failing output in prompt, got %q", prompt)
	}
	if strings.Contains(prompt, "npm run build") {
		t.Fatal("passing checks must not appear in the fix prompt")
	}
}

func TestFixPromptTruncatesLongOutput(t *testing.T) {
	report := &model.VerificationReport{
		Tests: &model.CheckOutcome{
			Command:  "go test ./...",
			ExitCode: 1,
			Output:   strings.Repeat("x", 20000),
		},
		ReviewScore: -1,
	}
	prompt := FixPrompt(report)
	if len(prompt) > maxFailureExcerpt+500 {
		t.Fatalf("expected truncated prompt, got %d chars", len(prompt))
	}
}

func TestFixPromptIncludesLowReviewScore(t *testing.T) {
	report := &model.VerificationReport{
		Tests:          &model.CheckOutcome{Passed: true},
		ReviewScore:    45,
		ReviewFeedback: "The error path is unhandled.",
	}
	prompt := FixPrompt(report)
	if !strings.Contains(prompt, "45/100") {
		t.Fatalf("expected review score in prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "The error path is unhandled.") {
		t.Fatalf("expected review feedback in prompt, got %q", prompt)
	}
}
