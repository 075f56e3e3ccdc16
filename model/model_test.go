package model

import "testing"

func TestTruncateShortString(t *testing.T) {
	got := Truncate("hello", 10)
	if got != "hello" {
		t.Fatalf("expected 'hello', got %q", got)
	}
}

func TestTruncateExactLength(t *testing.T) {
	got := Truncate("hello", 5)
	if got != "hello" {
		t.Fatalf("expected 'hello', got %q", got)
	}
}

func TestTruncateLongString(t *testing.T) {
	got := Truncate("hello world", 8)
	if got != "hello..." {
		t.Fatalf("expected 'hello...', got %q", got)
	}
}

func TestTruncateVerySmallMaxLen(t *testing.T) {
	got := Truncate("hello", 2)
	if got != "he" {
		t.Fatalf("expected 'he', got %q", got)
	}
}

func TestTruncateUnicode(t *testing.T) {
	got := Truncate("こんにちは世界", 6)
	if got != "こんに..." {
		t.Fatalf("expected 'こんに...', got %q", got)
	}
}

func TestStatusConstants(t *testing.T) {
	statuses := []Status{StatusPending, StatusPlanning, StatusProvisioning, StatusExecuting, StatusCompleted, StatusFailed}
	expected := []string{"pending", "planning", "provisioning", "executing", "completed", "failed"}
	for i, s := range statuses {
		if string(s) != expected[i] {
			t.Fatalf("expected %q, got %q", expected[i], s)
		}
	}
}

func TestTerminal(t *testing.T) {
	if !StatusCompleted.Terminal() {
		t.Fatal("completed should be terminal")
	}
	if !StatusFailed.Terminal() {
		t.Fatal("failed should be terminal")
	}
	for _, s := range []Status{StatusPending, StatusPlanning, StatusProvisioning, StatusExecuting} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestCanTransitionForward(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusPlanning, true},
		{StatusPending, StatusProvisioning, true}, // skipping planning is legal
		{StatusPending, StatusExecuting, true},
		{StatusPlanning, StatusExecuting, true},
		{StatusProvisioning, StatusExecuting, true},
		{StatusExecuting, StatusCompleted, true},
		{StatusExecuting, StatusProvisioning, false}, // no going back
		{StatusExecuting, StatusPending, false},
		{StatusPlanning, StatusPending, false},
		{StatusExecuting, StatusExecuting, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.ok, got)
		}
	}
}

func TestCanTransitionToFailed(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusPlanning, StatusProvisioning, StatusExecuting} {
		if !s.CanTransition(StatusFailed) {
			t.Errorf("%s -> failed should be legal", s)
		}
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusFailed} {
		for _, to := range []Status{StatusPending, StatusPlanning, StatusProvisioning, StatusExecuting, StatusCompleted, StatusFailed} {
			if from.CanTransition(to) {
				t.Errorf("%s -> %s should not be legal", from, to)
			}
		}
	}
}

func TestRepoConfigFullName(t *testing.T) {
	rc := &RepoConfig{Owner: "acme", Repo: "widgets"}
	if rc.FullName() != "acme/widgets" {
		t.Fatalf("expected 'acme/widgets', got %q", rc.FullName())
	}
}

func TestGatePassedAllGreen(t *testing.T) {
	r := &VerificationReport{
		Tests:       &CheckOutcome{Passed: true},
		Build:       &CheckOutcome{Passed: true},
		ReviewScore: -1,
	}
	if !r.GatePassed() {
		t.Fatal("expected gate to pass")
	}
}

func TestGatePassedVacuousTests(t *testing.T) {
	r := &VerificationReport{TestsVacuous: true, ReviewScore: -1}
	if !r.GatePassed() {
		t.Fatal("expected vacuous tests to pass the gate")
	}
}

func TestGateFailsOnFailingTests(t *testing.T) {
	r := &VerificationReport{
		Tests:       &CheckOutcome{Passed: false, ExitCode: 1},
		ReviewScore: -1,
	}
	if r.GatePassed() {
		t.Fatal("expected gate to fail on failing tests")
	}
}

func TestGateFailsOnFailingBuild(t *testing.T) {
	r := &VerificationReport{
		Tests:       &CheckOutcome{Passed: true},
		Build:       &CheckOutcome{Passed: false, ExitCode: 2},
		ReviewScore: -1,
	}
	if r.GatePassed() {
		t.Fatal("expected gate to fail on failing build")
	}
}

func TestGateIgnoresLint(t *testing.T) {
	r := &VerificationReport{
		Tests:       &CheckOutcome{Passed: true},
		Lint:        &CheckOutcome{Passed: false, ExitCode: 1},
		ReviewScore: -1,
	}
	if !r.GatePassed() {
		t.Fatal("lint failures must not gate")
	}
}

func TestGateReviewThreshold(t *testing.T) {
	r := &VerificationReport{
		Tests:       &CheckOutcome{Passed: true},
		ReviewScore: 79,
	}
	if r.GatePassed() {
		t.Fatal("expected gate to fail below the review threshold")
	}
	r.ReviewScore = 80
	if !r.GatePassed() {
		t.Fatal("expected gate to pass at the review threshold")
	}
}
