package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vectorhq/vector/engine"
	"github.com/vectorhq/vector/eventbus"
	"github.com/vectorhq/vector/gitprovider"
	"github.com/vectorhq/vector/llm"
	"github.com/vectorhq/vector/model"
	"github.com/vectorhq/vector/sandbox"
	"github.com/vectorhq/vector/session"
	sqliteStore "github.com/vectorhq/vector/store/sqlite"
	"github.com/vectorhq/vector/verify"
)

// --- stubs ---

type stubLLM struct{}

func (s *stubLLM) Complete(_ context.Context, _, _ string) (string, error) {
	return "generated text", nil
}

func (s *stubLLM) CompleteWithTools(_ context.Context, _ string, _ []llm.Message, _ []llm.Tool) (*llm.Turn, error) {
	return &llm.Turn{Text: "done"}, nil
}

type stubManager struct{}

func (m *stubManager) Create(_ context.Context, projectID string, _ *model.RepoConfig) (sandbox.Sandbox, error) {
	return &stubSandbox{projectID: projectID}, nil
}
func (m *stubManager) ReuseIfExists(_ string) sandbox.Sandbox { return nil }
func (m *stubManager) Cleanup(_ sandbox.Sandbox)              {}

type stubSandbox struct {
	projectID string
}

func (s *stubSandbox) ID() string        { return "sb" }
func (s *stubSandbox) ProjectID() string { return s.projectID }
func (s *stubSandbox) Branch() string    { return sandbox.BranchName(s.projectID) }
func (s *stubSandbox) RepoDir() string   { return "/tmp/repo" }
func (s *stubSandbox) Exec(_ context.Context, argv []string) (string, error) {
	if strings.Join(argv, " ") == "git diff --cached --quiet" {
		return "", &sandbox.CommandError{Argv: argv, ExitCode: 1}
	}
	return "", nil
}
func (s *stubSandbox) ExecStream(_ context.Context, _ []string) (sandbox.LineScanner, error) {
	return nil, nil
}
func (s *stubSandbox) ReadFile(_ context.Context, _ string) (string, error) { return "", nil }
func (s *stubSandbox) WriteFile(_ context.Context, _, _ string) error       { return nil }
func (s *stubSandbox) ListFiles(_ context.Context) ([]string, error) {
	return []string{"go.mod"}, nil
}

type stubGit struct{}

func (g *stubGit) CreateIssue(_ context.Context, opts gitprovider.IssueOptions) (string, int, error) {
	return "https://github.com/" + opts.Repo + "/issues/1", 1, nil
}
func (g *stubGit) CreatePR(_ context.Context, opts gitprovider.PROptions) (string, int, error) {
	return "https://github.com/" + opts.Repo + "/pull/2", 2, nil
}
func (g *stubGit) GetDefaultBranch(_ context.Context, _ string) (string, error) {
	return "main", nil
}

type stubSession struct{}

func (s *stubSession) RunPrompt(_ context.Context, _ string) (string, error) {
	return "implemented", nil
}
func (s *stubSession) Backend() string { return "stub" }

// --- helpers ---

func testHandler(t *testing.T) *Handler {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := sqliteStore.New(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	now := time.Now().UTC()
	rc := &model.RepoConfig{
		ID: "myapp", Owner: "acme", Repo: "myapp", Branch: "main",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := st.CreateRepoConfig(rc); err != nil {
		t.Fatalf("seed repo config: %v", err)
	}

	factory := func(_ sandbox.Sandbox) session.Session { return &stubSession{} }
	eng := engine.New(
		st, eventbus.NewInMemoryBus(), &stubManager{}, &stubGit{},
		&stubLLM{}, verify.New(nil), factory, nil, 1,
	)
	return New(eng)
}

func doJSON(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func createProject(t *testing.T, h *Handler) *model.Project {
	t.Helper()
	rec := doJSON(t, h, "POST", "/api/projects",
		`{"title":"fix the login redirect","description":"users land on a 404","repo_id":"myapp"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var p model.Project
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	return &p
}

// --- tests ---

func TestHealthEndpoint(t *testing.T) {
	h := testHandler(t)
	rec := doJSON(t, h, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("expected 'ok', got %q", rec.Body.String())
	}
}

func TestCreateProjectEndpoint(t *testing.T) {
	h := testHandler(t)
	p := createProject(t, h)
	if p.ID == "" {
		t.Fatal("expected non-empty id")
	}
	if p.Status != model.StatusPending {
		t.Fatalf("expected pending, got %q", p.Status)
	}
	if p.TicketType != model.TicketBug {
		t.Fatalf("expected default ticket type bug, got %q", p.TicketType)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	h := testHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing title", `{"repo_id":"myapp"}`},
		{"blank title", `{"title":"   ","repo_id":"myapp"}`},
		{"missing repo", `{"title":"fix it"}`},
		{"unknown repo", `{"title":"fix it","repo_id":"nope"}`},
		{"bad json", `{not json`},
	}
	for _, tt := range tests {
		rec := doJSON(t, h, "POST", "/api/projects", tt.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tt.name, rec.Code)
		}
	}
}

func TestCreateProjectOversizedDescription(t *testing.T) {
	h := testHandler(t)
	body := `{"title":"t","repo_id":"myapp","description":"` + strings.Repeat("a", 10001) + `"}`
	rec := doJSON(t, h, "POST", "/api/projects", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized description, got %d", rec.Code)
	}
}

func TestGetProjectEndpoint(t *testing.T) {
	h := testHandler(t)
	p := createProject(t, h)

	rec := doJSON(t, h, "GET", "/api/projects/"+p.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, h, "GET", "/api/projects/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListProjectsEndpoint(t *testing.T) {
	h := testHandler(t)

	rec := doJSON(t, h, "GET", "/api/projects", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %q", rec.Body.String())
	}

	createProject(t, h)
	rec = doJSON(t, h, "GET", "/api/projects", "")
	var projects []*model.Project
	if err := json.Unmarshal(rec.Body.Bytes(), &projects); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if len(projects) != 1 {
		t.Fatalf("expected 1 project, got %d", len(projects))
	}
}

func TestExecuteEndpointAccepted(t *testing.T) {
	h := testHandler(t)
	p := createProject(t, h)

	rec := doJSON(t, h, "POST", "/api/projects/"+p.ID+"/execute", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	// The workflow runs in the background; wait for a terminal status.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := h.engine.Store().GetProject(p.ID)
		if err == nil && got.Status.Terminal() {
			if got.Status != model.StatusCompleted {
				t.Fatalf("expected completed, got %q (%s)", got.Status, got.Error)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("workflow did not reach a terminal state")
}

func TestExecuteEndpointUnknownProject(t *testing.T) {
	h := testHandler(t)
	rec := doJSON(t, h, "POST", "/api/projects/missing/execute", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPlanningEndpoints(t *testing.T) {
	h := testHandler(t)
	p := createProject(t, h)

	rec := doJSON(t, h, "POST", "/api/projects/"+p.ID+"/plan", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	// No plan generated yet.
	rec = doJSON(t, h, "GET", "/api/projects/"+p.ID+"/plan", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before generation, got %d", rec.Code)
	}

	plan, err := h.engine.GeneratePlan(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}

	rec = doJSON(t, h, "GET", "/api/projects/"+p.ID+"/plan", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, h, "POST", "/api/plans/"+plan.ID+"/approve", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var approved model.Plan
	if err := json.Unmarshal(rec.Body.Bytes(), &approved); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if !approved.Approved {
		t.Fatal("expected approved plan")
	}
}

func TestListReposEndpoint(t *testing.T) {
	h := testHandler(t)
	rec := doJSON(t, h, "GET", "/api/repos", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var configs []*model.RepoConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &configs); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if len(configs) != 1 || configs[0].ID != "myapp" {
		t.Fatalf("expected seeded repo config, got %+v", configs)
	}
}

func TestGetLogsEndpoint(t *testing.T) {
	h := testHandler(t)
	p := createProject(t, h)

	rec := doJSON(t, h, "GET", "/api/projects/"+p.ID+"/logs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var logs []*model.ExecutionLog
	if err := json.Unmarshal(rec.Body.Bytes(), &logs); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	// Project creation writes a step log.
	if len(logs) == 0 {
		t.Fatal("expected at least one log entry")
	}
}

func TestProjectEventsReplaysLogs(t *testing.T) {
	h := testHandler(t)
	p := createProject(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest("GET", "/api/projects/"+p.ID+"/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: create") {
		t.Fatalf("expected replayed create event, got %q", body)
	}
	if !strings.Contains(body, "data: ") {
		t.Fatalf("expected SSE data frame, got %q", body)
	}
}

func TestProjectEventsUnknownProject(t *testing.T) {
	h := testHandler(t)
	rec := doJSON(t, h, "GET", "/api/projects/missing/events", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
