package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/vectorhq/vector/llm"
	"github.com/vectorhq/vector/sandbox"
)

// --- stubs ---

// stubSandbox is an in-memory sandbox.Sandbox.
type stubSandbox struct {
	files          map[string]string
	execCalls      [][]string
	streamLines    []string
	streamCloseErr error
}

func newStubSandbox() *stubSandbox {
	return &stubSandbox{files: make(map[string]string)}
}

func (s *stubSandbox) ID() string        { return "stub-sandbox" }
func (s *stubSandbox) ProjectID() string { return "p1" }
func (s *stubSandbox) Branch() string    { return "fix/issue-p1" }
func (s *stubSandbox) RepoDir() string   { return "/tmp/repo" }

func (s *stubSandbox) Exec(_ context.Context, argv []string) (string, error) {
	s.execCalls = append(s.execCalls, argv)
	return "command output", nil
}

func (s *stubSandbox) ExecStream(_ context.Context, argv []string) (sandbox.LineScanner, error) {
	s.execCalls = append(s.execCalls, argv)
	return &stubScanner{lines: s.streamLines, closeErr: s.streamCloseErr}, nil
}

func (s *stubSandbox) ReadFile(_ context.Context, relPath string) (string, error) {
	content, ok := s.files[relPath]
	if !ok {
		return "", &sandbox.CommandError{Argv: []string{"cat", relPath}, ExitCode: 1}
	}
	return content, nil
}

func (s *stubSandbox) WriteFile(_ context.Context, relPath, content string) error {
	s.files[relPath] = content
	return nil
}

func (s *stubSandbox) ListFiles(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(s.files))
	for n := range s.files {
		names = append(names, n)
	}
	return names, nil
}

type stubScanner struct {
	lines    []string
	pos      int
	closeErr error
}

func (s *stubScanner) Scan() bool {
	if s.pos >= len(s.lines) {
		return false
	}
	s.pos++
	return true
}
func (s *stubScanner) Text() string { return s.lines[s.pos-1] }
func (s *stubScanner) Err() error   { return nil }
func (s *stubScanner) Close() error { return s.closeErr }

// scriptedLLM returns one canned turn per round.
type scriptedLLM struct {
	turns []*llm.Turn
	round int
}

func (s *scriptedLLM) Complete(_ context.Context, _, _ string) (string, error) {
	return "", nil
}

func (s *scriptedLLM) CompleteWithTools(_ context.Context, _ string, _ []llm.Message, _ []llm.Tool) (*llm.Turn, error) {
	if s.round >= len(s.turns) {
		return &llm.Turn{Text: "done"}, nil
	}
	turn := s.turns[s.round]
	s.round++
	return turn, nil
}

// --- ParseStreamLine ---

func TestParseStreamLineAssistantText(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"Looking at the code"}]}}`
	ev, err := ParseStreamLine([]byte(line))
	if err != nil {
		t.Fatalf("ParseStreamLine: %v", err)
	}
	if ev.Kind != EventAssistant {
		t.Fatalf("expected assistant event, got %q", ev.Kind)
	}
	if ev.Text != "Looking at the code" {
		t.Fatalf("expected assistant text, got %q", ev.Text)
	}
}

func TestParseStreamLineToolUse(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit"}]}}`
	ev, err := ParseStreamLine([]byte(line))
	if err != nil {
		t.Fatalf("ParseStreamLine: %v", err)
	}
	if ev.Kind != EventToolUse {
		t.Fatalf("expected tool_use event, got %q", ev.Kind)
	}
	if ev.Text != "Edit" {
		t.Fatalf("expected tool name 'Edit', got %q", ev.Text)
	}
}

func TestParseStreamLineToolResult(t *testing.T) {
	line := `{"type":"user","message":{"content":[{"type":"tool_result"}]}}`
	ev, err := ParseStreamLine([]byte(line))
	if err != nil {
		t.Fatalf("ParseStreamLine: %v", err)
	}
	if ev.Kind != EventToolResult {
		t.Fatalf("expected tool_result event, got %q", ev.Kind)
	}
}

func TestParseStreamLineResult(t *testing.T) {
	line := `{"type":"result","subtype":"success","result":"All done"}`
	ev, err := ParseStreamLine([]byte(line))
	if err != nil {
		t.Fatalf("ParseStreamLine: %v", err)
	}
	if ev.Kind != EventResult {
		t.Fatalf("expected result event, got %q", ev.Kind)
	}
	if ev.Text != "All done" {
		t.Fatalf("expected result text, got %q", ev.Text)
	}
}

func TestParseStreamLineErrorResult(t *testing.T) {
	line := `{"type":"result","subtype":"error_max_turns","result":"ran out of turns"}`
	ev, err := ParseStreamLine([]byte(line))
	if err != nil {
		t.Fatalf("ParseStreamLine: %v", err)
	}
	if ev.Kind != EventError {
		t.Fatalf("expected error event for non-success result, got %q", ev.Kind)
	}
}

func TestParseStreamLineSystem(t *testing.T) {
	line := `{"type":"system","subtype":"init"}`
	ev, err := ParseStreamLine([]byte(line))
	if err != nil {
		t.Fatalf("ParseStreamLine: %v", err)
	}
	if ev.Kind != EventSystem || ev.Text != "init" {
		t.Fatalf("expected system/init, got %q/%q", ev.Kind, ev.Text)
	}
}

func TestParseStreamLineUnknownType(t *testing.T) {
	ev, err := ParseStreamLine([]byte(`{"type":"mystery"}`))
	if err != nil {
		t.Fatalf("ParseStreamLine: %v", err)
	}
	if ev.Kind != EventUnknown {
		t.Fatalf("expected unknown event, got %q", ev.Kind)
	}
}

func TestParseStreamLineMalformed(t *testing.T) {
	if _, err := ParseStreamLine([]byte("not json at all")); err == nil {
		t.Fatal("expected error for malformed line")
	}
}

// --- CLISession ---

func TestCLISessionReturnsFinalResult(t *testing.T) {
	sb := newStubSandbox()
	sb.streamLines = []string{
		`{"type":"system","subtype":"init"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"working"}]}}`,
		`this line is garbage and must be skipped`,
		`{"type":"result","subtype":"success","result":"Changed two files"}`,
	}

	sess := NewCLISession(sb)
	got, err := sess.RunPrompt(context.Background(), "fix it")
	if err != nil {
		t.Fatalf("RunPrompt: %v", err)
	}
	if got != "Changed two files" {
		t.Fatalf("expected final result, got %q", got)
	}

	if len(sb.execCalls) != 1 {
		t.Fatalf("expected 1 exec call, got %d", len(sb.execCalls))
	}
	argv := sb.execCalls[0]
	if argv[0] != "claude" {
		t.Fatalf("expected claude argv, got %v", argv)
	}
	// The prompt must travel as a single argv element, never a shell string.
	found := false
	for _, a := range argv {
		if a == "fix it" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected prompt as argv element, got %v", argv)
	}
}

func TestCLISessionNoResultReturnsRawOutput(t *testing.T) {
	sb := newStubSandbox()
	sb.streamLines = []string{
		`{"type":"assistant","message":{"content":[{"type":"text","text":"partial"}]}}`,
	}

	sess := NewCLISession(sb)
	got, err := sess.RunPrompt(context.Background(), "task")
	if err != nil {
		t.Fatalf("RunPrompt: %v", err)
	}
	if !strings.Contains(got, "partial") {
		t.Fatalf("expected raw output fallback, got %q", got)
	}
}

func TestCLISessionErrorEvent(t *testing.T) {
	sb := newStubSandbox()
	sb.streamLines = []string{
		`{"type":"error","error":"API key invalid"}`,
	}

	sess := NewCLISession(sb)
	_, err := sess.RunPrompt(context.Background(), "task")
	if err == nil {
		t.Fatal("expected error when stream ends with an error event and no result")
	}
	var sessErr *Error
	if !errors.As(err, &sessErr) {
		t.Fatalf("expected session.Error, got %T", err)
	}
	if sessErr.Backend != "cli" {
		t.Fatalf("expected cli backend, got %q", sessErr.Backend)
	}
}

func TestCLISessionNonZeroExitWithoutResult(t *testing.T) {
	sb := newStubSandbox()
	sb.streamLines = []string{
		`{"type":"assistant","message":{"content":[{"type":"text","text":"partial"}]}}`,
	}
	sb.streamCloseErr = &sandbox.CommandError{
		Argv: []string{"claude"}, ExitCode: 1, Stderr: "API key invalid",
	}

	sess := NewCLISession(sb)
	_, err := sess.RunPrompt(context.Background(), "task")
	if err == nil {
		t.Fatal("expected error when the CLI exits non-zero without a result event")
	}
	var sessErr *Error
	if !errors.As(err, &sessErr) {
		t.Fatalf("expected session.Error, got %T", err)
	}
	var cmdErr *sandbox.CommandError
	if !errors.As(err, &cmdErr) || cmdErr.ExitCode != 1 {
		t.Fatalf("expected the exit code to surface, got %v", err)
	}
}

func TestCLISessionResultEventWithCleanExit(t *testing.T) {
	sb := newStubSandbox()
	sb.streamLines = []string{
		`{"type":"result","subtype":"success","result":"done"}`,
	}

	sess := NewCLISession(sb)
	got, err := sess.RunPrompt(context.Background(), "task")
	if err != nil {
		t.Fatalf("RunPrompt: %v", err)
	}
	if got != "done" {
		t.Fatalf("expected result text, got %q", got)
	}
}

func TestCLISessionOnEventHook(t *testing.T) {
	sb := newStubSandbox()
	sb.streamLines = []string{
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash"}]}}`,
		`{"type":"result","subtype":"success","result":"ok"}`,
	}

	sess := NewCLISession(sb)
	var kinds []EventKind
	sess.OnEvent = func(ev *StreamEvent) { kinds = append(kinds, ev.Kind) }

	if _, err := sess.RunPrompt(context.Background(), "task"); err != nil {
		t.Fatalf("RunPrompt: %v", err)
	}
	if len(kinds) != 2 || kinds[0] != EventToolUse || kinds[1] != EventResult {
		t.Fatalf("unexpected event kinds: %v", kinds)
	}
}

// --- ToolUseSession ---

func toolCall(id, name string, input any) llm.ToolCall {
	raw, _ := json.Marshal(input)
	return llm.ToolCall{ID: id, Name: name, Input: raw}
}

func TestToolUseSessionReadWriteLoop(t *testing.T) {
	sb := newStubSandbox()
	sb.files["main.go"] = "package main"

	client := &scriptedLLM{turns: []*llm.Turn{
		{ToolCalls: []llm.ToolCall{
			toolCall("t1", "read_file", map[string]string{"path": "main.go"}),
		}},
		{ToolCalls: []llm.ToolCall{
			toolCall("t2", "write_file", map[string]string{"path": "main.go", "content": "package main\n\nfunc main() {}"}),
		}},
		{Text: "Added a main function"},
	}}

	sess := NewToolUseSession(sb, client)
	got, err := sess.RunPrompt(context.Background(), "add a main function")
	if err != nil {
		t.Fatalf("RunPrompt: %v", err)
	}
	if got != "Added a main function" {
		t.Fatalf("expected final text, got %q", got)
	}
	if sb.files["main.go"] != "package main\n\nfunc main() {}" {
		t.Fatalf("expected file to be written, got %q", sb.files["main.go"])
	}
}

func TestToolUseSessionStopsWithoutToolCalls(t *testing.T) {
	client := &scriptedLLM{turns: []*llm.Turn{{Text: "nothing to do"}}}
	sess := NewToolUseSession(newStubSandbox(), client)

	got, err := sess.RunPrompt(context.Background(), "task")
	if err != nil {
		t.Fatalf("RunPrompt: %v", err)
	}
	if got != "nothing to do" {
		t.Fatalf("expected immediate text, got %q", got)
	}
	if client.round != 1 {
		t.Fatalf("expected exactly 1 round, got %d", client.round)
	}
}

func TestToolUseSessionRunCommand(t *testing.T) {
	sb := newStubSandbox()
	client := &scriptedLLM{turns: []*llm.Turn{
		{ToolCalls: []llm.ToolCall{
			toolCall("t1", "run_command", map[string][]string{"command": {"npm", "test"}}),
		}},
		{Text: "tests pass"},
	}}

	sess := NewToolUseSession(sb, client)
	if _, err := sess.RunPrompt(context.Background(), "run the tests"); err != nil {
		t.Fatalf("RunPrompt: %v", err)
	}
	if len(sb.execCalls) != 1 {
		t.Fatalf("expected 1 exec call, got %d", len(sb.execCalls))
	}
	if sb.execCalls[0][0] != "npm" || sb.execCalls[0][1] != "test" {
		t.Fatalf("expected npm test argv, got %v", sb.execCalls[0])
	}
}

func TestToolUseSessionRejectsEscapingPaths(t *testing.T) {
	sb := newStubSandbox()
	sess := NewToolUseSession(sb, &scriptedLLM{})

	for _, p := range []string{"/etc/passwd", "../outside.txt", "a/../../b", ".."} {
		call := toolCall("t1", "read_file", map[string]string{"path": p})
		content, isErr := sess.executeTool(context.Background(), call)
		if !isErr {
			t.Errorf("path %q: expected error, got %q", p, content)
		}
	}
	if len(sb.execCalls) != 0 {
		t.Fatal("no sandbox calls expected for rejected paths")
	}
}

func TestConfinePathNormalizes(t *testing.T) {
	got, err := confinePath("src/./lib/../main.go")
	if err != nil {
		t.Fatalf("confinePath: %v", err)
	}
	if got != "src/main.go" {
		t.Fatalf("expected 'src/main.go', got %q", got)
	}
}

func TestToolUseSessionUnknownTool(t *testing.T) {
	sess := NewToolUseSession(newStubSandbox(), &scriptedLLM{})
	content, isErr := sess.executeTool(context.Background(), toolCall("t1", "delete_everything", nil))
	if !isErr {
		t.Fatal("expected error for unknown tool")
	}
	if !strings.Contains(content, "unknown tool") {
		t.Fatalf("expected unknown tool message, got %q", content)
	}
}
