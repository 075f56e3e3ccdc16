package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/vectorhq/vector/llm"
	"github.com/vectorhq/vector/sandbox"
)

// DefaultMaxRounds caps the number of tool-use conversation rounds.
const DefaultMaxRounds = 30

// DefaultCommandTimeout bounds one run_command tool call.
const DefaultCommandTimeout = 5 * time.Minute

const toolUseSystemPrompt = `You are an expert software engineer working inside a cloned repository.
Use the provided tools to read files, write files, and run commands to complete
the task. All paths are relative to the repository root. When the task is done,
reply with a short summary of the changes and stop calling tools.`

// ToolUseSession implements a coding session as a direct tool-use
// conversation with the model. Each round executes the requested tool
// calls against the sandbox and feeds results back until the model stops
// calling tools or the round budget runs out.
type ToolUseSession struct {
	sb         sandbox.Sandbox
	client     llm.Client
	maxRounds  int
	cmdTimeout time.Duration
}

// NewToolUseSession creates a tool-use session on the sandbox.
func NewToolUseSession(sb sandbox.Sandbox, client llm.Client) *ToolUseSession {
	return &ToolUseSession{
		sb:         sb,
		client:     client,
		maxRounds:  DefaultMaxRounds,
		cmdTimeout: DefaultCommandTimeout,
	}
}

func (s *ToolUseSession) Backend() string { return "tooluse" }

func sessionTools() []llm.Tool {
	return []llm.Tool{
		{
			Name:        "read_file",
			Description: "Read a file from the repository. Path is relative to the repo root.",
			Properties: map[string]any{
				"path": map[string]any{"type": "string", "description": "Relative file path"},
			},
			Required: []string{"path"},
		},
		{
			Name:        "write_file",
			Description: "Write a file in the repository, creating parent directories as needed.",
			Properties: map[string]any{
				"path":    map[string]any{"type": "string", "description": "Relative file path"},
				"content": map[string]any{"type": "string", "description": "Full file content"},
			},
			Required: []string{"path", "content"},
		},
		{
			Name:        "run_command",
			Description: "Run a command in the repository root. Provide the command as an argument vector.",
			Properties: map[string]any{
				"command": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Command and arguments, e.g. [\"npm\", \"test\"]",
				},
			},
			Required: []string{"command"},
		},
	}
}

// RunPrompt drives the conversation loop. It returns the model's final
// text once a round completes with no tool calls. Exhausting the round
// budget returns whatever text the last round produced.
func (s *ToolUseSession) RunPrompt(ctx context.Context, prompt string) (string, error) {
	messages := []llm.Message{{Role: "user", Text: prompt}}
	tools := sessionTools()

	var lastText string
	for round := 0; round < s.maxRounds; round++ {
		turn, err := s.client.CompleteWithTools(ctx, toolUseSystemPrompt, messages, tools)
		if err != nil {
			return "", &Error{Backend: "tooluse", Err: err}
		}
		if turn.Text != "" {
			lastText = turn.Text
		}

		if len(turn.ToolCalls) == 0 {
			return turn.Text, nil
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Text:      turn.Text,
			ToolCalls: turn.ToolCalls,
		})

		results := make([]llm.ToolResult, 0, len(turn.ToolCalls))
		for _, call := range turn.ToolCalls {
			content, isErr := s.executeTool(ctx, call)
			results = append(results, llm.ToolResult{
				CallID:  call.ID,
				Content: content,
				IsError: isErr,
			})
		}
		messages = append(messages, llm.Message{Role: "user", ToolResults: results})
	}

	log.Printf("session: tool-use round budget exhausted for project %s", s.sb.ProjectID())
	return lastText, nil
}

func (s *ToolUseSession) executeTool(ctx context.Context, call llm.ToolCall) (string, bool) {
	switch call.Name {
	case "read_file":
		var in struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(call.Input, &in); err != nil {
			return "invalid input: " + err.Error(), true
		}
		rel, err := confinePath(in.Path)
		if err != nil {
			return err.Error(), true
		}
		content, err := s.sb.ReadFile(ctx, rel)
		if err != nil {
			return "read failed: " + err.Error(), true
		}
		return content, false

	case "write_file":
		var in struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(call.Input, &in); err != nil {
			return "invalid input: " + err.Error(), true
		}
		rel, err := confinePath(in.Path)
		if err != nil {
			return err.Error(), true
		}
		if err := s.sb.WriteFile(ctx, rel, in.Content); err != nil {
			return "write failed: " + err.Error(), true
		}
		return fmt.Sprintf("wrote %d bytes to %s", len(in.Content), rel), false

	case "run_command":
		var in struct {
			Command []string `json:"command"`
		}
		if err := json.Unmarshal(call.Input, &in); err != nil {
			return "invalid input: " + err.Error(), true
		}
		if len(in.Command) == 0 {
			return "empty command", true
		}
		cmdCtx, cancel := context.WithTimeout(ctx, s.cmdTimeout)
		defer cancel()
		output, err := s.sb.Exec(cmdCtx, in.Command)
		if err != nil {
			return fmt.Sprintf("%s\n%s", output, err.Error()), true
		}
		if output == "" {
			output = "(no output)"
		}
		return output, false

	default:
		return "unknown tool: " + call.Name, true
	}
}

// confinePath normalizes a repo-relative path and rejects anything that
// would escape the repository root.
func confinePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("absolute paths are not allowed: %s", p)
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path escapes repository root: %s", p)
	}
	return clean, nil
}
