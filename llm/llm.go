// Package llm defines the generative model interface used for planning,
// enrichment, review and the tool-use coding session.
package llm

import (
	"context"
	"encoding/json"
)

// Tool describes one tool the model may call. Properties follow JSON
// Schema ("object" type).
type Tool struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult is the outcome of executing one tool call, echoed back to
// the model on the next round.
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// Message is one turn of a tool-use conversation. Assistant turns carry
// Text and ToolCalls; user turns carry Text or ToolResults.
type Message struct {
	Role        string // "user" or "assistant"
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// Turn is the model's response to one round of a tool-use conversation.
type Turn struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
}

// Client completes prompts against a generative model.
type Client interface {
	// Complete sends a single-shot prompt and returns the text response.
	Complete(ctx context.Context, system, user string) (string, error)
	// CompleteWithTools sends a full conversation with tool definitions
	// and returns the model's next turn.
	CompleteWithTools(ctx context.Context, system string, messages []Message, tools []Tool) (*Turn, error)
}
