package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/vectorhq/vector/model"
	"github.com/vectorhq/vector/sandbox"
)

// EventKind classifies one line of the CLI's stream-json output.
type EventKind string

const (
	EventAssistant  EventKind = "assistant"
	EventToolUse    EventKind = "tool_use"
	EventToolResult EventKind = "tool_result"
	EventSystem     EventKind = "system"
	EventResult     EventKind = "result"
	EventError      EventKind = "error"
	EventUnknown    EventKind = "unknown"
)

// StreamEvent is one parsed NDJSON event from the CLI.
type StreamEvent struct {
	Kind EventKind
	// Text is the human-readable payload: assistant text, tool name,
	// or the final result.
	Text string
}

// rawEvent mirrors the CLI's stream-json line shape.
type rawEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Result  string `json:"result"`
	Error   string `json:"error"`
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
			Name string `json:"name"`
		} `json:"content"`
	} `json:"message"`
}

// ParseStreamLine classifies one NDJSON line. Malformed lines return an
// error; callers log and skip them.
func ParseStreamLine(line []byte) (*StreamEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("malformed stream event: %w", err)
	}

	switch raw.Type {
	case "assistant":
		for _, c := range raw.Message.Content {
			if c.Type == "tool_use" {
				return &StreamEvent{Kind: EventToolUse, Text: c.Name}, nil
			}
		}
		var text string
		for _, c := range raw.Message.Content {
			if c.Type == "text" {
				text += c.Text
			}
		}
		return &StreamEvent{Kind: EventAssistant, Text: text}, nil
	case "user":
		for _, c := range raw.Message.Content {
			if c.Type == "tool_result" {
				return &StreamEvent{Kind: EventToolResult}, nil
			}
		}
		return &StreamEvent{Kind: EventUnknown}, nil
	case "system":
		return &StreamEvent{Kind: EventSystem, Text: raw.Subtype}, nil
	case "result":
		if raw.Subtype != "" && raw.Subtype != "success" {
			return &StreamEvent{Kind: EventError, Text: raw.Result}, nil
		}
		return &StreamEvent{Kind: EventResult, Text: raw.Result}, nil
	case "error":
		return &StreamEvent{Kind: EventError, Text: raw.Error}, nil
	default:
		return &StreamEvent{Kind: EventUnknown}, nil
	}
}

// CLISession drives the claude CLI headlessly inside a sandbox. The
// prompt is passed as a single argument vector element, never through a
// shell string.
type CLISession struct {
	sb       sandbox.Sandbox
	maxTurns int
	timeout  time.Duration

	// OnEvent, when set, receives every parsed stream event. Used to
	// surface live progress into the step log.
	OnEvent func(ev *StreamEvent)
}

// DefaultMaxTurns caps the CLI's agentic turn count.
const DefaultMaxTurns = 25

// DefaultCLITimeout bounds one full prompt run.
const DefaultCLITimeout = 20 * time.Minute

// NewCLISession creates a streaming CLI session on the sandbox.
func NewCLISession(sb sandbox.Sandbox) *CLISession {
	return &CLISession{sb: sb, maxTurns: DefaultMaxTurns, timeout: DefaultCLITimeout}
}

func (s *CLISession) Backend() string { return "cli" }

// RunPrompt runs the CLI to completion. The final text is the last
// result-typed event; if none arrived, the raw collected output is
// returned instead. A non-zero CLI exit without a result event is an
// error.
func (s *CLISession) RunPrompt(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	argv := []string{
		"claude",
		"-p", prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--max-turns", strconv.Itoa(s.maxTurns),
		"--dangerously-skip-permissions",
	}

	scanner, err := s.sb.ExecStream(ctx, argv)
	if err != nil {
		return "", &Error{Backend: "cli", Err: err}
	}

	var raw string
	var finalResult string
	var sawResult bool
	var lastError string

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		raw += line + "\n"

		ev, err := ParseStreamLine([]byte(line))
		if err != nil {
			log.Printf("session: skipping malformed event line: %v", err)
			continue
		}
		if s.OnEvent != nil {
			s.OnEvent(ev)
		}
		switch ev.Kind {
		case EventResult:
			finalResult = ev.Text
			sawResult = true
		case EventError:
			lastError = ev.Text
		}
	}
	if err := scanner.Err(); err != nil {
		scanner.Close()
		return "", &Error{Backend: "cli", Err: err}
	}
	// Close reaps the subprocess; a non-zero exit surfaces here.
	exitErr := scanner.Close()
	if ctx.Err() != nil {
		return "", &Error{Backend: "cli", Err: ctx.Err()}
	}

	if sawResult {
		return finalResult, nil
	}
	if lastError != "" {
		return "", &Error{Backend: "cli", Err: errors.New(model.Truncate(lastError, 500))}
	}
	if exitErr != nil {
		return "", &Error{Backend: "cli", Err: exitErr}
	}
	return raw, nil
}
