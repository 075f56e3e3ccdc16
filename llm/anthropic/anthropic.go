// Package anthropic implements llm.Client against the Anthropic API.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vectorhq/vector/llm"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

const defaultMaxTokens = 8192

// Client wraps the Anthropic SDK to implement llm.Client.
type Client struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// New creates a client. An empty model selects DefaultModel.
func New(apiKey, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: defaultMaxTokens,
	}
}

// Complete sends a single-shot prompt and returns the concatenated text blocks.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system, Type: "text"}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}

	var text string
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			text += resp.Content[i].AsText().Text
		}
	}
	return text, nil
}

// CompleteWithTools sends a conversation with tool definitions and returns
// the model's next turn.
func (c *Client) CompleteWithTools(ctx context.Context, system string, messages []llm.Message, tools []llm.Tool) (*llm.Turn, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  convertMessages(messages),
		Tools:     convertTools(tools),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system, Type: "text"}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic tool completion: %w", err)
	}

	turn := &llm.Turn{StopReason: string(resp.StopReason)}
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			turn.Text += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			turn.ToolCalls = append(turn.ToolCalls, llm.ToolCall{
				ID:    tu.ID,
				Name:  tu.Name,
				Input: tu.Input,
			})
		}
	}
	return turn, nil
}

func convertMessages(messages []llm.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		var blocks []anthropic.ContentBlockParamUnion
		if msg.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Text))
		}
		for _, tc := range msg.ToolCalls {
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Input, tc.Name))
		}
		for _, tr := range msg.ToolResults {
			blocks = append(blocks, anthropic.NewToolResultBlock(tr.CallID, tr.Content, tr.IsError))
		}
		if msg.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func convertTools(tools []llm.Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{
			Type:       "object",
			Properties: t.Properties,
			Required:   t.Required,
		}
		out = append(out, anthropic.ToolUnionParamOfTool(schema, t.Name))
	}
	return out
}
