package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tripdesigner/agent/pkg/logger"
)

// ClaudeProvider is an LLMProvider backed by the Anthropic Messages API.
type ClaudeProvider struct {
	client       anthropic.Client
	defaultModel string
}

// NewClaudeProvider builds a ClaudeProvider against the given base URL and
// API key.
func NewClaudeProvider(baseURL, apiKey, defaultModel string) *ClaudeProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &ClaudeProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: defaultModel,
	}
}

func (p *ClaudeProvider) GetDefaultModel() string { return p.defaultModel }

func (p *ClaudeProvider) modelOrDefault(model string) string {
	if model != "" {
		return model
	}
	return p.defaultModel
}

// buildClaudeParams translates the generic chat request into Anthropic's
// MessageNewParams shape: a pulled-out system message, and every other
// message mapped to a content-block user/assistant turn.
func buildClaudeParams(messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 4096,
	}
	if v, ok := options["max_tokens"].(int); ok && v > 0 {
		params.MaxTokens = int64(v)
	}
	if v, ok := options["temperature"].(float64); ok {
		params.Temperature = anthropic.Float(v)
	}

	var system string
	turns := make([]anthropic.MessageParam, 0, len(messages))
	toolResultsByID := map[string]string{}

	for _, m := range messages {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case "user":
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			blocks := []anthropic.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input interface{}
				args := MarshalToolCallArguments(tc)
				if err := json.Unmarshal([]byte(args), &input); err != nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			turns = append(turns, anthropic.NewAssistantMessage(blocks...))
		case "tool":
			// Anthropic expects tool results as a user-role tool_result
			// block; buffer by call id so consecutive tool messages in
			// the same round can be emitted as one user turn below.
			toolResultsByID[m.ToolCallID] = m.Content
			turns = append(turns, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		default:
			return params, fmt.Errorf("claude provider: unsupported message role %q", m.Role)
		}
	}
	params.System = []anthropic.TextBlockParam{{Text: system}}
	params.Messages = turns

	if len(tools) > 0 {
		params.Tools = translateToolsForClaude(tools)
	}
	return params, nil
}

func translateToolsForClaude(tools []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if b, err := json.Marshal(t.Function.Parameters); err == nil {
			var generic map[string]interface{}
			if json.Unmarshal(b, &generic) == nil {
				if props, ok := generic["properties"]; ok {
					schema.Properties = props
				}
			}
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Function.Name,
				Description: anthropic.String(t.Function.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}

func claudeFinishReason(reason anthropic.StopReason) string {
	switch reason {
	case anthropic.StopReasonToolUse:
		return "tool_calls"
	case anthropic.StopReasonMaxTokens:
		return "length"
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return "stop"
	default:
		return string(reason)
	}
}

func parseClaudeResponse(resp *anthropic.Message) *LLMResponse {
	out := &LLMResponse{
		FinishReason: claudeFinishReason(resp.StopReason),
		Usage: &UsageInfo{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: &FunctionCall{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		}
	}
	return out
}

// Chat performs one non-streaming completion, used by the compaction path.
func (p *ClaudeProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	params, err := buildClaudeParams(messages, tools, p.modelOrDefault(model), options)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude provider: chat: %w", err)
	}
	logger.DebugCF("claude_provider", "chat completed", map[string]interface{}{
		"model":         string(params.Model),
		"stop_reason":   string(resp.StopReason),
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	})
	return parseClaudeResponse(resp), nil
}

// claudeStream adapts anthropic-sdk-go's server-sent-event stream into the
// provider-agnostic Stream contract, accumulating tool_use input_json_delta
// fragments by content-block index exactly as the agent loop expects.
type claudeStream struct {
	raw          *ssestreamIterator
	pendingChunk []StreamChunk
	idxNames     map[int64]string
	idxIDs       map[int64]string
	usage        UsageInfo
	closed       bool
}

func (p *ClaudeProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (Stream, error) {
	params, err := buildClaudeParams(messages, tools, p.modelOrDefault(model), options)
	if err != nil {
		return nil, err
	}
	stream := p.client.Messages.NewStreaming(ctx, params)
	return &claudeStream{
		raw:      &ssestreamIterator{stream: stream},
		idxNames: map[int64]string{},
		idxIDs:   map[int64]string{},
	}, nil
}

// ssestreamIterator wraps anthropic-sdk-go's *ssestream.Stream so the rest
// of this file only depends on Next()/Current()/Err()/Close(), keeping the
// concrete streaming type out of the exported Stream contract.
type ssestreamIterator struct {
	stream interface {
		Next() bool
		Current() anthropic.MessageStreamEventUnion
		Err() error
		Close() error
	}
}

func (c *claudeStream) Recv() (StreamChunk, error) {
	for len(c.pendingChunk) == 0 {
		if !c.raw.stream.Next() {
			if err := c.raw.stream.Err(); err != nil {
				return StreamChunk{}, fmt.Errorf("claude provider: stream: %w", err)
			}
			return StreamChunk{}, io.EOF
		}
		event := c.raw.stream.Current()
		c.consume(event)
	}
	chunk := c.pendingChunk[0]
	c.pendingChunk = c.pendingChunk[1:]
	return chunk, nil
}

func (c *claudeStream) consume(event anthropic.MessageStreamEventUnion) {
	switch variant := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if tu := variant.ContentBlock; tu.ID != "" {
			c.idxIDs[variant.Index] = tu.ID
			c.idxNames[variant.Index] = tu.Name
			c.pendingChunk = append(c.pendingChunk, StreamChunk{
				ToolCallDeltas: []ToolCallDelta{{
					Index: int(variant.Index),
					ID:    tu.ID,
					Name:  tu.Name,
				}},
			})
		}
	case anthropic.ContentBlockDeltaEvent:
		switch delta := variant.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			c.pendingChunk = append(c.pendingChunk, StreamChunk{Content: delta.Text})
		case anthropic.InputJSONDelta:
			c.pendingChunk = append(c.pendingChunk, StreamChunk{
				ToolCallDeltas: []ToolCallDelta{{
					Index:             int(variant.Index),
					ArgumentsFragment: delta.PartialJSON,
				}},
			})
		}
	case anthropic.MessageDeltaEvent:
		c.usage.CompletionTokens += int(variant.Usage.OutputTokens)
		c.usage.TotalTokens = c.usage.PromptTokens + c.usage.CompletionTokens
		if reason := variant.Delta.StopReason; reason != "" {
			c.pendingChunk = append(c.pendingChunk, StreamChunk{
				FinishReason: claudeFinishReason(reason),
				Usage:        &UsageInfo{PromptTokens: c.usage.PromptTokens, CompletionTokens: c.usage.CompletionTokens, TotalTokens: c.usage.TotalTokens},
			})
		}
	case anthropic.MessageStartEvent:
		c.usage.PromptTokens = int(variant.Message.Usage.InputTokens)
	}
}

func (c *claudeStream) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.raw.stream.Close()
}
