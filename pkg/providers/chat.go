package providers

import (
	"context"
	"time"
)

// ChatWithTimeout bounds a non-streaming Chat call with its own deadline.
// The compaction path goes through here so a slow summarization call
// cannot stall a turn indefinitely. timeout <= 0 applies no additional
// bound beyond the caller's context.
func ChatWithTimeout(
	ctx context.Context,
	timeout time.Duration,
	provider LLMProvider,
	messages []Message,
	tools []ToolDefinition,
	model string,
	options map[string]interface{},
) (*LLMResponse, error) {
	if timeout <= 0 {
		return provider.Chat(ctx, messages, tools, model, options)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return provider.Chat(callCtx, messages, tools, model, options)
}
