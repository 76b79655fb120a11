package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tripdesigner/agent/pkg/logger"
	"github.com/tripdesigner/agent/pkg/providers"
)

// ExecuteToolCallsOptions configures a single batch of tool calls — the
// itinerary/session identifiers stamped into every call's context, a
// per-call timeout, bounded parallelism, and a progress hook.
type ExecuteToolCallsOptions struct {
	ItineraryID string
	SessionKey  string
	Timeout     time.Duration
	MaxParallel int // <=0 means unlimited within this batch

	LogComponent string // default: "tool"
	Iteration    int

	OnToolComplete func(completed, total, index int, call providers.ToolCall, result providers.Message)
}

// ExecuteToolCalls executes a batch of tool calls with optional per-tool
// timeout and bounded parallelism. Results are returned in original call
// order, each wrapped in the registry's success/error envelope.
func (r *ToolRegistry) ExecuteToolCalls(
	ctx context.Context,
	toolCalls []providers.ToolCall,
	opts ExecuteToolCallsOptions,
) []providers.Message {
	n := len(toolCalls)
	if n == 0 {
		return nil
	}

	component := opts.LogComponent
	if component == "" {
		component = "tool"
	}

	parallelLimit := n
	if opts.MaxParallel > 0 && opts.MaxParallel < parallelLimit {
		parallelLimit = opts.MaxParallel
	}

	results := make([]providers.Message, n)
	sem := make(chan struct{}, parallelLimit)
	doneCh := make(chan int, n)

	var wg sync.WaitGroup
	for i, tc := range toolCalls {
		wg.Add(1)
		go func(idx int, tc providers.ToolCall) {
			acquired := false
			defer func() {
				if acquired {
					<-sem
				}
				if rec := recover(); rec != nil {
					logger.ErrorCF(component, "recovered panic in tool execution",
						map[string]interface{}{
							"tool":      tc.Name,
							"iteration": opts.Iteration,
							"panic":     fmt.Sprintf("%v", rec),
						})
					results[idx] = providers.ToolResultMessage(tc.ID, envelopeError(fmt.Sprintf("tool %s panicked: %v", tc.Name, rec)))
				}
				doneCh <- idx
				wg.Done()
			}()

			select {
			case sem <- struct{}{}:
				acquired = true
			case <-ctx.Done():
				results[idx] = providers.ToolResultMessage(tc.ID, envelopeError(ctx.Err().Error()))
				return
			}

			// The raw accumulated string goes through verbatim so the
			// registry's parse guard sees empty arguments as the model sent
			// them.
			argsJSON := providers.MarshalToolCallArguments(tc)
			if tc.Function != nil {
				argsJSON = tc.Function.Arguments
			}
			logger.InfoCF(component, fmt.Sprintf("tool call: %s", tc.Name),
				map[string]interface{}{
					"tool":      tc.Name,
					"iteration": opts.Iteration,
				})

			toolCtx := ctx
			cancel := func() {}
			if opts.Timeout > 0 {
				toolCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
			}
			result := r.ExecuteWithContext(toolCtx, tc.Name, argsJSON, opts.ItineraryID, opts.SessionKey)
			cancel()

			results[idx] = providers.ToolResultMessage(tc.ID, result)
		}(i, tc)
	}

	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		completed := 0
		for range n {
			idx := <-doneCh
			completed++
			if opts.OnToolComplete != nil {
				opts.OnToolComplete(completed, n, idx, toolCalls[idx], results[idx])
			}
		}
	}()

	wg.Wait()
	<-progressDone

	return results
}
