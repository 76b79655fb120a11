package providers

// ChatOptions is the typed form of the per-request tuning the agent loop
// and compaction pass to a provider: the loop sends its configured
// max-tokens/temperature pair, compaction pins temperature to zero for a
// deterministic summary.
type ChatOptions struct {
	MaxTokens   int
	Temperature float64
}

// ToMap converts ChatOptions to the generic options map providers accept.
// MaxTokens is omitted when non-positive so the provider's own default
// applies.
func (o ChatOptions) ToMap() map[string]interface{} {
	opts := map[string]interface{}{
		"temperature": o.Temperature,
	}
	if o.MaxTokens > 0 {
		opts["max_tokens"] = o.MaxTokens
	}
	return opts
}
