package agentloop

// modelPricing carries per-million-token rates for a model. Costs default
// to a conservative mid-tier rate for unrecognized models rather than
// reporting zero.
type modelPricing struct {
	inputPerM  float64
	outputPerM float64
}

var pricing = map[string]modelPricing{
	"gpt-4o-mini":        {0.15, 0.6},
	"gpt-4o":             {2.5, 10.0},
	"gpt-4.1":            {2.0, 8.0},
	"gpt-4.1-mini":       {0.4, 1.6},
	"claude-sonnet-4-5":  {3.0, 15.0},
	"claude-haiku-4-5":   {0.8, 4.0},
	"claude-opus-4-5":    {15.0, 75.0},
}

var defaultPricing = modelPricing{2.5, 10.0}

// calculateCostUSD prices one completion call's token usage.
func calculateCostUSD(model string, promptTokens, completionTokens int) float64 {
	p, ok := pricing[model]
	if !ok {
		p = defaultPricing
	}
	return float64(promptTokens)*p.inputPerM/1e6 + float64(completionTokens)*p.outputPerM/1e6
}
