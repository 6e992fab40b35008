package llm

import "strings"

// Price is the USD cost per 1K tokens.
type Price struct {
	Input  float64
	Output float64
}

// prices per 1K tokens. Longest prefix wins so dated snapshots
// ("gpt-4o-2024-08-06") inherit their family's price.
var prices = map[string]Price{
	"gpt-4o-mini":       {Input: 0.00015, Output: 0.0006},
	"gpt-4o":            {Input: 0.0025, Output: 0.01},
	"gpt-4.1-mini":      {Input: 0.0004, Output: 0.0016},
	"gpt-4.1":           {Input: 0.002, Output: 0.008},
	"claude-3-5-haiku":  {Input: 0.0008, Output: 0.004},
	"claude-3-5-sonnet": {Input: 0.003, Output: 0.015},
	"claude-sonnet-4":   {Input: 0.003, Output: 0.015},
}

// PriceFor returns the price of model and whether it is known.
func PriceFor(model string) (Price, bool) {
	model = strings.ToLower(model)
	if _, m, ok := strings.Cut(model, "/"); ok {
		model = m
	}
	best := ""
	for prefix := range prices {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return Price{}, false
	}
	return prices[best], true
}

// EstimateCost returns the USD cost of usage on model. Unknown models cost 0.
func EstimateCost(model string, usage Usage) float64 {
	p, ok := PriceFor(model)
	if !ok {
		return 0
	}
	return float64(usage.InputTokens)/1000*p.Input + float64(usage.OutputTokens)/1000*p.Output
}
