package providers

import "strings"

// CharsPerToken is the token proxy used when a provider reports no usage
const CharsPerToken = 4

// Price is USD per 1000 tokens
type Price struct {
	Input  float64
	Output float64
}

// PriceRule prices every model whose name contains Match
type PriceRule struct {
	Match string
	Price Price
}

// PriceTable is an ordered list of rules; the first matching rule wins.
type PriceTable []PriceRule

var (
	OpenAIPrices = PriceTable{
		{Match: "gpt-4", Price: Price{Input: 0.03, Output: 0.06}},
		{Match: "gpt-3.5", Price: Price{Input: 0.0015, Output: 0.002}},
	}

	AnthropicPrices = PriceTable{
		{Match: "claude-3-opus", Price: Price{Input: 0.015, Output: 0.075}},
		{Match: "claude-3-sonnet", Price: Price{Input: 0.003, Output: 0.015}},
		{Match: "claude-2", Price: Price{Input: 0.008, Output: 0.024}},
	}

	GooglePrices = PriceTable{
		{Match: "gemini-pro", Price: Price{Input: 0.0005, Output: 0.0005}},
	}
)

// Lookup returns the price for model. Unknown models report false.
func (t PriceTable) Lookup(model string) (Price, bool) {
	for _, rule := range t {
		if strings.Contains(model, rule.Match) {
			return rule.Price, true
		}
	}
	return Price{}, false
}

// Cost prices token usage. Unknown models cost 0.
func (t PriceTable) Cost(model string, usage Usage) float64 {
	price, ok := t.Lookup(model)
	if !ok {
		return 0
	}
	return (float64(usage.PromptTokens)*price.Input + float64(usage.CompletionTokens)*price.Output) / 1000
}

// CharCost prices content by length, for providers that return no token
// counts. Characters are converted at CharsPerToken and billed at the input rate.
func (t PriceTable) CharCost(model string, chars int) float64 {
	price, ok := t.Lookup(model)
	if !ok {
		return 0
	}
	tokens := float64(chars) / CharsPerToken
	return tokens * price.Input / 1000
}
