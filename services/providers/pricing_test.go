package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriceTable_Cost(t *testing.T) {
	usage := Usage{PromptTokens: 1000, CompletionTokens: 500}

	tests := []struct {
		name  string
		table PriceTable
		model string
		want  float64
	}{
		{"gpt-4", OpenAIPrices, "gpt-4", 0.03 + 0.03},
		{"gpt-4 variant by substring", OpenAIPrices, "gpt-4-turbo", 0.03 + 0.03},
		{"gpt-3.5", OpenAIPrices, "gpt-3.5-turbo", 0.0015 + 0.001},
		{"unknown openai model", OpenAIPrices, "davinci", 0},
		{"claude opus", AnthropicPrices, "claude-3-opus-20240229", 0.015 + 0.0375},
		{"claude sonnet", AnthropicPrices, "claude-3-sonnet", 0.003 + 0.0075},
		{"claude 2", AnthropicPrices, "claude-2.1", 0.008 + 0.012},
		{"unknown claude", AnthropicPrices, "claude-instant", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.table.Cost(tt.model, usage), 1e-12)
		})
	}
}

func TestPriceTable_FirstMatchWins(t *testing.T) {
	table := PriceTable{
		{Match: "gpt", Price: Price{Input: 1}},
		{Match: "gpt-4", Price: Price{Input: 2}},
	}
	price, ok := table.Lookup("gpt-4")
	assert.True(t, ok)
	assert.Equal(t, 1.0, price.Input)
}

func TestPriceTable_CharCost(t *testing.T) {
	// 4000 chars ~ 1000 tokens at 0.0005 per 1K
	assert.InDelta(t, 0.0005, GooglePrices.CharCost("gemini-pro", 4000), 1e-12)
	assert.Zero(t, GooglePrices.CharCost("gemini-ultra", 4000))
	assert.Zero(t, GooglePrices.CharCost("gemini-pro", 0))
}
