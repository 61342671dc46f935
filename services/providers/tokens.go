package providers

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenEstimator counts prompt tokens before dispatch so that requests
// arriving without a client cost estimate can still be priced for budget and
// policy checks. OpenAI models use tiktoken; everything else falls back to
// characters / 4.
type TokenEstimator struct {
	mu     sync.RWMutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

// NewTokenEstimator creates a TokenEstimator
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{codecs: make(map[tokenizer.Encoding]tokenizer.Codec)}
}

// Count returns the token count of text under model's encoding
func (e *TokenEstimator) Count(model, text string) int {
	if !isOpenAIModel(model) {
		return charTokens(text)
	}
	codec, err := e.codec(model)
	if err != nil {
		return charTokens(text)
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return charTokens(text)
	}
	return len(ids)
}

// CountMessages counts a chat conversation, including the per-message
// framing overhead OpenAI chat models add.
func (e *TokenEstimator) CountMessages(model string, messages []Message) int {
	if !isOpenAIModel(model) {
		total := 0
		for _, m := range messages {
			total += charTokens(m.Content)
		}
		return total
	}

	// 3 tokens per message + 1 for role, plus 3 for assistant priming
	total := 3
	for _, m := range messages {
		total += 4 + e.Count(model, m.Content)
	}
	return total
}

func (e *TokenEstimator) codec(model string) (tokenizer.Codec, error) {
	enc := encodingFor(model)

	e.mu.RLock()
	codec, ok := e.codecs[enc]
	e.mu.RUnlock()
	if ok {
		return codec, nil
	}

	codec, err := tokenizer.Get(enc)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.codecs[enc] = codec
	e.mu.Unlock()
	return codec, nil
}

func encodingFor(model string) tokenizer.Encoding {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "gpt-4.1"), strings.HasPrefix(model, "gpt-5"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.Cl100kBase
	case strings.HasPrefix(model, "text-davinci"):
		return tokenizer.P50kBase
	default:
		return tokenizer.O200kBase
	}
}

func isOpenAIModel(model string) bool {
	model = strings.ToLower(model)
	return strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "text-davinci")
}

func charTokens(text string) int {
	return len(text) / CharsPerToken
}
