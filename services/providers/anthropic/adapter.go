// Package anthropic adapts the Anthropic Messages API to the gateway's
// provider interface.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/upb/llm-governance-gateway/services/providers"
)

const (
	defaultBaseURL    = "https://api.anthropic.com"
	defaultAPIVersion = "2023-06-01"
	defaultMaxTokens  = 1000
	providerName      = "anthropic"
)

var supportedModels = []string{"claude-3-opus", "claude-3-sonnet", "claude-3-haiku", "claude-2.1"}

// Adapter implements providers.Provider for Anthropic
type Adapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewAdapter creates a new Anthropic adapter
func NewAdapter(config providers.ProviderConfig) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.APIVersion == "" {
		config.APIVersion = defaultAPIVersion
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &Adapter{
		config:     config,
		httpClient: providers.NewHTTPClient(config.Timeout),
	}
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) ListModels() []string {
	return append([]string(nil), supportedModels...)
}

// EstimateCost prices usage against the Anthropic price table
func (a *Adapter) EstimateCost(model string, usage providers.Usage) float64 {
	return providers.AnthropicPrices.Cost(model, usage)
}

// ChatCompletion sends the conversation to /v1/messages
func (a *Adapter) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	resp, err := a.send(ctx, req.Model, convertMessages(req.Messages), req.MaxTokens, req.Temperature)
	if err != nil {
		return nil, err
	}
	resp.Choices[0].Message = &providers.Message{Role: "assistant", Content: resp.Choices[0].Text}
	resp.Choices[0].Text = ""
	return resp, nil
}

// TextCompletion sends the prompt as a single user turn
func (a *Adapter) TextCompletion(ctx context.Context, req *providers.CompletionRequest) (*providers.ChatResponse, error) {
	messages := []Message{{Role: "user", Content: req.Prompt}}
	return a.send(ctx, req.Model, messages, req.MaxTokens, req.Temperature)
}

// convertMessages maps canonical messages to Anthropic's shape. The API
// has no system role in the turn list, so system content is folded into the
// first user turn, or becomes a user turn of its own when none exists yet.
func convertMessages(in []providers.Message) []Message {
	out := make([]Message, 0, len(in))
	for _, msg := range in {
		switch msg.Role {
		case "user", "assistant":
			out = append(out, Message{Role: msg.Role, Content: msg.Content})
		case "system":
			if len(out) > 0 && out[0].Role == "user" {
				out[0].Content = msg.Content + "\n\n" + out[0].Content
			} else {
				out = append(out, Message{Role: "user", Content: msg.Content})
			}
		}
	}
	return out
}

func (a *Adapter) send(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64) (*providers.ChatResponse, error) {
	startTime := time.Now()
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body, err := json.Marshal(MessagesRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, providers.NewProviderError(providerName, "MARSHAL_ERROR", "Failed to marshal request", 0, false, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, providers.NewProviderError(providerName, "REQUEST_ERROR", "Failed to create request", 0, false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", a.config.APIVersion)
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.TransportError(providerName, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.TransportError(providerName, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var msgResp MessagesResponse
	if err := json.Unmarshal(respBody, &msgResp); err != nil {
		return nil, providers.NewProviderError(providerName, "UNMARSHAL_ERROR", "Failed to unmarshal response", httpResp.StatusCode, false, err)
	}
	if len(msgResp.Content) == 0 {
		return nil, providers.NewProviderError(providerName, "EMPTY_RESPONSE", "Response had no content blocks", httpResp.StatusCode, false, nil)
	}

	var text string
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	usage := providers.Usage{
		PromptTokens:     msgResp.Usage.InputTokens,
		CompletionTokens: msgResp.Usage.OutputTokens,
		TotalTokens:      msgResp.Usage.InputTokens + msgResp.Usage.OutputTokens,
	}
	usage.TotalCost = providers.AnthropicPrices.Cost(model, usage)

	return &providers.ChatResponse{
		ID:       msgResp.ID,
		Model:    model,
		Provider: providerName,
		Choices: []providers.Choice{{
			Index:        0,
			Text:         text,
			FinishReason: msgResp.StopReason,
		}},
		Usage:   usage,
		Latency: time.Since(startTime),
		Created: time.Now(),
	}, nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	retryable := providers.RetryableStatus(statusCode) || statusCode == 529

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return providers.NewProviderError(providerName, "UNKNOWN_ERROR", string(body), statusCode, retryable, nil)
	}
	return providers.NewProviderError(providerName, errResp.Error.Type, errResp.Error.Message, statusCode, retryable,
		errors.New(errResp.Error.Message))
}

// Anthropic wire types

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type MessagesRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type ErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
