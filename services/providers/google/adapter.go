// Package google adapts the Gemini generateContent REST API to the
// gateway's provider interface.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/llm-governance-gateway/services/providers"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	providerName   = "google"
)

var supportedModels = []string{"gemini-pro", "gemini-1.5-pro", "gemini-1.5-flash"}

// Adapter implements providers.Provider for Gemini. Gemini usage metadata
// is not relied on: responses report zero tokens and are priced by
// character count.
type Adapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewAdapter creates a new Gemini adapter
func NewAdapter(config providers.ProviderConfig) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
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

// EstimateCost prices usage from token counts when a caller has them.
// Responses from this adapter carry zero tokens and their cost already set.
func (a *Adapter) EstimateCost(model string, usage providers.Usage) float64 {
	return providers.GooglePrices.Cost(model, usage)
}

// ChatCompletion sends the conversation to generateContent. Assistant
// turns map to the "model" role and system messages to systemInstruction.
func (a *Adapter) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	body := GenerateRequest{
		GenerationConfig: generationConfig(req.MaxTokens, req.Temperature),
	}

	var system []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			system = append(system, msg.Content)
		case "assistant":
			body.Contents = append(body.Contents, Content{Role: "model", Parts: []Part{{Text: msg.Content}}})
		default:
			body.Contents = append(body.Contents, Content{Role: "user", Parts: []Part{{Text: msg.Content}}})
		}
	}
	if len(system) > 0 {
		body.SystemInstruction = &Content{Parts: []Part{{Text: strings.Join(system, "\n\n")}}}
	}

	var lastChars int
	if n := len(req.Messages); n > 0 {
		lastChars = len(req.Messages[n-1].Content)
	}

	resp, err := a.generate(ctx, req.Model, body, lastChars)
	if err != nil {
		return nil, err
	}
	resp.Choices[0].Message = &providers.Message{Role: "assistant", Content: resp.Choices[0].Text}
	resp.Choices[0].Text = ""
	return resp, nil
}

// TextCompletion sends the prompt as a single user turn
func (a *Adapter) TextCompletion(ctx context.Context, req *providers.CompletionRequest) (*providers.ChatResponse, error) {
	body := GenerateRequest{
		Contents:         []Content{{Role: "user", Parts: []Part{{Text: req.Prompt}}}},
		GenerationConfig: generationConfig(req.MaxTokens, req.Temperature),
	}
	return a.generate(ctx, req.Model, body, len(req.Prompt))
}

func generationConfig(maxTokens int, temperature float64) *GenerationConfig {
	cfg := &GenerationConfig{Temperature: temperature}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = maxTokens
	}
	return cfg
}

func (a *Adapter) generate(ctx context.Context, model string, body GenerateRequest, billedChars int) (*providers.ChatResponse, error) {
	startTime := time.Now()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, providers.NewProviderError(providerName, "MARSHAL_ERROR", "Failed to marshal request", 0, false, err)
	}

	endpoint := a.config.BaseURL + "/models/" + url.PathEscape(model) + ":generateContent"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, providers.NewProviderError(providerName, "REQUEST_ERROR", "Failed to create request", 0, false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.config.APIKey)
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

	var genResp GenerateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return nil, providers.NewProviderError(providerName, "UNMARSHAL_ERROR", "Failed to unmarshal response", httpResp.StatusCode, false, err)
	}
	if len(genResp.Candidates) == 0 {
		return nil, providers.NewProviderError(providerName, "EMPTY_RESPONSE", "Response had no candidates", httpResp.StatusCode, false, nil)
	}

	candidate := genResp.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}

	return &providers.ChatResponse{
		ID:       uuid.New().String(),
		Model:    model,
		Provider: providerName,
		Choices: []providers.Choice{{
			Index:        0,
			Text:         text.String(),
			FinishReason: "stop",
		}},
		Usage: providers.Usage{
			TotalCost: providers.GooglePrices.CharCost(model, billedChars),
		},
		Latency: time.Since(startTime),
		Created: time.Now(),
	}, nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	retryable := providers.RetryableStatus(statusCode)

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return providers.NewProviderError(providerName, "UNKNOWN_ERROR", string(body), statusCode, retryable, nil)
	}
	return providers.NewProviderError(providerName, errResp.Error.Status, errResp.Error.Message, statusCode, retryable,
		errors.New(errResp.Error.Message))
}

// Gemini wire types

type Part struct {
	Text string `json:"text"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type GenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

type GenerateRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type GenerateResponse struct {
	Candidates []Candidate `json:"candidates"`
}

type ErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
