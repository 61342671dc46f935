package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/llm-governance-gateway/services/providers"
	"go.uber.org/zap"
)

const (
	decisionPath = "/v1/data/governance"
	policiesPath = "/v1/policies"

	// ViolationPolicyError marks a decision the client produced itself
	// because the policy service could not be consulted.
	ViolationPolicyError = "policy_error"

	defaultMaxTokens = 1000
	tokenTTL         = time.Minute
)

// Violation is one reason a request was denied
type Violation struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Decision is the policy service's verdict on a single request
type Decision struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations"`
}

// BudgetSnapshot is the current spend position sent alongside a query
type BudgetSnapshot struct {
	DailyLimit   float64
	MonthlyLimit float64
	DailySpend   float64
	MonthlySpend float64
}

// Query describes the request being evaluated. Exactly one of Messages or
// Prompt is normally set.
type Query struct {
	UserID        string
	ProjectID     *string
	Provider      string
	Model         string
	EstimatedCost float64
	MaxTokens     int
	Messages      []providers.Message
	Prompt        string
	Budget        BudgetSnapshot
}

// Config holds policy client settings
type Config struct {
	URL              string
	AuthSecret       string
	Issuer           string
	Timeout          time.Duration
	AllowedModels    []string
	AllowedProviders []string
	MaxTokensLimit   int
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		URL:              "http://localhost:8181",
		Issuer:           "llm-governance-gateway",
		Timeout:          5 * time.Second,
		AllowedModels:    []string{"gpt-3.5-turbo", "gpt-4", "claude-3-sonnet", "gemini-pro"},
		AllowedProviders: []string{"openai", "anthropic", "google"},
		MaxTokensLimit:   4000,
	}
}

// Client queries an OPA-compatible policy decision service. It fails
// closed: any failure to obtain a decision yields a denial.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient creates a new policy Client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: providers.NewHTTPClient(cfg.Timeout),
		logger:     logger,
		now:        time.Now,
	}
}

type decisionInput struct {
	Request          requestDoc `json:"request"`
	Budget           budgetDoc  `json:"budget"`
	AllowedModels    []string   `json:"allowed_models"`
	AllowedProviders []string   `json:"allowed_providers"`
	Limits           limitsDoc  `json:"limits"`
	Spend            spendDoc   `json:"spend"`
}

type requestDoc struct {
	Provider      string              `json:"provider"`
	Model         string              `json:"model"`
	UserID        string              `json:"user_id"`
	ProjectID     *string             `json:"project_id"`
	EstimatedCost float64             `json:"estimated_cost"`
	MaxTokens     int                 `json:"max_tokens"`
	Messages      []providers.Message `json:"messages"`
	Prompt        string              `json:"prompt"`
}

type budgetDoc struct {
	DailyLimit   float64 `json:"daily_limit"`
	MonthlyLimit float64 `json:"monthly_limit"`
}

type limitsDoc struct {
	MaxTokens int `json:"max_tokens"`
}

type spendDoc struct {
	Daily   float64 `json:"daily"`
	Monthly float64 `json:"monthly"`
}

type decisionResponse struct {
	Result *struct {
		Allow      bool        `json:"allow"`
		Violations []Violation `json:"violations"`
	} `json:"result"`
}

// CheckRequest asks the policy service whether q may proceed. It never
// returns an error; failures become a policy_error denial.
func (c *Client) CheckRequest(ctx context.Context, q Query) *Decision {
	decision, err := c.query(ctx, q)
	if err != nil {
		c.logger.Error("policy check failed, denying request",
			zap.String("user_id", q.UserID),
			zap.String("provider", q.Provider),
			zap.String("model", q.Model),
			zap.Error(err))
		return &Decision{
			Allowed:    false,
			Violations: []Violation{{Type: ViolationPolicyError, Message: "policy engine unavailable"}},
		}
	}

	c.logger.Info("policy check completed",
		zap.String("user_id", q.UserID),
		zap.String("provider", q.Provider),
		zap.String("model", q.Model),
		zap.Bool("allowed", decision.Allowed),
		zap.Int("violations", len(decision.Violations)))
	return decision
}

func (c *Client) query(ctx context.Context, q Query) (*Decision, error) {
	maxTokens := q.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	messages := q.Messages
	if messages == nil {
		messages = []providers.Message{}
	}

	input := decisionInput{
		Request: requestDoc{
			Provider:      q.Provider,
			Model:         q.Model,
			UserID:        q.UserID,
			ProjectID:     q.ProjectID,
			EstimatedCost: q.EstimatedCost,
			MaxTokens:     maxTokens,
			Messages:      messages,
			Prompt:        q.Prompt,
		},
		Budget:           budgetDoc{DailyLimit: q.Budget.DailyLimit, MonthlyLimit: q.Budget.MonthlyLimit},
		AllowedModels:    c.cfg.AllowedModels,
		AllowedProviders: c.cfg.AllowedProviders,
		Limits:           limitsDoc{MaxTokens: c.cfg.MaxTokensLimit},
		Spend:            spendDoc{Daily: q.Budget.DailySpend, Monthly: q.Budget.MonthlySpend},
	}

	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy input: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, decisionPath, body, q.UserID)
	if err != nil {
		return nil, err
	}

	var resp decisionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode policy decision: %w", err)
	}
	// OPA omits result entirely when the policy is undefined
	if resp.Result == nil {
		return nil, fmt.Errorf("policy decision has no result")
	}

	violations := resp.Result.Violations
	if violations == nil {
		violations = []Violation{}
	}
	return &Decision{Allowed: resp.Result.Allow, Violations: violations}, nil
}

// GetPolicyBundle returns the policy modules loaded in the policy service
func (c *Client) GetPolicyBundle(ctx context.Context) (map[string]any, error) {
	respBody, err := c.do(ctx, http.MethodGet, policiesPath, nil, "")
	if err != nil {
		return nil, err
	}
	var bundle map[string]any
	if err := json.Unmarshal(respBody, &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode policy bundle: %w", err)
	}
	return bundle, nil
}

// UpdatePolicy uploads a Rego module under name
func (c *Client) UpdatePolicy(ctx context.Context, name, module string) error {
	_, err := c.doContent(ctx, http.MethodPut, policiesPath+"/"+name, []byte(module), "text/plain", "")
	return err
}

// TestPolicy evaluates the named decision path against input
func (c *Client) TestPolicy(ctx context.Context, path string, input any) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy input: %w", err)
	}
	respBody, err := c.do(ctx, http.MethodPost, "/v1/data/"+strings.TrimLeft(path, "/"), body, "")
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to decode policy result: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, subject string) ([]byte, error) {
	return c.doContent(ctx, method, path, body, "application/json", subject)
}

func (c *Client) doContent(ctx context.Context, method, path string, body []byte, contentType, subject string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	if c.cfg.AuthSecret != "" {
		token, err := c.signToken(subject)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("policy service unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("policy service returned status %d", resp.StatusCode)
	}
	return respBody, nil
}

// signToken issues a short-lived HS256 token for the policy service
func (c *Client) signToken(subject string) (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.cfg.Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.cfg.AuthSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign policy token: %w", err)
	}
	return token, nil
}
