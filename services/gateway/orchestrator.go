// Package gateway runs every request through admission control, dispatch
// and accounting. Stage order is fixed: policy, input safety, budget, cache,
// breaker, dispatch, output safety, usage recording, cache store.
package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/upb/llm-governance-gateway/internal/kvstore"
	"github.com/upb/llm-governance-gateway/models"
	"github.com/upb/llm-governance-gateway/services/audit"
	"github.com/upb/llm-governance-gateway/services/breaker"
	"github.com/upb/llm-governance-gateway/services/budget"
	"github.com/upb/llm-governance-gateway/services/cache"
	"github.com/upb/llm-governance-gateway/services/policy"
	"github.com/upb/llm-governance-gateway/services/providers"
	"github.com/upb/llm-governance-gateway/services/safety"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	kindChat       = "chat"
	kindCompletion = "completion"

	tracerName = "github.com/upb/llm-governance-gateway/services/gateway"

	// assumed completion length when the client sets no max_tokens
	defaultMaxTokens = 1000
)

// PolicyChecker decides whether a request is permitted
type PolicyChecker interface {
	CheckRequest(ctx context.Context, q policy.Query) *policy.Decision
}

// Config holds orchestrator settings
type Config struct {
	ABTesting bool
	ABRatio   float64
	ABTimeout time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		ABRatio:   DefaultABRatio,
		ABTimeout: DefaultABTimeout,
	}
}

// Dependencies are the collaborators the orchestrator composes. All are
// constructed once at startup and shared by every request.
type Dependencies struct {
	Policy     PolicyChecker
	Safety     *safety.Evaluator
	Budget     *budget.Ledger
	Cache      *cache.Cache
	Breakers   *breaker.Registry
	Providers  *providers.Registry
	Dispatcher *providers.Dispatcher
	Tokens     *providers.TokenEstimator
	Audit      audit.Sink
	// Store backs the caches; only used for status reporting
	Store kvstore.Store
	// Tracer defaults to the global provider's tracer
	Tracer trace.Tracer
}

// Orchestrator is the governance pipeline
type Orchestrator struct {
	cfg        Config
	policy     PolicyChecker
	safety     *safety.Evaluator
	budget     *budget.Ledger
	cache      *cache.Cache
	breakers   *breaker.Registry
	providers  *providers.Registry
	dispatcher *providers.Dispatcher
	tokens     *providers.TokenEstimator
	audit      audit.Sink
	store      kvstore.Store
	tracer     trace.Tracer
	logger     *zap.Logger
	flight     singleflight.Group
	now        func() time.Time

	// lifetime of background comparison requests
	baseCtx  context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	closed   bool
	variants sync.WaitGroup
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(cfg Config, deps Dependencies, logger *zap.Logger) *Orchestrator {
	if cfg.ABRatio < 0 {
		cfg.ABRatio = 0
	}
	if cfg.ABTimeout <= 0 {
		cfg.ABTimeout = DefaultABTimeout
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if deps.Tokens == nil {
		deps.Tokens = providers.NewTokenEstimator()
	}
	if deps.Cache == nil {
		deps.Cache = cache.New(nil, 0, false, logger)
	}
	if deps.Breakers == nil {
		deps.Breakers = breaker.NewRegistry(breaker.DefaultConfig(), deps.Providers.ListProviders()...)
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = providers.NewDispatcher(providers.DefaultRetryConfig(), logger)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		policy:     deps.Policy,
		safety:     deps.Safety,
		budget:     deps.Budget,
		cache:      deps.Cache,
		breakers:   deps.Breakers,
		providers:  deps.Providers,
		dispatcher: deps.Dispatcher,
		tokens:     deps.Tokens,
		audit:      deps.Audit,
		store:      deps.Store,
		tracer:     deps.Tracer,
		logger:     logger,
		now:        time.Now,
		baseCtx:    baseCtx,
		cancel:     cancel,
	}
}

// call is the per-request pipeline state shared by both variants
type call struct {
	kind      string
	common    Common
	requestID string
	traceID   string
	start     time.Time
	messages  []providers.Message
	prompt    string
	cacheKey  string
	estimate  float64
	dispatch  func(ctx context.Context, p providers.Provider, model string) (*providers.ChatResponse, error)
}

func (c *call) inputText() string {
	if c.kind == kindCompletion {
		return c.prompt
	}
	parts := make([]string, len(c.messages))
	for i, m := range c.messages {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n")
}

// snapshot is the request as recorded in the audit trail, with credentials
// scrubbed from the text
func (c *call) snapshot() map[string]any {
	s := map[string]any{
		"kind":        c.kind,
		"provider":    c.common.Provider,
		"model":       c.common.Model,
		"max_tokens":  c.common.MaxTokens,
		"temperature": c.common.Temperature,
		"estimated":   c.estimate,
	}
	if c.kind == kindCompletion {
		s["prompt"] = audit.RedactSecrets(c.prompt)
	} else {
		msgs := make([]providers.Message, len(c.messages))
		for i, m := range c.messages {
			m.Content = audit.RedactSecrets(m.Content)
			msgs[i] = m
		}
		s["messages"] = msgs
	}
	return s
}

// dispatchOutcome is what the single-flight leader shares with followers
type dispatchOutcome struct {
	resp         *providers.ChatResponse
	cost         float64
	outputSafety *safety.Result
	redacted     bool
	// the leader found the response already cached on its re-check
	cached bool
}

// Chat runs a chat completion request through the pipeline
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (*Result, error) {
	c := &call{
		kind:     kindChat,
		common:   req.Common,
		messages: req.Messages,
		cacheKey: cache.ChatKey(req.Provider, req.Model, req.Messages, req.MaxTokens, req.Temperature),
	}
	c.dispatch = func(ctx context.Context, p providers.Provider, model string) (*providers.ChatResponse, error) {
		return p.ChatCompletion(ctx, &providers.ChatRequest{
			Model:       model,
			Messages:    req.Messages,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			User:        req.UserID,
		})
	}
	return o.run(ctx, c)
}

// Complete runs a single-prompt completion request through the pipeline
func (o *Orchestrator) Complete(ctx context.Context, req CompletionRequest) (*Result, error) {
	c := &call{
		kind:     kindCompletion,
		common:   req.Common,
		prompt:   req.Prompt,
		cacheKey: cache.CompletionKey(req.Provider, req.Model, req.Prompt, req.MaxTokens, req.Temperature),
	}
	c.dispatch = func(ctx context.Context, p providers.Provider, model string) (*providers.ChatResponse, error) {
		return p.TextCompletion(ctx, &providers.CompletionRequest{
			Model:       model,
			Prompt:      req.Prompt,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			User:        req.UserID,
		})
	}
	return o.run(ctx, c)
}

func (o *Orchestrator) run(ctx context.Context, c *call) (*Result, error) {
	c.start = o.now()
	c.requestID = c.common.RequestID
	if c.requestID == "" {
		c.requestID = uuid.NewString()
	}

	ctx, span := o.tracer.Start(ctx, "gateway."+c.kind, trace.WithAttributes(
		attribute.String("llm.provider", c.common.Provider),
		attribute.String("llm.model", c.common.Model),
		attribute.String("request.id", c.requestID),
	))
	defer span.End()
	if sc := span.SpanContext(); sc.HasTraceID() {
		c.traceID = sc.TraceID().String()
	}

	o.logger.Info("starting governance pipeline",
		zap.String("request_id", c.requestID),
		zap.String("kind", c.kind),
		zap.String("provider", c.common.Provider),
		zap.String("model", c.common.Model))

	res := &Result{RequestID: c.requestID, TraceID: c.traceID}
	c.estimate = o.estimateCost(c)

	// Step 1: policy
	o.logger.Debug("step 1: evaluating policy", zap.String("request_id", c.requestID))
	res.Policy = o.checkPolicy(ctx, c)
	if !res.Policy.Allowed {
		return nil, o.reject(span, c, &Rejection{
			Stage:   models.StagePolicy,
			Reason:  ReasonPolicyDenied,
			Message: "request denied by policy",
			Details: map[string]any{"violations": res.Policy.Violations},
		})
	}

	// Step 2: input safety
	o.logger.Debug("step 2: checking input safety", zap.String("request_id", c.requestID))
	in, err := o.evaluate(ctx, "gateway.input_safety", c.inputText(), safety.ModeInput)
	if err != nil {
		return nil, o.reject(span, c, internalRejection(models.StageInputSafety, err))
	}
	res.InputSafety = in
	if !in.Safe {
		return nil, o.reject(span, c, &Rejection{
			Stage:   models.StageInputSafety,
			Reason:  ReasonInputUnsafe,
			Message: "input failed safety check",
			Details: safetyDetails(in),
		})
	}

	// Step 3: budget
	o.logger.Debug("step 3: checking budget", zap.String("request_id", c.requestID))
	res.Budget = o.checkBudget(ctx, c)
	if !res.Budget.Allowed {
		return nil, o.reject(span, c, &Rejection{
			Stage:   models.StageBudget,
			Reason:  ReasonBudgetExceeded,
			Message: res.Budget.Reason,
			Details: map[string]any{
				"period":         string(res.Budget.ViolatedPeriod),
				"limit":          res.Budget.Limit,
				"current_spend":  res.Budget.CurrentSpend,
				"estimated_cost": c.estimate,
			},
		})
	}

	// Steps 4-9: cache, breaker, dispatch, output safety, usage, cache store
	if !o.cache.Enabled() {
		out, err := o.dispatchAndAccount(ctx, c)
		if err != nil {
			return nil, o.reject(span, c, asRejection(err))
		}
		return o.complete(span, c, res, out), nil
	}

	o.logger.Debug("step 4: looking up response cache", zap.String("request_id", c.requestID))
	if entry, ok := o.cache.Get(ctx, c.cacheKey); ok {
		return o.cacheHit(span, c, res, entry.Payload), nil
	}

	// Identical in-flight requests share one upstream call. The shared work
	// outlives any one caller; attempts stay bounded by the dispatcher timeout.
	var leader atomic.Bool
	shared := context.WithoutCancel(ctx)
	ch := o.flight.DoChan(c.cacheKey, func() (any, error) {
		leader.Store(true)
		if entry, ok := o.cache.Get(shared, c.cacheKey); ok {
			return &dispatchOutcome{resp: entry.Payload, cached: true}, nil
		}
		return o.dispatchAndAccount(shared, c)
	})

	var v any
	select {
	case <-ctx.Done():
		return nil, o.reject(span, c, &Rejection{
			Stage:   models.StageDispatch,
			Reason:  ReasonProviderError,
			Message: "request cancelled while waiting for provider",
			Details: map[string]any{"provider": c.common.Provider},
			cause:   ctx.Err(),
		})
	case r := <-ch:
		v, err = r.Val, r.Err
	}
	if err != nil {
		rej := asRejection(err)
		if !leader.Load() {
			rej = rej.withCorrelation(c.requestID)
		}
		return nil, o.reject(span, c, rej)
	}

	out := v.(*dispatchOutcome)
	if !leader.Load() || out.cached {
		return o.cacheHit(span, c, res, out.resp), nil
	}
	return o.complete(span, c, res, out), nil
}

// dispatchAndAccount runs the breaker gate, the upstream call, the output
// check and usage recording. Errors are always *Rejection.
func (o *Orchestrator) dispatchAndAccount(ctx context.Context, c *call) (*dispatchOutcome, error) {
	name := c.common.Provider

	// Step 5: breaker gate
	o.logger.Debug("step 5: checking circuit breaker", zap.String("request_id", c.requestID))
	p, err := o.providers.GetProvider(name)
	if err != nil {
		return nil, &Rejection{
			Stage:   models.StageBreaker,
			Reason:  ReasonProviderUnavailable,
			Message: "provider not configured",
			Details: map[string]any{"provider": name},
			cause:   err,
		}
	}
	b := o.breakers.Get(name)
	if !b.CanExecute() {
		return nil, &Rejection{
			Stage:   models.StageBreaker,
			Reason:  ReasonProviderUnavailable,
			Message: "circuit breaker open for provider",
			Details: map[string]any{"provider": name, "breaker_state": string(b.State())},
		}
	}

	if o.cfg.ABTesting && inABSample(&c.common, o.cfg.ABRatio) {
		o.startVariant(c)
	}

	// Step 6: dispatch with retry
	o.logger.Debug("step 6: dispatching to provider",
		zap.String("request_id", c.requestID),
		zap.String("provider", name))
	dctx, dspan := o.tracer.Start(ctx, "gateway.dispatch")
	resp, err := o.dispatcher.Do(dctx, name, func(ctx context.Context) (*providers.ChatResponse, error) {
		return c.dispatch(ctx, p, c.common.Model)
	})
	if err != nil {
		// a caller that went away says nothing about the provider
		if !errors.Is(ctx.Err(), context.Canceled) {
			b.OnFailure()
		}
		dspan.RecordError(err)
		dspan.SetStatus(codes.Error, "provider request failed")
		dspan.End()

		details := map[string]any{"provider": name}
		var perr *providers.ProviderError
		if errors.As(err, &perr) {
			details["status_code"] = perr.StatusCode
			details["provider_code"] = perr.Code
		}
		return nil, &Rejection{
			Stage:   models.StageDispatch,
			Reason:  ReasonProviderError,
			Message: "provider request failed",
			Details: details,
			cause:   err,
		}
	}
	b.OnSuccess()
	dspan.End()

	if resp.Provider == "" {
		resp.Provider = name
	}
	if resp.Usage.TotalCost == 0 && resp.Usage.TotalTokens > 0 {
		resp.Usage.TotalCost = p.EstimateCost(c.common.Model, resp.Usage)
	}
	out := &dispatchOutcome{resp: resp, cost: resp.Usage.TotalCost}

	// Step 7: output safety
	o.logger.Debug("step 7: checking output safety", zap.String("request_id", c.requestID))
	rej := o.checkOutput(ctx, out)

	// Step 8: usage recording. Blocked responses are still billed upstream.
	o.logger.Debug("step 8: recording usage", zap.String("request_id", c.requestID))
	status := models.UsageStatusCompleted
	switch {
	case rej != nil:
		status = models.UsageStatusBlocked
	case out.redacted:
		status = models.UsageStatusRedacted
	}
	o.recordUsage(ctx, c, out, status)
	if rej != nil {
		return nil, rej
	}

	// Step 9: cache store
	if err := o.cache.Put(ctx, c.cacheKey, name, c.common.Model, resp); err != nil {
		o.logger.Warn("failed to store response in cache",
			zap.String("request_id", c.requestID),
			zap.Error(err))
	}
	return out, nil
}

// checkOutput evaluates every choice. PII-only violations are redacted in
// place; any other violation blocks the response.
func (o *Orchestrator) checkOutput(ctx context.Context, out *dispatchOutcome) *Rejection {
	for i := range out.resp.Choices {
		content := out.resp.Choices[i].Content()
		if content == "" {
			continue
		}

		result, err := o.evaluate(ctx, "gateway.output_safety", content, safety.ModeOutput)
		if err != nil {
			return internalRejection(models.StageOutputSafety, err)
		}
		if out.outputSafety == nil || !result.Safe {
			out.outputSafety = result
		}
		if result.Safe {
			continue
		}

		if result.PIIOnly() && result.RedactedContent != nil && *result.RedactedContent != content {
			out.resp.Choices[i].SetContent(*result.RedactedContent)
			out.redacted = true
			continue
		}

		return &Rejection{
			Stage:   models.StageOutputSafety,
			Reason:  ReasonOutputUnsafe,
			Message: "response failed safety check",
			Details: safetyDetails(result),
		}
	}
	return nil
}

func (o *Orchestrator) checkPolicy(ctx context.Context, c *call) *policy.Decision {
	ctx, span := o.tracer.Start(ctx, "gateway.policy")
	defer span.End()

	snap := o.budget.Snapshot(ctx, c.common.ProjectID)
	decision := o.policy.CheckRequest(ctx, policy.Query{
		UserID:        c.common.UserID,
		ProjectID:     c.common.ProjectID,
		Provider:      c.common.Provider,
		Model:         c.common.Model,
		EstimatedCost: c.estimate,
		MaxTokens:     c.common.MaxTokens,
		Messages:      c.messages,
		Prompt:        c.prompt,
		Budget: policy.BudgetSnapshot{
			DailyLimit:   snap.DailyLimit,
			MonthlyLimit: snap.MonthlyLimit,
			DailySpend:   snap.DailySpend,
			MonthlySpend: snap.MonthlySpend,
		},
	})
	span.SetAttributes(attribute.Bool("policy.allowed", decision.Allowed))
	return decision
}

func (o *Orchestrator) evaluate(ctx context.Context, spanName, content string, mode safety.Mode) (*safety.Result, error) {
	ctx, span := o.tracer.Start(ctx, spanName)
	defer span.End()

	result, err := o.safety.Evaluate(ctx, content, mode)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("safety.safe", result.Safe),
		attribute.Float64("safety.risk_score", result.RiskScore))
	return result, nil
}

func (o *Orchestrator) checkBudget(ctx context.Context, c *call) *budget.CheckResult {
	ctx, span := o.tracer.Start(ctx, "gateway.budget")
	defer span.End()

	result := o.budget.CheckBudget(ctx, c.common.ProjectID, c.estimate)
	span.SetAttributes(
		attribute.Bool("budget.allowed", result.Allowed),
		attribute.Bool("budget.fail_open", result.FailOpen))
	return result
}

// estimateCost uses the client's estimate when present, otherwise prices the
// prompt tokens plus the full completion allowance.
func (o *Orchestrator) estimateCost(c *call) float64 {
	if c.common.EstimatedCost > 0 {
		return c.common.EstimatedCost
	}
	p, err := o.providers.GetProvider(c.common.Provider)
	if err != nil {
		return 0
	}

	var prompt int
	if c.kind == kindCompletion {
		prompt = o.tokens.Count(c.common.Model, c.prompt)
	} else {
		prompt = o.tokens.CountMessages(c.common.Model, c.messages)
	}
	completion := c.common.MaxTokens
	if completion <= 0 {
		completion = defaultMaxTokens
	}
	return p.EstimateCost(c.common.Model, providers.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	})
}

func (o *Orchestrator) recordUsage(ctx context.Context, c *call, out *dispatchOutcome, status models.UsageStatus) {
	model := out.resp.Model
	if model == "" {
		model = c.common.Model
	}
	rec := &models.UsageRecord{
		RequestID:        c.requestID,
		UserID:           c.common.UserID,
		ProjectID:        c.common.ProjectID,
		Provider:         c.common.Provider,
		Model:            model,
		PromptTokens:     out.resp.Usage.PromptTokens,
		CompletionTokens: out.resp.Usage.CompletionTokens,
		Cost:             out.cost,
		DurationMs:       o.now().Sub(c.start).Milliseconds(),
		Status:           status,
		TraceID:          c.traceID,
		CreatedAt:        o.now().UTC(),
	}
	if err := o.budget.RecordUsage(ctx, rec); err != nil {
		o.logger.Error("failed to record usage",
			zap.String("request_id", c.requestID),
			zap.Error(err))
	}
}

func (o *Orchestrator) complete(span trace.Span, c *call, res *Result, out *dispatchOutcome) *Result {
	res.Response = out.resp
	res.Cost = out.cost
	res.OutputSafety = out.outputSafety
	res.Redacted = out.redacted
	res.Duration = o.now().Sub(c.start)

	o.emit(c, models.StageComplete, models.OutcomeSuccess, "", out.cost, map[string]any{
		"response":      out.resp,
		"input_safety":  safetySummary(res.InputSafety),
		"output_safety": safetySummary(out.outputSafety),
		"redacted":      out.redacted,
		"budget":        res.Budget,
	})
	span.SetAttributes(attribute.Float64("llm.cost", out.cost))

	o.logger.Info("governance pipeline completed",
		zap.String("request_id", c.requestID),
		zap.Duration("duration", res.Duration),
		zap.Float64("cost", out.cost),
		zap.Int("tokens", out.resp.Usage.TotalTokens),
		zap.Bool("redacted", out.redacted))
	return res
}

func (o *Orchestrator) cacheHit(span trace.Span, c *call, res *Result, resp *providers.ChatResponse) *Result {
	res.Response = resp
	res.CacheHit = true
	res.Duration = o.now().Sub(c.start)

	o.emit(c, models.StageCache, models.OutcomeCacheHit, "", 0, map[string]any{
		"response":     resp,
		"input_safety": safetySummary(res.InputSafety),
	})
	span.SetAttributes(attribute.Bool("llm.cache_hit", true))

	o.logger.Info("served from response cache",
		zap.String("request_id", c.requestID),
		zap.Duration("duration", res.Duration))
	return res
}

// reject records a terminal rejection and converts it for the caller
func (o *Orchestrator) reject(span trace.Span, c *call, rej *Rejection) error {
	if rej.CorrelationID == "" {
		rej.CorrelationID = c.requestID
	}

	outcome := models.OutcomeRejected
	if rej.Reason == ReasonInternal || rej.Reason == ReasonProviderError {
		outcome = models.OutcomeError
	}

	payload := map[string]any{"message": rej.Message}
	if len(rej.Details) > 0 {
		payload["details"] = rej.Details
	}
	if rej.cause != nil {
		payload["error"] = rej.cause.Error()
	}
	o.emit(c, rej.Stage, outcome, rej.Reason, 0, payload)

	span.SetAttributes(attribute.String("gateway.stage", string(rej.Stage)))
	span.SetStatus(codes.Error, string(rej.Reason))

	fields := []zap.Field{
		zap.String("request_id", c.requestID),
		zap.String("stage", string(rej.Stage)),
		zap.String("reason_code", string(rej.Reason)),
	}
	switch rej.Reason {
	case ReasonInternal:
		o.logger.Error("governance pipeline failed", append(fields, zap.Error(rej.cause))...)
	case ReasonProviderError, ReasonProviderUnavailable:
		o.logger.Warn("request rejected", append(fields, zap.Error(rej.cause))...)
	default:
		o.logger.Info("request rejected", fields...)
	}
	return rej.DomainError()
}

func (o *Orchestrator) emit(c *call, stage models.Stage, outcome models.Outcome, reason ReasonCode, cost float64, payload map[string]any) {
	if o.audit == nil {
		return
	}
	e := models.NewAuditEvent(c.requestID, stage, outcome)
	e.TraceID = c.traceID
	e.UserID = c.common.UserID
	e.ProjectID = c.common.ProjectID
	e.Provider = c.common.Provider
	e.Model = c.common.Model
	e.ReasonCode = string(reason)
	e.DurationMs = o.now().Sub(c.start).Milliseconds()
	e.Cost = cost

	payload["request"] = c.snapshot()
	o.audit.Log(e.WithPayload(payload))
}

func internalRejection(stage models.Stage, err error) *Rejection {
	return &Rejection{
		Stage:   stage,
		Reason:  ReasonInternal,
		Message: "internal error",
		cause:   err,
	}
}

func asRejection(err error) *Rejection {
	if rej, ok := AsRejection(err); ok {
		return rej
	}
	return internalRejection(models.StageDispatch, err)
}

func safetyDetails(r *safety.Result) map[string]any {
	return map[string]any{
		"check_id":       r.CheckID,
		"violation_kind": string(r.ViolationKind),
		"severity":       string(r.Severity),
		"risk_score":     r.RiskScore,
		"detectors":      r.FiredDetectors(),
	}
}

func safetySummary(r *safety.Result) map[string]any {
	if r == nil {
		return nil
	}
	return map[string]any{
		"check_id":   r.CheckID,
		"safe":       r.Safe,
		"risk_score": r.RiskScore,
		"detectors":  r.FiredDetectors(),
	}
}

// ProviderStatus reports every known provider's breaker state
func (o *Orchestrator) ProviderStatus() []ProviderStatus {
	snaps := o.breakers.Status()
	out := make([]ProviderStatus, 0, len(snaps))
	for _, s := range snaps {
		_, err := o.providers.GetProvider(s.Provider)
		out = append(out, ProviderStatus{Snapshot: s, Configured: err == nil})
	}
	return out
}

// Status summarises breakers, cache and safety counters
func (o *Orchestrator) Status() Status {
	st := Status{
		Providers: o.ProviderStatus(),
		Cache:     o.cache.Stats(),
		Safety:    o.safety.Statistics(),
		ABTesting: o.cfg.ABTesting,
	}
	if src, ok := o.audit.(interface{ GetStats() audit.Stats }); ok {
		stats := src.GetStats()
		st.Audit = &stats
	}
	if src, ok := o.store.(interface{ Stats() kvstore.MemoryStats }); ok {
		stats := src.Stats()
		st.Store = &stats
	}
	return st
}

// ClearCache removes cached responses and cached safety results
func (o *Orchestrator) ClearCache(ctx context.Context) (responses, safetyResults int, err error) {
	responses, err = o.cache.Clear(ctx)
	if err != nil {
		return 0, 0, err
	}
	safetyResults, err = o.safety.ClearCache(ctx)
	if err != nil {
		return responses, 0, err
	}
	o.logger.Info("cleared caches",
		zap.Int("responses", responses),
		zap.Int("safety_results", safetyResults))
	return responses, safetyResults, nil
}

// Close cancels in-flight comparison requests and waits for them to exit
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.cancel()
	o.mu.Unlock()

	o.variants.Wait()
}

// trackVariant registers a comparison goroutine unless Close has run
func (o *Orchestrator) trackVariant() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.variants.Add(1)
	return true
}
