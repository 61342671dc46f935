// Package safety scores prompt and completion text for PII, toxicity,
// jailbreak attempts and bias, and redacts PII from unsafe completions.
package safety

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/upb/llm-governance-gateway/internal/kvstore"
	"go.uber.org/zap"
)

const cacheNamespace = "safety:"

// Config holds evaluator settings
type Config struct {
	Level Level
	// BlockJailbreak fails any input on which the jailbreak detector fired,
	// whatever the weighted score.
	BlockJailbreak bool
	CacheEnabled   bool
	CacheTTL       time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Level:          LevelMedium,
		BlockJailbreak: true,
		CacheEnabled:   true,
		CacheTTL:       time.Hour,
	}
}

// Statistics summarises evaluator activity since startup
type Statistics struct {
	Checks          uint64  `json:"checks"`
	Unsafe          uint64  `json:"unsafe"`
	JailbreakBlocks uint64  `json:"jailbreak_blocks"`
	CacheHits       uint64  `json:"cache_hits"`
	UnsafeRate      float64 `json:"unsafe_rate"`
	Level           Level   `json:"level"`
	Threshold       float64 `json:"threshold"`
}

// Evaluator combines the four detectors into a single decision.
type Evaluator struct {
	cfg    Config
	store  kvstore.Store
	logger *zap.Logger
	now    func() time.Time

	checks          atomic.Uint64
	unsafe          atomic.Uint64
	jailbreakBlocks atomic.Uint64
	cacheHits       atomic.Uint64
}

// NewEvaluator creates an Evaluator. store may be nil to disable caching.
func NewEvaluator(cfg Config, store kvstore.Store, logger *zap.Logger) *Evaluator {
	if cfg.Level == "" {
		cfg.Level = LevelMedium
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Evaluator{
		cfg:    cfg,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Evaluate scores content in the given mode. Results are read through the
// KV cache by content hash; cache faults are logged and ignored.
func (e *Evaluator) Evaluate(ctx context.Context, content string, mode Mode) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.checks.Add(1)

	key := e.cacheKey(content, mode)
	if cached := e.lookup(ctx, key); cached != nil {
		e.cacheHits.Add(1)
		e.count(cached)
		return cached, nil
	}

	result := e.evaluate(content, mode)
	e.count(result)
	e.save(ctx, key, result)

	if !result.Safe {
		e.logger.Info("content failed safety check",
			zap.String("check_id", result.CheckID),
			zap.String("mode", string(mode)),
			zap.String("violation_kind", string(result.ViolationKind)),
			zap.Float64("risk_score", result.RiskScore))
	}
	return result, nil
}

// evaluate runs the detectors without touching the cache
func (e *Evaluator) evaluate(content string, mode Mode) *Result {
	detectors := map[Detector]DetectorResult{
		DetectorPII:      DetectPII(content),
		DetectorToxicity: DetectToxicity(content),
		DetectorBias:     DetectBias(content),
	}
	if mode == ModeInput {
		detectors[DetectorJailbreak] = DetectJailbreak(content)
	}

	risk := riskScore(detectors)
	threshold := e.cfg.Level.Threshold()

	result := &Result{
		CheckID:       uuid.New().String()[:8],
		Mode:          mode,
		Safe:          risk < threshold,
		ViolationKind: ViolationNone,
		RiskScore:     risk,
		Detectors:     detectors,
		Timestamp:     e.now().UTC(),
	}

	jb := detectors[DetectorJailbreak]
	switch {
	case mode == ModeInput && e.cfg.BlockJailbreak && jb.Detected:
		result.Safe = false
		result.ViolationKind = ViolationJailbreak
		result.Severity = SeverityHigh
		result.Confidence = math.Max(risk, jb.Confidence)
	case !result.Safe:
		result.ViolationKind, result.Severity = scoreBand(risk)
		result.Confidence = risk
	default:
		result.Confidence = 1 - risk
	}

	if mode == ModeOutput && !result.Safe && detectors[DetectorPII].Detected {
		redacted := Redact(content)
		result.RedactedContent = &redacted
	}

	return result
}

// riskScore is the weighted sum of fired detectors, clamped to [0,1]
func riskScore(detectors map[Detector]DetectorResult) float64 {
	score := 0.0
	for name, d := range detectors {
		if d.Detected {
			score += name.weight() * d.Confidence
		}
	}
	return math.Max(0, math.Min(1, score))
}

// scoreBand maps a failing score to its label
func scoreBand(risk float64) (ViolationKind, Severity) {
	switch {
	case risk >= 0.8:
		return ViolationPII, SeverityCritical
	case risk >= 0.6:
		return ViolationToxicity, SeverityHigh
	default:
		return ViolationContentFilter, SeverityMedium
	}
}

func (e *Evaluator) count(r *Result) {
	if r.Safe {
		return
	}
	e.unsafe.Add(1)
	if r.ViolationKind == ViolationJailbreak {
		e.jailbreakBlocks.Add(1)
	}
}

func (e *Evaluator) cacheKey(content string, mode Mode) string {
	sum := sha256.Sum256([]byte(content))
	return cacheNamespace + string(mode) + ":" + string(e.cfg.Level) + ":" + hex.EncodeToString(sum[:])
}

func (e *Evaluator) lookup(ctx context.Context, key string) *Result {
	if e.store == nil || !e.cfg.CacheEnabled {
		return nil
	}
	raw, err := e.store.Get(ctx, key)
	if err != nil {
		if !kvstore.IsNotFound(err) {
			e.logger.Warn("safety cache lookup failed", zap.Error(err))
		}
		return nil
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		e.logger.Warn("discarding undecodable safety cache entry", zap.String("key", key), zap.Error(err))
		return nil
	}
	return &result
}

func (e *Evaluator) save(ctx context.Context, key string, result *Result) {
	if e.store == nil || !e.cfg.CacheEnabled {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		e.logger.Warn("failed to encode safety result", zap.Error(err))
		return
	}
	if err := e.store.SetWithTTL(ctx, key, raw, e.cfg.CacheTTL); err != nil {
		e.logger.Warn("safety cache write failed", zap.Error(err))
	}
}

// Statistics returns counters since startup
func (e *Evaluator) Statistics() Statistics {
	stats := Statistics{
		Checks:          e.checks.Load(),
		Unsafe:          e.unsafe.Load(),
		JailbreakBlocks: e.jailbreakBlocks.Load(),
		CacheHits:       e.cacheHits.Load(),
		Level:           e.cfg.Level,
		Threshold:       e.cfg.Level.Threshold(),
	}
	if stats.Checks > 0 {
		stats.UnsafeRate = float64(stats.Unsafe) / float64(stats.Checks)
	}
	return stats
}

// ClearCache drops every cached safety result
func (e *Evaluator) ClearCache(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	return e.store.DeletePrefix(ctx, cacheNamespace)
}
