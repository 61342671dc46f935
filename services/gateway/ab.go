package gateway

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/upb/llm-governance-gateway/services/breaker"
	"github.com/upb/llm-governance-gateway/services/providers"
	"go.uber.org/zap"
)

const (
	DefaultABRatio   = 0.1
	DefaultABTimeout = 30 * time.Second
)

// inABSample reports whether a request falls into the comparison sample.
// Assignment is sticky per provider, model and project.
func inABSample(c *Common, ratio float64) bool {
	if ratio <= 0 {
		return false
	}
	project := ""
	if c.ProjectID != nil {
		project = *c.ProjectID
	}
	sum := md5.Sum([]byte(c.Provider + ":" + c.Model + ":" + project))
	n, err := strconv.ParseUint(hex.EncodeToString(sum[:])[:8], 16, 64)
	if err != nil {
		return false
	}
	return float64(n%100) < ratio*100
}

// variantTarget returns the provider and model the comparison request is
// sent to. OpenAI traffic swaps models; everything else is compared against
// OpenAI with the same model name.
func variantTarget(provider, model string) (string, string) {
	if provider == "openai" {
		if strings.Contains(model, "gpt-4") {
			return provider, "gpt-3.5-turbo"
		}
		return provider, "gpt-4"
	}
	return "openai", model
}

// startVariant runs the comparison request in the background. Its result is
// logged and discarded; it never touches the primary request.
func (o *Orchestrator) startVariant(c *call) {
	provider, model := variantTarget(c.common.Provider, c.common.Model)

	p, err := o.providers.GetProvider(provider)
	if err != nil {
		o.logger.Debug("skipping ab comparison, variant provider not configured",
			zap.String("request_id", c.requestID),
			zap.String("variant_provider", provider))
		return
	}
	if o.breakers.Get(provider).State() == breaker.StateOpen {
		o.logger.Debug("skipping ab comparison, variant provider breaker open",
			zap.String("request_id", c.requestID),
			zap.String("variant_provider", provider))
		return
	}

	if !o.trackVariant() {
		return
	}
	go func() {
		defer o.variants.Done()

		ctx, cancel := context.WithTimeout(o.baseCtx, o.cfg.ABTimeout)
		defer cancel()

		start := time.Now()
		resp, err := o.dispatcher.Do(ctx, provider, func(ctx context.Context) (*providers.ChatResponse, error) {
			return c.dispatch(ctx, p, model)
		})

		fields := []zap.Field{
			zap.String("request_id", c.requestID),
			zap.String("primary_provider", c.common.Provider),
			zap.String("primary_model", c.common.Model),
			zap.String("variant_provider", provider),
			zap.String("variant_model", model),
			zap.Duration("variant_latency", time.Since(start)),
		}
		if err != nil {
			o.logger.Info("ab comparison variant failed", append(fields, zap.Error(err))...)
			return
		}
		o.logger.Info("ab comparison completed", append(fields, zap.Float64("variant_cost", resp.Usage.TotalCost))...)
	}()
}
