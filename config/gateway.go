package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const gatewayEnvPrefix = "GATEWAY_"

// GatewayFile is the structured governance configuration that does not fit in
// flat environment variables. Values present here override the env settings.
//
//	policy:
//	  allowed_providers: [openai, anthropic]
//	  allowed_models: [gpt-4, claude-3-sonnet]
//	  max_tokens_limit: 4000
//	budgets:
//	  default_daily: 100
//	  projects:
//	    research: {daily: 20, monthly: 300}
//	ab_testing:
//	  enabled: true
//	  ratio: 0.2
//
// Scalars can be overridden with GATEWAY_ variables, using a double
// underscore as the path separator (GATEWAY_AB_TESTING__RATIO=0.5).
type GatewayFile struct {
	Policy struct {
		AllowedModels    []string `koanf:"allowed_models"`
		AllowedProviders []string `koanf:"allowed_providers"`
		MaxTokensLimit   int      `koanf:"max_tokens_limit"`
	} `koanf:"policy"`

	Budgets struct {
		DefaultDaily   float64                  `koanf:"default_daily"`
		DefaultMonthly float64                  `koanf:"default_monthly"`
		Projects       map[string]ProjectBudget `koanf:"projects"`
	} `koanf:"budgets"`

	ABTesting struct {
		Enabled *bool         `koanf:"enabled"`
		Ratio   *float64      `koanf:"ratio"`
		Timeout time.Duration `koanf:"timeout"`
	} `koanf:"ab_testing"`
}

// LoadGatewayFile reads the YAML file at path and layers GATEWAY_ env
// overrides on top
func LoadGatewayFile(path string) (*GatewayFile, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load gateway config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(gatewayEnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, gatewayEnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load gateway env overrides: %w", err)
	}

	var gf GatewayFile
	if err := k.Unmarshal("", &gf); err != nil {
		return nil, fmt.Errorf("decode gateway config %s: %w", path, err)
	}
	return &gf, nil
}

// Apply copies every value set in the file onto cfg
func (g *GatewayFile) Apply(cfg *Config) {
	if len(g.Policy.AllowedModels) > 0 {
		cfg.Policy.AllowedModels = g.Policy.AllowedModels
	}
	if len(g.Policy.AllowedProviders) > 0 {
		cfg.Policy.AllowedProviders = g.Policy.AllowedProviders
	}
	if g.Policy.MaxTokensLimit > 0 {
		cfg.Policy.MaxTokensLimit = g.Policy.MaxTokensLimit
	}

	if g.Budgets.DefaultDaily > 0 {
		cfg.Budget.DefaultDaily = g.Budgets.DefaultDaily
	}
	if g.Budgets.DefaultMonthly > 0 {
		cfg.Budget.DefaultMonthly = g.Budgets.DefaultMonthly
	}
	if len(g.Budgets.Projects) > 0 {
		if cfg.Budget.Projects == nil {
			cfg.Budget.Projects = make(map[string]ProjectBudget, len(g.Budgets.Projects))
		}
		for id, limits := range g.Budgets.Projects {
			cfg.Budget.Projects[id] = limits
		}
	}

	if g.ABTesting.Enabled != nil {
		cfg.ABTesting.Enabled = *g.ABTesting.Enabled
	}
	if g.ABTesting.Ratio != nil {
		cfg.ABTesting.Ratio = *g.ABTesting.Ratio
	}
	if g.ABTesting.Timeout > 0 {
		cfg.ABTesting.Timeout = g.ABTesting.Timeout
	}
}
