package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers for usage records and audit events
const (
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Database      DatabaseConfig
	AuditDatabase *DatabaseConfig // Optional: separate DB for audit events. When nil, audit uses main DB.
	Redis         RedisConfig
	Policy        PolicyConfig
	Safety        SafetyConfig
	Cache         CacheConfig
	Budget        BudgetConfig
	Breaker       BreakerConfig
	Retry         RetryConfig
	ABTesting     ABTestingConfig
	Audit         AuditConfig
	RateLimit     RateLimitConfig
	Providers     ProvidersConfig
	Observability ObservabilityConfig
	Admin         AdminConfig
	CORSOrigins   []string
	GatewayFile   string // Optional YAML file with allow-lists and per-project budgets
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Driver     string
	SQLitePath string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// RedisConfig holds the shared key-value store settings. An empty URL selects
// the in-process store.
type RedisConfig struct {
	URL              string
	Password         string
	MemoryMaxEntries int
}

// PolicyConfig holds the policy engine client settings
type PolicyConfig struct {
	URL              string
	AuthSecret       string
	Issuer           string
	Timeout          time.Duration
	AllowedModels    []string
	AllowedProviders []string
	MaxTokensLimit   int
}

// SafetyConfig holds content safety settings
type SafetyConfig struct {
	Level          string
	BlockJailbreak bool
	CacheEnabled   bool
	CacheTTL       time.Duration
}

// CacheConfig holds response cache settings
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// BudgetConfig holds spend limits and ledger maintenance settings
type BudgetConfig struct {
	DefaultDaily    float64
	DefaultMonthly  float64
	CacheTTL        time.Duration
	RetentionDays   int
	CleanupInterval time.Duration
	Projects        map[string]ProjectBudget
}

// ProjectBudget overrides the default limits for one project
type ProjectBudget struct {
	Daily   float64 `koanf:"daily"`
	Monthly float64 `koanf:"monthly"`
}

// BreakerConfig holds per-provider circuit breaker settings
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// RetryConfig holds provider dispatch retry settings
type RetryConfig struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	CallTimeout time.Duration
}

// ABTestingConfig holds comparison-traffic settings
type ABTestingConfig struct {
	Enabled bool
	Ratio   float64
	Timeout time.Duration
}

// AuditConfig holds audit pipeline settings
type AuditConfig struct {
	BufferSize  int
	WorkerCount int
	// Persist writes events to the storage backend; otherwise they are logged
	Persist bool
}

// RateLimitConfig holds per-caller request caps. Zero disables a window.
type RateLimitConfig struct {
	RequestsPerMinute int
	RequestsPerHour   int
	RequestsPerDay    int
}

// ProvidersConfig holds LLM provider configurations
type ProvidersConfig struct {
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
	Google    ProviderConfig
}

// ProviderConfig holds a single provider's connection settings
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Configured reports whether an API key was supplied
func (p ProviderConfig) Configured() bool {
	return p.APIKey != ""
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel          string
	LogFormat         string // json or text
	TracingEnabled    bool
	TracingSampleRate float64
	ServiceName       string
}

// AdminConfig holds the bearer-token settings guarding operational
// endpoints. An empty secret leaves them open, which is only allowed outside
// production.
type AdminConfig struct {
	JWTSecret string
	Issuer    string
	Role      string
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Storage: StorageConfig{
			Driver:     strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverPostgres)),
			SQLitePath: getEnv("SQLITE_PATH", "gateway.db"),
		},
		Database:      loadDatabaseConfig(),
		AuditDatabase: loadAuditDatabaseConfig(),
		Redis: RedisConfig{
			URL:              getEnv("REDIS_URL", ""),
			Password:         getEnv("REDIS_PASSWORD", ""),
			MemoryMaxEntries: getEnvAsInt("MEMORY_STORE_MAX_ENTRIES", 100000),
		},
		Policy: PolicyConfig{
			URL:        getEnv("POLICY_URL", getEnv("OPA_URL", "http://localhost:8181")),
			AuthSecret: getEnv("POLICY_AUTH_SECRET", ""),
			Issuer:     getEnv("POLICY_AUTH_ISSUER", "llm-governance-gateway"),
			Timeout:    getEnvAsDuration("POLICY_TIMEOUT", 5*time.Second),
			AllowedModels: getEnvAsSlice("POLICY_ALLOWED_MODELS",
				[]string{"gpt-3.5-turbo", "gpt-4", "claude-3-sonnet", "gemini-pro"}),
			AllowedProviders: getEnvAsSlice("POLICY_ALLOWED_PROVIDERS",
				[]string{"openai", "anthropic", "google"}),
			MaxTokensLimit: getEnvAsInt("POLICY_MAX_TOKENS_LIMIT", 4000),
		},
		Safety: SafetyConfig{
			Level:          strings.ToLower(getEnv("SAFETY_LEVEL", "medium")),
			BlockJailbreak: getEnvAsBool("SAFETY_BLOCK_JAILBREAK", true),
			CacheEnabled:   getEnvAsBool("SAFETY_CACHE_ENABLED", true),
			CacheTTL:       getEnvAsDuration("SAFETY_CACHE_TTL", time.Hour),
		},
		Cache: CacheConfig{
			Enabled: getEnvAsBool("CACHE_ENABLED", true),
			TTL:     getEnvAsDuration("CACHE_TTL", time.Hour),
		},
		Budget: BudgetConfig{
			DefaultDaily:    getEnvAsFloat("DEFAULT_DAILY_BUDGET", 100.0),
			DefaultMonthly:  getEnvAsFloat("DEFAULT_MONTHLY_BUDGET", 1000.0),
			CacheTTL:        getEnvAsDuration("BUDGET_CACHE_TTL", time.Hour),
			RetentionDays:   getEnvAsInt("USAGE_RETENTION_DAYS", 90),
			CleanupInterval: getEnvAsDuration("USAGE_CLEANUP_INTERVAL", 24*time.Hour),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvAsInt("CIRCUIT_BREAKER_THRESHOLD", 5),
			RecoveryTimeout:  getEnvAsDuration("CIRCUIT_BREAKER_RECOVERY", 60*time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			MinBackoff:  getEnvAsDuration("RETRY_MIN_BACKOFF", 4*time.Second),
			MaxBackoff:  getEnvAsDuration("RETRY_MAX_BACKOFF", 10*time.Second),
			CallTimeout: getEnvAsDuration("PROVIDER_CALL_TIMEOUT", 60*time.Second),
		},
		ABTesting: ABTestingConfig{
			Enabled: getEnvAsBool("AB_TESTING_ENABLED", false),
			Ratio:   getEnvAsFloat("AB_TEST_RATIO", 0.1),
			Timeout: getEnvAsDuration("AB_TEST_TIMEOUT", 30*time.Second),
		},
		Audit: AuditConfig{
			BufferSize:  getEnvAsInt("AUDIT_BUFFER_SIZE", 10000),
			WorkerCount: getEnvAsInt("AUDIT_WORKERS", 5),
			Persist:     getEnvAsBool("AUDIT_PERSIST", true),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 100),
			RequestsPerHour:   getEnvAsInt("RATE_LIMIT_PER_HOUR", 0),
			RequestsPerDay:    getEnvAsInt("RATE_LIMIT_PER_DAY", 0),
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				APIKey:  getEnv("OPENAI_API_KEY", ""),
				BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Timeout: getEnvAsDuration("OPENAI_TIMEOUT", 60*time.Second),
			},
			Anthropic: ProviderConfig{
				APIKey:  getEnv("ANTHROPIC_API_KEY", ""),
				BaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				Timeout: getEnvAsDuration("ANTHROPIC_TIMEOUT", 60*time.Second),
			},
			Google: ProviderConfig{
				APIKey:  getEnv("GOOGLE_API_KEY", ""),
				BaseURL: getEnv("GOOGLE_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
				Timeout: getEnvAsDuration("GOOGLE_TIMEOUT", 60*time.Second),
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			LogFormat:         getEnv("LOG_FORMAT", "json"),
			TracingEnabled:    getEnvAsBool("TRACING_ENABLED", false),
			TracingSampleRate: getEnvAsFloat("TRACING_SAMPLE_RATE", 1.0),
			ServiceName:       getEnv("OTEL_SERVICE_NAME", "llm-governance-gateway"),
		},
		Admin: AdminConfig{
			JWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
			Issuer:    getEnv("ADMIN_JWT_ISSUER", ""),
			Role:      getEnv("ADMIN_ROLE", "admin"),
		},
		CORSOrigins: getEnvAsSlice("CORS_ORIGINS", []string{"*"}),
		GatewayFile: getEnv("GATEWAY_CONFIG_FILE", ""),
	}

	if cfg.GatewayFile != "" {
		file, err := LoadGatewayFile(cfg.GatewayFile)
		if err != nil {
			return nil, err
		}
		file.Apply(cfg)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverPostgres:
		// Database validation (DATABASE_URL or DB_* vars)
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	case StorageDriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Safety.Level {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("invalid safety level %q", c.Safety.Level)
	}

	if c.ABTesting.Ratio < 0 || c.ABTesting.Ratio > 1 {
		return fmt.Errorf("ab test ratio must be between 0 and 1")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("circuit breaker threshold must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be positive")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.RequestsPerHour < 0 || c.RateLimit.RequestsPerDay < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}

	// Provider and policy validation (required in production)
	if c.IsProduction() {
		if !c.Providers.OpenAI.Configured() &&
			!c.Providers.Anthropic.Configured() &&
			!c.Providers.Google.Configured() {
			return fmt.Errorf("at least one LLM provider must be configured in production")
		}
		if c.Policy.AuthSecret == "" {
			return fmt.Errorf("policy auth secret is required in production")
		}
		if c.Admin.JWTSecret == "" {
			return fmt.Errorf("admin jwt secret is required in production")
		}
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "gateway"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "llm_gateway"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadAuditDatabaseConfig loads audit DB config from DATABASE_URL_AUDIT.
// Returns nil when not set (audit uses main DB).
func loadAuditDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL_AUDIT", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8000)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8000
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice splits a comma-separated value, dropping empty items
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
