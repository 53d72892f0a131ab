package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string   `mapstructure:"PORT"`
	Env              string   `mapstructure:"ENV"`
	DatabaseURL      string   `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32    `mapstructure:"DB_MIN_CONNS"`
	DBLifetimeMins   int      `mapstructure:"DB_MAX_CONN_LIFETIME_MINUTES"`
	DBIdleMins       int      `mapstructure:"DB_MAX_CONN_IDLE_MINUTES"`
	DBHealthSecs     int      `mapstructure:"DB_HEALTH_CHECK_SECONDS"`
	RedisURL         string   `mapstructure:"REDIS_URL"`
	AuthIssuer       string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL      string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience     string   `mapstructure:"AUTH_AUDIENCE"`
	JWTSigningKey    string   `mapstructure:"JWT_SIGNING_KEY"`
	CORSOrigins      []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS     float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int      `mapstructure:"RATE_LIMIT_BURST"`
	GenRatePerMin    float64  `mapstructure:"GENERATION_RATE_PER_MINUTE"`
	GenRateBurst     int      `mapstructure:"GENERATION_RATE_BURST"`
	BodyLimit        string   `mapstructure:"BODY_LIMIT"`
	UploadLimit      string   `mapstructure:"UPLOAD_LIMIT"`
	MigrationsDir    string   `mapstructure:"MIGRATIONS_DIR"`
	LLMProvider      string   `mapstructure:"LLM_PROVIDER"`
	LLMBaseURL       string   `mapstructure:"LLM_BASE_URL"`
	LLMAPIKey        string   `mapstructure:"LLM_API_KEY"`
	LLMModel         string   `mapstructure:"LLM_MODEL"`
	LLMTemperature   float64  `mapstructure:"LLM_TEMPERATURE"`
	LLMMaxTokens     int      `mapstructure:"LLM_MAX_TOKENS"`
	LLMTimeoutSecs   int      `mapstructure:"LLM_TIMEOUT_SECONDS"`
	StorageBackend   string   `mapstructure:"STORAGE_BACKEND"`
	GCSBucket        string   `mapstructure:"GCS_BUCKET"`
	GCSProjectID     string   `mapstructure:"GCS_PROJECT_ID"`
	PresignTTLMins   int      `mapstructure:"PRESIGN_TTL_MINUTES"`
	GenLockTTLSecs   int      `mapstructure:"GENERATION_LOCK_TTL_SECONDS"`
	TracingEnabled   bool     `mapstructure:"TRACING_ENABLED"`
	PDFWordmark      string   `mapstructure:"PDF_WORDMARK"`
	PDFSubtitle      string   `mapstructure:"PDF_SUBTITLE"`
	PDFTagline       string   `mapstructure:"PDF_TAGLINE"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DB_MAX_CONN_LIFETIME_MINUTES", "DB_MAX_CONN_IDLE_MINUTES", "DB_HEALTH_CHECK_SECONDS", "REDIS_URL",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "JWT_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "GENERATION_RATE_PER_MINUTE",
	"GENERATION_RATE_BURST", "BODY_LIMIT", "UPLOAD_LIMIT",
	"MIGRATIONS_DIR", "LLM_PROVIDER", "LLM_BASE_URL", "LLM_API_KEY", "LLM_MODEL",
	"LLM_TEMPERATURE", "LLM_MAX_TOKENS", "LLM_TIMEOUT_SECONDS", "STORAGE_BACKEND",
	"GCS_BUCKET", "GCS_PROJECT_ID", "PRESIGN_TTL_MINUTES", "GENERATION_LOCK_TTL_SECONDS",
	"TRACING_ENABLED", "PDF_WORDMARK", "PDF_SUBTITLE", "PDF_TAGLINE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_MAX_CONN_LIFETIME_MINUTES", 60)
	v.SetDefault("DB_MAX_CONN_IDLE_MINUTES", 30)
	v.SetDefault("DB_HEALTH_CHECK_SECONDS", 60)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("GENERATION_RATE_PER_MINUTE", 6)
	v.SetDefault("GENERATION_RATE_BURST", 3)
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("UPLOAD_LIMIT", "20M")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("LLM_PROVIDER", "openai")
	v.SetDefault("LLM_MODEL", "gpt-4o-mini")
	v.SetDefault("LLM_TEMPERATURE", 0.7)
	v.SetDefault("LLM_MAX_TOKENS", 4000)
	v.SetDefault("LLM_TIMEOUT_SECONDS", 180)
	v.SetDefault("STORAGE_BACKEND", "memory")
	v.SetDefault("PRESIGN_TTL_MINUTES", 60)
	v.SetDefault("GENERATION_LOCK_TTL_SECONDS", 600)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: requests without a bearer token get a superadmin dev identity.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LLMTimeout is the HTTP timeout applied to every model call.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSecs) * time.Second
}

func (c *Config) PresignTTL() time.Duration {
	return time.Duration(c.PresignTTLMins) * time.Minute
}

func (c *Config) GenerationLockTTL() time.Duration {
	return time.Duration(c.GenLockTTLSecs) * time.Second
}

// Validate checks that the configuration is safe to run. Outside development
// a way to verify tokens (signing key or issuer/JWKS) and a model API key are
// required.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSigningKey == "" && c.AuthIssuer == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("JWT_SIGNING_KEY or AUTH_ISSUER/AUTH_JWKS_URL must be set when ENV=%q", c.Env)
	}

	switch c.LLMProvider {
	case "openai", "anthropic":
	case "mock":
		if c.IsProduction() {
			return fmt.Errorf("LLM_PROVIDER=mock is not allowed in production")
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be \"openai\", \"anthropic\" or \"mock\", got %q", c.LLMProvider)
	}
	if c.LLMProvider != "mock" && c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required for provider %q", c.LLMProvider)
	}
	if c.LLMTimeoutSecs <= 0 {
		return fmt.Errorf("LLM_TIMEOUT_SECONDS must be positive, got %d", c.LLMTimeoutSecs)
	}

	switch c.StorageBackend {
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("STORAGE_BACKEND=memory is not allowed in production")
		}
	case "gcs":
		if c.GCSBucket == "" {
			return fmt.Errorf("GCS_BUCKET is required when STORAGE_BACKEND is \"gcs\"")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be \"memory\" or \"gcs\", got %q", c.StorageBackend)
	}

	return nil
}
