package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/ilpi/internal/platform/apperror"
)

type Config struct {
	Port                string        `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`
	LogLevel            string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	TenantDBMaxConns    int32         `mapstructure:"TENANT_DB_MAX_CONNS"`
	RedisURL            string        `mapstructure:"REDIS_URL"`
	TenantCacheTTL      time.Duration `mapstructure:"TENANT_CACHE_TTL"`
	IsolationSlowQuery  time.Duration `mapstructure:"ISOLATION_SLOW_QUERY"`
	TenantMigrationsDir string        `mapstructure:"TENANT_MIGRATIONS_DIR"`
	PublicMigrationsDir string        `mapstructure:"PUBLIC_MIGRATIONS_DIR"`
	JWTSecret           string        `mapstructure:"JWT_SECRET"`
	OTLPEndpoint        string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	CORSOrigins         []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS        float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst      int           `mapstructure:"RATE_LIMIT_BURST"`
}

var envKeys = []string{
	"PORT",
	"ENV",
	"LOG_LEVEL",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"TENANT_DB_MAX_CONNS",
	"REDIS_URL",
	"TENANT_CACHE_TTL",
	"ISOLATION_SLOW_QUERY",
	"TENANT_MIGRATIONS_DIR",
	"PUBLIC_MIGRATIONS_DIR",
	"JWT_SECRET",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
	"CORS_ORIGINS",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
}

// Load reads configuration from an optional .env file and the environment.
// A missing DATABASE_URL is reported as apperror.ErrConfiguration; the server
// treats it as fatal.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("TENANT_DB_MAX_CONNS", 5)
	v.SetDefault("TENANT_CACHE_TTL", "60s")
	v.SetDefault("ISOLATION_SLOW_QUERY", "1s")
	v.SetDefault("TENANT_MIGRATIONS_DIR", "./migrations/tenant")
	v.SetDefault("PUBLIC_MIGRATIONS_DIR", "./migrations/public")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 0 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, apperror.Configuration("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks the values Load cannot reject on its own.
func (c *Config) Validate() error {
	if c.DBMaxConns <= 0 || c.TenantDBMaxConns <= 0 {
		return apperror.Configuration("DB_MAX_CONNS and TENANT_DB_MAX_CONNS must be positive")
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return apperror.Configuration("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS (%d), got %d", c.DBMaxConns, c.DBMinConns)
	}
	if c.TenantCacheTTL <= 0 {
		return apperror.Configuration("TENANT_CACHE_TTL must be positive, got %s", c.TenantCacheTTL)
	}
	if !c.IsDev() && c.JWTSecret == "" {
		return apperror.Configuration("JWT_SECRET is required when ENV=%q", c.Env)
	}
	return nil
}
