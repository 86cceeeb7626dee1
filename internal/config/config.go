package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/triage/internal/domain/queue"
	"github.com/ehr/triage/internal/domain/routing"
	"github.com/ehr/triage/internal/domain/triage"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	AuthModeDevelopment = "development"
	AuthModeJWT         = "jwt"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	AuthMode    string `mapstructure:"AUTH_MODE"`
	Store       string `mapstructure:"STORE"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS        float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst      int     `mapstructure:"RATE_LIMIT_BURST"`
	RateLimitMaxClients int     `mapstructure:"RATE_LIMIT_MAX_CLIENTS"`

	NATSURL           string `mapstructure:"NATS_URL"`
	NATSSubjectPrefix string `mapstructure:"NATS_SUBJECT_PREFIX"`

	QueueCacheSize    int           `mapstructure:"QUEUE_CACHE_SIZE"`
	QueueCacheTTL     time.Duration `mapstructure:"QUEUE_CACHE_TTL"`
	RoutingMaxResults int           `mapstructure:"ROUTING_MAX_RESULTS"`

	WaitBaseRed         int     `mapstructure:"WAIT_BASE_RED"`
	WaitBaseOrange      int     `mapstructure:"WAIT_BASE_ORANGE"`
	WaitBaseYellow      int     `mapstructure:"WAIT_BASE_YELLOW"`
	WaitBaseGreen       int     `mapstructure:"WAIT_BASE_GREEN"`
	WaitBaseBlue        int     `mapstructure:"WAIT_BASE_BLUE"`
	CongestionThreshold int     `mapstructure:"CONGESTION_THRESHOLD"`
	CongestionFactor    float64 `mapstructure:"CONGESTION_FACTOR"`

	RouteDistanceWeightRed    float64 `mapstructure:"ROUTE_DISTANCE_WEIGHT_RED"`
	RouteDistanceWeightOrange float64 `mapstructure:"ROUTE_DISTANCE_WEIGHT_ORANGE"`
	RouteDistanceWeightOther  float64 `mapstructure:"ROUTE_DISTANCE_WEIGHT_OTHER"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "AUTH_MODE", "STORE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "RATE_LIMIT_MAX_CLIENTS",
	"NATS_URL", "NATS_SUBJECT_PREFIX",
	"QUEUE_CACHE_SIZE", "QUEUE_CACHE_TTL", "ROUTING_MAX_RESULTS",
	"WAIT_BASE_RED", "WAIT_BASE_ORANGE", "WAIT_BASE_YELLOW", "WAIT_BASE_GREEN", "WAIT_BASE_BLUE",
	"CONGESTION_THRESHOLD", "CONGESTION_FACTOR",
	"ROUTE_DISTANCE_WEIGHT_RED", "ROUTE_DISTANCE_WEIGHT_ORANGE", "ROUTE_DISTANCE_WEIGHT_OTHER",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	q := queue.DefaultConfig()
	w := routing.DefaultWeights()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("RATE_LIMIT_MAX_CLIENTS", 10000)
	v.SetDefault("NATS_SUBJECT_PREFIX", "triage")
	v.SetDefault("QUEUE_CACHE_SIZE", 256)
	v.SetDefault("QUEUE_CACHE_TTL", "5s")
	v.SetDefault("ROUTING_MAX_RESULTS", 5)
	v.SetDefault("WAIT_BASE_RED", q.BaseMinutes[triage.Red])
	v.SetDefault("WAIT_BASE_ORANGE", q.BaseMinutes[triage.Orange])
	v.SetDefault("WAIT_BASE_YELLOW", q.BaseMinutes[triage.Yellow])
	v.SetDefault("WAIT_BASE_GREEN", q.BaseMinutes[triage.Green])
	v.SetDefault("WAIT_BASE_BLUE", q.BaseMinutes[triage.Blue])
	v.SetDefault("CONGESTION_THRESHOLD", q.CongestionThreshold)
	v.SetDefault("CONGESTION_FACTOR", q.CongestionFactor)
	v.SetDefault("ROUTE_DISTANCE_WEIGHT_RED", w.DistanceRed)
	v.SetDefault("ROUTE_DISTANCE_WEIGHT_ORANGE", w.DistanceOrange)
	v.SetDefault("ROUTE_DISTANCE_WEIGHT_OTHER", w.DistanceOther)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if cfg.Store == StorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE=%s", StorePostgres)
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

// ResolvedAuthMode returns AUTH_MODE when set, otherwise "development" for
// ENV=development and "jwt" for every other environment.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	return AuthModeJWT
}

// QueueConfig returns the wait estimation tables.
func (c *Config) QueueConfig() queue.Config {
	return queue.Config{
		BaseMinutes: map[triage.Tier]int{
			triage.Red:    c.WaitBaseRed,
			triage.Orange: c.WaitBaseOrange,
			triage.Yellow: c.WaitBaseYellow,
			triage.Green:  c.WaitBaseGreen,
			triage.Blue:   c.WaitBaseBlue,
		},
		CongestionThreshold: c.CongestionThreshold,
		CongestionFactor:    c.CongestionFactor,
	}
}

// RoutingWeights returns the default scoring weights with the configured
// distance weights.
func (c *Config) RoutingWeights() routing.Weights {
	w := routing.DefaultWeights()
	w.DistanceRed = c.RouteDistanceWeightRed
	w.DistanceOrange = c.RouteDistanceWeightOrange
	w.DistanceOther = c.RouteDistanceWeightOther
	return w
}

// Warnings lists settings that are allowed but unsafe outside development.
func (c *Config) Warnings() []string {
	var out []string
	if c.ResolvedAuthMode() == AuthModeDevelopment {
		out = append(out, "development auth is active: every request is accepted with admin access")
	}
	if c.Store == StoreMemory {
		out = append(out, "in-memory store is active: encounters are lost on restart")
	}
	for _, o := range c.CORSOrigins {
		if o == "*" {
			out = append(out, "CORS allows every origin")
		}
	}
	return out
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	switch mode {
	case AuthModeDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed in production")
		}
	case AuthModeJWT:
		if c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set when AUTH_MODE is %q", AuthModeJWT)
		}
		if c.AuthIssuer == "" {
			return fmt.Errorf("AUTH_ISSUER must be set when AUTH_MODE is %q", AuthModeJWT)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeDevelopment, AuthModeJWT, mode)
	}

	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE=%s", StorePostgres)
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	case StoreMemory:
		if c.IsProduction() {
			return fmt.Errorf("STORE=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.QueueCacheSize <= 0 {
		return fmt.Errorf("QUEUE_CACHE_SIZE must be positive")
	}
	if c.QueueCacheTTL < 0 {
		return fmt.Errorf("QUEUE_CACHE_TTL must not be negative")
	}
	if c.RoutingMaxResults <= 0 {
		return fmt.Errorf("ROUTING_MAX_RESULTS must be positive")
	}
	if err := c.QueueConfig().Validate(); err != nil {
		return fmt.Errorf("queue config: %w", err)
	}
	if c.RouteDistanceWeightRed < 0 || c.RouteDistanceWeightOrange < 0 || c.RouteDistanceWeightOther < 0 {
		return fmt.Errorf("ROUTE_DISTANCE_WEIGHT_* must not be negative")
	}
	return nil
}
