package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config is the resolved runtime configuration for the order reconciliation service.
type Config struct {
	ServiceID string
	LogLevel  string

	HTTPPort int
	GRPCPort int

	Storage     string
	DatabaseURL string
	MaxDBConns  int32
	Migrate     bool
	RedisURL    string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	GatewayBaseURL       string
	GatewaySecretKey     string
	GatewayTimeout       time.Duration
	GatewayMaxAttempts   int
	GatewayBackoff       time.Duration
	GatewayRatePerSecond float64
	GatewayBurst         int
	PaymentCallbackURL   string

	InventoryGRPCTarget string
	InventoryStock      map[string]int

	KafkaBrokers     []string
	KafkaTopicPrefix string

	WSAllowedOrigins []string
	HTTPRateLimit    float64
	HTTPRateBurst    int

	IdempotencyTTL     time.Duration
	MaxConflictRetries int
	LockTTL            time.Duration
	LockMaxWait        time.Duration
	SettingsCacheTTL   time.Duration
	StalePaymentAge    time.Duration
	SweepBatchSize     int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxClaimTTL     time.Duration
	OutboxMaxRetries   int

	RewardExpirySchedule string
	PointsExpirySchedule string
	StalePaymentSchedule string
}

// configFile mirrors the YAML schema used by configs/default.yaml.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"service"`
	Dependencies struct {
		Storage      string   `yaml:"storage"`
		PostgresURL  string   `yaml:"postgres_url"`
		RedisURL     string   `yaml:"redis_url"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		KafkaPrefix  string   `yaml:"kafka_topic_prefix"`
		Inventory    string   `yaml:"inventory_grpc_target"`
	} `yaml:"dependencies"`
	Auth struct {
		Issuer   string `yaml:"issuer"`
		Audience string `yaml:"audience"`
	} `yaml:"auth"`
	Gateway struct {
		BaseURL       string  `yaml:"base_url"`
		TimeoutSecs   int     `yaml:"timeout_seconds"`
		MaxAttempts   int     `yaml:"max_attempts"`
		RatePerSecond float64 `yaml:"rate_per_second"`
		CallbackURL   string  `yaml:"callback_url"`
	} `yaml:"gateway"`
	HTTP struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
		RateLimit      float64  `yaml:"rate_limit_per_second"`
		RateBurst      int      `yaml:"rate_limit_burst"`
	} `yaml:"http"`
	Inventory struct {
		Stock map[string]int `yaml:"stock"`
	} `yaml:"inventory"`
	Sweeps struct {
		RewardExpiry string `yaml:"reward_expiry"`
		PointsExpiry string `yaml:"points_expiry"`
		StalePayment string `yaml:"stale_payment"`
	} `yaml:"sweeps"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> .env -> env.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:            "order-reconciliation-service",
		LogLevel:             "info",
		HTTPPort:             8080,
		GRPCPort:             9090,
		Storage:              StorageMemory,
		MaxDBConns:           20,
		Migrate:              true,
		JWTIssuer:            "wawagardenbar",
		JWTAudience:          "wawagardenbar-api",
		GatewayBaseURL:       "https://api.paystack.co",
		GatewayTimeout:       10 * time.Second,
		GatewayMaxAttempts:   3,
		GatewayBackoff:       200 * time.Millisecond,
		GatewayRatePerSecond: 20,
		GatewayBurst:         10,
		HTTPRateLimit:        50,
		HTTPRateBurst:        100,
		KafkaTopicPrefix:     "wawa.orders",
		IdempotencyTTL:       24 * time.Hour,
		MaxConflictRetries:   5,
		LockTTL:              5 * time.Second,
		LockMaxWait:          5 * time.Second,
		SettingsCacheTTL:     5 * time.Minute,
		StalePaymentAge:      15 * time.Minute,
		SweepBatchSize:       200,
		OutboxPollInterval:   2 * time.Second,
		OutboxBatchSize:      100,
		OutboxClaimTTL:       30 * time.Second,
		OutboxMaxRetries:     5,
		RewardExpirySchedule: "@every 15m",
		PointsExpirySchedule: "0 3 * * *",
		StalePaymentSchedule: "@every 2m",
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		applyFile(&cfg, f)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	// A missing .env is the normal case outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.LogLevel = strings.ToLower(envOrDefault("LOG_LEVEL", cfg.LogLevel))
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)

	cfg.Storage = strings.ToLower(strings.TrimSpace(envOrDefault("STORAGE", cfg.Storage)))
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.Migrate = envBool("DB_MIGRATE", cfg.Migrate)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)

	cfg.JWTSecret = envOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = envOrDefault("JWT_ISSUER", cfg.JWTIssuer)
	cfg.JWTAudience = envOrDefault("JWT_AUDIENCE", cfg.JWTAudience)

	cfg.GatewayBaseURL = envOrDefault("PAYSTACK_BASE_URL", cfg.GatewayBaseURL)
	cfg.GatewaySecretKey = envOrDefault("PAYSTACK_SECRET_KEY", cfg.GatewaySecretKey)
	cfg.GatewayTimeout = time.Duration(envInt("PAYSTACK_TIMEOUT_SECONDS", int(cfg.GatewayTimeout.Seconds()))) * time.Second
	cfg.GatewayMaxAttempts = envInt("PAYSTACK_MAX_ATTEMPTS", cfg.GatewayMaxAttempts)
	cfg.GatewayRatePerSecond = envFloat("PAYSTACK_RATE_PER_SECOND", cfg.GatewayRatePerSecond)
	cfg.PaymentCallbackURL = envOrDefault("PAYMENT_CALLBACK_URL", cfg.PaymentCallbackURL)

	cfg.InventoryGRPCTarget = envOrDefault("INVENTORY_GRPC_TARGET", cfg.InventoryGRPCTarget)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopicPrefix = envOrDefault("KAFKA_TOPIC_PREFIX", cfg.KafkaTopicPrefix)

	cfg.WSAllowedOrigins = envCSV("WS_ALLOWED_ORIGINS", cfg.WSAllowedOrigins)
	cfg.HTTPRateLimit = envFloat("HTTP_RATE_LIMIT_PER_SECOND", cfg.HTTPRateLimit)
	cfg.HTTPRateBurst = envInt("HTTP_RATE_LIMIT_BURST", cfg.HTTPRateBurst)

	cfg.IdempotencyTTL = time.Duration(envInt("IDEMPOTENCY_TTL_HOURS", int(cfg.IdempotencyTTL.Hours()))) * time.Hour
	cfg.MaxConflictRetries = envInt("MAX_CONFLICT_RETRIES", cfg.MaxConflictRetries)
	cfg.StalePaymentAge = time.Duration(envInt("STALE_PAYMENT_MINUTES", int(cfg.StalePaymentAge.Minutes()))) * time.Minute
	cfg.SweepBatchSize = envInt("SWEEP_BATCH_SIZE", cfg.SweepBatchSize)
	cfg.SettingsCacheTTL = time.Duration(envInt("SETTINGS_CACHE_TTL_SECONDS", int(cfg.SettingsCacheTTL.Seconds()))) * time.Second

	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)

	cfg.RewardExpirySchedule = envOrDefault("SWEEP_REWARD_EXPIRY", cfg.RewardExpirySchedule)
	cfg.PointsExpirySchedule = envOrDefault("SWEEP_POINTS_EXPIRY", cfg.PointsExpirySchedule)
	cfg.StalePaymentSchedule = envOrDefault("SWEEP_STALE_PAYMENT", cfg.StalePaymentSchedule)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, f configFile) {
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Service.LogLevel != "" {
		cfg.LogLevel = f.Service.LogLevel
	}
	if f.Dependencies.Storage != "" {
		cfg.Storage = f.Dependencies.Storage
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
	}
	if f.Dependencies.KafkaPrefix != "" {
		cfg.KafkaTopicPrefix = f.Dependencies.KafkaPrefix
	}
	if f.Dependencies.Inventory != "" {
		cfg.InventoryGRPCTarget = f.Dependencies.Inventory
	}
	if f.Auth.Issuer != "" {
		cfg.JWTIssuer = f.Auth.Issuer
	}
	if f.Auth.Audience != "" {
		cfg.JWTAudience = f.Auth.Audience
	}
	if f.Gateway.BaseURL != "" {
		cfg.GatewayBaseURL = f.Gateway.BaseURL
	}
	if f.Gateway.TimeoutSecs > 0 {
		cfg.GatewayTimeout = time.Duration(f.Gateway.TimeoutSecs) * time.Second
	}
	if f.Gateway.MaxAttempts > 0 {
		cfg.GatewayMaxAttempts = f.Gateway.MaxAttempts
	}
	if f.Gateway.RatePerSecond > 0 {
		cfg.GatewayRatePerSecond = f.Gateway.RatePerSecond
	}
	if f.Gateway.CallbackURL != "" {
		cfg.PaymentCallbackURL = f.Gateway.CallbackURL
	}
	if len(f.HTTP.AllowedOrigins) > 0 {
		cfg.WSAllowedOrigins = f.HTTP.AllowedOrigins
	}
	if f.HTTP.RateLimit > 0 {
		cfg.HTTPRateLimit = f.HTTP.RateLimit
	}
	if f.HTTP.RateBurst > 0 {
		cfg.HTTPRateBurst = f.HTTP.RateBurst
	}
	if len(f.Inventory.Stock) > 0 {
		cfg.InventoryStock = f.Inventory.Stock
	}
	if f.Sweeps.RewardExpiry != "" {
		cfg.RewardExpirySchedule = f.Sweeps.RewardExpiry
	}
	if f.Sweeps.PointsExpiry != "" {
		cfg.PointsExpirySchedule = f.Sweeps.PointsExpiry
	}
	if f.Sweeps.StalePayment != "" {
		cfg.StalePaymentSchedule = f.Sweeps.StalePayment
	}
}

func (c Config) validate() error {
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("missing DB_URL/POSTGRES_URL for postgres storage")
		}
	default:
		return fmt.Errorf("unknown STORAGE %q", c.Storage)
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if c.GatewaySecretKey == "" {
		return fmt.Errorf("missing PAYSTACK_SECRET_KEY")
	}
	if c.HTTPPort <= 0 || c.GRPCPort <= 0 {
		return fmt.Errorf("ports must be positive")
	}
	return nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

// envBool parses common boolean env forms while keeping a deterministic fallback.
func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
