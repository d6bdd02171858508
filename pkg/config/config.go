package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lumenchat/lumenchat/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Stripe        StripeConfig
	Flowise       FlowiseConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	AllowedOrigins []string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL         string
	ReplicaURLs string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// RedisConfig holds Redis cache configuration
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int

	// Subscription cache knobs
	CacheEnabled bool
	CacheTTL     time.Duration
	L1CacheSize  int
}

// StripeConfig holds billing provider configuration.
//
// Price IDs come from deployment configuration, never source code. A tier
// whose price ID is left empty resolves to an unusable plan: it never
// matches an incoming price and checkout against it is rejected up front.
type StripeConfig struct {
	SecretKey         string
	WebhookSecret     string
	ProPriceID        string
	EnterprisePriceID string
	CheckoutReturnURL string
	PortalReturnURL   string
}

// FlowiseConfig holds chat-completion proxy configuration
type FlowiseConfig struct {
	BaseURL    string
	APIKey     string
	ChatflowID string
	Timeout    time.Duration
}

// AuthConfig holds identity provider configuration. Session issuance and
// validation are delegated entirely to the external OIDC provider.
type AuthConfig struct {
	IssuerURL string
	ClientID  string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Stripe:        loadStripeConfig(),
		Flowise:       loadFlowiseConfig(),
		Auth:          loadAuthConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	origins := strings.Split(getEnv("LUMENCHAT_ALLOWED_ORIGINS", "*"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return ServerConfig{
		Host:            getEnv("LUMENCHAT_HOST", "0.0.0.0"),
		Port:            getEnv("LUMENCHAT_PORT", "8080"),
		ReadTimeout:     getEnvDuration("LUMENCHAT_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("LUMENCHAT_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("LUMENCHAT_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("LUMENCHAT_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("LUMENCHAT_HEALTH_PORT", "9090"),
		AllowedOrigins:  origins,
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:         getEnv("LUMENCHAT_POSTGRES_URL", ""),
		ReplicaURLs: getEnv("LUMENCHAT_POSTGRES_REPLICA_URLS", ""),
		MaxConns:    getEnvInt("LUMENCHAT_POSTGRES_MAX_CONNS", 25),
		MinConns:    getEnvInt("LUMENCHAT_POSTGRES_MIN_CONNS", 5),
		Timeout:     getEnvDuration("LUMENCHAT_POSTGRES_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration("LUMENCHAT_POSTGRES_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("LUMENCHAT_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:          getEnv("LUMENCHAT_REDIS_URL", ""),
		Password:     getEnv("LUMENCHAT_REDIS_PASSWORD", ""),
		DB:           getEnvInt("LUMENCHAT_REDIS_DB", 0),
		MaxRetries:   getEnvInt("LUMENCHAT_REDIS_MAX_RETRIES", 3),
		PoolSize:     getEnvInt("LUMENCHAT_REDIS_POOL_SIZE", 10),
		CacheEnabled: getEnvBool("LUMENCHAT_CACHE_ENABLED", true),
		CacheTTL:     getEnvDuration("LUMENCHAT_CACHE_TTL", 5*time.Minute),
		L1CacheSize:  getEnvInt("LUMENCHAT_L1_CACHE_SIZE", 1024),
	}
}

func loadStripeConfig() StripeConfig {
	return StripeConfig{
		SecretKey:         getEnv("STRIPE_SECRET_KEY", ""),
		WebhookSecret:     getEnv("STRIPE_WEBHOOK_SECRET", ""),
		ProPriceID:        getEnv("STRIPE_PRO_PRICE_ID", ""),
		EnterprisePriceID: getEnv("STRIPE_ENTERPRISE_PRICE_ID", ""),
		CheckoutReturnURL: getEnv("LUMENCHAT_CHECKOUT_RETURN_URL", "http://localhost:3000/dashboard"),
		PortalReturnURL:   getEnv("LUMENCHAT_PORTAL_RETURN_URL", "http://localhost:3000/dashboard"),
	}
}

func loadFlowiseConfig() FlowiseConfig {
	return FlowiseConfig{
		BaseURL:    getEnv("FLOWISE_API_URL", ""),
		APIKey:     getEnv("FLOWISE_API_KEY", ""),
		ChatflowID: getEnv("FLOWISE_CHATFLOW_ID", ""),
		Timeout:    getEnvDuration("LUMENCHAT_FLOWISE_TIMEOUT", 120*time.Second),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		IssuerURL: getEnv("LUMENCHAT_OIDC_ISSUER_URL", ""),
		ClientID:  getEnv("LUMENCHAT_OIDC_CLIENT_ID", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("LUMENCHAT_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("LUMENCHAT_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("LUMENCHAT_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("LUMENCHAT_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("LUMENCHAT_OTEL_SERVICE_NAME", "lumenchat-api"),
		OTelServiceVersion: getEnv("LUMENCHAT_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("LUMENCHAT_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("stripe secret key is required")
	}
	if c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("stripe webhook secret is required")
	}

	if c.Flowise.BaseURL == "" {
		return fmt.Errorf("flowise API URL is required")
	}
	if c.Flowise.ChatflowID == "" {
		return fmt.Errorf("flowise chatflow ID is required")
	}

	if c.Auth.IssuerURL == "" {
		return fmt.Errorf("OIDC issuer URL is required")
	}

	if c.Redis.CacheEnabled && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required when caching is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
