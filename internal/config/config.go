package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Signing policies applied when the external signer cannot produce a
// merchant authorization.
const (
	SigningPolicyStrict  = "strict"  // abort the update
	SigningPolicyLenient = "lenient" // proceed unsigned
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Security  SecurityConfig  `json:"security"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Cache     CacheConfig     `json:"cache"`
	Merchant  MerchantConfig  `json:"merchant"`
	Signer    SignerConfig    `json:"signer"`
	OTP       OTPConfig       `json:"otp"`
	Loyalty   LoyaltyConfig   `json:"loyalty"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port string `json:"port"`
	Host string `json:"host"`
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 10MB)
	MaxRequestBodySize int64 `json:"max_request_body_size"`
	// Allowed CORS origins (comma-separated)
	AllowedOrigins string `json:"allowed_origins"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `json:"enabled"`
	Rate    int  `json:"rate"`
	Window  int  `json:"window"` // in seconds
}

// CacheConfig holds cache-related configuration. When RedisAddr is empty the
// in-memory cache is used.
type CacheConfig struct {
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	TTLSeconds    int    `json:"ttl_seconds"`
}

// MerchantConfig identifies the merchant this service acts for.
type MerchantConfig struct {
	Name   string `json:"name"`
	ID     string `json:"id"`
	Domain string `json:"domain"` // did:web domain, e.g. "merchant.example.com"
}

// SignerConfig holds the external credential signer settings.
type SignerConfig struct {
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	SigningPolicy  string `json:"signing_policy"` // "strict" or "lenient"
}

// OTPConfig holds the step-up gate defaults; both values are mutable at
// runtime through the settings API.
type OTPConfig struct {
	Enabled         bool    `json:"enabled"`
	AmountThreshold float64 `json:"amount_threshold"`
}

// LoyaltyConfig holds the loyalty event sink settings. An empty URL disables
// forwarding.
type LoyaltyConfig struct {
	URL string `json:"url"`
}

// LoadConfig loads configuration from environment variables and/or config file.
// Environment variables take precedence over config file values.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", ""),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./merchant_checkout.db"),
		},
		Security: SecurityConfig{
			MaxRequestBodySize: getEnvInt64("MAX_REQUEST_BODY_SIZE", 10<<20), // 10MB default
			AllowedOrigins:     getEnv("ALLOWED_ORIGINS", "*"),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", true),
			Rate:    getEnvInt("RATE_LIMIT_RATE", 100),
			Window:  getEnvInt("RATE_LIMIT_WINDOW", 60),
		},
		Cache: CacheConfig{
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			TTLSeconds:    getEnvInt("CACHE_TTL_SECONDS", 300),
		},
		Merchant: MerchantConfig{
			Name:   getEnv("MERCHANT_NAME", "Demo Merchant"),
			ID:     getEnv("MERCHANT_ID", "merchant-001"),
			Domain: getEnv("MERCHANT_DOMAIN", "localhost:8080"),
		},
		Signer: SignerConfig{
			URL:            getEnv("SIGNER_URL", "http://localhost:3001"),
			TimeoutSeconds: getEnvInt("SIGNER_TIMEOUT_SECONDS", 30),
			SigningPolicy:  getEnv("SIGNING_POLICY", SigningPolicyStrict),
		},
		OTP: OTPConfig{
			Enabled:         getEnvBool("OTP_ENABLED", true),
			AmountThreshold: getEnvFloat("OTP_AMOUNT_THRESHOLD", 100.0),
		},
		Loyalty: LoyaltyConfig{
			URL: getEnv("LOYALTY_URL", ""),
		},
	}

	// Load from config file if provided
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables (they take precedence)
	overrideFromEnv(cfg)

	return cfg, nil
}

// loadFromFile loads configuration from a JSON file.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, cfg)
}

// overrideFromEnv overrides configuration with environment variables.
func overrideFromEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if maxBodySize := os.Getenv("MAX_REQUEST_BODY_SIZE"); maxBodySize != "" {
		if size, err := strconv.ParseInt(maxBodySize, 10, 64); err == nil {
			cfg.Security.MaxRequestBodySize = size
		}
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Security.AllowedOrigins = origins
	}
	if enabled := os.Getenv("RATE_LIMIT_ENABLED"); enabled != "" {
		cfg.RateLimit.Enabled = enabled == "true" || enabled == "1"
	}
	if rate := os.Getenv("RATE_LIMIT_RATE"); rate != "" {
		if r, err := strconv.Atoi(rate); err == nil {
			cfg.RateLimit.Rate = r
		}
	}
	if window := os.Getenv("RATE_LIMIT_WINDOW"); window != "" {
		if w, err := strconv.Atoi(window); err == nil {
			cfg.RateLimit.Window = w
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Cache.RedisPassword = password
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if d, err := strconv.Atoi(db); err == nil {
			cfg.Cache.RedisDB = d
		}
	}
	if ttl := os.Getenv("CACHE_TTL_SECONDS"); ttl != "" {
		if t, err := strconv.Atoi(ttl); err == nil {
			cfg.Cache.TTLSeconds = t
		}
	}
	if name := os.Getenv("MERCHANT_NAME"); name != "" {
		cfg.Merchant.Name = name
	}
	if id := os.Getenv("MERCHANT_ID"); id != "" {
		cfg.Merchant.ID = id
	}
	if domain := os.Getenv("MERCHANT_DOMAIN"); domain != "" {
		cfg.Merchant.Domain = domain
	}
	if url := os.Getenv("SIGNER_URL"); url != "" {
		cfg.Signer.URL = url
	}
	if timeout := os.Getenv("SIGNER_TIMEOUT_SECONDS"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil {
			cfg.Signer.TimeoutSeconds = t
		}
	}
	if policy := os.Getenv("SIGNING_POLICY"); policy != "" {
		cfg.Signer.SigningPolicy = policy
	}
	if enabled := os.Getenv("OTP_ENABLED"); enabled != "" {
		cfg.OTP.Enabled = enabled == "true" || enabled == "1"
	}
	if threshold := os.Getenv("OTP_AMOUNT_THRESHOLD"); threshold != "" {
		if t, err := strconv.ParseFloat(threshold, 64); err == nil {
			cfg.OTP.AmountThreshold = t
		}
	}
	if url := os.Getenv("LOYALTY_URL"); url != "" {
		cfg.Loyalty.URL = url
	}
}

// getEnv gets an environment variable or returns the default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvInt64 gets an int64 environment variable or returns the default value.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvFloat gets a float64 environment variable or returns the default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Merchant.Domain == "" {
		return fmt.Errorf("merchant domain is required")
	}
	if c.Signer.SigningPolicy != SigningPolicyStrict && c.Signer.SigningPolicy != SigningPolicyLenient {
		return fmt.Errorf("signing policy must be %q or %q", SigningPolicyStrict, SigningPolicyLenient)
	}
	if c.Signer.TimeoutSeconds <= 0 {
		return fmt.Errorf("signer timeout must be positive")
	}
	if c.OTP.AmountThreshold < 0 {
		return fmt.Errorf("otp amount threshold must be non-negative")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	return nil
}
