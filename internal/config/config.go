package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	// DatabaseURL is optional; when empty the relay runs on the in-memory
	// store and conversations do not survive a restart.
	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	OpenRouterAPIKey         string `yaml:"openRouterAPIKey"`
	OpenRouterBaseURL        string `yaml:"openRouterBaseURL"`
	OpenRouterReferer        string `yaml:"openRouterReferer"`
	CompletionTimeoutSeconds int    `yaml:"completionTimeoutSeconds"`

	DefaultModel       string  `yaml:"defaultModel"`
	DefaultTemperature float64 `yaml:"defaultTemperature"`
	DefaultMaxTokens   int     `yaml:"defaultMaxTokens"`
	SystemPrompt       string  `yaml:"systemPrompt"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	MaxUploadBytes int64    `yaml:"maxUploadBytes"`
	AllowedOrigins []string `yaml:"allowedOrigins"`

	// TrustedProxyCIDRs lists reverse proxies whose forwarded headers may be
	// believed when resolving client IPs. Empty means trust none.
	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`

	SignupRateLimitPerMinute int `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute  int `yaml:"loginRateLimitPerMinute"`

	// SerializeConversations makes messages to the same conversation run one
	// at a time instead of interleaving their writes.
	SerializeConversations bool `yaml:"serializeConversations"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.OpenRouterAPIKey = v
	}
	if v := os.Getenv("OPENROUTER_BASE_URL"); v != "" {
		cfg.OpenRouterBaseURL = v
	}
	if v := os.Getenv("OPENROUTER_REFERER"); v != "" {
		cfg.OpenRouterReferer = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	if v := os.Getenv("RELAY_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("RELAY_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("RELAY_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("RELAY_SIGNUP_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SignupRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("RELAY_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("RELAY_SERIALIZE_CONVERSATIONS"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.SerializeConversations = b
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "venus-auth"
	}
	if cfg.JWTAudience == "" {
		cfg.JWTAudience = "venus-api"
	}
	if cfg.OpenRouterBaseURL == "" {
		cfg.OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.CompletionTimeoutSeconds <= 0 {
		cfg.CompletionTimeoutSeconds = 120
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "deepseek/deepseek-r1"
	}
	if cfg.DefaultTemperature == 0 {
		cfg.DefaultTemperature = 0.7
	}
	if cfg.DefaultMaxTokens == 0 {
		cfg.DefaultMaxTokens = 2048
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "You are Venus AI, a helpful and intelligent assistant."
	}
	if cfg.MinioBucket == "" {
		cfg.MinioBucket = "venus-attachments"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.SignupRateLimitPerMinute == 0 {
		cfg.SignupRateLimitPerMinute = 5
	}
	if cfg.LoginRateLimitPerMinute == 0 {
		cfg.LoginRateLimitPerMinute = 10
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret is required (set in config.yaml or JWT_SECRET)")
	}
	if strings.TrimSpace(cfg.OpenRouterAPIKey) == "" {
		return errors.New("config: openRouterAPIKey is required (set in config.yaml or OPENROUTER_API_KEY)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for rate limiting")
	}
	if cfg.DefaultTemperature < 0 || cfg.DefaultTemperature > 2 {
		return errors.New("config: defaultTemperature must be within [0, 2]")
	}
	if cfg.DefaultMaxTokens < 1 || cfg.DefaultMaxTokens > 8192 {
		return errors.New("config: defaultMaxTokens must be within [1, 8192]")
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// CompletionTimeout returns the upstream call timeout as a duration.
func (c FileConfig) CompletionTimeout() time.Duration {
	return time.Duration(c.CompletionTimeoutSeconds) * time.Second
}

// ParseJWTLeeway parses the optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}
