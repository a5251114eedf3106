package main

import (
	"fmt"
	"os"
	"time"

	"sandboxd/internal/common/cache"
	"sandboxd/internal/controlplane/middleware"
	"sandboxd/internal/controlplane/ratelimit"
	"sandboxd/internal/controlplane/security"
	"sandboxd/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxHeaderBytes  = 1 << 20
	defaultHeartbeat       = 30 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	MaxHeaderBytes int           `yaml:"maxHeaderBytes"`
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer"`
}

// DockerConfig holds engine client settings.
type DockerConfig struct {
	// Host is a daemon endpoint, e.g. "unix:///var/run/docker.sock".
	// Empty means environment defaults (DOCKER_HOST et al).
	Host string `yaml:"host"`
}

// EnvironmentConfig holds lifecycle settings.
type EnvironmentConfig struct {
	// Prefix namespaces container and network names on a shared daemon.
	Prefix     string `yaml:"prefix"`
	MaxPerUser int    `yaml:"maxPerUser"`
}

// RealtimeConfig holds hub and websocket settings.
type RealtimeConfig struct {
	// HeartbeatInterval is the period of the server-side ping sweep.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	// AllowedOrigins relaxes the same-origin upgrade check. "*" allows any.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// RateLimitConfig holds per-scope request limits.
type RateLimitConfig struct {
	// Backend is "memory" or "redis".
	Backend string                       `yaml:"backend"`
	Scopes  map[string][]ratelimit.Limit `yaml:"scopes"`
}

// KafkaConfig holds status event stream settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// AppConfig holds the control plane configuration.
type AppConfig struct {
	Server      ServerConfig          `yaml:"server"`
	Logger      logger.Config         `yaml:"logger"`
	Auth        AuthConfig            `yaml:"auth"`
	Docker      DockerConfig          `yaml:"docker"`
	Policy      security.Policy       `yaml:"policy"`
	Environment EnvironmentConfig     `yaml:"environment"`
	Realtime    RealtimeConfig        `yaml:"realtime"`
	Rate        RateLimitConfig       `yaml:"rateLimit"`
	Redis       cache.RedisConfig     `yaml:"redis"`
	Kafka       KafkaConfig           `yaml:"kafka"`
	CORS        middleware.CORSConfig `yaml:"cors"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	cfg := AppConfig{Policy: security.DefaultPolicy()}
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = defaultMaxHeaderBytes
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwtSecret is required")
	}

	if len(cfg.Policy.AllowedImages) == 0 {
		return nil, fmt.Errorf("policy.allowedImages must not be empty")
	}

	if cfg.Environment.Prefix == "" {
		cfg.Environment.Prefix = "sandboxd"
	}

	if cfg.Realtime.HeartbeatInterval == 0 {
		cfg.Realtime.HeartbeatInterval = defaultHeartbeat
	}

	switch cfg.Rate.Backend {
	case "", "memory":
		cfg.Rate.Backend = "memory"
	case "redis":
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("redis addr is required for the redis rate limit backend")
		}
	default:
		return nil, fmt.Errorf("unknown rate limit backend %q", cfg.Rate.Backend)
	}
	if cfg.Rate.Scopes == nil {
		cfg.Rate.Scopes = defaultRateScopes()
	}

	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "sandboxd.environment.status"
	}

	return &cfg, nil
}

func defaultRateScopes() map[string][]ratelimit.Limit {
	return map[string][]ratelimit.Limit{
		"env-create": {
			{Max: 10, Window: time.Minute},
			{Max: 100, Window: time.Hour},
		},
		"env-read": {
			{Max: 120, Window: time.Minute},
		},
		"terminal": {
			{Max: 20, Window: time.Minute},
		},
	}
}
