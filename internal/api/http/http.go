package http

import "time"

type Config struct {
	Port        uint            `mapstructure:"port"`
	AdminAPIKey string          `mapstructure:"admin_api_key"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds activation attempts per (caller IP, license key).
type RateLimitConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
}
