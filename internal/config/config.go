package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	OTPSecret   string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// IPRateLimit is the number of auth requests allowed per client IP per minute
	IPRateLimit int

	DevMode               bool
	RefreshReuseDetection bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:        "8080",
		JWTIssuer:   "fruitcopy",
		JWTAudience: "fruitcopy-clients",
	}

	for _, req := range []struct {
		name string
		dst  *string
	}{
		{"DATABASE_URL", &cfg.DatabaseURL},
		{"REDIS_URL", &cfg.RedisURL},
		{"JWT_SECRET", &cfg.JWTSecret},
		{"OTP_SECRET", &cfg.OTPSecret},
	} {
		v := strings.TrimSpace(os.Getenv(req.name))
		if v == "" {
			return nil, fmt.Errorf("%s environment variable is required", req.name)
		}
		*req.dst = v
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}

	accessMinutes, err := positiveInt("ACCESS_TOKEN_MINUTES", 15)
	if err != nil {
		return nil, err
	}
	cfg.AccessTokenTTL = time.Duration(accessMinutes) * time.Minute

	refreshDays, err := positiveInt("REFRESH_TOKEN_DAYS", 14)
	if err != nil {
		return nil, err
	}
	cfg.RefreshTokenTTL = time.Duration(refreshDays) * 24 * time.Hour

	if cfg.IPRateLimit, err = positiveInt("IP_RATE_LIMIT", 30); err != nil {
		return nil, err
	}

	cfg.DevMode = os.Getenv("DEV_MODE") == "true"
	cfg.RefreshReuseDetection = os.Getenv("REFRESH_REUSE_DETECTION") == "true"

	return cfg, nil
}

func positiveInt(name string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	return n, nil
}
