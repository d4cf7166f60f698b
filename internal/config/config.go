// Package config loads backend settings from environment variables.
// cmd/main.go loads a .env file first so local development matches production.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime settings for the backend.
type Config struct {
	// Server
	Host        string
	Port        string
	CORSOrigins []string

	// Docker container limits
	MaxExecutionTime time.Duration
	MaxMemoryBytes   int64
	MaxCPUQuota      int64
	MaxCPUPeriod     int64
	StopGrace        time.Duration

	// Sandbox lifecycle
	DockerHost        string
	SandboxNamePrefix string
	PrePullImages     bool

	// Rate limiting
	RateLimitPerMinute int
}

// Load reads configuration from the environment, applying defaults.
func Load() Config {
	return Config{
		Host:               envOr("HOST", "0.0.0.0"),
		Port:               envOr("PORT", "8000"),
		CORSOrigins:        splitCSV(envOr("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		MaxExecutionTime:   time.Duration(envInt("MAX_EXECUTION_TIME", 60)) * time.Second,
		MaxMemoryBytes:     envInt64("MAX_MEMORY", 1<<30),
		MaxCPUQuota:        envInt64("MAX_CPU_QUOTA", 100000),
		MaxCPUPeriod:       envInt64("MAX_CPU_PERIOD", 100000),
		StopGrace:          time.Duration(envInt("STOP_GRACE_SECONDS", 3)) * time.Second,
		DockerHost:         os.Getenv("DOCKER_HOST"),
		SandboxNamePrefix:  envOr("SANDBOX_NAME_PREFIX", "sandbox"),
		PrePullImages:      envBool("PRE_PULL_IMAGES", false),
		RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 10),
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
