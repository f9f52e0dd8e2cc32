package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Endpoint identifies one hosted inference model.
type Endpoint struct {
	URL    string
	APIKey string
}

// Config carries every tunable the service reads from the environment.
type Config struct {
	ListenAddr  string
	DatabaseDSN string
	RedisAddr   string

	PrimaryEndpoint   Endpoint
	SecondaryEndpoint Endpoint

	InferenceTimeout time.Duration
	MaxConcurrent    int
	DailyCallBudget  int

	PrimaryThreshold    float64
	SecondaryThreshold  float64
	NegativeConfidence  float64
	NegativeClassLabels []string

	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	WindowSeconds     int
	WindowMaxRequests int

	MaxImageDimension int

	JWTSecret   string
	JWTAudience string
}

// Load reads configuration from the environment, applying defaults for
// everything except the inference endpoints and API key.
func Load() (*Config, error) {
	apiKey, err := requireEnv("INFERENCE_API_KEY")
	if err != nil {
		return nil, err
	}
	primaryURL, err := requireEnv("PRIMARY_MODEL_URL")
	if err != nil {
		return nil, err
	}
	secondaryURL, err := requireEnv("SECONDARY_MODEL_URL")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
		DatabaseDSN: getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=calamansi port=5432 sslmode=disable"),
		RedisAddr:   getEnv("REDIS_ADDR", "redis:6379"),

		PrimaryEndpoint:   Endpoint{URL: primaryURL, APIKey: apiKey},
		SecondaryEndpoint: Endpoint{URL: secondaryURL, APIKey: apiKey},

		InferenceTimeout: getDurationEnv("INFERENCE_TIMEOUT", 20*time.Second),
		MaxConcurrent:    getIntEnv("MAX_CONCURRENT_DETECTIONS", 10),
		DailyCallBudget:  getIntEnv("DAILY_CALL_BUDGET", 1000),

		PrimaryThreshold:    getFloatEnv("PRIMARY_CONFIDENCE_THRESHOLD", 0.50),
		SecondaryThreshold:  getFloatEnv("SECONDARY_CONFIDENCE_THRESHOLD", 0.50),
		NegativeConfidence:  getFloatEnv("NEGATIVE_CONFIDENCE_THRESHOLD", 0.70),
		NegativeClassLabels: splitList(getEnv("NEGATIVE_CLASS_LABELS", "not calamansi,non-calamansi")),

		BreakerFailureThreshold: getIntEnv("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:         getDurationEnv("BREAKER_COOLDOWN", time.Minute),

		WindowSeconds:     getIntEnv("RATE_WINDOW_SECONDS", 60),
		WindowMaxRequests: getIntEnv("RATE_WINDOW_MAX", 30),

		MaxImageDimension: getIntEnv("MAX_IMAGE_DIMENSION", 1024),

		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTAudience: os.Getenv("JWT_AUDIENCE"),
	}
	return cfg, nil
}

func requireEnv(key string) (string, error) {
	value, present := os.LookupEnv(key)
	if !present || value == "" {
		return "", fmt.Errorf("missing environment variable %s", key)
	}
	return value, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
