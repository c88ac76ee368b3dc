package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shpitdev/climate-tweet-harvest/pkg/pipeline/fetch"
)

type collectEnv struct {
	BatchSize    int
	RateLimitRPS float64
	FailFast     bool
	OnExisting   string
	Credentials  string
	AuthMode     string
}

func loadCollectEnv() (collectEnv, error) {
	batchSize, err := envInt("BATCH_SIZE", fetch.MaxBatchSize)
	if err != nil {
		return collectEnv{}, err
	}
	rps, err := envFloat("RATE_LIMIT_RPS", 0)
	if err != nil {
		return collectEnv{}, err
	}
	failFast, err := envBool("FAIL_FAST")
	if err != nil {
		return collectEnv{}, err
	}
	return collectEnv{
		BatchSize:    batchSize,
		RateLimitRPS: rps,
		FailFast:     failFast,
		OnExisting:   envString("ON_EXISTING", "overwrite"),
		Credentials:  envString("TWITTER_CREDENTIALS", ""),
		AuthMode:     envString("TWITTER_AUTH_MODE", "user"),
	}, nil
}

type locateEnv struct {
	Backend       string
	RateLimitRPS  float64
	Workers       int
	MaxRetries    int
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string
	ValkeyAddr    string
	ValkeyPass    string
	ValkeyTTL     time.Duration
}

func loadLocateEnv() (locateEnv, error) {
	rps, err := envFloat("GEO_RATE_LIMIT_RPS", 1)
	if err != nil {
		return locateEnv{}, err
	}
	workers, err := envInt("WORKERS", 4)
	if err != nil {
		return locateEnv{}, err
	}
	maxRetries, err := envInt("MAX_RETRIES", 3)
	if err != nil {
		return locateEnv{}, err
	}
	ttl, err := envDuration("VALKEY_TTL", 0)
	if err != nil {
		return locateEnv{}, err
	}
	return locateEnv{
		Backend:       envString("GEO_BACKEND", "nominatim"),
		RateLimitRPS:  rps,
		Workers:       workers,
		MaxRetries:    maxRetries,
		GeminiAPIKey:  envString("GEMINI_API_KEY", ""),
		GeminiModel:   envString("GEMINI_MODEL", ""),
		GeminiBaseURL: envString("GEMINI_BASE_URL", ""),
		ValkeyAddr:    envString("VALKEY_ADDR", ""),
		ValkeyPass:    os.Getenv("VALKEY_PASSWORD"),
		ValkeyTTL:     ttl,
	}, nil
}

func envString(varName, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(varName)); v != "" {
		return v
	}
	return fallback
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envBool(varName string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return false, nil
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
