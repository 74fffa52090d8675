// Package config loads process configuration from the environment, with an
// optional .env file for local development. It is deliberately thin: it is
// an external collaborator to the resolution/caching pipeline, not part of
// it.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every value the rest of the process needs at construction
// time. It is read-only after Load returns.
type Config struct {
	HTTPAddr string

	CacheDir  string
	CacheOn   bool
	StateDir  string
	RedisAddr string

	LibraryDir string

	ExternalScriptURLs []string
	ScriptDir          string
	ScriptInterpreter  string
	FallbackTimeout    time.Duration

	MaterializerRetries  int
	MaterializerBaseWait time.Duration

	KVFlushInterval time.Duration

	GatewaySource string
	GatewayURLs   []string
}

// Load reads a .env file if present, then the process environment, applying
// the same default-with-override shape the rest of the corpus uses.
func Load(logger *slog.Logger) (*Config, error) {
	_ = godotenv.Load() // fine if no .env file exists

	cfg := &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		CacheDir:  getEnv("CACHE_DIR", "./data/cache"),
		CacheOn:   getEnvBool("CACHE_ENABLE", true),
		StateDir:  getEnv("STATE_DIR", "./data/state"),
		RedisAddr: getEnv("REDIS_ADDR", ""),

		LibraryDir: getEnv("LIBRARY_DIR", ""),

		ExternalScriptURLs: getEnvList("EXTERNAL_SCRIPT_URLS", nil),
		ScriptDir:          getEnv("SCRIPT_DIR", "./data/scripts"),
		ScriptInterpreter:  getEnv("SCRIPT_INTERPRETER", "node"),
		FallbackTimeout:    getEnvDuration("FALLBACK_TIMEOUT", 10*time.Second),

		MaterializerRetries:  getEnvInt("MATERIALIZER_RETRIES", 3),
		MaterializerBaseWait: getEnvDuration("MATERIALIZER_BASE_WAIT", 500*time.Millisecond),

		KVFlushInterval: getEnvDuration("KV_FLUSH_INTERVAL", 30*time.Second),

		GatewaySource: getEnv("GATEWAY_SOURCE", "gw"),
		GatewayURLs:   getEnvList("GATEWAY_URLS", nil),
	}

	logger.Info("config loaded",
		"cacheDir", cfg.CacheDir,
		"cacheEnable", cfg.CacheOn,
		"redisAddr", cfg.RedisAddr,
		"externalScripts", len(cfg.ExternalScriptURLs),
	)
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
