// Package config reads process configuration from the environment, after
// loading an optional .env file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	// HistoryBackend is postgres, sqlite, memory, or empty to pick from DatabaseURL.
	HistoryBackend string `env:"HISTORY_BACKEND"`
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"oracle.db"`
	AutoMigrate    bool   `env:"AUTO_MIGRATE" envDefault:"true"`

	Iterations int   `env:"SIM_ITERATIONS" envDefault:"10000"`
	Seed       int64 `env:"SIM_SEED"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Model           string        `env:"ORACLE_MODEL"`
	LLMRateInterval time.Duration `env:"LLM_RATE_INTERVAL" envDefault:"750ms"`
	LLMTimeout      time.Duration `env:"LLM_TIMEOUT" envDefault:"45s"`
}

// Load reads .env files (missing ones are fine) and parses the environment.
func Load(files ...string) (Config, error) {
	_ = godotenv.Load(files...)
	loadAPIKeyFromSecret()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Iterations < 1 {
		return Config{}, fmt.Errorf("SIM_ITERATIONS must be positive, got %d", cfg.Iterations)
	}
	cfg.HistoryBackend = strings.ToLower(strings.TrimSpace(cfg.HistoryBackend))
	if cfg.HistoryBackend == "" {
		if cfg.DatabaseURL != "" {
			cfg.HistoryBackend = "postgres"
		} else {
			cfg.HistoryBackend = "sqlite"
		}
	}
	switch cfg.HistoryBackend {
	case "postgres", "sqlite", "memory":
	default:
		return Config{}, fmt.Errorf("HISTORY_BACKEND must be postgres, sqlite or memory, got %q", cfg.HistoryBackend)
	}
	if cfg.HistoryBackend == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("HISTORY_BACKEND=postgres requires DATABASE_URL")
	}
	return cfg, nil
}

// loadAPIKeyFromSecret fills OPENAI_API_KEY from a mounted secret file when the
// variable itself is unset.
func loadAPIKeyFromSecret() {
	if os.Getenv("OPENAI_API_KEY") != "" || os.Getenv("OPENROUTER_API_KEY") != "" {
		return
	}
	var candidates []string
	if p := os.Getenv("OPENAI_API_KEY_FILE"); strings.TrimSpace(p) != "" {
		candidates = append(candidates, p)
	}
	candidates = append(candidates,
		"./secrets/openai_api_key.txt",
		"./openai_api_key.txt",
		"/run/secrets/openai_api_key",
	)
	for _, path := range candidates {
		if b, err := os.ReadFile(path); err == nil {
			if key := strings.TrimSpace(string(b)); key != "" {
				os.Setenv("OPENAI_API_KEY", key)
				return
			}
		}
	}
}
