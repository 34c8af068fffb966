package llm

import (
	"errors"
	"os"
	"strings"
	"time"
)

type providerKind int

const (
	providerOpenAI providerKind = iota
	providerOpenRouter
)

func (k providerKind) String() string {
	if k == providerOpenRouter {
		return "openrouter"
	}
	return "openai"
}

// Config is the resolved connection info for one chat-completions endpoint.
type Config struct {
	Kind         providerKind
	APIKey       string
	Model        string
	BaseURL      string
	HeaderName   string
	HeaderPrefix string
	Organization string
	ExtraHeaders map[string]string

	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
	// RateInterval spaces requests; zero disables the limiter.
	RateInterval time.Duration
}

var defaultBaseURL = map[providerKind]string{
	providerOpenAI:     "https://api.openai.com/v1",
	providerOpenRouter: "https://openrouter.ai/api/v1",
}

// ConfigFromEnv resolves provider, key and endpoint from the environment.
// An empty model falls back to ORACLE_MODEL, OPENROUTER_MODEL, OPENAI_MODEL.
func ConfigFromEnv(model string) (Config, error) {
	kind, pinned := providerFromEnv()

	model = firstNonEmpty(model, env("ORACLE_MODEL"))
	if model == "" && kind == providerOpenRouter {
		model = env("OPENROUTER_MODEL")
	}
	if model = firstNonEmpty(model, env("OPENAI_MODEL")); model == "" {
		return Config{}, errors.New("model missing: set ORACLE_MODEL, OPENAI_MODEL or OPENROUTER_MODEL")
	}

	base := firstNonEmpty(env("OPENAI_API_BASE"), env("OPENAI_BASE_URL"), env("OPENROUTER_API_BASE"), env("OPENROUTER_BASE_URL"))
	if !pinned && (mentions(model, "openrouter/") || mentions(base, "openrouter")) {
		kind = providerOpenRouter
	}
	base = strings.TrimRight(firstNonEmpty(base, defaultBaseURL[kind]), "/")

	keys := []string{env("OPENAI_API_KEY"), env("OPENROUTER_API_KEY")}
	if kind == providerOpenRouter {
		keys[0], keys[1] = keys[1], keys[0]
	}
	cfg := Config{
		Kind:         kind,
		APIKey:       firstNonEmpty(keys...),
		Model:        model,
		BaseURL:      base,
		HeaderName:   firstNonEmpty(env("OPENAI_API_KEY_HEADER"), env("OPENROUTER_API_KEY_HEADER"), "Authorization"),
		Organization: env("OPENAI_ORG"),
		ExtraHeaders: map[string]string{},
		Timeout:      45 * time.Second,
	}
	if cfg.APIKey == "" {
		return Config{}, errors.New("API key missing: set OPENAI_API_KEY or OPENROUTER_API_KEY")
	}

	// prefixes keep their whitespace, e.g. "Bearer "
	cfg.HeaderPrefix = os.Getenv("OPENAI_API_KEY_PREFIX")
	if cfg.HeaderPrefix == "" {
		cfg.HeaderPrefix = os.Getenv("OPENROUTER_API_KEY_PREFIX")
	}
	if cfg.HeaderName == "Authorization" && strings.TrimSpace(cfg.HeaderPrefix) == "" {
		cfg.HeaderPrefix = "Bearer "
	}

	if kind == providerOpenRouter {
		site := firstNonEmpty(env("OPENROUTER_SITE_URL"), "https://github.com/ai-oracle")
		cfg.ExtraHeaders["HTTP-Referer"] = site
		cfg.ExtraHeaders["Referer"] = site
		cfg.ExtraHeaders["X-Title"] = firstNonEmpty(env("OPENROUTER_TITLE"), "AI Oracle")
	}
	return cfg, nil
}

// providerFromEnv guesses the provider from which variables are set.
// pinned reports an explicit LLM_PROVIDER, which later hints must not override.
func providerFromEnv() (kind providerKind, pinned bool) {
	switch strings.ToLower(env("LLM_PROVIDER")) {
	case "openrouter":
		return providerOpenRouter, true
	case "openai":
		return providerOpenAI, true
	}
	switch {
	case env("OPENROUTER_API_KEY") != "" && env("OPENAI_API_KEY") == "",
		env("OPENROUTER_MODEL") != "" && env("OPENAI_MODEL") == "",
		env("OPENROUTER_API_BASE") != "" || env("OPENROUTER_BASE_URL") != "",
		mentions(env("OPENAI_API_BASE")+" "+env("OPENAI_BASE_URL"), "openrouter"):
		return providerOpenRouter, false
	}
	return providerOpenAI, false
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func mentions(s, sub string) bool { return strings.Contains(strings.ToLower(s), sub) }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
