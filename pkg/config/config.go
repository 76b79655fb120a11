// Package config loads the Trip Designer session engine's runtime
// configuration, overlaying environment variables onto sane defaults the
// struct-tag defaults.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ProvidersConfig selects and authenticates the model backends.
type ProvidersConfig struct {
	// OpenAICompatBaseURL is the base URL of an OpenAI-compatible chat
	// completions endpoint (OpenAI itself, or any compatible gateway).
	OpenAICompatBaseURL string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIAPIKey        string `env:"OPENAI_API_KEY"`

	AnthropicBaseURL string `env:"ANTHROPIC_BASE_URL" envDefault:"https://api.anthropic.com"`
	AnthropicAPIKey  string `env:"ANTHROPIC_API_KEY"`
}

// KnowledgeBaseConfig configures the optional KB-first retrieval layer.
type KnowledgeBaseConfig struct {
	// Backend is "none" (KB disabled, tools fall straight through to
	// search_web) or "chromem" (embedded vector store).
	Backend string `env:"KB_BACKEND" envDefault:"none"`
	Path    string `env:"KB_PATH" envDefault:"./data/kb"`
	APIKey  string `env:"KB_API_KEY"`
	// RelevanceThreshold is the minimum similarity score (0-1) a KB hit
	// must clear before it is trusted over a web search.
	RelevanceThreshold float64 `env:"KB_RELEVANCE_THRESHOLD" envDefault:"0.7"`
}

// SearchConfig configures the optional live web-search tool backend.
type SearchConfig struct {
	APIKey string `env:"SEARCH_API_KEY"`
}

// AgentConfig controls the streaming agent loop's model, limits, and
// compaction behavior.
type AgentConfig struct {
	Model       string  `env:"AGENT_MODEL" envDefault:"gpt-4o-mini"`
	MaxTokens   int     `env:"AGENT_MAX_TOKENS" envDefault:"4096"`
	Temperature float64 `env:"AGENT_TEMPERATURE" envDefault:"0.3"`

	// ContextLimitTokens is the model's context window; compaction fires
	// once usage crosses CompactionThreshold fraction of it.
	ContextLimitTokens  int     `env:"AGENT_CONTEXT_LIMIT_TOKENS" envDefault:"128000"`
	CompactionThreshold float64 `env:"AGENT_COMPACTION_THRESHOLD" envDefault:"0.8"`
	// CompactionCooldownSeconds prevents back-to-back compactions from
	// thrashing a session that's pinned near the threshold.
	CompactionCooldownSeconds int `env:"AGENT_COMPACTION_COOLDOWN_SECONDS" envDefault:"300"`

	// SessionCostLimitUSD is a pre-flight spend cap enforced before any
	// completion is opened; zero disables the check.
	SessionCostLimitUSD float64 `env:"AGENT_SESSION_COST_LIMIT_USD" envDefault:"0"`

	IdleTimeoutSeconds int `env:"AGENT_IDLE_TIMEOUT_SECONDS" envDefault:"86400"`
	MaxToolRounds      int `env:"AGENT_MAX_TOOL_ROUNDS" envDefault:"8"`
}

// StorageConfig selects the reference persistence backend.
type StorageConfig struct {
	// SQLitePath is the sqlite file backing itinerary/session stores.
	// Empty means in-memory only (no persistence across restarts).
	SQLitePath string `env:"STORAGE_SQLITE_PATH"`
}

// Config is the Trip Designer session engine's complete runtime
// configuration.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Providers     ProvidersConfig
	KnowledgeBase KnowledgeBaseConfig
	Search        SearchConfig
	Agent         AgentConfig
	Storage       StorageConfig
}

// DefaultConfig returns a Config populated with the envDefault values,
// with no environment variables applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}}); err != nil {
		// envDefault values are constant and always parse; a failure here
		// means the struct tags themselves are malformed, a programmer
		// error worth surfacing loudly rather than silently swallowing.
		panic(fmt.Sprintf("config: default parse failed: %v", err))
	}
	return cfg
}

// Load returns a Config overlaying process environment variables onto
// the defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}
	return cfg, nil
}
