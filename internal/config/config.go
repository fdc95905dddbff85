// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Flat koanf keys; every field maps 1:1 to a REVROUTE_ env var.
// - New returns defaults; Load layers file and env on top and validates.
package config

import (
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`
	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr" validate:"required"`

	// HistoryPath points at the JSONL event stream produced by ingestion.
	HistoryPath string `koanf:"history_path"`
	// PromptsDir holds <id>/<version>.yaml prompt files.
	PromptsDir string `koanf:"prompts_dir"`

	// CacheBackend selects the semantic cache backend.
	CacheBackend string `koanf:"cache_backend" validate:"oneof=memory disk badger"`
	CacheDir     string `koanf:"cache_dir" validate:"required_unless=CacheBackend memory"`

	// RunStore selects where evaluation runs are kept.
	RunStore     string `koanf:"run_store" validate:"oneof=memory badger"`
	RunStorePath string `koanf:"run_store_path" validate:"required_if=RunStore badger"`

	// RegistryPath is the SQLite file of the candidate registry. Empty keeps
	// the registry in memory.
	RegistryPath string `koanf:"registry_path"`

	DefaultTask string `koanf:"default_task" validate:"required"`

	// OperatorConcurrency bounds operators running at once per decision.
	OperatorConcurrency int `koanf:"operator_concurrency" validate:"gte=1"`
	// OperatorTimeoutMS bounds each operator call; 0 disables the bound.
	OperatorTimeoutMS int `koanf:"operator_timeout_ms" validate:"gte=0"`
	// EvalWorkers sets how many contexts a run replays concurrently.
	EvalWorkers int `koanf:"eval_workers" validate:"gte=1"`

	// Normalization is the fusion policy used when no champion sets one.
	Normalization string `koanf:"normalization" validate:"oneof=minmax max zscore rank"`
	// OperatorWeights are the fallback fusion weights by operator id.
	OperatorWeights map[string]float64 `koanf:"operator_weights"`

	// HorizonMarginHours is the default safety margin of the cutoff check.
	HorizonMarginHours int `koanf:"horizon_margin_hours" validate:"gte=1"`

	HalfLifeDays  float64 `koanf:"half_life_days" validate:"gt=0"`
	NeighborCount int     `koanf:"neighbor_count" validate:"gte=1"`

	// LLMEnabled registers the LLM rerank operator.
	LLMEnabled     bool    `koanf:"llm_enabled"`
	LLMModel       string  `koanf:"llm_model" validate:"required_if=LLMEnabled true"`
	LLMAPIKey      string  `koanf:"llm_api_key"`
	LLMBaseURL     string  `koanf:"llm_base_url" validate:"omitempty,url"`
	LLMTemperature float32 `koanf:"llm_temperature" validate:"gte=0,lte=2"`
	LLMMaxTokens   int     `koanf:"llm_max_tokens" validate:"gte=1"`
	LLMMaxRetries  int     `koanf:"llm_max_retries" validate:"gte=0"`
	// LLMBestEffort lets routing skip a failed rerank instead of failing.
	LLMBestEffort  bool    `koanf:"llm_best_effort"`
	PromptID       string  `koanf:"prompt_id" validate:"required_if=LLMEnabled true"`
	PromptVersion  string  `koanf:"prompt_version" validate:"required_if=LLMEnabled true"`
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		PromptsDir:          "prompts",
		CacheBackend:        "memory",
		RunStore:            "memory",
		DefaultTask:         "reviewer_routing",
		OperatorConcurrency: runtime.NumCPU(),
		OperatorTimeoutMS:   30_000,
		EvalWorkers:         runtime.NumCPU() * 2,
		Normalization:       "minmax",
		HorizonMarginHours:  24,
		HalfLifeDays:        30,
		NeighborCount:       10,
		LLMModel:            "gpt-4o-mini",
		LLMTemperature:      0,
		LLMMaxTokens:        1024,
		LLMMaxRetries:       3,
		PromptID:            "reviewer_rerank",
		PromptVersion:       "v1",
	}
}

// OperatorTimeout returns OperatorTimeoutMS as a duration.
func (c *Config) OperatorTimeout() time.Duration {
	return time.Duration(c.OperatorTimeoutMS) * time.Millisecond
}

// HorizonMargin returns HorizonMarginHours as a duration.
func (c *Config) HorizonMargin() time.Duration {
	return time.Duration(c.HorizonMarginHours) * time.Hour
}
