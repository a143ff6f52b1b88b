package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the parsed extraction configuration file.
type Config struct {
	Version     string                 `yaml:"version,omitempty"`
	Models      map[string]ModelConfig `yaml:"models,omitempty"`
	Chunking    ChunkingConfig         `yaml:"chunking,omitempty"`
	Refine      RefineConfig           `yaml:"refine,omitempty"`
	Concurrency int                    `yaml:"concurrency,omitempty"`
	Retry       RetryConfig            `yaml:"retry,omitempty"`
	DailyLimit  DailyLimitConfig       `yaml:"daily_limit,omitempty"`
	Paths       PathsConfig            `yaml:"paths,omitempty"`
	Context     ContextConfig          `yaml:"context,omitempty"`
	Output      OutputConfig           `yaml:"output,omitempty"`
}

// ModelConfig describes one named model entry.
type ModelConfig struct {
	Provider        string   `yaml:"provider,omitempty"`
	Model           string   `yaml:"model,omitempty"`
	Temperature     *float64 `yaml:"temperature,omitempty"`
	TopP            *float64 `yaml:"top_p,omitempty"`
	MaxTokens       int      `yaml:"max_tokens,omitempty"`
	ReasoningEffort string   `yaml:"reasoning_effort,omitempty"`
	BaseURL         string   `yaml:"base_url,omitempty"`
}

type ChunkingConfig struct {
	Strategy       string `yaml:"strategy,omitempty"`
	TokensPerChunk int    `yaml:"tokens_per_chunk,omitempty"`
}

// RefineConfig tunes the semantic boundary refiner.
type RefineConfig struct {
	ContextWindow          int `yaml:"context_window,omitempty"`
	CertaintyThreshold     int `yaml:"certainty_threshold,omitempty"`
	MaxContextExpansions   int `yaml:"max_context_expansions,omitempty"`
	MaxLowCertaintyRetries int `yaml:"max_low_certainty_retries,omitempty"`
	ScanMultiplier         int `yaml:"scan_multiplier,omitempty"`
	// BoundaryType names the logical unit boundaries separate ("diary entry",
	// "letter"); it is injected into the boundary judgement prompt.
	BoundaryType string `yaml:"boundary_type,omitempty"`
}

type RetryConfig struct {
	Attempts       int      `yaml:"attempts,omitempty"`
	WaitMin        Duration `yaml:"wait_min,omitempty"`
	WaitMax        Duration `yaml:"wait_max,omitempty"`
	JitterMax      Duration `yaml:"jitter_max,omitempty"`
	RequestTimeout Duration `yaml:"request_timeout,omitempty"`
}

type DailyLimitConfig struct {
	Enabled bool  `yaml:"enabled,omitempty"`
	Tokens  int64 `yaml:"tokens,omitempty"`
}

type PathsConfig struct {
	SchemasDir   string `yaml:"schemas_dir,omitempty"`
	OutputDir    string `yaml:"output_dir,omitempty"`
	InputPattern string `yaml:"input_pattern,omitempty"`
}

type ContextConfig struct {
	Basic      string `yaml:"basic,omitempty"`
	Additional string `yaml:"additional,omitempty"`
}

type OutputConfig struct {
	RetainTemporaryJSONL bool `yaml:"retain_temporary_jsonl,omitempty"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(data []byte) error {
	// The raw scalar keeps the trailing newline of its source line.
	s := strings.TrimSpace(string(data))
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
