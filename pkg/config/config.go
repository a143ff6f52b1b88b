package config

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/goccy/go-yaml"
)

// Version is the current config file format version.
const Version = "1"

// Strategy names accepted by chunking.strategy and the --chunking flag.
const (
	StrategyAuto             = "auto"
	StrategyAutoAdjust       = "auto-adjust"
	StrategyLineRanges       = "line_ranges"
	StrategyAdjustLineRanges = "adjust-line-ranges"
	StrategyPerFile          = "per-file"
)

// DefaultExtractionModel is the model entry consulted by the process command.
const DefaultExtractionModel = "extraction"

type Reader interface {
	Read(ctx context.Context) ([]byte, error)
}

type FileReader struct {
	Path string
}

func (r FileReader) Read(context.Context) ([]byte, error) {
	return os.ReadFile(r.Path)
}

// Load parses and validates a configuration file, applying defaults for
// everything the file leaves unset.
func Load(ctx context.Context, source Reader) (*Config, error) {
	data, err := source.Read(ctx)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file\n%s", yaml.FormatError(err, true, true))
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills every field the file left at its zero value. Decoding an
// empty or partial document must not lose the defaults, so they are applied
// after unmarshalling rather than by decoding into Default().
func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.Models == nil {
		cfg.Models = def.Models
	}
	if cfg.Chunking.Strategy == "" {
		cfg.Chunking.Strategy = def.Chunking.Strategy
	}
	if cfg.Chunking.TokensPerChunk == 0 {
		cfg.Chunking.TokensPerChunk = def.Chunking.TokensPerChunk
	}
	if cfg.Refine.ContextWindow == 0 {
		cfg.Refine.ContextWindow = def.Refine.ContextWindow
	}
	if cfg.Refine.CertaintyThreshold == 0 {
		cfg.Refine.CertaintyThreshold = def.Refine.CertaintyThreshold
	}
	if cfg.Refine.MaxContextExpansions == 0 {
		cfg.Refine.MaxContextExpansions = def.Refine.MaxContextExpansions
	}
	if cfg.Refine.MaxLowCertaintyRetries == 0 {
		cfg.Refine.MaxLowCertaintyRetries = def.Refine.MaxLowCertaintyRetries
	}
	if cfg.Refine.ScanMultiplier == 0 {
		cfg.Refine.ScanMultiplier = def.Refine.ScanMultiplier
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = def.Retry.Attempts
	}
	if cfg.Retry.WaitMin == 0 {
		cfg.Retry.WaitMin = def.Retry.WaitMin
	}
	if cfg.Retry.WaitMax == 0 {
		cfg.Retry.WaitMax = def.Retry.WaitMax
	}
	if cfg.Retry.JitterMax == 0 {
		cfg.Retry.JitterMax = def.Retry.JitterMax
	}
	if cfg.Retry.RequestTimeout == 0 {
		cfg.Retry.RequestTimeout = def.Retry.RequestTimeout
	}
	if cfg.DailyLimit.Tokens == 0 {
		cfg.DailyLimit.Tokens = def.DailyLimit.Tokens
	}
	if cfg.Paths.SchemasDir == "" {
		cfg.Paths.SchemasDir = def.Paths.SchemasDir
	}
	if cfg.Paths.OutputDir == "" {
		cfg.Paths.OutputDir = def.Paths.OutputDir
	}
	if cfg.Paths.InputPattern == "" {
		cfg.Paths.InputPattern = def.Paths.InputPattern
	}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Version: Version,
		Models:  map[string]ModelConfig{},
		Chunking: ChunkingConfig{
			Strategy:       StrategyAuto,
			TokensPerChunk: 10000,
		},
		Refine: RefineConfig{
			ContextWindow:          300,
			CertaintyThreshold:     70,
			MaxContextExpansions:   3,
			MaxLowCertaintyRetries: 3,
			ScanMultiplier:         3,
		},
		Concurrency: 10,
		Retry: RetryConfig{
			Attempts:       5,
			WaitMin:        Duration(4 * time.Second),
			WaitMax:        Duration(60 * time.Second),
			JitterMax:      Duration(2 * time.Second),
			RequestTimeout: Duration(2 * time.Minute),
		},
		DailyLimit: DailyLimitConfig{
			Enabled: false,
			Tokens:  500000,
		},
		Paths: PathsConfig{
			SchemasDir:   "schemas",
			OutputDir:    "output",
			InputPattern: "**/*.txt",
		},
	}
}

func validate(cfg *Config) error {
	if cfg.Version != "" && cfg.Version != Version {
		return fmt.Errorf("unsupported config version %q (expected %q)", cfg.Version, Version)
	}

	validStrategies := []string{
		StrategyAuto,
		StrategyAutoAdjust,
		StrategyLineRanges,
		StrategyAdjustLineRanges,
		StrategyPerFile,
	}
	if !slices.Contains(validStrategies, cfg.Chunking.Strategy) {
		return fmt.Errorf("invalid chunking strategy %q (valid: %v)", cfg.Chunking.Strategy, validStrategies)
	}

	if cfg.Chunking.TokensPerChunk <= 0 {
		return fmt.Errorf("chunking.tokens_per_chunk must be positive, got %d", cfg.Chunking.TokensPerChunk)
	}

	if cfg.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", cfg.Concurrency)
	}

	if cfg.Retry.Attempts <= 0 {
		return fmt.Errorf("retry.attempts must be positive, got %d", cfg.Retry.Attempts)
	}
	if cfg.Retry.WaitMin.Std() > cfg.Retry.WaitMax.Std() {
		return fmt.Errorf("retry.wait_min (%s) exceeds retry.wait_max (%s)", cfg.Retry.WaitMin.Std(), cfg.Retry.WaitMax.Std())
	}

	if cfg.DailyLimit.Enabled && cfg.DailyLimit.Tokens <= 0 {
		return fmt.Errorf("daily_limit.tokens must be positive when enabled, got %d", cfg.DailyLimit.Tokens)
	}

	if cfg.Refine.CertaintyThreshold < 0 || cfg.Refine.CertaintyThreshold > 100 {
		return fmt.Errorf("refine.certainty_threshold must be in 0..100, got %d", cfg.Refine.CertaintyThreshold)
	}

	for name, model := range cfg.Models {
		if model.Model == "" {
			return fmt.Errorf("model %q: model name is required", name)
		}
	}

	return nil
}

// ExtractionModel returns the model entry used for extraction requests.
func (c *Config) ExtractionModel() (ModelConfig, error) {
	model, ok := c.Models[DefaultExtractionModel]
	if !ok {
		return ModelConfig{}, fmt.Errorf("config has no %q model entry", DefaultExtractionModel)
	}
	return model, nil
}
