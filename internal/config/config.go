// Package config loads the gradeblend configuration file and applies
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/abhisek/gradeblend/internal/features"
	"github.com/abhisek/gradeblend/internal/grader"
	"github.com/abhisek/gradeblend/internal/judge"
	"github.com/abhisek/gradeblend/internal/llm"
	"github.com/abhisek/gradeblend/internal/model"
)

const appName = "gradeblend"

// Config is the in-memory representation of config.yaml.
type Config struct {
	DataDir        string             `yaml:"data_dir"`
	MinSamples     int                `yaml:"min_samples"`
	MaxDepth       int                `yaml:"max_depth"`
	FeatureWeights map[string]float64 `yaml:"feature_weights,omitempty"`
	LogLevel       string             `yaml:"log_level"`
	Judge          JudgeConfig        `yaml:"judge"`
	Model          model.Config       `yaml:"model"`
}

// JudgeConfig configures the cloud judge. API keys are read from the
// environment only.
type JudgeConfig struct {
	DailyLimit        int     `yaml:"daily_limit"`
	PreferredProvider string  `yaml:"preferred_provider"`
	RequestTimeoutMs  int     `yaml:"request_timeout_ms"`
	CacheEnabled      bool    `yaml:"cache_enabled"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float64 `yaml:"temperature"`
	RetryAttempts     int     `yaml:"retry_attempts"`
	StructuredOutput  bool    `yaml:"structured_output"`

	// Models overrides the model per provider, e.g. openai: gpt-4.1-mini.
	Models map[string]string `yaml:"models,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:    defaultDataDir(),
		MinSamples: 3,
		MaxDepth:   features.DefaultMaxDepth,
		LogLevel:   "warn",
		Judge: JudgeConfig{
			DailyLimit:        20,
			PreferredProvider: "openai",
			RequestTimeoutMs:  30000,
			CacheEnabled:      true,
			MaxTokens:         512,
			Temperature:       0,
			RetryAttempts:     1,
			StructuredOutput:  true,
		},
		Model: model.DefaultConfig(),
	}
}

func defaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "."+appName)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, appName)
}

// DefaultPath resolves the config file path in priority order:
// 1. GRADEBLEND_CONFIG environment variable
// 2. $XDG_CONFIG_HOME/gradeblend/config.yaml
// 3. ~/.config/gradeblend/config.yaml
func DefaultPath() (string, error) {
	if p := os.Getenv("GRADEBLEND_CONFIG"); p != "" {
		return p, nil
	}
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, appName, "config.yaml"), nil
}

// Load reads the config file at path over the defaults, then applies
// environment overrides and validates the result. An empty path uses
// DefaultPath, where a missing file simply means defaults; an explicit
// path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("invalid YAML in %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("cannot read config %s: %w", path, err)
	}

	cfg, err = ApplyEnv(cfg)
	if err != nil {
		return cfg, err
	}
	cfg.DataDir, err = ExpandPath(cfg.DataDir)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overlays GRADEBLEND_* environment variables onto cfg.
func ApplyEnv(cfg Config) (Config, error) {
	if v := os.Getenv("GRADEBLEND_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("GRADEBLEND_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GRADEBLEND_LLM_PROVIDER"); v != "" {
		cfg.Judge.PreferredProvider = v
	}
	if v := os.Getenv("GRADEBLEND_MIN_SAMPLES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("GRADEBLEND_MIN_SAMPLES: %w", err)
		}
		cfg.MinSamples = n
	}
	if v := os.Getenv("GRADEBLEND_DAILY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("GRADEBLEND_DAILY_LIMIT: %w", err)
		}
		cfg.Judge.DailyLimit = n
	}
	return cfg, nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.MinSamples < 1 {
		errs = append(errs, fmt.Errorf("min_samples must be at least 1, got %d", c.MinSamples))
	}
	if c.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("max_depth must be at least 1, got %d", c.MaxDepth))
	}
	for name, w := range c.FeatureWeights {
		if w < 0 {
			errs = append(errs, fmt.Errorf("feature_weights.%s must not be negative", name))
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	if c.Judge.DailyLimit < 0 {
		errs = append(errs, fmt.Errorf("judge.daily_limit must not be negative, got %d", c.Judge.DailyLimit))
	}
	if c.Judge.RequestTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("judge.request_timeout_ms must not be negative, got %d", c.Judge.RequestTimeoutMs))
	}
	if c.Judge.RetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("judge.retry_attempts must not be negative, got %d", c.Judge.RetryAttempts))
	}
	if c.Judge.Temperature < 0 || c.Judge.Temperature > 1 {
		errs = append(errs, fmt.Errorf("judge.temperature must be within [0, 1], got %v", c.Judge.Temperature))
	}
	if !llm.KnownProvider(c.Judge.PreferredProvider) {
		errs = append(errs, fmt.Errorf("unknown judge.preferred_provider %q", c.Judge.PreferredProvider))
	}
	if c.Model.Trees < 1 {
		errs = append(errs, fmt.Errorf("model.trees must be at least 1, got %d", c.Model.Trees))
	}
	return errors.Join(errs...)
}

// Engine returns the grading engine settings.
func (c Config) Engine() grader.Config {
	return grader.Config{
		DataDir:        c.DataDir,
		MinSamples:     c.MinSamples,
		MaxDepth:       c.MaxDepth,
		FeatureWeights: c.FeatureWeights,
		Model:          c.Model,
	}
}

// JudgeSettings returns the judge adapter settings.
func (c Config) JudgeSettings() judge.Config {
	return judge.Config{
		DailyLimit:   c.Judge.DailyLimit,
		CacheEnabled: c.Judge.CacheEnabled,
		Timeout:      time.Duration(c.Judge.RequestTimeoutMs) * time.Millisecond,
		MaxTokens:    c.Judge.MaxTokens,
		Temperature:  c.Judge.Temperature,

		StructuredOutput: c.Judge.StructuredOutput,
	}
}

// LLM returns the provider settings for the judge, with API keys taken
// from the environment.
func (c Config) LLM() llm.Config {
	lc := llm.DefaultConfig()
	lc.Provider = c.Judge.PreferredProvider
	for provider, m := range c.Judge.Models {
		switch provider {
		case "anthropic":
			lc.Anthropic.Model = m
		case "openai":
			lc.OpenAI.Model = m
		case "gemini":
			lc.Gemini.Model = m
		case "openrouter":
			lc.OpenRouter.Model = m
		}
	}
	lc = llm.ApplyEnv(lc)
	lc = llm.DiscoverKeys(lc)
	lc.Retry.MaxAttempts = c.Judge.RetryAttempts
	lc.Timeout = time.Duration(c.Judge.RequestTimeoutMs) * time.Millisecond
	return lc
}
