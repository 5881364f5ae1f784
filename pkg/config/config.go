// Package config loads the fintable YAML configuration, a .env file and
// FINTABLE_* environment overrides into one validated Config.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"fintable/pkg/core/arbiter"
	"fintable/pkg/core/assemble"
	"fintable/pkg/core/llm"
	"fintable/pkg/core/reconcile"
	"fintable/pkg/models"
)

// LLMAPI selects the model provider used by the arbiter.
type LLMAPI struct {
	llm.Config    `yaml:",inline"`
	MaxRetries    int `yaml:"max_retries"`
	RatePerMinute int `yaml:"rate_per_minute"`
}

// LLMSettings controls when the model is asked and how conflicts are settled.
type LLMSettings struct {
	EnableLLM           bool          `yaml:"enable_llm"`
	EnableComparison    bool          `yaml:"enable_comparison"`
	EnableUserChoice    bool          `yaml:"enable_user_choice"`
	AutoAcceptIfMatch   bool          `yaml:"auto_accept_if_match"`
	DefaultChoice       string        `yaml:"default_choice"`
	DecisionTimeout     time.Duration `yaml:"decision_timeout"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	HighConfidence      float64       `yaml:"high_confidence"`
	DecisionLog         string        `yaml:"decision_log"`
	DecisionStore       string        `yaml:"decision_store"` // jsonl | sqlite | postgres | none
	DatabaseURL         string        `yaml:"database_url"`
}

// Logging picks the slog handler.
type Logging struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Config is the whole configuration file.
type Config struct {
	LLMAPI      LLMAPI            `yaml:"llm_api"`
	LLMSettings LLMSettings       `yaml:"llm_settings"`
	Lexicon     string            `yaml:"lexicon"`   // path; empty uses the built-in lexicon
	Libraries   map[string]string `yaml:"libraries"` // statement kind -> library path
	Tolerance   float64           `yaml:"tolerance"`
	Logging     Logging           `yaml:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LLMAPI: LLMAPI{
			Config:     llm.Config{Provider: "deepseek", MaxTokens: 1024, Temperature: 0, Timeout: 30 * time.Second},
			MaxRetries: 2,
		},
		LLMSettings: LLMSettings{
			EnableLLM:           false,
			EnableComparison:    true,
			EnableUserChoice:    false,
			AutoAcceptIfMatch:   true,
			DefaultChoice:       string(reconcile.ChoiceHeuristic),
			DecisionTimeout:     5 * time.Minute,
			ConfidenceThreshold: arbiter.DefaultThreshold,
			HighConfidence:      arbiter.DefaultHighConfidence,
			DecisionLog:         "logs/decisions.jsonl",
			DecisionStore:       "jsonl",
		},
		Tolerance: 0.01,
		Logging:   Logging{Level: "info", Format: "text"},
	}
}

// Load reads .env (if present), the YAML file at path (if non-empty) over
// the defaults, then environment overrides, and validates the result.
func Load(path string) (Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var err error
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" && err == nil {
			b, perr := strconv.ParseBool(v)
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = b
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" && err == nil {
			f, perr := strconv.ParseFloat(v, 64)
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = f
		}
	}

	str("FINTABLE_LLM_PROVIDER", &c.LLMAPI.Provider)
	str("FINTABLE_LLM_MODEL", &c.LLMAPI.Model)
	str("FINTABLE_LLM_BASE_URL", &c.LLMAPI.BaseURL)
	str("FINTABLE_LLM_API_KEY_ENV", &c.LLMAPI.APIKeyEnv)
	boolean("FINTABLE_ENABLE_LLM", &c.LLMSettings.EnableLLM)
	boolean("FINTABLE_ENABLE_USER_CHOICE", &c.LLMSettings.EnableUserChoice)
	str("FINTABLE_DEFAULT_CHOICE", &c.LLMSettings.DefaultChoice)
	float("FINTABLE_CONFIDENCE_THRESHOLD", &c.LLMSettings.ConfidenceThreshold)
	str("FINTABLE_DECISION_LOG", &c.LLMSettings.DecisionLog)
	str("FINTABLE_DECISION_STORE", &c.LLMSettings.DecisionStore)
	str("DATABASE_URL", &c.LLMSettings.DatabaseURL)
	str("FINTABLE_LEXICON", &c.Lexicon)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	return err
}

// Validate enforces value ranges and known enum values.
func (c Config) Validate() error {
	var problems []string
	bad := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	a := c.LLMAPI
	if a.MaxTokens < 0 || a.MaxTokens > 8192 {
		bad("llm_api.max_tokens %d outside 1..8192", a.MaxTokens)
	}
	if a.Temperature < 0 || a.Temperature > 1 {
		bad("llm_api.temperature %.2f outside 0..1", a.Temperature)
	}
	if a.Timeout < 0 {
		bad("llm_api.timeout must not be negative")
	}
	if a.MaxRetries < 0 || a.MaxRetries > 10 {
		bad("llm_api.max_retries %d outside 0..10", a.MaxRetries)
	}
	if a.RatePerMinute < 0 {
		bad("llm_api.rate_per_minute must not be negative")
	}

	s := c.LLMSettings
	if _, err := reconcile.ParseChoice(s.DefaultChoice); err != nil {
		bad("llm_settings.default_choice: %v", err)
	}
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		bad("llm_settings.confidence_threshold %.2f outside 0..1", s.ConfidenceThreshold)
	}
	if s.HighConfidence < s.ConfidenceThreshold || s.HighConfidence > 1 {
		bad("llm_settings.high_confidence %.2f must be between confidence_threshold and 1", s.HighConfidence)
	}
	if s.DecisionTimeout < 0 {
		bad("llm_settings.decision_timeout must not be negative")
	}
	switch s.DecisionStore {
	case "jsonl", "sqlite":
		if s.DecisionLog == "" {
			bad("llm_settings.decision_log is required for the %s store", s.DecisionStore)
		}
	case "postgres":
		if s.DatabaseURL == "" {
			bad("llm_settings.database_url (or DATABASE_URL) is required for the postgres store")
		}
	case "none", "":
	default:
		bad("llm_settings.decision_store %q is not one of jsonl, sqlite, postgres, none", s.DecisionStore)
	}

	if c.Tolerance < 0 {
		bad("tolerance must not be negative")
	}
	if _, err := c.Logging.level(); err != nil {
		bad("logging.level: %v", err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		bad("logging.format %q is not text or json", c.Logging.Format)
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Policy is the reconciliation policy the settings describe. With
// comparison disabled the default choice settles every conflict.
func (c Config) Policy() reconcile.Policy {
	choice, err := reconcile.ParseChoice(c.LLMSettings.DefaultChoice)
	if err != nil || choice == reconcile.ChoiceSkip {
		choice = reconcile.ChoiceHeuristic
	}
	return reconcile.Policy{
		AutoAcceptOnMatch: c.LLMSettings.AutoAcceptIfMatch,
		Default:           choice,
		DecisionTimeout:   c.LLMSettings.DecisionTimeout,
	}
}

// AskUser reports whether conflicts should be put to an interactive user.
func (c Config) AskUser() bool {
	return c.LLMSettings.EnableLLM && c.LLMSettings.EnableComparison && c.LLMSettings.EnableUserChoice
}

// ArbiterOptions maps llm_api onto the arbiter's call options.
func (c Config) ArbiterOptions(logger *slog.Logger) arbiter.LLMOptions {
	return arbiter.LLMOptions{
		Timeout:       c.LLMAPI.Timeout,
		MaxRetries:    c.LLMAPI.MaxRetries,
		RatePerMinute: c.LLMAPI.RatePerMinute,
		Logger:        logger,
	}
}

// LoadLibraries loads the configured line-item libraries keyed by kind.
func (c Config) LoadLibraries() (map[models.StatementKind]*assemble.Library, error) {
	libs := make(map[models.StatementKind]*assemble.Library, len(c.Libraries))
	for name, path := range c.Libraries {
		kind := models.ParseKind(name)
		if kind == models.KindUnknown {
			return nil, fmt.Errorf("libraries: unknown statement kind %q", name)
		}
		lib, err := assemble.LoadLibrary(path)
		if err != nil {
			return nil, fmt.Errorf("libraries.%s: %w", name, err)
		}
		if lib.Kind() != kind {
			return nil, fmt.Errorf("libraries.%s: %s describes %s", name, path, lib.Kind())
		}
		libs[kind] = lib
	}
	return libs, nil
}

func (l Logging) level() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown level %q", l.Level)
}

// NewLogger builds the slog logger the logging section asks for.
func (l Logging) NewLogger(w io.Writer) *slog.Logger {
	lvl, err := l.level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
