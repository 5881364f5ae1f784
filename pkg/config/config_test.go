package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintable/pkg/core/reconcile"
	"fintable/pkg/models"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.AskUser())

	p := cfg.Policy()
	assert.True(t, p.AutoAcceptOnMatch)
	assert.Equal(t, reconcile.ChoiceHeuristic, p.Default)
	assert.Equal(t, 5*time.Minute, p.DecisionTimeout)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "fintable.yaml", `
llm_api:
  provider: qwen
  model: qwen-plus
  max_tokens: 2048
  temperature: 0.1
  timeout: 45s
  max_retries: 3
  rate_per_minute: 30
llm_settings:
  enable_llm: true
  enable_comparison: true
  enable_user_choice: true
  auto_accept_if_match: false
  default_choice: prefer_model
  decision_timeout: 2m
  confidence_threshold: 0.6
  high_confidence: 0.95
  decision_store: sqlite
  decision_log: logs/decisions.db
tolerance: 0.5
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "qwen", cfg.LLMAPI.Provider)
	assert.Equal(t, "qwen-plus", cfg.LLMAPI.Model)
	assert.Equal(t, 2048, cfg.LLMAPI.MaxTokens)
	assert.Equal(t, 45*time.Second, cfg.LLMAPI.Timeout)
	assert.True(t, cfg.AskUser())
	assert.Equal(t, 0.5, cfg.Tolerance)

	p := cfg.Policy()
	assert.False(t, p.AutoAcceptOnMatch)
	assert.Equal(t, reconcile.ChoiceModel, p.Default)
	assert.Equal(t, 2*time.Minute, p.DecisionTimeout)

	opts := cfg.ArbiterOptions(nil)
	assert.Equal(t, 3, opts.MaxRetries)
	assert.Equal(t, 30, opts.RatePerMinute)
	assert.Equal(t, 45*time.Second, opts.Timeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"FINTABLE_ENABLE_LLM":           "true",
		"FINTABLE_LLM_PROVIDER":         "ollama",
		"FINTABLE_CONFIDENCE_THRESHOLD": "0.8",
		"FINTABLE_DECISION_STORE":       "postgres",
		"DATABASE_URL":                  "postgres://localhost/fintable",
		"LOG_FORMAT":                    "json",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.LLMSettings.EnableLLM)
	assert.Equal(t, "ollama", cfg.LLMAPI.Provider)
	assert.Equal(t, 0.8, cfg.LLMSettings.ConfidenceThreshold)
	assert.Equal(t, "postgres", cfg.LLMSettings.DecisionStore)
	assert.Equal(t, "postgres://localhost/fintable", cfg.LLMSettings.DatabaseURL)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestEnvOverrideBadValue(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "FINTABLE_ENABLE_LLM" {
			return "maybe", true
		}
		return "", false
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FINTABLE_ENABLE_LLM")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"max tokens", func(c *Config) { c.LLMAPI.MaxTokens = 9000 }, "max_tokens"},
		{"temperature", func(c *Config) { c.LLMAPI.Temperature = 1.5 }, "temperature"},
		{"choice", func(c *Config) { c.LLMSettings.DefaultChoice = "coin_flip" }, "default_choice"},
		{"threshold", func(c *Config) { c.LLMSettings.ConfidenceThreshold = 1.2 }, "confidence_threshold"},
		{"high below threshold", func(c *Config) { c.LLMSettings.HighConfidence = 0.5 }, "high_confidence"},
		{"store", func(c *Config) { c.LLMSettings.DecisionStore = "redis" }, "decision_store"},
		{"postgres url", func(c *Config) { c.LLMSettings.DecisionStore = "postgres" }, "database_url"},
		{"jsonl path", func(c *Config) { c.LLMSettings.DecisionLog = "" }, "decision_log"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPolicySkipFallsBackToHeuristic(t *testing.T) {
	cfg := Default()
	cfg.LLMSettings.DefaultChoice = "skip"
	assert.Equal(t, reconcile.ChoiceHeuristic, cfg.Policy().Default)
}

func TestLoadLibraries(t *testing.T) {
	path := writeFile(t, "bs.yaml", `
kind: balance_sheet
version: test-1
sections:
  - name: assets
    entries:
      - field: cash
        patterns: ["货币资金"]
      - field: total_assets
        patterns: ["资产总计"]
        role: subtotal
`)
	cfg := Default()
	cfg.Libraries = map[string]string{"bs": path}
	libs, err := cfg.LoadLibraries()
	require.NoError(t, err)
	require.Contains(t, libs, models.KindBalanceSheet)
	assert.Equal(t, "test-1", libs[models.KindBalanceSheet].Version())

	cfg.Libraries = map[string]string{"cf": path}
	_, err = cfg.LoadLibraries()
	require.Error(t, err)

	cfg.Libraries = map[string]string{"ledger": path}
	_, err = cfg.LoadLibraries()
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	Logging{Level: "warn", Format: "json"}.NewLogger(&buf).Info("hidden")
	assert.Empty(t, buf.String())

	Logging{Level: "debug", Format: "json"}.NewLogger(&buf).Debug("shown", "component", "test")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))
	assert.Contains(t, buf.String(), `"component":"test"`)
}
