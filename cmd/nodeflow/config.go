package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"

	"github.com/rendis/nodeflow/internal/credentials"
	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/llm"
	"github.com/rendis/nodeflow/internal/reaper"
	"github.com/rendis/nodeflow/internal/xjson"
)

const (
	memoBackendLibSQL = "libsql"
	memoBackendBadger = "badger"
)

// Config holds all nodeflow configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	DBPath     string `json:"db_path"`
	LogLevel   string `json:"log_level"`
	LogFormat  string `json:"log_format"`

	PoolSize      int      `json:"pool_size"`
	MaxAttempts   int      `json:"max_attempts"`
	RetryDelay    Duration `json:"retry_delay"`
	RetryMaxDelay Duration `json:"retry_max_delay"`
	StrictGraph   *bool    `json:"strict_graph,omitempty"` // nil means true

	MemoBackend string   `json:"memo_backend"`
	BadgerPath  string   `json:"badger_path"`
	MemoRetain  Duration `json:"memo_retain"`

	ReaperSchedule   string   `json:"reaper_schedule"`
	ReaperStaleAfter Duration `json:"reaper_stale_after"`

	OpenAIBaseURL    string   `json:"openai_base_url"`
	AnthropicBaseURL string   `json:"anthropic_base_url"`
	GeminiBaseURL    string   `json:"gemini_base_url"`
	LLMTimeout       Duration `json:"llm_timeout"`

	// CredentialKey is a base64 32-byte key. CredentialPassphrase with
	// CredentialSalt derives one instead. With neither, credentials are
	// stored as given.
	CredentialKey        string `json:"credential_key,omitempty"`
	CredentialPassphrase string `json:"credential_passphrase,omitempty"`
	CredentialSalt       string `json:"credential_salt,omitempty"`
}

// Duration reads "90s"-style strings from settings.json.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := xjson.Unmarshal(b, &s); err != nil {
		var n int64
		if nerr := xjson.Unmarshal(b, &n); nerr != nil {
			return fmt.Errorf("duration must be a string like \"30s\": %w", err)
		}
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return xjson.Marshal(time.Duration(d).String())
}

func defaultConfig() Config {
	retry := engine.DefaultRetryPolicy
	return Config{
		ListenAddr:       ":4200",
		DBPath:           filepath.Join(nodeflowDir(), "nodeflow.db"),
		LogLevel:         "info",
		LogFormat:        "text",
		PoolSize:         10,
		MaxAttempts:      retry.MaxAttempts,
		RetryDelay:       Duration(retry.Delay),
		RetryMaxDelay:    Duration(retry.MaxDelay),
		MemoBackend:      memoBackendLibSQL,
		BadgerPath:       filepath.Join(nodeflowDir(), "memo"),
		ReaperSchedule:   reaper.DefaultSchedule,
		ReaperStaleAfter: Duration(reaper.DefaultStaleAfter),
		LLMTimeout:       Duration(60 * time.Second),
	}
}

func nodeflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nodeflow"
	}
	return filepath.Join(home, ".nodeflow")
}

func settingsPath() string {
	if v := os.Getenv("NODEFLOW_SETTINGS"); v != "" {
		return v
	}
	return filepath.Join(nodeflowDir(), "settings.json")
}

func loadConfig() (Config, error) {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

func loadConfigFrom(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		var file Config
		if err := xjson.Unmarshal(data, &file); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := mergo.Merge(&cfg, file, mergo.WithOverride); err != nil {
			return cfg, fmt.Errorf("merge %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	// Layer 3: env vars override.
	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	strs := map[string]*string{
		"NODEFLOW_LISTEN_ADDR":           &cfg.ListenAddr,
		"NODEFLOW_DB_PATH":               &cfg.DBPath,
		"NODEFLOW_LOG_LEVEL":             &cfg.LogLevel,
		"NODEFLOW_LOG_FORMAT":            &cfg.LogFormat,
		"NODEFLOW_MEMO_BACKEND":          &cfg.MemoBackend,
		"NODEFLOW_BADGER_PATH":           &cfg.BadgerPath,
		"NODEFLOW_REAPER_SCHEDULE":       &cfg.ReaperSchedule,
		"NODEFLOW_OPENAI_BASE_URL":       &cfg.OpenAIBaseURL,
		"NODEFLOW_ANTHROPIC_BASE_URL":    &cfg.AnthropicBaseURL,
		"NODEFLOW_GEMINI_BASE_URL":       &cfg.GeminiBaseURL,
		"NODEFLOW_CREDENTIAL_KEY":        &cfg.CredentialKey,
		"NODEFLOW_CREDENTIAL_PASSPHRASE": &cfg.CredentialPassphrase,
		"NODEFLOW_CREDENTIAL_SALT":       &cfg.CredentialSalt,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"NODEFLOW_POOL_SIZE":    &cfg.PoolSize,
		"NODEFLOW_MAX_ATTEMPTS": &cfg.MaxAttempts,
	}
	for key, dst := range ints {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*Duration{
		"NODEFLOW_RETRY_DELAY":        &cfg.RetryDelay,
		"NODEFLOW_RETRY_MAX_DELAY":    &cfg.RetryMaxDelay,
		"NODEFLOW_MEMO_RETAIN":        &cfg.MemoRetain,
		"NODEFLOW_REAPER_STALE_AFTER": &cfg.ReaperStaleAfter,
		"NODEFLOW_LLM_TIMEOUT":        &cfg.LLMTimeout,
	}
	for key, dst := range durations {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = Duration(d)
		}
	}

	if v := getenv("NODEFLOW_STRICT_GRAPH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("NODEFLOW_STRICT_GRAPH: %w", err)
		}
		cfg.StrictGraph = &b
	}
	return nil
}

func (c Config) validate() error {
	switch c.MemoBackend {
	case memoBackendLibSQL, memoBackendBadger:
	default:
		return fmt.Errorf("memo_backend must be %q or %q, got %q", memoBackendLibSQL, memoBackendBadger, c.MemoBackend)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be positive, got %d", c.PoolSize)
	}
	if c.CredentialPassphrase != "" && c.CredentialSalt == "" {
		return fmt.Errorf("credential_passphrase requires credential_salt")
	}
	return nil
}

func (c Config) strict() bool {
	return c.StrictGraph == nil || *c.StrictGraph
}

func (c Config) engineConfig() engine.Config {
	return engine.Config{StrictGraph: c.strict()}
}

func (c Config) runtimeConfig() engine.RuntimeConfig {
	return engine.RuntimeConfig{
		PoolSize: c.PoolSize,
		Retry: engine.RetryPolicy{
			MaxAttempts: c.MaxAttempts,
			Delay:       time.Duration(c.RetryDelay),
			MaxDelay:    time.Duration(c.RetryMaxDelay),
		},
	}
}

func (c Config) reaperConfig() reaper.Config {
	return reaper.Config{
		Schedule:   c.ReaperSchedule,
		StaleAfter: time.Duration(c.ReaperStaleAfter),
	}
}

func (c Config) llmConfig() llm.Config {
	return llm.Config{
		OpenAIBaseURL:    c.OpenAIBaseURL,
		AnthropicBaseURL: c.AnthropicBaseURL,
		GeminiBaseURL:    c.GeminiBaseURL,
		Timeout:          time.Duration(c.LLMTimeout),
	}
}

// keyConfig returns the credential key material, or a disabled config.
func (c Config) keyConfig() (credentials.KeyConfig, error) {
	if c.CredentialKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.CredentialKey)
		if err != nil {
			return credentials.KeyConfig{}, fmt.Errorf("credential_key is not base64: %w", err)
		}
		return credentials.KeyConfig{MasterKey: key}, nil
	}
	if c.CredentialPassphrase != "" {
		return credentials.KeyConfig{
			Passphrase: c.CredentialPassphrase,
			Salt:       []byte(c.CredentialSalt),
		}, nil
	}
	return credentials.KeyConfig{}, nil
}
