package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"agentrouter/internal/llm"
)

type Config struct {
	Model                string                   `toml:"model"`
	ModelProvider        string                   `toml:"model_provider"`
	ModelReasoningEffort string                   `toml:"model_reasoning_effort"`
	ModelProviders       map[string]ModelProvider `toml:"model_providers"`
	Orchestrator         OrchestratorConfig       `toml:"orchestrator"`
	Logging              LoggingConfig            `toml:"logging"`
	NATS                 NATSConfig               `toml:"nats"`
	Raw                  map[string]any           `toml:"-"`
	Path                 string                   `toml:"-"`
}

type ModelProvider struct {
	Name      string `toml:"name"`
	BaseURL   string `toml:"base_url"`
	WireAPI   string `toml:"wire_api"`
	EnvKey    string `toml:"env_key"`
	MaxTokens int    `toml:"max_tokens"`
	TimeoutMS int    `toml:"timeout_ms"`
}

type OrchestratorConfig struct {
	Addr           string `toml:"addr"`
	Store          string `toml:"store"`
	DBPath         string `toml:"db_path"`
	RunsDir        string `toml:"runs_dir"`
	AgentTimeoutMS int    `toml:"agent_timeout_ms"`
	MaxConcurrency int    `toml:"max_concurrency"`
	EventBuffer    int    `toml:"event_buffer"`
	RetainRuns     int    `toml:"retain_runs"`
	MemoryMaxRuns  int    `toml:"memory_max_runs"`
	Selection      string `toml:"selection"`
	CatalogPath    string `toml:"catalog_path"`
	WatchCatalog   bool   `toml:"watch_catalog"`
	Specialists    *bool  `toml:"specialists"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NATSConfig enables the remote event publisher when URL is set.
type NATSConfig struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

func Default() Config {
	cfg := Config{}
	cfg.Orchestrator = cfg.Orchestrator.withDefaults()
	cfg.Logging = cfg.Logging.withDefaults()
	cfg.NATS = cfg.NATS.withDefaults()
	return cfg
}

// Load reads the TOML config at path. An empty path means the default
// location, which may be absent; an explicit path must exist.
func Load(path string) (Config, error) {
	resolved := path
	if resolved == "" {
		resolved = defaultConfigPath()
	}
	resolved, err := expandHome(resolved)
	if err != nil {
		return Config{}, err
	}
	resolved = filepath.Clean(resolved)

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		if path == "" && errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(bytes), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	var raw map[string]any
	if _, err := toml.Decode(string(bytes), &raw); err != nil {
		return Config{}, fmt.Errorf("decode raw config: %w", err)
	}
	cfg.Raw = raw
	cfg.Path = resolved
	cfg.Orchestrator = cfg.Orchestrator.withDefaults()
	cfg.Logging = cfg.Logging.withDefaults()
	cfg.NATS = cfg.NATS.withDefaults()

	if cfg.Orchestrator.CatalogPath != "" {
		if cfg.Orchestrator.CatalogPath, err = expandHome(cfg.Orchestrator.CatalogPath); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// Provider resolves the active model provider into llm settings. Providers
// with wire_api = "responses" use the Responses API; everything else goes to
// Anthropic.
func (c Config) Provider() llm.Provider {
	p := llm.Provider{
		Kind:            llm.ProviderAnthropic,
		Model:           c.Model,
		ReasoningEffort: c.ModelReasoningEffort,
	}
	mp, ok := c.ModelProviders[c.ModelProvider]
	if !ok {
		return p
	}
	if strings.EqualFold(strings.TrimSpace(mp.WireAPI), llm.ProviderResponses) {
		p.Kind = llm.ProviderResponses
	}
	p.BaseURL = mp.BaseURL
	p.APIKeyEnv = mp.EnvKey
	p.MaxTokens = mp.MaxTokens
	if mp.TimeoutMS > 0 {
		p.Timeout = time.Duration(mp.TimeoutMS) * time.Millisecond
	}
	return p
}

func (o OrchestratorConfig) withDefaults() OrchestratorConfig {
	if o.Addr == "" {
		o.Addr = ":8091"
	}
	if o.Store == "" {
		o.Store = "memory"
	}
	if o.DBPath == "" {
		o.DBPath = "agentrouter.db"
	}
	if o.RunsDir == "" {
		o.RunsDir = "runs"
	}
	if o.AgentTimeoutMS <= 0 {
		o.AgentTimeoutMS = 120_000
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 64
	}
	if o.RetainRuns <= 0 {
		o.RetainRuns = 256
	}
	if o.MemoryMaxRuns <= 0 {
		o.MemoryMaxRuns = 1024
	}
	if o.Selection == "" {
		o.Selection = "first_match"
	}
	return o
}

func (o OrchestratorConfig) AgentTimeout() time.Duration {
	return time.Duration(o.AgentTimeoutMS) * time.Millisecond
}

// UseSpecialists reports whether the LLM specialist agents are registered
// next to the builtins when no catalog is configured. Defaults to true.
func (o OrchestratorConfig) UseSpecialists() bool {
	return o.Specialists == nil || *o.Specialists
}

// StorePath is the location handed to the configured store backend.
func (o OrchestratorConfig) StorePath() string {
	switch o.Store {
	case "sqlite":
		return o.DBPath
	case "file":
		return o.RunsDir
	}
	return ""
}

func (l LoggingConfig) withDefaults() LoggingConfig {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "auto"
	}
	return l
}

func (n NATSConfig) withDefaults() NATSConfig {
	if n.SubjectPrefix == "" {
		n.SubjectPrefix = "agentrouter.events"
	}
	return n
}

func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	trimmed := strings.TrimPrefix(p, "~")
	trimmed = strings.TrimPrefix(trimmed, "\\")
	trimmed = strings.TrimPrefix(trimmed, "/")
	return filepath.Join(home, trimmed), nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentrouter/config.toml"
	}
	return filepath.Join(home, ".agentrouter", "config.toml")
}
