// Package config loads session configuration: a YAML file, environment
// overrides applied on top, validation at load time, and an encrypted
// secrets file for API keys.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"aide/pkg/limiter"
	"aide/pkg/llm"
	"aide/pkg/mcp"
)

// Defaults applied when the file and environment leave a field unset.
const (
	DefaultModel               = "claude-sonnet-4-5"
	DefaultCompactionThreshold = 0.8
	DefaultMailboxSize         = 256
	DefaultDBPath              = "aide.db"
	DefaultLogDir              = "logs"
	DefaultMetricsAddr         = "localhost:9090"
)

// Supervisor policies for a faulted actor.
const (
	PolicyRestart = "restart"
	PolicyAbort   = "abort"
)

// ModelConfig selects the language model and its limits.
type ModelConfig struct {
	Name               string  `yaml:"name"`
	Provider           string  `yaml:"provider,omitempty"` // empty infers from the name
	Host               string  `yaml:"host,omitempty"`     // Ollama server URL
	ContextWindow      int     `yaml:"context_window,omitempty"`
	MaxTokensPerMinute int     `yaml:"max_tokens_per_minute,omitempty"`
	DailyBudgetUSD     float64 `yaml:"daily_budget_usd,omitempty"`
}

// CompactionConfig controls usage-driven history compaction.
type CompactionConfig struct {
	Threshold float64 `yaml:"threshold"` // fraction of the context window, (0, 1]
}

// RuntimeConfig tunes the actor runtime.
type RuntimeConfig struct {
	MailboxSize      int    `yaml:"mailbox_size"`
	SupervisorPolicy string `yaml:"supervisor_policy"`
}

// ToolsConfig restricts which registry tools the session may use.
// An empty allowlist admits every registered tool. ConfirmTools holds
// regexes matched against tool names; ConfirmShell holds regexes matched
// against the shell tool's command. A match gates execution behind a
// yes/no question to the human.
type ToolsConfig struct {
	Allowed      []string `yaml:"allowed,omitempty"`
	ConfirmTools []string `yaml:"confirm_tools,omitempty"`
	ConfirmShell []string `yaml:"confirm_shell,omitempty"`
}

// MCPConfig lists the MCP servers to start at session bring-up.
type MCPConfig struct {
	Servers []mcp.ServerConfig `yaml:"servers,omitempty"`
}

// PersistenceConfig locates the SQLite session store.
type PersistenceConfig struct {
	Path string `yaml:"path"`
}

// EventLogConfig locates the message trace directory.
type EventLogConfig struct {
	Dir string `yaml:"dir"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the complete session configuration.
type Config struct {
	SessionID    string            `yaml:"-"` // generated at load, never read from file
	SystemPrompt string            `yaml:"system_prompt,omitempty"`
	Model        ModelConfig       `yaml:"model"`
	Compaction   CompactionConfig  `yaml:"compaction"`
	Runtime      RuntimeConfig     `yaml:"runtime"`
	Tools        ToolsConfig       `yaml:"tools"`
	MCP          MCPConfig         `yaml:"mcp"`
	Persistence  PersistenceConfig `yaml:"persistence"`
	EventLog     EventLogConfig    `yaml:"eventlog"`
	Metrics      MetricsConfig     `yaml:"metrics"`
}

// Default returns a configuration usable without any file.
func Default() *Config {
	return &Config{
		SessionID: uuid.NewString(),
		Model: ModelConfig{
			Name: DefaultModel,
		},
		Compaction: CompactionConfig{
			Threshold: DefaultCompactionThreshold,
		},
		Runtime: RuntimeConfig{
			MailboxSize:      DefaultMailboxSize,
			SupervisorPolicy: PolicyRestart,
		},
		Persistence: PersistenceConfig{
			Path: DefaultDBPath,
		},
		EventLog: EventLogConfig{
			Dir: DefaultLogDir,
		},
		Metrics: MetricsConfig{
			ListenAddr: DefaultMetricsAddr,
		},
	}
}

// Load reads the YAML file at path, applies defaults for unset fields,
// then environment overrides, then validates. An empty path skips the
// file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		cfg.fillDefaults()
	}

	cfg.applyEnv()

	if cfg.Model.ContextWindow == 0 {
		cfg.Model.ContextWindow = llm.MaxContextTokens(cfg.Model.Name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillDefaults restores defaults the YAML decode zeroed out.
func (c *Config) fillDefaults() {
	if c.Model.Name == "" {
		c.Model.Name = DefaultModel
	}
	if c.Compaction.Threshold == 0 {
		c.Compaction.Threshold = DefaultCompactionThreshold
	}
	if c.Runtime.MailboxSize == 0 {
		c.Runtime.MailboxSize = DefaultMailboxSize
	}
	if c.Runtime.SupervisorPolicy == "" {
		c.Runtime.SupervisorPolicy = PolicyRestart
	}
	if c.Persistence.Path == "" {
		c.Persistence.Path = DefaultDBPath
	}
	if c.EventLog.Dir == "" {
		c.EventLog.Dir = DefaultLogDir
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = DefaultMetricsAddr
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AIDE_MODEL"); v != "" {
		c.Model.Name = v
		c.Model.ContextWindow = 0 // re-resolve for the new model
	}
	if v := os.Getenv("AIDE_PROVIDER"); v != "" {
		c.Model.Provider = v
	}
	if v := os.Getenv("AIDE_OLLAMA_HOST"); v != "" {
		c.Model.Host = v
	}
	if v := os.Getenv("AIDE_CONTEXT_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Model.ContextWindow = n
		}
	}
	if v := os.Getenv("AIDE_COMPACTION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Compaction.Threshold = f
		}
	}
	if v := os.Getenv("AIDE_MAILBOX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Runtime.MailboxSize = n
		}
	}
	if v := os.Getenv("AIDE_SUPERVISOR_POLICY"); v != "" {
		c.Runtime.SupervisorPolicy = v
	}
	if v := os.Getenv("AIDE_DB_PATH"); v != "" {
		c.Persistence.Path = v
	}
	if v := os.Getenv("AIDE_LOG_DIR"); v != "" {
		c.EventLog.Dir = v
	}
	if v := os.Getenv("AIDE_CONFIRM_TOOLS"); v != "" {
		c.Tools.ConfirmTools = splitPatterns(v)
	}
	if v := os.Getenv("AIDE_CONFIRM_SHELL"); v != "" {
		c.Tools.ConfirmShell = splitPatterns(v)
	}
	if v := os.Getenv("AIDE_METRICS_ADDR"); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.ListenAddr = v
	}
}

// splitPatterns parses a comma-separated pattern list from the environment.
func splitPatterns(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects configurations the session cannot run with.
func (c *Config) Validate() error {
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	if c.Compaction.Threshold <= 0 || c.Compaction.Threshold > 1 {
		return fmt.Errorf("compaction.threshold must be in (0, 1], got %v", c.Compaction.Threshold)
	}
	if c.Runtime.MailboxSize <= 0 {
		return fmt.Errorf("runtime.mailbox_size must be positive, got %d", c.Runtime.MailboxSize)
	}
	switch c.Runtime.SupervisorPolicy {
	case PolicyRestart, PolicyAbort:
	default:
		return fmt.Errorf("runtime.supervisor_policy must be %q or %q, got %q",
			PolicyRestart, PolicyAbort, c.Runtime.SupervisorPolicy)
	}
	if c.Model.ContextWindow <= 0 {
		return fmt.Errorf("model.context_window must be positive, got %d", c.Model.ContextWindow)
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}
	for _, pat := range c.Tools.ConfirmTools {
		if _, err := regexp.Compile(pat); err != nil {
			return fmt.Errorf("tools.confirm_tools pattern %q: %w", pat, err)
		}
	}
	for _, pat := range c.Tools.ConfirmShell {
		if _, err := regexp.Compile(pat); err != nil {
			return fmt.Errorf("tools.confirm_shell pattern %q: %w", pat, err)
		}
	}

	seen := make(map[string]bool, len(c.MCP.Servers))
	for _, srv := range c.MCP.Servers {
		if srv.Name == "" {
			return fmt.Errorf("mcp server without a name")
		}
		if srv.Command == "" {
			return fmt.Errorf("mcp server %q without a command", srv.Name)
		}
		if seen[srv.Name] {
			return fmt.Errorf("duplicate mcp server name %q", srv.Name)
		}
		seen[srv.Name] = true
	}
	return nil
}

// ModelLimits translates the model section into limiter configuration.
// A model with neither a token rate nor a budget is unrestricted.
func (c *Config) ModelLimits() []limiter.ModelLimit {
	if c.Model.MaxTokensPerMinute == 0 && c.Model.DailyBudgetUSD == 0 {
		return nil
	}
	return []limiter.ModelLimit{{
		Name:               c.Model.Name,
		MaxTokensPerMinute: c.Model.MaxTokensPerMinute,
		DailyBudgetUSD:     c.Model.DailyBudgetUSD,
	}}
}

// APIKeyFor resolves the API key of a provider from the secrets file or
// environment. Ollama needs no key.
func APIKeyFor(provider string) (string, error) {
	switch provider {
	case llm.ProviderAnthropic:
		return GetSecret("ANTHROPIC_API_KEY")
	case llm.ProviderOpenAI:
		return GetSecret("OPENAI_API_KEY")
	case llm.ProviderGoogle:
		if key, err := GetSecret("GEMINI_API_KEY"); err == nil {
			return key, nil
		}
		return GetSecret("GOOGLE_API_KEY")
	case llm.ProviderOllama:
		return "", nil
	default:
		return "", fmt.Errorf("unknown provider %q", provider)
	}
}
