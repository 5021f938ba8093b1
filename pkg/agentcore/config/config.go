// Package config loads the runtime's root configuration: one YAML
// file with nested per-component sections, overlaid with a .env file
// and a handful of environment overrides for the values deployments
// most often need to inject (base URL, model, data directory).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/agentcore/runtime/pkg/agentcore/budget"
	"github.com/agentcore/runtime/pkg/agentcore/compactor"
	"github.com/agentcore/runtime/pkg/agentcore/contextprep"
	"github.com/agentcore/runtime/pkg/agentcore/learning"
	"github.com/agentcore/runtime/pkg/agentcore/router"
	"github.com/agentcore/runtime/pkg/agentcore/store"
	"github.com/agentcore/runtime/pkg/agentcore/toolguard"
	"github.com/agentcore/runtime/pkg/agentcore/toolloop"
)

// LLMConfig points the runtime at its chat-completions backend.
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// APIKeyName is the secret name resolved through the vault chain;
	// the key itself never appears in config.
	APIKeyName string `yaml:"api_key_name"`

	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig selects and tunes the relational backend.
type StorageConfig struct {
	// Backend is "sqlite" (default) or "postgres".
	Backend string `yaml:"backend"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`

	Postgres store.PostgresConfig `yaml:"postgres"`

	// VectorPath is the sqlite file backing semantic search.
	VectorPath string `yaml:"vector_path"`
}

// SkillsConfig locates skill directories and the version database.
type SkillsConfig struct {
	Dirs       []string `yaml:"dirs"`
	ManagedDir string   `yaml:"managed_dir"`
	DBPath     string   `yaml:"db_path"`
	MaxActive  int      `yaml:"max_active"`
}

// DiscordConfig configures the Discord operator channel.
type DiscordConfig struct {
	Enabled         bool     `yaml:"enabled"`
	TokenName       string   `yaml:"token_name"`
	AllowedChannels []string `yaml:"allowed_channels"`
	AllowedUsers    []string `yaml:"allowed_users"`
}

// WhatsAppConfig configures the WhatsApp operator channel.
type WhatsAppConfig struct {
	Enabled      bool     `yaml:"enabled"`
	SessionPath  string   `yaml:"session_path"`
	AllowedUsers []string `yaml:"allowed_users"`
}

// ChannelsConfig selects which operator channels to start.
type ChannelsConfig struct {
	Discord  DiscordConfig  `yaml:"discord"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
}

// ScheduledJob is one cron-driven synthetic operator turn.
type ScheduledJob struct {
	Name           string `yaml:"name"`
	Cron           string `yaml:"cron"`
	Prompt         string `yaml:"prompt"`
	ConversationID string `yaml:"conversation_id"`
}

// Config is the root configuration.
type Config struct {
	DataDir   string `yaml:"data_dir"`
	VaultPath string `yaml:"vault_path"`

	LLM      LLMConfig      `yaml:"llm"`
	Storage  StorageConfig  `yaml:"storage"`
	Skills   SkillsConfig   `yaml:"skills"`
	Channels ChannelsConfig `yaml:"channels"`

	Budget      budget.Config      `yaml:"context_budget"`
	ContextPrep contextprep.Config `yaml:"context_prep"`
	Compaction  compactor.Config   `yaml:"compaction"`
	ToolLoop    toolloop.Config    `yaml:"tool_loop"`
	Guard       toolguard.Config   `yaml:"tool_guard"`
	Learning    learning.Config    `yaml:"learning"`
	Router      router.Config      `yaml:"agents"`

	Jobs []ScheduledJob `yaml:"jobs"`
}

// Default returns the configuration used when no file is present:
// sqlite storage under data_dir, every tunable at its package default.
func Default() Config {
	return Config{
		DataDir:     ".agentcore",
		LLM:         LLMConfig{BaseURL: "http://localhost:11434/v1", Model: "llama3.1", APIKeyName: "AGENTCORE_API_KEY", Timeout: 60 * time.Second},
		Storage:     StorageConfig{Backend: "sqlite"},
		Skills:      SkillsConfig{MaxActive: 6},
		Budget:      budget.DefaultConfig(),
		ContextPrep: contextprep.DefaultConfig(),
		Compaction:  compactor.DefaultConfig(),
		ToolLoop:    toolloop.DefaultConfig(),
		Guard: toolguard.Config{
			Enabled:           true,
			DangerousPatterns: toolguard.DefaultDangerousPatterns(),
		},
		Learning: learning.DefaultConfig(),
	}
}

// candidatePaths are tried in order when no explicit path is given.
var candidatePaths = []string{
	"config.yaml",
	"agentcore.yaml",
	"configs/config.yaml",
}

// Load reads the configuration. path may be empty, in which case the
// candidate paths are probed and a missing file yields Default(). A
// .env file in the working directory is loaded into the process
// environment first so the environment overrides and the secret chain
// see it; the YAML itself is not expanded for ${VAR} references.
func Load(path string) (Config, error) {
	// Missing .env is the common case, not an error.
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		for _, candidate := range candidatePaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		cfg.applyEnv()
		return cfg.finalize()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg.finalize()
}

// applyEnv lets deployments override the values they most often need
// to inject without editing the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("AGENTCORE_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("AGENTCORE_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("AGENTCORE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
}

// finalize fills derived paths and validates what can be validated
// without touching the network.
func (c Config) finalize() (Config, error) {
	if c.DataDir == "" {
		c.DataDir = ".agentcore"
	}
	if c.VaultPath == "" {
		c.VaultPath = filepath.Join(c.DataDir, "vault")
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.DataDir, "store.db")
	}
	if c.Storage.VectorPath == "" {
		c.Storage.VectorPath = filepath.Join(c.DataDir, "vectors.db")
	}
	if c.Skills.DBPath == "" {
		c.Skills.DBPath = filepath.Join(c.DataDir, "skills.db")
	}
	if c.Skills.MaxActive <= 0 {
		c.Skills.MaxActive = 6
	}

	switch c.Storage.Backend {
	case "", "sqlite", "postgres":
	default:
		return Config{}, fmt.Errorf("unknown storage backend %q (want sqlite or postgres)", c.Storage.Backend)
	}

	for _, job := range c.Jobs {
		if job.Name == "" || job.Cron == "" || job.Prompt == "" {
			return Config{}, fmt.Errorf("scheduled job needs name, cron, and prompt (got %+v)", job)
		}
	}
	return c, nil
}

// EnsureDataDir creates the data directory tree.
func (c Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir %s: %w", c.DataDir, err)
	}
	return nil
}
