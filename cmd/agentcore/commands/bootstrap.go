package commands

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentcore/runtime/pkg/agentcore/config"
	"github.com/agentcore/runtime/pkg/agentcore/learning"
	"github.com/agentcore/runtime/pkg/agentcore/llm"
	"github.com/agentcore/runtime/pkg/agentcore/metrics"
	"github.com/agentcore/runtime/pkg/agentcore/persistence"
	"github.com/agentcore/runtime/pkg/agentcore/redact"
	"github.com/agentcore/runtime/pkg/agentcore/router"
	"github.com/agentcore/runtime/pkg/agentcore/runtime"
	"github.com/agentcore/runtime/pkg/agentcore/skills"
	"github.com/agentcore/runtime/pkg/agentcore/store"
	"github.com/agentcore/runtime/pkg/agentcore/toolexec"
	"github.com/agentcore/runtime/pkg/agentcore/toolguard"
	"github.com/agentcore/runtime/pkg/agentcore/vault"
	"github.com/agentcore/runtime/pkg/agentcore/vector"
	"github.com/agentcore/runtime/pkg/channels"
)

// App is everything a command needs after bootstrap: the wired agent
// plus the handles commands poke at directly.
type App struct {
	Cfg      config.Config
	Logger   *slog.Logger
	Agent    *runtime.Agent
	Executor *toolexec.Executor
	Store    *store.DB
	Metrics  *metrics.Publisher
	Secrets  *vault.Resolver

	closers []func() error
}

// newApp loads configuration and wires the full runtime. channel may
// be nil (one-shot chat); when present its Confirm and SendChunk hook
// into the executor and the stream path.
func newApp(cmd *cobra.Command, channel channels.Channel) (*App, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	app := &App{Cfg: cfg, Logger: logger}

	// Secret chain: file vault (unlocked only when the password is in
	// the environment — interactive unlock is the vault subcommand's
	// job), OS keyring, environment.
	redactor := redact.New()
	fileVault := vault.NewFile(cfg.VaultPath)
	if fileVault.Exists() {
		if pw := os.Getenv("AGENTCORE_VAULT_PASSWORD"); pw != "" {
			if err := fileVault.Unlock(pw); err != nil {
				logger.Warn("unlocking vault", "error", err)
			}
		}
	}
	app.Secrets = vault.NewResolver(fileVault, &vault.Keyring{}, redactor)

	apiKey := ""
	if cfg.LLM.APIKeyName != "" && app.Secrets.Has(cfg.LLM.APIKeyName) {
		apiKey, err = app.Secrets.Get(cfg.LLM.APIKeyName)
		if err != nil {
			return nil, fmt.Errorf("resolving API key: %w", err)
		}
	}
	client := llm.NewClient(cfg.LLM.BaseURL, apiKey, cfg.LLM.Model, &http.Client{Timeout: cfg.LLM.Timeout}, logger)

	var db *store.DB
	switch cfg.Storage.Backend {
	case "postgres":
		db, err = store.OpenPostgres(cfg.Storage.Postgres, logger)
	default:
		db, err = store.OpenSQLite(cfg.Storage.SQLitePath, logger)
	}
	if err != nil {
		return nil, err
	}
	app.Store = db
	app.closers = append(app.closers, db.Close)

	vectors, err := vector.Open(cfg.Storage.VectorPath, nil, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.closers = append(app.closers, vectors.Close)

	var loaders []skills.Loader
	for _, dir := range cfg.Skills.Dirs {
		loaders = append(loaders, skills.DirLoader{Dir: dir})
	}
	if cfg.Skills.ManagedDir != "" {
		loaders = append(loaders, skills.DirLoader{Dir: cfg.Skills.ManagedDir})
	}
	registry := skills.NewRegistry(skills.KeywordMatcher, loaders...)
	if _, err := registry.Reload(); err != nil {
		logger.Warn("loading skills", "error", err)
	}

	skillStore, err := skills.OpenStore(cfg.Skills.DBPath)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.closers = append(app.closers, skillStore.Close)

	guard, err := toolguard.New(cfg.Guard, db, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	executor := toolexec.New(guard, logger)
	registerBuiltinTools(executor)
	if channel != nil {
		executor.SetConfirm(channel.Confirm)
	}
	app.Executor = executor

	sessions, err := persistence.NewStore(filepath.Join(cfg.DataDir, "sessions"), logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Metrics = metrics.New("openai-compatible", cfg.LLM.Model)

	deps := runtime.Deps{
		Client:        client,
		Executor:      executor,
		SkillRegistry: registry,
		SkillStore:    skillStore,
		Sessions:      sessions,
		Summaries:     db,
		Vector:        vectors,
		Relational:    db,
		Index:         vectors,
		Learning:      learning.New(cfg.Learning, skillStore, registry, logger),
		Metrics:       app.Metrics,
		Logger:        logger,
		Secrets:       app.Secrets,
		Redactor:      redactor,
		Profiles:      router.New(cfg.Router, logger),

		ContextBudget: cfg.Budget,
		ToolLoop:      cfg.ToolLoop,
		ContextPrep:   cfg.ContextPrep,
		Compaction:    cfg.Compaction,

		EnvironmentBlock: environmentBlock,
		ToolCatalogBlock: toolCatalog(executor),
		MaxActiveSkills:  cfg.Skills.MaxActive,
	}
	if channel != nil {
		// The loop streams one completed reply per call, so each
		// chunk batch is flushed immediately.
		deps.Stream = func(chunk string) {
			channel.SendChunk(chunk)
			channel.FlushChunks()
		}
	}

	app.Agent = runtime.New(deps, toolexec.CallerInfo{ID: "operator", Level: toolguard.LevelOwner})
	return app, nil
}

// Close releases everything bootstrap opened, last-opened first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("closing resource", "error", err)
		}
	}
}
