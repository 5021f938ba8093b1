package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultWhenNoFile(t *testing.T) {
	dir := t.TempDir()
	old, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(old) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Fatalf("default backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Storage.SQLitePath != filepath.Join(".agentcore", "store.db") {
		t.Fatalf("derived sqlite path = %q", cfg.Storage.SQLitePath)
	}
	if cfg.VaultPath != filepath.Join(".agentcore", "vault") {
		t.Fatalf("derived vault path = %q", cfg.VaultPath)
	}
	if cfg.ToolLoop.MaxTurns == 0 {
		t.Fatal("tool loop defaults must be populated")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
data_dir: /tmp/agent-data
llm:
  base_url: https://api.example.com/v1
  model: test-model
storage:
  backend: postgres
  postgres:
    host: db.internal
    database: agent
tool_loop:
  max_turns: 7
agents:
  default: general
  profiles:
    - id: general
      model: test-model
jobs:
  - name: standup
    cron: "0 9 * * *"
    prompt: "summarize yesterday"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Model != "test-model" || cfg.LLM.BaseURL != "https://api.example.com/v1" {
		t.Fatalf("llm config = %+v", cfg.LLM)
	}
	if cfg.Storage.Backend != "postgres" || cfg.Storage.Postgres.Host != "db.internal" {
		t.Fatalf("storage config = %+v", cfg.Storage)
	}
	if cfg.ToolLoop.MaxTurns != 7 {
		t.Fatalf("tool_loop.max_turns = %d, want 7", cfg.ToolLoop.MaxTurns)
	}
	// Unset sections keep their defaults.
	if cfg.Compaction.CompactionThreshold == 0 {
		t.Fatal("unset compaction section must keep defaults")
	}
	if cfg.Router.Default != "general" || len(cfg.Router.Profiles) != 1 {
		t.Fatalf("router config = %+v", cfg.Router)
	}
	if len(cfg.Jobs) != 1 || cfg.Jobs[0].Name != "standup" {
		t.Fatalf("jobs = %+v", cfg.Jobs)
	}
	// data_dir came from the file, so derived paths follow it.
	if cfg.Storage.SQLitePath != filepath.Join("/tmp/agent-data", "store.db") {
		t.Fatalf("derived sqlite path = %q", cfg.Storage.SQLitePath)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTCORE_MODEL", "env-model")
	t.Setenv("AGENTCORE_BASE_URL", "http://env:8080/v1")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("llm:\n  model: file-model\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Model != "env-model" || cfg.LLM.BaseURL != "http://env:8080/v1" {
		t.Fatalf("env overrides not applied: %+v", cfg.LLM)
	}
}

func TestInvalidBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  backend: oracle\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("unknown backend must be rejected")
	}
}

func TestInvalidJob(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("jobs:\n  - name: incomplete\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("a job without cron and prompt must be rejected")
	}
}
