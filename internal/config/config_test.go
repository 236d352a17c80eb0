package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalYAML = `
providers:
  default: openai
  openai:
    api_key: sk-test
    model: gpt-4o-mini
`

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "crucible.yaml", minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.OpenAI.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", cfg.Providers.OpenAI.Model)
	}
}

func TestLoad_JSON(t *testing.T) {
	content := `{
		"providers": {
			"default": "ollama",
			"ollama": {"model": "qwen2.5-coder", "base_url": "http://localhost:11434"}
		},
		"agent": {"max_iterations": 4}
	}`
	cfg, err := Load(writeConfig(t, "crucible.json", content))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Iterations() != 4 {
		t.Errorf("iterations = %d", cfg.Agent.Iterations())
	}
}

func TestLoad_MissingProviderKey(t *testing.T) {
	content := `
providers:
  default: openai
  openai:
    model: gpt-4o-mini
`
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := Load(writeConfig(t, "crucible.yaml", content)); err == nil {
		t.Fatal("expected validation error for missing api key")
	}
}

func TestLoad_EnvOverridesKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	cfg, err := Load(writeConfig(t, "crucible.yaml", `
providers:
  default: openai
  openai:
    api_key: sk-from-file
    model: gpt-4o-mini
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-from-env" {
		t.Errorf("api key = %q, want env override", cfg.Providers.OpenAI.APIKey)
	}
}

func TestLoad_BadStorageDriver(t *testing.T) {
	content := minimalYAML + `
storage:
  driver: cassandra
`
	if _, err := Load(writeConfig(t, "crucible.yaml", content)); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestLoad_SchedulerValidation(t *testing.T) {
	content := minimalYAML + `
scheduler:
  enabled: true
  jobs:
    - name: nightly
      schedule: "0 2 * * *"
`
	if _, err := Load(writeConfig(t, "crucible.yaml", content)); err == nil {
		t.Fatal("expected error for job without prompt")
	}
}

func TestSandboxDefaults(t *testing.T) {
	var s SandboxConfig
	if s.Timeout() != 30*time.Second {
		t.Errorf("Timeout = %s", s.Timeout())
	}
	if s.ShellTimeout() != 120*time.Second {
		t.Errorf("ShellTimeout = %s", s.ShellTimeout())
	}
	if s.MemoryMB() != 512 {
		t.Errorf("MemoryMB = %d", s.MemoryMB())
	}
	if s.Cores() != 1.0 {
		t.Errorf("Cores = %f", s.Cores())
	}
	if s.PIDs() != 64 {
		t.Errorf("PIDs = %d", s.PIDs())
	}
}

func TestGatewayDefaults(t *testing.T) {
	var g *GatewayConfig
	if g.Addr() != ":8080" {
		t.Errorf("Addr = %q", g.Addr())
	}
	if g.MaxRequestSize() != 1<<20 {
		t.Errorf("MaxRequestSize = %d", g.MaxRequestSize())
	}
}

func TestStorageDriverDefault(t *testing.T) {
	cfg := &Config{}
	if cfg.StorageDriverName() != "sqlite" {
		t.Errorf("driver = %q", cfg.StorageDriverName())
	}
}
