package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chorus/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("GLADIA_API_KEY", "gladia-test")
	t.Setenv("OPENAI_API_KEY", "openai-test")

	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("expected missing config file")
	}
	if resolved != path {
		t.Fatalf("unexpected resolved path: %s", resolved)
	}
	if cfg.Gladia.BaseURL == "" || cfg.OpenAI.Model == "" {
		t.Fatalf("expected defaults to be applied: %#v", cfg)
	}
	if cfg.Workflow.MaxConcurrentFiles < 1 {
		t.Fatalf("expected positive worker limit, got %d", cfg.Workflow.MaxConcurrentFiles)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	t.Setenv("GLADIA_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	base := t.TempDir()
	path := filepath.Join(base, "config.toml")
	content := strings.Join([]string{
		"[paths]",
		`staging_dir = "` + filepath.Join(base, "staging") + `"`,
		`converted_dir = "` + filepath.Join(base, "converted") + `"`,
		`artifact_dir = "` + filepath.Join(base, "artifacts") + `"`,
		`log_dir = "` + filepath.Join(base, "logs") + `"`,
		"[gladia]",
		`api_key = "  key-with-space  "`,
		"[openai]",
		`api_key = "ai-key"`,
		`model = " gpt-4o "`,
		"[logging]",
		`format = "JSON"`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if cfg.Gladia.APIKey != "key-with-space" {
		t.Fatalf("expected trimmed api key, got %q", cfg.Gladia.APIKey)
	}
	if cfg.OpenAI.Model != "gpt-4o" {
		t.Fatalf("expected trimmed model, got %q", cfg.OpenAI.Model)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected lowercased format, got %q", cfg.Logging.Format)
	}
}

func TestValidateRejectsMissingKeys(t *testing.T) {
	cfg := config.Default()
	cfg.Gladia.APIKey = ""
	cfg.OpenAI.APIKey = "set"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing gladia key")
	}

	cfg.Gladia.APIKey = "set"
	cfg.OpenAI.APIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing openai key")
	}
}

func TestValidateRejectsBadLogFormat(t *testing.T) {
	cfg := config.Default()
	cfg.Gladia.APIKey = "g"
	cfg.OpenAI.APIKey = "o"
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for log format")
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.ConvertedDir = filepath.Join(base, "converted")
	cfg.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StagingDir, cfg.Paths.ConvertedDir, cfg.Paths.ArtifactDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist", dir)
		}
	}
}
