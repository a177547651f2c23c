package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./data/records.db"
sources:
  - name: research
    type: file
    kind: document
    location: "./docs"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if !filepath.IsAbs(cfg.Storage.DatabasePath) {
		t.Errorf("database_path should be expanded, got %q", cfg.Storage.DatabasePath)
	}
	if !filepath.IsAbs(cfg.Sources[0].Location) {
		t.Errorf("file source location should be expanded, got %q", cfg.Sources[0].Location)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_defaults(t *testing.T) {
	path := writeConfig(t, `
sources:
  - name: feed
    type: poll
    kind: news
    location: "https://example.com/feed.json"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.Provider != "mock" {
		t.Errorf("embedding provider should default to mock, got %q", cfg.Embedding.Provider)
	}
	if cfg.Search.DefaultTopK != 5 || cfg.Search.MaxTopK != 50 {
		t.Errorf("unexpected search defaults: %+v", cfg.Search)
	}
	if cfg.Sources[0].PollInterval.Std() != 30*time.Second {
		t.Errorf("poll_interval should default to 30s, got %v", cfg.Sources[0].PollInterval)
	}
	if !cfg.Sources[0].EnabledOrDefault() {
		t.Error("sources should be enabled by default")
	}
	if strings.HasPrefix(cfg.Sources[0].Location, "/") {
		t.Errorf("poll source location must not be path-expanded, got %q", cfg.Sources[0].Location)
	}
}

func TestLoad_rejectsBadSource(t *testing.T) {
	cases := map[string]string{
		"unknown type": `
sources:
  - name: x
    type: ftp
    kind: news
    location: "y"
`,
		"unknown kind": `
sources:
  - name: x
    type: poll
    kind: weather
    location: "y"
`,
		"missing location": `
sources:
  - name: x
    type: poll
    kind: news
`,
		"unknown provider": `
embedding:
  provider: tensorflow
`,
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDuration_Unmarshal(t *testing.T) {
	path := writeConfig(t, `
pipeline:
  tombstone_retention: "90m"
  compact_interval: 120
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pipeline.TombstoneRetention.Std() != 90*time.Minute {
		t.Errorf("tombstone_retention = %v, want 90m", cfg.Pipeline.TombstoneRetention.Std())
	}
	if cfg.Pipeline.CompactInterval.Std() != 120*time.Second {
		t.Errorf("compact_interval = %v, want 120s (bare integers are seconds)", cfg.Pipeline.CompactInterval.Std())
	}
}
