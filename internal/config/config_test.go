package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoad_TOMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	src := `
mode = "replay"
log_level = "debug"

[opinion]
base_url = "https://api.test.example"

[engine]
index_ttl = "2m"
min_score = 3

[watcher]
nav_rescan_delays = ["100ms", "250ms"]
`
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("OPINIONLENS_OPINION_API_KEY", "env-key")
	t.Setenv("OPINIONLENS_ENGINE_MIN_SCORE", "4")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Opinion.BaseURL != "https://api.test.example" {
		t.Errorf("TOML value not applied: %q", cfg.Opinion.BaseURL)
	}
	if cfg.Engine.IndexTTL.Duration != 2*time.Minute {
		t.Errorf("duration string not parsed: %v", cfg.Engine.IndexTTL.Duration)
	}
	if got := Durations(cfg.Watcher.NavRescanDelays); len(got) != 2 || got[0] != 100*time.Millisecond {
		t.Errorf("nav rescan delays not parsed: %v", got)
	}

	// Env beats TOML.
	if cfg.Opinion.APIKey != "env-key" {
		t.Errorf("env override not applied: %q", cfg.Opinion.APIKey)
	}
	if cfg.Engine.MinScore != 4 {
		t.Errorf("env override must beat TOML, got %d", cfg.Engine.MinScore)
	}

	// Untouched sections keep defaults.
	if cfg.Engine.PageSize != 100 || cfg.Stream.MaxAttempts != 8 {
		t.Errorf("defaults lost during merge: %+v", cfg.Engine)
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	cfg.Engine.MinScore = 0
	cfg.Feed.ScriptPath = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, want := range []string{"unknown mode", "min_score", "script_path"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error must mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_WatchModeNeedsCredential(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "watch"
	cfg.Opinion.APIKey = ""

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("watch mode without credential must fail, got %v", err)
	}

	cfg.Opinion.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("credentialed watch mode must validate: %v", err)
	}
}
