package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func saveJSON(t *testing.T, path string, cfg *Config) {
	t.Helper()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestDefaultConfigHasRateLimitPresets(t *testing.T) {
	cfg := DefaultConfig()
	for _, name := range []string{"strict", "standard", "relaxed", "generous", "high_throughput"} {
		if _, ok := cfg.RateLimits[name]; !ok {
			t.Errorf("missing rate limit preset %q", name)
		}
	}
}

func TestLoadFillsDefaultsForOmittedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"server":{"logLevel":"debug"}}`), 0o640); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Catalog.EmbeddingDims != 384 {
		t.Errorf("EmbeddingDims = %d, want default 384", cfg.Catalog.EmbeddingDims)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	cfg.Ingest.Topics = []string{"testing", "devops"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Ingest.Topics) != 2 {
		t.Errorf("Topics = %v, want 2 entries", loaded.Ingest.Topics)
	}
}

func TestCatalogPathJoinsDataDirWhenRelative(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.DataDir = "/var/lib/skillsmith"
	cfg.Catalog.DBPath = "skills.db"
	want := filepath.Join("/var/lib/skillsmith", "skills.db")
	if got := cfg.CatalogPath(); got != want {
		t.Errorf("CatalogPath() = %q, want %q", got, want)
	}
}

func TestReloadDetectsChangedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	saveJSON(t, path, cfg)

	cfg2 := DefaultConfig()
	cfg2.Recommend.QualityWeight = 0.9
	saveJSON(t, path, cfg2)

	result, err := cfg.Reload(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	found := false
	for _, c := range result.Changed {
		if c == "Recommend" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected Recommend in changed, got %v", result.Changed)
	}
	if cfg.Recommend.QualityWeight != 0.9 {
		t.Errorf("QualityWeight not applied: %v", cfg.Recommend.QualityWeight)
	}
}

func TestReloadSkipsRestartRequiredFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	saveJSON(t, path, cfg)

	cfg2 := DefaultConfig()
	cfg2.Catalog.DBPath = "other.db"
	saveJSON(t, path, cfg2)

	result, err := cfg.Reload(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if cfg.Catalog.DBPath == "other.db" {
		t.Error("DBPath should not be hot-reloaded")
	}
	skipped := false
	for _, s := range result.Skipped {
		if s == "Catalog.DBPath (requires restart)" {
			skipped = true
		}
	}
	if !skipped {
		t.Errorf("expected Catalog.DBPath in skipped, got %v", result.Skipped)
	}
}
