package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/skillsmith/skillsmith/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.input); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLoadConfigDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skillsmith.json")
	logger := slog.Default()

	cfg, err := loadConfig(path, logger)
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("expected config file to be created")
	}
}

func TestLoadConfigExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skillsmith.json")
	logger := slog.Default()

	cfg := config.DefaultConfig()
	cfg.Save(path)

	loaded, err := loadConfig(path, logger)
	if err != nil {
		t.Fatalf("loadConfig() error: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected non-nil config")
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skillsmith.json")

	os.WriteFile(path, []byte("invalid json"), 0644)
	_, err := loadConfig(path, slog.Default())
	if err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestPrintBanner(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = t.TempDir()

	app := &App{
		Config: cfg,
		Logger: slog.Default(),
	}
	printBanner(app)
}
