package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skillsmith/skillsmith/internal/config"
)

// --- run() subcommands ---

func TestRun_VersionFlag(t *testing.T) {
	orig := os.Args
	defer func() { os.Args = orig }()
	os.Args = []string{"skillsmithd", "-version"}
	if code := run(); code != 0 {
		t.Errorf("run() = %d, want 0", code)
	}
}

func TestRun_GatewayHelp(t *testing.T) {
	orig := os.Args
	defer func() { os.Args = orig }()
	os.Args = []string{"skillsmithd", "gateway", "help"}
	if code := run(); code != 0 {
		t.Errorf("run() = %d, want 0", code)
	}
}

func TestRun_GatewayUnknown(t *testing.T) {
	orig := os.Args
	defer func() { os.Args = orig }()
	os.Args = []string{"skillsmithd", "gateway", "nonexistent"}
	if code := run(); code != 1 {
		t.Errorf("run() = %d, want 1", code)
	}
}

// --- setup() ---

func TestSetup_Valid(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "skillsmith.json")
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = dir
	cfg.Server.Port = 0
	_ = cfg.Save(cfgPath)

	app, err := setup(cfgPath)
	if err != nil {
		t.Fatalf("setup() error: %v", err)
	}
	defer app.Store.Close()
	if app.ToolAPI == nil {
		t.Error("expected non-nil ToolAPI")
	}
	if app.APIServer == nil {
		t.Error("expected non-nil APIServer")
	}
}

func TestSetup_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "skillsmith.json")
	_ = os.WriteFile(cfgPath, []byte("not json"), 0644)
	_, err := setup(cfgPath)
	if err == nil {
		t.Error("expected error")
	}
}

func TestSetup_WithEmbedEndpoint(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "skillsmith.json")
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = dir
	cfg.Embed = config.EmbedConfig{BaseURL: "https://api.example.com/v1", APIKey: "test", Model: "test-embed"}
	_ = cfg.Save(cfgPath)

	app, err := setup(cfgPath)
	if err != nil {
		t.Fatalf("setup() error: %v", err)
	}
	defer app.Store.Close()
}

func TestSetup_WithLogLevel(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "skillsmith.json")
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = dir
	cfg.Server.LogLevel = "debug"
	_ = cfg.Save(cfgPath)

	app, err := setup(cfgPath)
	if err != nil {
		t.Fatalf("setup() error: %v", err)
	}
	defer app.Store.Close()
}

// --- startServices / waitForShutdown ---

func TestStartServices(t *testing.T) {
	if os.Getenv("SKILLSMITH_INTEGRATION") == "" {
		t.Skip("skipping integration test (set SKILLSMITH_INTEGRATION=1 to run)")
	}
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "skillsmith.json")
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = dir
	cfg.Server.Port = 0
	_ = cfg.Save(cfgPath)

	app, err := setup(cfgPath)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer app.Store.Close()
	if err := startServices(app); err != nil {
		t.Fatalf("startServices: %v", err)
	}
	app.apiCancel()
	select {
	case <-app.apiDone():
	case <-time.After(time.Second):
		t.Error("expected apiDone() to close after cancel")
	}
}

func TestApiDone_NotStarted(t *testing.T) {
	app := &App{}
	select {
	case <-app.apiDone():
		t.Error("expected apiDone() to block when startServices hasn't run")
	default:
	}
}

// --- gateway.go ---

func TestRunGatewayCommand_NoArgs(t *testing.T) {
	if err := runGatewayCommand([]string{}); err == nil {
		t.Error("expected error")
	}
}

func TestRunGatewayCommand_Help(t *testing.T) {
	if err := runGatewayCommand([]string{"help"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunGatewayCommand_Unknown(t *testing.T) {
	if err := runGatewayCommand([]string{"nonexistent"}); err == nil {
		t.Error("expected error")
	}
}

func TestRunGatewayCommand_Status(t *testing.T) {
	_ = runGatewayCommand([]string{"status"})
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	if !fileExists(dir) {
		t.Error("expected true for existing dir")
	}
	if fileExists("/nonexistent/xyz") {
		t.Error("expected false")
	}
}

func TestGetPIDFile(t *testing.T) {
	if getPIDFile() == "" {
		t.Error("expected non-empty path")
	}
}

func TestPrintGatewayHelp(t *testing.T) {
	old := os.Stdout
	_, w, _ := os.Pipe()
	os.Stdout = w
	printGatewayHelp()
	_ = w.Close()
	os.Stdout = old
}

func TestGatewayStart_AlreadyRunning(t *testing.T) {
	home, _ := os.UserHomeDir()
	pidFile := filepath.Join(home, ".skillsmith", "skillsmithd.pid")
	_ = os.MkdirAll(filepath.Dir(pidFile), 0755)
	origContent, origExists := func() ([]byte, bool) {
		d, e := os.ReadFile(pidFile)
		return d, e == nil
	}()
	defer func() {
		if origExists {
			_ = os.WriteFile(pidFile, origContent, 0644)
		} else {
			_ = os.Remove(pidFile)
		}
	}()
	_ = os.WriteFile(pidFile, []byte(fmt.Sprint(os.Getpid())), 0644)
	err := gatewayStart()
	if err == nil {
		t.Error("expected 'already running' error")
	}
}

func TestCheckRunning_InvalidPID(t *testing.T) {
	home, _ := os.UserHomeDir()
	pidFile := filepath.Join(home, ".skillsmith", "skillsmithd.pid")
	_ = os.MkdirAll(filepath.Dir(pidFile), 0755)
	origContent, origExists := func() ([]byte, bool) {
		d, e := os.ReadFile(pidFile)
		return d, e == nil
	}()
	defer func() {
		if origExists {
			_ = os.WriteFile(pidFile, origContent, 0644)
		} else {
			_ = os.Remove(pidFile)
		}
	}()
	_ = os.WriteFile(pidFile, []byte("999999999"), 0644)
	_, running := checkRunning()
	if running {
		t.Error("expected not running")
	}
}

func TestCheckRunning_BadFormat(t *testing.T) {
	home, _ := os.UserHomeDir()
	pidFile := filepath.Join(home, ".skillsmith", "skillsmithd.pid")
	_ = os.MkdirAll(filepath.Dir(pidFile), 0755)
	origContent, origExists := func() ([]byte, bool) {
		d, e := os.ReadFile(pidFile)
		return d, e == nil
	}()
	defer func() {
		if origExists {
			_ = os.WriteFile(pidFile, origContent, 0644)
		} else {
			_ = os.Remove(pidFile)
		}
	}()
	_ = os.WriteFile(pidFile, []byte("notanumber"), 0644)
	_, running := checkRunning()
	if running {
		t.Error("expected not running")
	}
}

func TestCheckRunning_NoPIDFile(t *testing.T) {
	home, _ := os.UserHomeDir()
	pidFile := filepath.Join(home, ".skillsmith", "skillsmithd.pid")
	origContent, origExists := func() ([]byte, bool) {
		d, e := os.ReadFile(pidFile)
		return d, e == nil
	}()
	defer func() {
		if origExists {
			_ = os.WriteFile(pidFile, origContent, 0644)
		}
	}()
	_ = os.Remove(pidFile)
	_, running := checkRunning()
	if running {
		t.Error("expected not running")
	}
}

func TestDaemonize(t *testing.T) {
	if err := daemonize(); err == nil {
		t.Error("expected error: not implemented")
	}
}

// --- signal handlers ---

func TestSetupSignalHandlers_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	setupSignalHandlers(ctx, cancel, slog.Default(), nil)
	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("expected context to be cancelled")
	}
}
