package main

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/skillsmith/skillsmith/internal/config"
)

func TestWaitForShutdown(t *testing.T) {
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

	go func() {
		time.Sleep(100 * time.Millisecond)
		p, _ := os.FindProcess(os.Getpid())
		_ = p.Signal(syscall.SIGINT)
	}()

	if err := waitForShutdown(app); err != nil {
		t.Errorf("waitForShutdown error: %v", err)
	}
}
