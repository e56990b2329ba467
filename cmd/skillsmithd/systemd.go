package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
)

const systemdUnitTemplate = `[Unit]
Description=Skillsmith skill discovery daemon
Documentation=https://github.com/skillsmith/skillsmith
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User={{.User}}
Group={{.Group}}
WorkingDirectory={{.WorkDir}}
ExecStart={{.ExecPath}} --config {{.ConfigPath}}
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=5s
StandardOutput=journal
StandardError=journal
SyslogIdentifier=skillsmithd

# Security hardening
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=read-only
ReadWritePaths={{.DataDir}}

# Resource limits
LimitNOFILE=65536
LimitNPROC=4096

[Install]
WantedBy=multi-user.target
`

type systemdConfig struct {
	User       string
	Group      string
	WorkDir    string
	ExecPath   string
	ConfigPath string
	DataDir    string
}

func installSystemd() error {
	fmt.Println("📦 Installing systemd service...")

	// Get current user
	user := os.Getenv("USER")
	if user == "" {
		user = "skillsmithd"
	}

	// Get executable path
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable path: %w", err)
	}
	execPath, _ = filepath.Abs(execPath)

	// Get working directory
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	// Pull the real data dir out of skillsmith.json if one exists next to
	// the binary, so ReadWritePaths actually matches where the catalog
	// store and sync state live instead of a path independent of config.
	configPath, dataDir, port := resolveDaemonConfig()
	if !filepath.IsAbs(dataDir) {
		dataDir = filepath.Join(workDir, dataDir)
	}

	cfg := systemdConfig{
		User:       user,
		Group:      user,
		WorkDir:    workDir,
		ExecPath:   execPath,
		ConfigPath: configPath,
		DataDir:    dataDir,
	}

	// Generate unit file
	tmpl, err := template.New("systemd").Parse(systemdUnitTemplate)
	if err != nil {
		return fmt.Errorf("parse template: %w", err)
	}

	// Determine if user or system service
	isRoot := os.Geteuid() == 0
	var unitPath string

	if isRoot {
		// System-wide service
		unitPath = "/etc/systemd/system/skillsmithd.service"
	} else {
		// User service
		home, _ := os.UserHomeDir()
		unitDir := filepath.Join(home, ".config", "systemd", "user")
		os.MkdirAll(unitDir, 0755)
		unitPath = filepath.Join(unitDir, "skillsmithd.service")
	}

	// Write unit file
	f, err := os.Create(unitPath)
	if err != nil {
		return fmt.Errorf("create unit file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, cfg); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}

	fmt.Printf("✅ Systemd unit installed: %s\n", unitPath)

	// Reload systemd
	var reloadCmd *exec.Cmd
	if isRoot {
		reloadCmd = exec.Command("systemctl", "daemon-reload")
	} else {
		reloadCmd = exec.Command("systemctl", "--user", "daemon-reload")
	}

	if err := reloadCmd.Run(); err != nil {
		fmt.Printf("⚠️  Warning: systemctl daemon-reload failed: %v\n", err)
	}

	// Print usage instructions
	fmt.Println("\n📋 Next steps:")
	if isRoot {
		fmt.Println("   sudo systemctl enable skillsmithd")
		fmt.Println("   sudo systemctl start skillsmithd")
		fmt.Println("   sudo systemctl status skillsmithd")
	} else {
		fmt.Println("   systemctl --user enable skillsmithd")
		fmt.Println("   systemctl --user start skillsmithd")
		fmt.Println("   systemctl --user status skillsmithd")
	}
	fmt.Printf("   curl http://localhost:%d/healthz\n", port)

	return nil
}

func uninstallSystemd() error {
	fmt.Println("🗑️  Uninstalling systemd service...")

	isRoot := os.Geteuid() == 0
	var unitPath string

	if isRoot {
		unitPath = "/etc/systemd/system/skillsmithd.service"
	} else {
		home, _ := os.UserHomeDir()
		unitPath = filepath.Join(home, ".config", "systemd", "user", "skillsmithd.service")
	}

	// Stop service first
	var stopCmd *exec.Cmd
	if isRoot {
		stopCmd = exec.Command("systemctl", "stop", "skillsmithd")
		exec.Command("systemctl", "disable", "skillsmithd").Run()
	} else {
		stopCmd = exec.Command("systemctl", "--user", "stop", "skillsmithd")
		exec.Command("systemctl", "--user", "disable", "skillsmithd").Run()
	}
	stopCmd.Run() // Ignore errors

	// Remove unit file
	if err := os.Remove(unitPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit file: %w", err)
	}

	// Reload systemd
	var reloadCmd *exec.Cmd
	if isRoot {
		reloadCmd = exec.Command("systemctl", "daemon-reload")
	} else {
		reloadCmd = exec.Command("systemctl", "--user", "daemon-reload")
	}
	reloadCmd.Run()

	fmt.Println("✅ Systemd service uninstalled")
	return nil
}
