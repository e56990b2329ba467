package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
)

// ReloadResult describes what changed during a config reload.
type ReloadResult struct {
	Changed []string
	Applied []string
	Skipped []string
	Errors  []error
}

// restartRequiredFields lists top-level config fields that cannot be
// hot-reloaded and require a full process restart.
var restartRequiredFields = map[string]bool{
	"Server.DataDir":        true,
	"Catalog.DBPath":        true,
	"Catalog.EmbeddingDims": true,
}

// mu protects Config during concurrent reload operations.
var mu sync.RWMutex

// RLock acquires a read lock on the config.
func RLock() { mu.RLock() }

// RUnlock releases a read lock on the config.
func RUnlock() { mu.RUnlock() }

// Reload re-reads the config from path, diffs it against the current
// config, and applies hot-reloadable changes in place. Fields that
// require a restart are reported as skipped, never applied.
func (c *Config) Reload(path string) (*ReloadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read for reload: %w", err)
	}

	newCfg := DefaultConfig()
	if err := json.Unmarshal(data, newCfg); err != nil {
		return nil, fmt.Errorf("config: parse for reload: %w", err)
	}

	result := &ReloadResult{}

	mu.Lock()
	defer mu.Unlock()

	diffAndApply(c, newCfg, result)

	return result, nil
}

func diffAndApply(old, new *Config, result *ReloadResult) {
	restartOnly := func(name string, changed bool) {
		if !changed {
			return
		}
		result.Changed = append(result.Changed, name)
		result.Skipped = append(result.Skipped, name+" (requires restart)")
	}
	hotReload := func(name string, changed bool, apply func()) {
		if !changed {
			return
		}
		result.Changed = append(result.Changed, name)
		apply()
		result.Applied = append(result.Applied, name)
	}

	restartOnly("Server.DataDir", old.Server.DataDir != new.Server.DataDir)
	restartOnly("Catalog.DBPath", old.Catalog.DBPath != new.Catalog.DBPath)
	restartOnly("Catalog.EmbeddingDims", old.Catalog.EmbeddingDims != new.Catalog.EmbeddingDims)

	hotReload("Server.LogLevel", old.Server.LogLevel != new.Server.LogLevel, func() {
		old.Server.LogLevel = new.Server.LogLevel
	})
	hotReload("Ingest", !reflect.DeepEqual(old.Ingest, new.Ingest), func() {
		old.Ingest = new.Ingest
	})
	hotReload("Sync", !reflect.DeepEqual(old.Sync, new.Sync), func() {
		old.Sync = new.Sync
	})
	hotReload("RateLimits", !reflect.DeepEqual(old.RateLimits, new.RateLimits), func() {
		old.RateLimits = new.RateLimits
	})
	hotReload("Recommend", !reflect.DeepEqual(old.Recommend, new.Recommend), func() {
		old.Recommend = new.Recommend
	})
	hotReload("Learning", !reflect.DeepEqual(old.Learning, new.Learning), func() {
		old.Learning = new.Learning
	})
	hotReload("Safety", !reflect.DeepEqual(old.Safety, new.Safety), func() {
		old.Safety = new.Safety
	})
}

// LogResult logs the reload result at appropriate levels.
func (r *ReloadResult) LogResult(logger *slog.Logger) {
	if len(r.Changed) == 0 {
		logger.Info("config reload: no changes detected")
		return
	}

	logger.Info("config reload complete",
		"changed", len(r.Changed),
		"applied", len(r.Applied),
		"skipped", len(r.Skipped),
		"errors", len(r.Errors),
	)

	for _, field := range r.Applied {
		logger.Info("config field hot-reloaded", "field", field)
	}
	for _, field := range r.Skipped {
		logger.Warn("config field requires restart", "field", field)
	}
	for _, err := range r.Errors {
		logger.Error("config reload error", "error", err)
	}
}

// IsRestartRequired returns true if the field requires a restart.
func IsRestartRequired(field string) bool {
	return restartRequiredFields[field]
}
