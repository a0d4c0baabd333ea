// Copyright 2025 Mortem Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFile_LockUnlock(t *testing.T) {
	// Create temporary test directory
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	f, err := NewFile(configPath)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}

	// Test lock acquisition
	if err := f.Lock(); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	// Test unlock
	if err := f.Unlock(); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
}

func TestFile_ConcurrentAccess(t *testing.T) {
	// Create temporary test directory
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	// Create two File instances to simulate concurrent processes
	f1, err := NewFile(configPath)
	if err != nil {
		t.Fatalf("NewFile() f1 error = %v", err)
	}

	f2, err := NewFile(configPath)
	if err != nil {
		t.Fatalf("NewFile() f2 error = %v", err)
	}

	// First process acquires lock
	if err := f1.Lock(); err != nil {
		t.Fatalf("f1.Lock() error = %v", err)
	}
	defer f1.Unlock()

	// Second process should timeout trying to acquire lock
	errChan := make(chan error, 1)
	go func() {
		errChan <- f2.Lock()
	}()

	// Wait for timeout (should be ~5 seconds)
	select {
	case err := <-errChan:
		if err != ErrLockTimeout {
			t.Errorf("Expected ErrLockTimeout, got %v", err)
		}
	case <-time.After(7 * time.Second):
		t.Fatal("Lock timeout did not occur within expected time")
	}
}

func TestFile_SaveLoad(t *testing.T) {
	// Create temporary test directory
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	f, err := NewFile(configPath)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}

	// Create test config
	testCfg := Default()
	testCfg.Memcheck.Binary = "/custom/valgrind"
	testCfg.Debugger.CommandTimeout = 45 * time.Second
	testCfg.Report.SuppressPaths = []string{"/usr/include/**"}

	// Test save
	err = f.WithLock(func() error {
		return f.Save(testCfg)
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Verify file exists
	if !f.Exists() {
		t.Fatal("Config file was not created")
	}

	// Test load
	var loadedCfg *Config
	err = f.WithLock(func() error {
		var loadErr error
		loadedCfg, loadErr = f.Load()
		return loadErr
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify loaded config matches saved config
	if loadedCfg.Memcheck.Binary != testCfg.Memcheck.Binary {
		t.Errorf("Memcheck.Binary mismatch: got %q, want %q", loadedCfg.Memcheck.Binary, testCfg.Memcheck.Binary)
	}

	if loadedCfg.Debugger.CommandTimeout != testCfg.Debugger.CommandTimeout {
		t.Errorf("Debugger.CommandTimeout mismatch: got %v, want %v", loadedCfg.Debugger.CommandTimeout, testCfg.Debugger.CommandTimeout)
	}

	if len(loadedCfg.Report.SuppressPaths) != 1 {
		t.Errorf("SuppressPaths count mismatch: got %d, want 1", len(loadedCfg.Report.SuppressPaths))
	}
}

func TestFile_LoadNonExistent(t *testing.T) {
	// Create temporary test directory
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "nonexistent.yaml")

	f, err := NewFile(configPath)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}

	var cfg *Config
	err = f.WithLock(func() error {
		var loadErr error
		cfg, loadErr = f.Load()
		return loadErr
	})
	if err != nil {
		t.Fatalf("Load() on non-existent file should not error, got %v", err)
	}

	// Should return default config
	if cfg.Memcheck.Binary != "valgrind" {
		t.Errorf("Default config memcheck binary = %q, want valgrind", cfg.Memcheck.Binary)
	}
}

func TestSaveConfig_CreatesDirectory(t *testing.T) {
	// Create temporary test directory
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "subdir", "config.yaml")

	err := SaveConfig(configPath, Default())
	if err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	// Verify directory was created
	if _, err := os.Stat(filepath.Dir(configPath)); os.IsNotExist(err) {
		t.Fatal("Directory was not created")
	}

	// Verify file was created
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Config file was not created")
	}

	// Verify file permissions are secure (0600)
	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		t.Errorf("File permissions = %o, want 0600", mode)
	}
}

func TestConfigPath_EnvOverride(t *testing.T) {
	oldEnv := saveEnv()
	defer restoreEnv(oldEnv)

	os.Setenv("MORTEM_CONFIG", "/tmp/custom-mortem.yaml")

	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("ConfigPath() error = %v", err)
	}

	if path != "/tmp/custom-mortem.yaml" {
		t.Errorf("ConfigPath() = %q, want MORTEM_CONFIG value", path)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	// A config written by Save must load back through the validating
	// Load path without errors.
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	oldEnv := saveEnv()
	defer restoreEnv(oldEnv)
	clearConfigEnv()

	cfg := Default()
	cfg.Memcheck.FirstError = 2
	cfg.Report.Filter = `message contains "Invalid read"`

	if err := SaveConfig(configPath, cfg); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Memcheck.FirstError != 2 {
		t.Errorf("FirstError = %d, want 2", loaded.Memcheck.FirstError)
	}
	if loaded.Report.Filter != cfg.Report.Filter {
		t.Errorf("Filter = %q, want %q", loaded.Report.Filter, cfg.Report.Filter)
	}
}
