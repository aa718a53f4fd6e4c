// Package testutil provides testing utilities for coms tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WriteFile writes content to name under dir, creating parent directories.
// Returns the full path of the file.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	fullPath := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", name, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file %s: %v", name, err)
	}
	return fullPath
}

// WriteScenario writes a scenario document to a temporary file named
// name and returns its path. The file is removed when the test completes.
func WriteScenario(t *testing.T, name, content string) string {
	t.Helper()
	return WriteFile(t, t.TempDir(), name, content)
}

// IsolateConfig points the config directory at a fresh temporary
// directory so tests never read or write the user's real configuration.
// Returns the config directory coms will use.
func IsolateConfig(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", root)
	t.Setenv("HOME", root)
	return filepath.Join(root, "coms")
}

// WaitFor polls cond until it returns true or timeout elapses.
// Returns whether cond was satisfied.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
