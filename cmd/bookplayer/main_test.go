package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T, base string) string {
	t.Helper()
	configPath := filepath.Join(base, "config.toml")
	contents := fmt.Sprintf(`[paths]
processed_dir = %q
inbox_dir = %q
log_dir = %q
state_dir = %q

[api]
base_url = "https://sync.invalid/v1"
`,
		filepath.Join(base, "Processed"),
		filepath.Join(base, "inbox"),
		filepath.Join(base, "logs"),
		filepath.Join(base, "state"),
	)
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath
}

func runCommand(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestLsOnEmptyLibrary(t *testing.T) {
	configPath := writeTestConfig(t, t.TempDir())

	output, err := runCommand(t, configPath, "ls")
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	if !strings.Contains(output, "Library is empty") {
		t.Fatalf("unexpected output: %s", output)
	}
}

func TestImportAndLsRoundTrip(t *testing.T) {
	base := t.TempDir()
	configPath := writeTestConfig(t, base)

	source := filepath.Join(base, "drop", "My Book.mp3")
	if err := os.MkdirAll(filepath.Dir(source), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(source, []byte("audio bytes"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	output, err := runCommand(t, configPath, "import", source)
	if err != nil {
		t.Fatalf("import: %v\n%s", err, output)
	}
	if !strings.Contains(output, "1 imported, 0 skipped") {
		t.Fatalf("unexpected import output: %s", output)
	}

	output, err = runCommand(t, configPath, "ls")
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	if !strings.Contains(output, "My Book") {
		t.Fatalf("imported book missing from listing: %s", output)
	}
}

func TestQueueReflectsImport(t *testing.T) {
	base := t.TempDir()
	configPath := writeTestConfig(t, base)

	source := filepath.Join(base, "drop", "book.mp3")
	if err := os.MkdirAll(filepath.Dir(source), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(source, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if _, err := runCommand(t, configPath, "import", source); err != nil {
		t.Fatalf("import: %v", err)
	}

	output, err := runCommand(t, configPath, "queue", "count")
	if err != nil {
		t.Fatalf("queue count: %v", err)
	}
	if strings.TrimSpace(output) != "1" {
		t.Fatalf("queue count = %q, want 1", strings.TrimSpace(output))
	}

	output, err = runCommand(t, configPath, "queue", "list")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	if !strings.Contains(output, "upload") {
		t.Fatalf("upload task missing from listing: %s", output)
	}

	output, err = runCommand(t, configPath, "queue", "clear")
	if err != nil {
		t.Fatalf("queue clear: %v", err)
	}
	if !strings.Contains(output, "Removed 1 task(s)") {
		t.Fatalf("unexpected clear output: %s", output)
	}
}

func TestFolderLifecycle(t *testing.T) {
	base := t.TempDir()
	configPath := writeTestConfig(t, base)

	if _, err := runCommand(t, configPath, "mkdir", "Series"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	source := filepath.Join(base, "drop", "book.mp3")
	if err := os.MkdirAll(filepath.Dir(source), 0o755); err != nil {
		t.Fatalf("mkdir drop: %v", err)
	}
	if err := os.WriteFile(source, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	output, err := runCommand(t, configPath, "import", source, "--into", "Series")
	if err != nil {
		t.Fatalf("import: %v\n%s", err, output)
	}

	if _, err := runCommand(t, configPath, "rename", "Series", "Saga"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	output, err = runCommand(t, configPath, "ls", "Saga")
	if err != nil {
		t.Fatalf("ls after rename: %v", err)
	}
	if !strings.Contains(output, "Saga/") {
		t.Fatalf("renamed folder contents missing: %s", output)
	}

	if _, err := runCommand(t, configPath, "rm", "Saga"); err != nil {
		t.Fatalf("rm: %v", err)
	}
	output, err = runCommand(t, configPath, "ls")
	if err != nil {
		t.Fatalf("ls after rm: %v", err)
	}
	if !strings.Contains(output, "Library is empty") {
		t.Fatalf("library not empty after deep delete: %s", output)
	}
}

func TestSyncRequiresLogin(t *testing.T) {
	configPath := writeTestConfig(t, t.TempDir())

	_, err := runCommand(t, configPath, "sync")
	if err == nil || !strings.Contains(err.Error(), "not logged in") {
		t.Fatalf("expected login error, got %v", err)
	}
}

func TestLoginLogout(t *testing.T) {
	configPath := writeTestConfig(t, t.TempDir())

	output, err := runCommand(t, configPath, "login", "--token", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(output, "Logged in") {
		t.Fatalf("unexpected login output: %s", output)
	}

	output, err = runCommand(t, configPath, "logout")
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if !strings.Contains(output, "Logged out") {
		t.Fatalf("unexpected logout output: %s", output)
	}
}

func TestConfigInitWritesSample(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "config.toml")

	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	contents, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "[paths]") {
		t.Fatalf("sample config missing paths section: %s", contents)
	}

	// Second init without --overwrite must refuse.
	cmd = newRootCommand()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected second init to fail without --overwrite")
	}
}

func TestAuditFlagsStray(t *testing.T) {
	base := t.TempDir()
	configPath := writeTestConfig(t, base)

	// The config must be loaded once so directories exist.
	if _, err := runCommand(t, configPath, "ls"); err != nil {
		t.Fatalf("ls: %v", err)
	}
	stray := filepath.Join(base, "Processed", "stray.m4b")
	if err := os.WriteFile(stray, []byte("orphan"), 0o644); err != nil {
		t.Fatalf("write stray: %v", err)
	}

	output, err := runCommand(t, configPath, "audit")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !strings.Contains(output, "1 orphaned") {
		t.Fatalf("orphan not reported: %s", output)
	}
}
