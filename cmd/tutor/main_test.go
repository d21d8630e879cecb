package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_VersionFlag_PrintsVersion(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	code := run([]string{"--version"}, &out)

	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out.String(), "tutor version") {
		t.Fatalf("expected version output, got %q", out.String())
	}
}

func TestRun_VersionCommand_PrintsVersion(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if code := run([]string{"version"}, &out); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out.String(), "tutor version") {
		t.Fatalf("expected version output, got %q", out.String())
	}
}

func TestRun_Help_PrintsUsage(t *testing.T) {
	t.Parallel()

	for _, args := range [][]string{{"--help"}, {"help"}} {
		var out bytes.Buffer
		code := run(args, &out)

		if code != 0 {
			t.Fatalf("%v: expected exit code 0, got %d", args, code)
		}
		if !strings.Contains(out.String(), "Usage:") {
			t.Fatalf("%v: expected help output, got %q", args, out.String())
		}
	}
}

func TestRun_InvalidFlag_Returns2(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	code := run([]string{"--unknown-flag"}, &out)

	if code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
}

func TestRun_UnknownCommand_Returns2(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	code := run([]string{"migrate"}, &out)

	if code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	if !strings.Contains(out.String(), `unknown command "migrate"`) || !strings.Contains(out.String(), "Usage:") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

// ===== STARTUP FAILURES =====
// No t.Parallel(): these tests set process environment.

func isolateEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TUTOR_ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("DATABASE_URL", filepath.Join(dir, "tutor.db"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("TUTOR_USERS_PATH", "")
	t.Setenv("TUTOR_INBOX_DIR", "")
	t.Setenv("TUTOR_CATALOG_PATH", "")
	t.Setenv("TUTOR_DEFAULT_PROVIDER", "")
	t.Setenv("TUTOR_DEFAULT_MODEL", "")
	t.Setenv("OLLAMA_EMBED_MODEL", "")

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestRun_ServeWithoutSecret_Returns1(t *testing.T) {
	isolateEnv(t)

	var out bytes.Buffer
	if code := run([]string{"serve"}, &out); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}

func TestRun_ServeWithMissingUserDirectory_Returns1(t *testing.T) {
	isolateEnv(t)
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("TUTOR_USERS_PATH", filepath.Join(t.TempDir(), "users.yaml"))

	var out bytes.Buffer
	if code := run(nil, &out); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}

func TestRun_WatchWithoutInbox_Returns1(t *testing.T) {
	isolateEnv(t)

	var out bytes.Buffer
	if code := run([]string{"watch"}, &out); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}

func TestRun_MCPWithMissingCatalog_Returns1(t *testing.T) {
	isolateEnv(t)
	t.Setenv("TUTOR_CATALOG_PATH", filepath.Join(t.TempDir(), "catalog.yaml"))

	var out bytes.Buffer
	if code := run([]string{"mcp"}, &out); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}

func TestRun_MCPWithUnknownDefaultModel_Returns1(t *testing.T) {
	isolateEnv(t)
	t.Setenv("TUTOR_DEFAULT_PROVIDER", "ollama")
	t.Setenv("TUTOR_DEFAULT_MODEL", "gpt-4o")

	var out bytes.Buffer
	if code := run([]string{"mcp"}, &out); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}

// ===== HELPERS =====

func TestNewLogger_Levels(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx := context.Background()
	cases := []struct {
		level     string
		debug     bool
		wantDebug bool
		wantInfo  bool
	}{
		{level: "info", wantInfo: true},
		{level: "DEBUG", wantDebug: true, wantInfo: true},
		{level: "warn"},
		{level: "nonsense", wantInfo: true},
		{level: "error", debug: true, wantDebug: true, wantInfo: true},
	}
	for _, tc := range cases {
		logger := newLogger(tc.level, tc.debug)
		if got := logger.Enabled(ctx, slog.LevelDebug); got != tc.wantDebug {
			t.Errorf("level %q debug=%v: debug enabled = %v", tc.level, tc.debug, got)
		}
		if got := logger.Enabled(ctx, slog.LevelInfo); got != tc.wantInfo {
			t.Errorf("level %q debug=%v: info enabled = %v", tc.level, tc.debug, got)
		}
	}
}

func TestPublicURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		":8080":          "http://localhost:8080",
		"127.0.0.1:9000": "http://127.0.0.1:9000",
	}
	for addr, want := range cases {
		if got := publicURL(addr); got != want {
			t.Errorf("publicURL(%q) = %q, want %q", addr, got, want)
		}
	}
}
