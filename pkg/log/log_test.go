package log

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigureLevels(t *testing.T) {
	var buf bytes.Buffer
	if err := Configure(&buf, "warn"); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	defer Configure(os.Stderr, "info")

	Info("hidden %d", 1)
	Warn("shown %d", 2)
	Error("shown %d", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line written at warn level: %q", out)
	}
	if !strings.Contains(out, "WARN: shown 2") || !strings.Contains(out, "ERROR: shown 3") {
		t.Fatalf("expected warn and error lines, got %q", out)
	}
	if DebugEnabled() {
		t.Fatalf("debug should be disabled at warn level")
	}
}

func TestConfigureUnknownLevel(t *testing.T) {
	if err := Configure(nil, "loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestParseVerbosity(t *testing.T) {
	cases := map[string]string{
		"silent":        "silent",
		"error":         "error",
		"warning":       "warn",
		"status_local":  "info",
		"status_remote": "debug",
		"status_all":    "debug",
		"DEBUG":         "debug",
	}
	for in, want := range cases {
		got, err := ParseVerbosity(in)
		if err != nil {
			t.Fatalf("ParseVerbosity(%q) failed: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseVerbosity(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConfigureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shapes.log")
	if err := ConfigureFile(io.Discard, path, "debug", Rotation{MaxSizeMB: 1}); err != nil {
		t.Fatalf("ConfigureFile failed: %v", err)
	}
	Debug("to file %s", "ok")
	if err := Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	Configure(os.Stderr, "info")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), "DEBUG: to file ok") {
		t.Fatalf("log file missing line: %q", b)
	}
}

func TestCriticalIgnoresSilent(t *testing.T) {
	var buf bytes.Buffer
	if err := Configure(&buf, "silent"); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	defer Configure(os.Stderr, "info")

	Error("filtered %d", 1)
	Critical("publisher failed in %s phase", "connect")

	out := buf.String()
	if strings.Contains(out, "filtered") {
		t.Fatalf("error line written at silent level: %q", out)
	}
	if !strings.Contains(out, "ERROR: publisher failed in connect phase") {
		t.Fatalf("critical line missing at silent level: %q", out)
	}
}
