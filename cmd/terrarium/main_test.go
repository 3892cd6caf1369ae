package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/nugget/terrarium-irc/examples"
	"github.com/nugget/terrarium-irc/internal/config"
)

// clearUmask sets the process umask to 0 so file permission assertions
// are deterministic.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	for _, sub := range []string{"data", "data/enhancement_requests"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		if err != nil || !info.IsDir() {
			t.Errorf("expected directory %s: %v", sub, err)
		}
	}

	cfgInfo, err := os.Stat(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if got := cfgInfo.Mode().Perm(); got != 0o600 {
		t.Errorf("config.yaml permissions = %o, want 0600", got)
	}
	if !strings.Contains(buf.String(), "✓") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRunInit_KeepsExistingConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("irc:\n  nick: Mine\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "irc:\n  nick: Mine\n" {
		t.Errorf("config overwritten: %q", got)
	}
	if !strings.Contains(buf.String(), "left alone") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestExampleConfigLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, examples.ConfigYAML, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.IRC.Nick != "Terra" || cfg.IRC.RateLimit != 10 || cfg.Agent.MaxIterations != 8 {
		t.Errorf("unexpected values: nick %q, rate %d, iterations %d", cfg.IRC.Nick, cfg.IRC.RateLimit, cfg.Agent.MaxIterations)
	}
}

func TestRun_Dispatch(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
		wantOut string
	}{
		{"no args prints usage", nil, "", "Usage: terrarium"},
		{"help flag", []string{"--help"}, "", "Commands:"},
		{"unknown command", []string{"frobnicate"}, "unknown command: frobnicate", ""},
		{"unknown flag", []string{"-x"}, "unknown flag: -x", ""},
		{"bad output format", []string{"-o", "xml", "version"}, "unknown output format", ""},
		{"ask needs a question", []string{"ask"}, "usage: terrarium ask", ""},
		{"version text", []string{"version"}, "", "version:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(context.Background(), &stdout, &stderr, tt.args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(stdout.String(), tt.wantOut) {
				t.Errorf("stdout = %q, want it to contain %q", stdout.String(), tt.wantOut)
			}
		})
	}
}

func TestRunVersion_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := run(context.Background(), &buf, &buf, []string{"-o", "json", "version"}); err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal(buf.Bytes(), &info); err != nil {
		t.Fatalf("not JSON: %v\n%s", err, buf.String())
	}
	if info["version"] == "" {
		t.Errorf("info = %v", info)
	}
}
