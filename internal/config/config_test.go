package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "irc:\n  nick: Tester\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("irc:\n  nick: Tester\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_DefaultsSurvivePartialFile(t *testing.T) {
	path := writeConfig(t, "irc:\n  nick: Tester\n  channels: ['#one', '#two']\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.IRC.Nick != "Tester" {
		t.Errorf("nick = %q, want Tester", cfg.IRC.Nick)
	}
	if len(cfg.IRC.Channels) != 2 {
		t.Errorf("channels = %v, want 2 entries", cfg.IRC.Channels)
	}
	if cfg.Agent.MaxIterations != 8 || cfg.Agent.WarningOffset != 3 {
		t.Errorf("loop defaults = %d/%d, want 8/3", cfg.Agent.MaxIterations, cfg.Agent.WarningOffset)
	}
	if cfg.Agent.CompactTrigger != 40 || cfg.Agent.CompactRetain != 12 {
		t.Errorf("compaction defaults = %d/%d, want 40/12", cfg.Agent.CompactTrigger, cfg.Agent.CompactRetain)
	}
	if cfg.IRC.SendDelay != 500*time.Millisecond {
		t.Errorf("send_delay = %v, want 500ms", cfg.IRC.SendDelay)
	}
	if !strings.HasSuffix(cfg.Store.Path, "irc_logs.db") {
		t.Errorf("store path = %q, want derived irc_logs.db", cfg.Store.Path)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TERRARIUM_TEST_KEY", "secret123")
	path := writeConfig(t, "model:\n  api_key: ${TERRARIUM_TEST_KEY}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Model.APIKey != "secret123" {
		t.Errorf("api_key = %q, want %q", cfg.Model.APIKey, "secret123")
	}
}

func TestLoad_DurationFields(t *testing.T) {
	path := writeConfig(t, "model:\n  timeout: 90s\nirc:\n  send_delay: 250ms\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Model.Timeout != 90*time.Second {
		t.Errorf("timeout = %v, want 90s", cfg.Model.Timeout)
	}
	if cfg.IRC.SendDelay != 250*time.Millisecond {
		t.Errorf("send_delay = %v, want 250ms", cfg.IRC.SendDelay)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"IRC_SERVER":        "irc.example.net",
		"IRC_PORT":          "6697",
		"IRC_USE_SSL":       "TRUE",
		"IRC_NICK":          "Terra2",
		"IRC_CHANNELS":      "#a, #b ,,#c",
		"AGENT_API_URL":     "http://agent:9000",
		"AGENT_TEMPERATURE": "0.3",
		"AGENT_MAX_TOKENS":  "256",
		"COMMAND_PREFIX":    ".",
		"DB_PATH":           "/tmp/x.db",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	if cfg.IRC.Server != "irc.example.net" || cfg.IRC.Port != 6697 || !cfg.IRC.UseTLS {
		t.Errorf("irc = %+v", cfg.IRC)
	}
	if got := strings.Join(cfg.IRC.Channels, ","); got != "#a,#b,#c" {
		t.Errorf("channels = %q, want #a,#b,#c", got)
	}
	if cfg.Model.URL != "http://agent:9000" || cfg.Model.Temperature != 0.3 {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.Agent.MaxCompletionTokens != 256 {
		t.Errorf("max completion = %d, want 256", cfg.Agent.MaxCompletionTokens)
	}
	if cfg.IRC.CommandPrefix != "." || cfg.Store.Path != "/tmp/x.db" {
		t.Errorf("prefix/path = %q/%q", cfg.IRC.CommandPrefix, cfg.Store.Path)
	}
}

func TestApplyEnv_BadNumber(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "IRC_PORT" {
			return "sixty", true
		}
		return "", false
	}
	if err := Default().ApplyEnv(lookup); err == nil {
		t.Fatal("expected error for non-numeric IRC_PORT")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad provider", func(c *Config) { c.Model.Provider = "bedrock" }, "model.provider"},
		{"bad driver", func(c *Config) { c.Store.Driver = "postgres" }, "store.driver"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "unknown log level"},
		{"warning past ceiling", func(c *Config) { c.Agent.WarningOffset = 8 }, "warning_offset"},
		{"retain above trigger", func(c *Config) { c.Agent.CompactRetain = 50 }, "compact_retain"},
		{"zero minimum", func(c *Config) { c.Agent.MinCompletionTokens = 0 }, "min_completion_tokens"},
		{"websocket without server", func(c *Config) {
			c.IRC.Server = ""
			c.IRC.WebSocketURL = "wss://irc.example.net/webirc"
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"TRACE", LevelTrace},
		{" debug ", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLogLevel(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	a := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, LevelTrace))
	if a.Value.String() != "TRACE" {
		t.Errorf("trace level rendered as %q, want TRACE", a.Value.String())
	}
	b := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, slog.LevelInfo))
	if b.Value.Any().(slog.Level) != slog.LevelInfo {
		t.Errorf("info level was rewritten to %v", b.Value)
	}
}
