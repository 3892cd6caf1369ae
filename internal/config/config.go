// Package config handles Terrarium configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/terrarium/config.yaml, /etc/terrarium/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "terrarium", "config.yaml"))
	}

	paths = append(paths, "/etc/terrarium/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Terrarium configuration.
type Config struct {
	IRC       IRCConfig    `yaml:"irc"`
	Model     ModelConfig  `yaml:"model"`
	Agent     AgentConfig  `yaml:"agent"`
	Store     StoreConfig  `yaml:"store"`
	Notes     NotesConfig  `yaml:"notes"`
	Search    SearchConfig `yaml:"search"`
	Forge     ForgeConfig  `yaml:"forge"`
	MQTT      MQTTConfig   `yaml:"mqtt"`
	DataDir   string       `yaml:"data_dir"`
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format"` // text (default) or json
}

// IRCConfig defines the chat transport connection.
type IRCConfig struct {
	Server   string `yaml:"server"`
	Port     int    `yaml:"port"`
	UseTLS   bool   `yaml:"use_tls"`
	Nick     string `yaml:"nick"`
	Username string `yaml:"username"`
	Realname string `yaml:"realname"`
	Password string `yaml:"password"` // Server password (PASS), optional

	// WebSocketURL, when set, connects over an IRCv3 WebSocket gateway
	// instead of a raw TCP socket. Server/Port/UseTLS are ignored.
	WebSocketURL string `yaml:"websocket_url"`

	Channels      []string `yaml:"channels"`
	CommandPrefix string   `yaml:"command_prefix"`

	// SendDelay spaces consecutive outbound lines to stay under
	// server flood limits.
	SendDelay time.Duration `yaml:"send_delay"`

	// RateLimit caps commands per nick per minute. 0 disables it.
	RateLimit int `yaml:"rate_limit"`
}

// Address returns host:port for the TCP transport.
func (c IRCConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Server, c.Port)
}

// ModelConfig defines the remote model endpoint.
type ModelConfig struct {
	Provider    string        `yaml:"provider"` // openai (default) or ollama
	URL         string        `yaml:"url"`
	APIKey      string        `yaml:"api_key"`
	Name        string        `yaml:"name"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// AgentConfig tunes the orchestrator: the tool loop ceiling, conversation
// compaction and the token budget estimator.
type AgentConfig struct {
	MaxIterations int `yaml:"max_iterations"`
	// WarningOffset is how many iterations before the ceiling the
	// "running out of budget" system turn is injected.
	WarningOffset int `yaml:"warning_offset"`

	CompactTrigger    int `yaml:"compact_trigger"`
	CompactRetain     int `yaml:"compact_retain"`
	SummaryInputLimit int `yaml:"summary_input_limit"` // characters

	ContextLimit        int     `yaml:"context_limit"` // tokens
	MaxCompletionTokens int     `yaml:"max_completion_tokens"`
	CompletionFloor     int     `yaml:"completion_floor"`
	MinCompletionTokens int     `yaml:"min_completion_tokens"`
	SafetyMargin        int     `yaml:"safety_margin"`
	CharsPerToken       float64 `yaml:"chars_per_token"`
	TurnOverhead        int     `yaml:"turn_overhead"` // characters per turn

	TranscriptEvents int `yaml:"transcript_events"`
	GapMinutes       int `yaml:"gap_minutes"`
}

// StoreConfig selects the transcript database.
type StoreConfig struct {
	// Driver is the database/sql driver name: "sqlite3" (mattn, cgo)
	// or "sqlite" (modernc, pure Go).
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// NotesConfig defines the enhancement request directory.
type NotesConfig struct {
	Dir            string `yaml:"dir"`
	MaxOutstanding int    `yaml:"max_outstanding"`
	ReadLimit      int    `yaml:"read_limit"` // characters returned by read
}

// SearchConfig defines web search providers. Web search is disabled
// when no provider is configured.
type SearchConfig struct {
	Primary string        `yaml:"primary"`
	SearXNG SearXNGConfig `yaml:"searxng"`
	Brave   BraveConfig   `yaml:"brave"`
}

// SearXNGConfig holds configuration for the SearXNG provider.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// Configured reports whether a SearXNG URL is set.
func (c SearXNGConfig) Configured() bool { return c.URL != "" }

// BraveConfig holds configuration for the Brave Search provider.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether a Brave API key is set.
func (c BraveConfig) Configured() bool { return c.APIKey != "" }

// ForgeConfig enables mirroring new enhancement requests to GitHub issues.
type ForgeConfig struct {
	Token  string   `yaml:"token"`
	Repo   string   `yaml:"repo"` // owner/name
	URL    string   `yaml:"url"`  // GitHub Enterprise base URL, optional
	Labels []string `yaml:"labels"`
}

// Configured reports whether issue mirroring is enabled.
func (c ForgeConfig) Configured() bool { return c.Token != "" && c.Repo != "" }

// MQTTConfig enables exporting operational events to an MQTT broker.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool { return c.Broker != "" }

// Load reads configuration from a YAML file on top of [Default]. Environment
// variables referenced as ${VAR} are expanded before parsing, and the
// legacy bot variables (IRC_SERVER, AGENT_API_URL, ...) are applied last.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		IRC: IRCConfig{
			Server:        "irc.libera.chat",
			Port:          6667,
			Nick:          "Terra",
			Username:      "terra",
			Realname:      "Terrarium IRC agent",
			Channels:      []string{"#test"},
			CommandPrefix: "!",
			SendDelay:     500 * time.Millisecond,
			RateLimit:     10,
		},
		Model: ModelConfig{
			Provider:    "openai",
			URL:         "http://localhost:8080",
			Temperature: 0.8,
			Timeout:     60 * time.Second,
			MaxRetries:  2,
		},
		Agent: AgentConfig{
			MaxIterations:       8,
			WarningOffset:       3,
			CompactTrigger:      40,
			CompactRetain:       12,
			SummaryInputLimit:   12000,
			ContextLimit:        8192,
			MaxCompletionTokens: 512,
			CompletionFloor:     128,
			MinCompletionTokens: 32,
			SafetyMargin:        256,
			CharsPerToken:       4,
			TurnOverhead:        16,
			TranscriptEvents:    30,
			GapMinutes:          5,
		},
		Store: StoreConfig{
			Driver: "sqlite3",
		},
		Notes: NotesConfig{
			MaxOutstanding: 10,
			ReadLimit:      4000,
		},
		Search: SearchConfig{
			Primary: "searxng",
		},
		MQTT: MQTTConfig{
			TopicPrefix: "terrarium",
		},
		DataDir: "./data",
	}
}

// ApplyEnv overlays the environment variables understood by the earlier
// Python release so existing .env deployments keep working. lookup is usually
// [os.LookupEnv].
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("IRC_SERVER"); ok && v != "" {
		c.IRC.Server = v
	}
	if v, ok := lookup("IRC_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("IRC_PORT: %w", err)
		}
		c.IRC.Port = port
	}
	if v, ok := lookup("IRC_USE_SSL"); ok && v != "" {
		c.IRC.UseTLS = strings.EqualFold(v, "true")
	}
	if v, ok := lookup("IRC_NICK"); ok && v != "" {
		c.IRC.Nick = v
	}
	if v, ok := lookup("IRC_CHANNELS"); ok && v != "" {
		var chans []string
		for _, ch := range strings.Split(v, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				chans = append(chans, ch)
			}
		}
		c.IRC.Channels = chans
	}
	if v, ok := lookup("COMMAND_PREFIX"); ok && v != "" {
		c.IRC.CommandPrefix = v
	}
	if v, ok := lookup("AGENT_API_URL"); ok && v != "" {
		c.Model.URL = v
	}
	if v, ok := lookup("AGENT_TEMPERATURE"); ok && v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("AGENT_TEMPERATURE: %w", err)
		}
		c.Model.Temperature = t
	}
	if v, ok := lookup("AGENT_MAX_TOKENS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGENT_MAX_TOKENS: %w", err)
		}
		c.Agent.MaxCompletionTokens = n
	}
	if v, ok := lookup("DB_PATH"); ok && v != "" {
		c.Store.Path = v
	}
	return nil
}

// resolvePaths fills derived file locations under DataDir.
func (c *Config) resolvePaths() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "irc_logs.db")
	}
	if c.Notes.Dir == "" {
		c.Notes.Dir = filepath.Join(c.DataDir, "enhancement_requests")
	}
}

// Validate checks the configuration for values that would make the
// orchestrator misbehave rather than fail loudly.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format %q: expected text or json", c.LogFormat)
	}
	switch c.Model.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("model.provider %q: expected openai or ollama", c.Model.Provider)
	}
	switch c.Store.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("store.driver %q: expected sqlite3 or sqlite", c.Store.Driver)
	}
	if c.IRC.Nick == "" {
		return fmt.Errorf("irc.nick is required")
	}
	if c.IRC.WebSocketURL == "" && (c.IRC.Server == "" || c.IRC.Port <= 0) {
		return fmt.Errorf("irc.server and irc.port are required without irc.websocket_url")
	}

	a := c.Agent
	if a.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be positive, got %d", a.MaxIterations)
	}
	if a.WarningOffset < 0 || a.WarningOffset >= a.MaxIterations {
		return fmt.Errorf("agent.warning_offset must be in [0, %d), got %d", a.MaxIterations, a.WarningOffset)
	}
	if a.CompactRetain < 0 || a.CompactRetain >= a.CompactTrigger {
		return fmt.Errorf("agent.compact_retain (%d) must be below compact_trigger (%d)", a.CompactRetain, a.CompactTrigger)
	}
	if a.MinCompletionTokens < 1 {
		return fmt.Errorf("agent.min_completion_tokens must be positive, got %d", a.MinCompletionTokens)
	}
	if a.MaxCompletionTokens < a.MinCompletionTokens {
		return fmt.Errorf("agent.max_completion_tokens (%d) below min_completion_tokens (%d)", a.MaxCompletionTokens, a.MinCompletionTokens)
	}
	if a.CharsPerToken <= 0 {
		return fmt.Errorf("agent.chars_per_token must be positive")
	}
	if c.Notes.MaxOutstanding < 1 {
		return fmt.Errorf("notes.max_outstanding must be positive, got %d", c.Notes.MaxOutstanding)
	}
	return nil
}
