// Terrarium is a conversational IRC agent.
//
// It sits in one or more channels, logs what is said, and answers
// "!terrarium" questions with a tool-calling model that can search the
// channel history, look up who is present, search the web and file
// enhancement requests. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	terrarium serve              Connect to IRC and serve the channels
//	terrarium init [dir]         Initialize a working directory with defaults
//	terrarium ask <question>     Ask the model a single question (for testing)
//	terrarium version            Print version and build information
//	terrarium -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/terrarium-irc/internal/agent"
	"github.com/nugget/terrarium-irc/internal/buildinfo"
	"github.com/nugget/terrarium-irc/internal/commands"
	"github.com/nugget/terrarium-irc/internal/config"
	"github.com/nugget/terrarium-irc/internal/connwatch"
	"github.com/nugget/terrarium-irc/internal/events"
	"github.com/nugget/terrarium-irc/internal/forge"
	"github.com/nugget/terrarium-irc/internal/httpkit"
	"github.com/nugget/terrarium-irc/internal/irc"
	"github.com/nugget/terrarium-irc/internal/llm"
	"github.com/nugget/terrarium-irc/internal/mqtt"
	"github.com/nugget/terrarium-irc/internal/notes"
	"github.com/nugget/terrarium-irc/internal/search"
	"github.com/nugget/terrarium-irc/internal/tools"
	"github.com/nugget/terrarium-irc/internal/transcript"
	"github.com/nugget/terrarium-irc/internal/usage"
)

// shutdownGrace bounds how long in-flight commands may run after a
// shutdown signal.
const shutdownGrace = 15 * time.Second

// main constructs the OS-level environment and delegates to [run] so
// the lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand to keep
// flag.CommandLine globals out of tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve", "run":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: terrarium ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Terrarium - Conversational IRC Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: terrarium [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Connect to IRC and serve the configured channels")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Ask the model a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runAsk sends one question to the model with no channel context and
// prints the finished answer.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := configuredLogger(stdout, cfg)
	if err != nil {
		return err
	}
	logger.Debug("config loaded", "path", cfgPath)

	client, err := newModelClient(cfg, logger)
	if err != nil {
		return err
	}
	orch := agent.New(agent.ConfigFrom(cfg), client, nil, nil, logger)
	orch.SetName(cfg.IRC.Nick)

	rep, err := orch.Ask(ctx, "cli", strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, rep.Text)
	return nil
}

// runServe wires every component, connects to IRC and blocks until a
// shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := configuredLogger(stdout, cfg)
	if err != nil {
		return err
	}
	logger.Info("starting terrarium",
		"version", buildinfo.Version,
		"config", cfgPath,
		"nick", cfg.IRC.Nick,
		"channels", cfg.IRC.Channels,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Storage ---
	store, err := transcript.Open(cfg.Store.Driver, cfg.Store.Path, logger.With("component", "transcript"))
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer store.Close()
	logger.Info("transcript opened", "driver", cfg.Store.Driver, "path", cfg.Store.Path)

	usageStore, err := usage.NewStore(store.DB())
	if err != nil {
		return fmt.Errorf("open usage ledger: %w", err)
	}

	noteStore, err := notes.NewStore(cfg.Notes.Dir, cfg.Notes.MaxOutstanding, cfg.Notes.ReadLimit, logger.With("component", "notes"))
	if err != nil {
		return fmt.Errorf("open enhancement requests: %w", err)
	}

	bus := events.New()

	// --- Tools ---
	registry := tools.NewRegistry(logger.With("component", "tools"))
	registry.SetAuditor(store)
	tools.RegisterChatLog(registry, store)

	// A nil *forge.Mirror inside the interface would look configured.
	var filer tools.IssueFiler
	if mirror := newIssueMirror(cfg, logger); mirror != nil {
		filer = mirror
	}
	tools.RegisterRequests(registry, noteStore, filer)

	searchMgr := newSearchManager(cfg, logger)
	tools.RegisterWebSearch(registry, searchMgr)
	logger.Info("tools registered", "tools", registry.Names())

	// --- Model ---
	client, err := newModelClient(cfg, logger)
	if err != nil {
		return err
	}

	watchers := connwatch.NewManager(logger.With("component", "connwatch"))
	defer watchers.Stop()
	modelWatch := watchers.Watch(ctx, connwatch.WatcherConfig{
		Name:    "model",
		Probe:   client.Ping,
		Backoff: connwatch.DefaultBackoffConfig(),
		Bus:     bus,
		Logger:  logger,
	})

	orch := agent.New(agent.ConfigFrom(cfg), client, registry, agent.NewRegistry(store, logger), logger.With("component", "agent"))
	orch.SetEventSource(store)
	orch.SetUsageRecorder(usageStore)
	orch.SetBus(bus)
	orch.SetName(cfg.IRC.Nick)

	// --- Commands and transport ---
	router := commands.NewRouter(cfg.IRC.CommandPrefix, logger.With("component", "commands"))
	commands.RegisterBuiltins(router, commands.Deps{
		Agent:  orch,
		Log:    store,
		Notes:  noteStore,
		Usage:  usageStore,
		Health: modelWatch,
	})

	ircClient := irc.NewClient(cfg.IRC, logger.With("component", "irc"))
	ircClient.SetBus(bus)
	bridge := irc.NewBridge(irc.BridgeConfig{
		Client:    ircClient,
		Log:       store,
		Commands:  router,
		Logger:    logger.With("component", "bridge"),
		RateLimit: cfg.IRC.RateLimit,
	})
	ircClient.SetHandler(bridge)

	// --- MQTT ---
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance id: %w", err)
		}
		mqttPub = mqtt.New(cfg.MQTT, instanceID, bus, usageTokens{usageStore}, logger.With("component", "mqtt"))
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.Broker, "instance_id", instanceID)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		if err := ircClient.Quit("Terrarium shutting down"); err != nil {
			logger.Debug("quit not sent", "error", err)
		}
	}()

	// Run blocks until ctx is cancelled, reconnecting as needed.
	if err := ircClient.Run(ctx); err != nil {
		return fmt.Errorf("irc: %w", err)
	}

	graceCtx, graceCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer graceCancel()
	if err := bridge.Wait(graceCtx); err != nil {
		logger.Warn("commands still running at shutdown", "error", err)
	}
	if mqttPub != nil {
		if err := mqttPub.Stop(graceCtx); err != nil {
			logger.Error("mqtt shutdown failed", "error", err)
		}
	}

	logger.Info("terrarium stopped")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func configuredLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := newLogger(w, level, cfg.LogFormat)
	slog.SetDefault(logger)
	return logger, nil
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

func newModelClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	client, err := llm.New(cfg.Model.Provider, llm.OpenAIConfig{
		URL:        cfg.Model.URL,
		APIKey:     cfg.Model.APIKey,
		Timeout:    cfg.Model.Timeout,
		MaxRetries: cfg.Model.MaxRetries,
	}, logger.With("component", "llm"))
	if err != nil {
		return nil, err
	}
	logger.Info("model client initialized",
		"provider", cfg.Model.Provider,
		"url", cfg.Model.URL,
		"model", cfg.Model.Name,
	)
	return client, nil
}

// newSearchManager registers every configured web search provider.
func newSearchManager(cfg *config.Config, logger *slog.Logger) *search.Manager {
	mgr := search.NewManager(cfg.Search.Primary, logger.With("component", "search"))
	if cfg.Search.SearXNG.Configured() {
		mgr.Register(search.NewSearXNG(cfg.Search.SearXNG.URL))
	}
	if cfg.Search.Brave.Configured() {
		mgr.Register(search.NewBrave(cfg.Search.Brave.APIKey))
	}
	if mgr.Configured() {
		logger.Info("web search enabled", "providers", mgr.Providers())
	} else {
		logger.Info("web search disabled (no provider configured)")
	}
	return mgr
}

// newIssueMirror returns nil when issue mirroring is off or cannot be
// set up. A broken forge config never stops the bot.
func newIssueMirror(cfg *config.Config, logger *slog.Logger) *forge.Mirror {
	if !cfg.Forge.Configured() {
		return nil
	}
	httpClient := httpkit.NewClient(
		httpkit.WithTimeout(30*time.Second),
		httpkit.WithDialRetry(2, 2*time.Second),
		httpkit.WithLogger(logger.With("component", "forge")),
	)
	gh, err := forge.NewGitHub(httpClient, cfg.Forge.Token, cfg.Forge.URL, logger.With("component", "forge"))
	if err != nil {
		logger.Error("issue mirroring disabled", "error", err)
		return nil
	}
	mirror, err := forge.NewMirror(gh, cfg.Forge.Repo, cfg.Forge.Labels, logger.With("component", "forge"))
	if err != nil {
		logger.Error("issue mirroring disabled", "error", err)
		return nil
	}
	logger.Info("issue mirroring enabled", "repo", cfg.Forge.Repo)
	return mirror
}

// usageTokens adapts the usage ledger to [mqtt.TokenCounter].
type usageTokens struct {
	store *usage.Store
}

func (u usageTokens) TokensToday(ctx context.Context) (int64, error) {
	sum, err := u.store.Today(ctx)
	if err != nil {
		return 0, err
	}
	return sum.Total(), nil
}
