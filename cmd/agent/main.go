// Agent is an autonomous chat assistant for the Huly platform.
//
// It listens for platform events (mentions, channel messages,
// reactions) over a websocket stream and an HTTP ingest endpoint,
// executes tasks one at a time against a streaming model provider,
// and maintains a persistent memory graph that consolidates while the
// agent sleeps. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	agent serve              Start the agent
//	agent init [dir]         Initialize a working directory with defaults
//	agent version            Print version information
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/agent"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/config"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/llm"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/memory"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/mux"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/platform"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/presence"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/scheduler"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/state"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/store"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/tools"
)

const version = "0.3.0"

// main constructs the OS-level environment (context, stdio, argv) and
// delegates immediately to [run]. This keeps os.Exit and os.Args out
// of the application logic so the full lifecycle can be driven from
// tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package relies on package-level globals, which interferes with
// calling run() concurrently from tests, and the argument surface is
// small enough that manual parsing stays clearer than a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
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

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		fmt.Fprintf(stdout, "agent %s\n", version)
		return nil
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "agent - Autonomous Huly chat assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: agent [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the agent")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	return nil
}

// runInit writes a starter config.yaml into dir. Existing files are
// never overwritten.
func runInit(stdout io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	}

	if err := os.WriteFile(cfgPath, []byte(starterConfig), 0644); err != nil {
		return fmt.Errorf("write %s: %w", cfgPath, err)
	}

	fmt.Fprintf(stdout, "wrote %s\n", cfgPath)
	fmt.Fprintln(stdout, "Edit it to add your provider API key and platform credentials, then run: agent serve")
	return nil
}

const starterConfig = `# Huly agent configuration.
# Environment variables are expanded: api_key: ${OPENROUTER_API_KEY}

provider:
  api_key: ${OPENROUTER_API_KEY}
  model: anthropic/claude-sonnet-4

embeddings:
  base_url: https://api.voyageai.com/v1
  api_key: ${VOYAGE_API_KEY}
  model: voyage-3-lite
  dimension: 512

platform:
  http_base: http://localhost:8087
  ws_url: ws://localhost:8087/events
  token: ${PLATFORM_TOKEN}
  social_id: agent-social-id
  person_name: Jeeves

listen:
  port: 8070

data_dir: data
log_level: info

jobs:
  - id: nightly-sleep
    kind: sleep
    cron: "0 3 * * *"
    time_spread_sec: 1800
  - id: memory-upkeep
    kind: memory_maintenance
    cron: "0 5 * * 0"

limits:
  step_multiplier: 2
  max_idle_rounds: 1
  wait_reaction_sec: 60
  balance_enabled: false
  initial_balance: 10000
`

// runServe boots every component and blocks until shutdown.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting agent", "version", version)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config %s: %w", cfgPath, err)
	}

	// Reconfigure the logger now that the desired level is known. The
	// startup banner above is the only line logged at the default.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("config %s: %w", cfgPath, err)
		}
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded", "path", cfgPath, "model", cfg.Provider.Model, "port", cfg.Listen.Port)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Storage ---
	// Single SQLite database for tasks, messages, the memory graph,
	// scheduled tasks, and notes.
	dbPath := filepath.Join(cfg.DataDir, "agent.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	defer st.Close()
	logger.Info("database opened", "path", dbPath)

	agentState, err := state.New(st, cfg, logger)
	if err != nil {
		return fmt.Errorf("load agent state: %w", err)
	}

	// --- Provider ---
	var providerOpts []llm.OpenRouterOption
	if cfg.Provider.BaseURL != "" {
		providerOpts = append(providerOpts, llm.WithBaseURL(cfg.Provider.BaseURL))
	}
	if cfg.Provider.MaxTokens > 0 {
		providerOpts = append(providerOpts, llm.WithMaxTokens(cfg.Provider.MaxTokens))
	}
	provider := llm.NewOpenRouterClient(cfg.Provider.APIKey, cfg.Provider.Model, logger, providerOpts...)

	// --- Memory engine ---
	// The embedder is nil when embeddings are unconfigured; the engine
	// degrades to observation storage without semantic search.
	var embedder memory.Embedder
	if ec := agentState.Embedder(); ec != nil {
		embedder = ec
	} else {
		logger.Warn("embeddings not configured - memory search disabled")
	}
	engine := memory.NewEngine(st, embedder, provider, logger)

	// --- Platform ---
	client := platform.NewClient(cfg.Platform.HTTPBase, cfg.Platform.Token, logger)

	// The ingest server and the websocket listener feed the same event
	// stream; the forwarder below merges the listener into it.
	events := make(chan platform.Event, 64)

	// --- Presence publisher ---
	// Optional: mirrors the agent's mood/status to an MQTT broker. The
	// interface value stays untyped-nil when unconfigured so the agent's
	// nil check holds.
	var pub *presence.Publisher
	var statusPub agent.StatusPublisher
	if cfg.MQTT.BrokerURL != "" {
		pub = presence.New(cfg.MQTT, logger)
		statusPub = pub
	} else {
		logger.Info("presence publishing disabled (not configured)")
	}

	// --- Tools ---
	registry := tools.NewRegistry()
	tools.RegisterMessaging(registry, client, client, cfg.Platform.SocialID)
	tools.RegisterMemory(registry, engine, st)
	tools.RegisterSchedule(registry, st)
	tools.RegisterNotes(registry, st)
	tools.RegisterFiles(registry, cfg.Workspace.Path)

	// --- Agent and executor ---
	ag := agent.New(agent.Options{
		Config:   cfg,
		State:    agentState,
		Store:    st,
		Provider: provider,
		Registry: registry,
		Memory:   engine,
		Sender:   client,
		Reactor:  client,
		Typing:   client,
		Presence: statusPub,
		Logger:   logger,
	})
	executor := agent.NewExecutor(ag, st, agentState, logger)

	// --- Multiplexer and scheduler ---
	m := mux.New(cfg.Platform.SocialID, logger)
	sched, err := scheduler.New(st, cfg.Jobs, executor.Intake(), m.Activity(), logger)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	statusFn := func() map[string]any {
		return map[string]any{
			"version": version,
			"balance": agentState.Balance(),
			"mood":    agentState.Mood(),
			"busy":    agentState.HasNewTasks(),
		}
	}
	server := platform.NewServer(fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port), events, statusFn, logger)

	// --- Signal handling ---
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	start := func(name string, f func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f(ctx); err != nil && ctx.Err() == nil {
				logger.Error(name+" stopped", "error", err)
				cancel()
			}
		}()
	}

	if pub != nil {
		start("presence publisher", pub.Start)
	}
	if cfg.Platform.WSURL != "" {
		listener := platform.NewListener(cfg.Platform.WSURL, cfg.Platform.Token, logger)
		start("event listener", listener.Run)
		start("event forwarder", func(ctx context.Context) error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case ev, ok := <-listener.Events():
					if !ok {
						return nil
					}
					select {
					case events <- ev:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		})
	}
	start("ingest server", server.Run)
	start("multiplexer", func(ctx context.Context) error { return m.Run(ctx, events) })
	start("scheduler", sched.Run)
	start("task feed", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case t, ok := <-m.Tasks():
				if !ok {
					return nil
				}
				select {
				case executor.Intake() <- t:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	})

	logger.Info("agent ready", "name", cfg.Platform.PersonName)

	// The executor blocks until shutdown; everything else winds down
	// through the shared context.
	err = executor.Run(ctx)
	wg.Wait()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("executor failed: %w", err)
	}

	logger.Info("agent stopped")
	return nil
}

// newLogger builds the process logger. All output goes through slog;
// the trace level renames via [config.ReplaceLogLevelNames].
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}
