package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/threadgate/internal/api"
	"github.com/mattjoyce/threadgate/internal/config"
	"github.com/mattjoyce/threadgate/internal/directory"
	"github.com/mattjoyce/threadgate/internal/events"
	"github.com/mattjoyce/threadgate/internal/lock"
	"github.com/mattjoyce/threadgate/internal/log"
	"github.com/mattjoyce/threadgate/internal/notify"
	"github.com/mattjoyce/threadgate/internal/plugin"
	"github.com/mattjoyce/threadgate/internal/storage"
	"github.com/mattjoyce/threadgate/internal/threads"
	"github.com/mattjoyce/threadgate/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "operator":
		return runOperatorNoun(args)
	case "thread":
		return runThreadNoun(args)
	case "watch":
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`threadgate - operator-code routing for pending chat threads

Usage:
  threadgate <noun> <action> [flags]

System Commands:
  system start          Start the API service in foreground

Config Commands:
  config check          Validate syntax, policy, and integrity
  config lock           Regenerate .checksums for every config file
  config show           Print the resolved configuration

Operator Commands:
  operator add          Register an operator and its code
  operator list         List operators

Thread Commands:
  thread pending        Show the pending list as an operator would see it

General:
  watch                 Live view of filter runs and routed threads
  version               Show version information
  help                  Show this help message

Most commands accept --config PATH. Without it the config is discovered
from $THREADGATE_CONFIG_DIR, ~/.config/threadgate, /etc/threadgate, then
./config.yaml.
`)
}

type versionInfo struct {
	Version string `json:"version"`
	Plugin  string `json:"plugin_version"`
	Commit  string `json:"commit"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	info := versionInfo{Version: strings.TrimSpace(version), Commit: gitCommit}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}
	if info.Commit == "" || info.Commit == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" && s.Value != "" {
					info.Commit = s.Value
				}
			}
		}
	}
	if len(info.Commit) > 12 {
		info.Commit = info.Commit[:12]
	}
	info.Plugin = plugin.Name + " " + plugin.Version

	if *jsonOut {
		data, _ := json.MarshalIndent(info, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	fmt.Printf("threadgate %s\n", info.Version)
	fmt.Printf("plugin: %s\n", info.Plugin)
	fmt.Printf("commit: %s\n", info.Commit)
	return 0
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

// resolveConfigPath applies discovery when the flag was left empty.
func resolveConfigPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	discovered, err := config.Discover()
	if err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", discovered)
	return discovered, nil
}

func loadConfig(flagValue string) (*config.Config, error) {
	path, err := resolveConfigPath(flagValue)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: threadgate system start [--config PATH]")
		return 1
	}
	switch action := args[0]; {
	case action == "start":
		return runStart(args[1:])
	case isHelpToken(action):
		fmt.Println("Usage: threadgate system start [--config PATH]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("threadgate starting", "version", version, "config", cfg.SourceFiles[0])

	pidLock, err := lock.Acquire(lock.PathFor(cfg.State.Path))
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", lock.PathFor(cfg.State.Path), "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()

	threadStore := threads.NewStore(db)
	operators := directory.NewStore(db)
	hub := events.NewHub(cfg.Events.Backlog)
	dispatcher := events.NewDispatcher()

	if cfg.Plugins.OperatorCode.IsEnabled() {
		p, err := plugin.New(cfg.Plugins.OperatorCode.Visibility(), threadStore,
			plugin.WithPublisher(hub),
			plugin.WithLogger(log.WithPlugin(plugin.Name)),
		)
		if err != nil {
			logger.Error("failed to create plugin", "plugin", plugin.Name, "error", err)
			return 1
		}
		p.Run(dispatcher)
	} else {
		logger.Warn("plugin disabled, pending lists are not filtered", "plugin", plugin.Name)
	}

	var routing api.RoutingNotifier
	if cfg.Notify.IsEnabled() {
		pub, err := notify.Dial(cfg.Notify.URL, cfg.Notify.Exchange, log.WithComponent("notify"))
		if err != nil {
			logger.Error("failed to connect notifier", "exchange", cfg.Notify.Exchange, "error", err)
			return 1
		}
		n := notify.NewNotifier(pub, cfg.Notify.RoutingKey, cfg.Service.Name, log.WithComponent("notify"))
		defer n.Close()
		routing = n
	}

	apiConfig := api.Config{
		Listen: cfg.API.Listen,
		Tokens: cfg.AuthTokens(),
	}
	if cfg.Plugins.OperatorCode.IsEnabled() {
		vis := cfg.Plugins.OperatorCode.Visibility()
		apiConfig.Visibility = &vis
	}
	server := api.New(apiConfig, threadStore, operators, dispatcher, hub, routing, log.WithComponent("api"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Info("threadgate running (press Ctrl+C to stop)", "listen", cfg.API.Listen)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		// Wait for the server to drain.
		select {
		case <-errCh:
		case <-time.After(10 * time.Second):
		}
	case err := <-errCh:
		logger.Error("api server failed", "error", err)
		return 1
	}

	logger.Info("threadgate stopped")
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "threadgate API URL")
	token := fs.String("token", os.Getenv("THREADGATE_TOKEN"), "API bearer token with events:ro")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *token == "" {
		fmt.Fprintln(os.Stderr, "Error: token required. Use --token or THREADGATE_TOKEN env var.")
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *token), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
