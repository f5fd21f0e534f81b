package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mattjoyce/threadgate/internal/config"
	"github.com/mattjoyce/threadgate/internal/directory"
	"github.com/mattjoyce/threadgate/internal/events"
	"github.com/mattjoyce/threadgate/internal/log"
	"github.com/mattjoyce/threadgate/internal/plugin"
	"github.com/mattjoyce/threadgate/internal/storage"
	"github.com/mattjoyce/threadgate/internal/thread"
	"github.com/mattjoyce/threadgate/internal/threads"
)

// --- config ---

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: threadgate config <check|lock|show> [--config PATH]")
		return 1
	}
	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "lock":
		return runConfigLock(actionArgs)
	case "show":
		return runConfigShow(actionArgs)
	default:
		if isHelpToken(action) {
			fmt.Println("Usage: threadgate config <check|lock|show> [--config PATH]")
			return 0
		}
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output result as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	result := struct {
		Valid bool     `json:"valid"`
		Files []string `json:"files,omitempty"`
		Error string   `json:"error,omitempty"`
	}{Valid: err == nil}
	if err != nil {
		result.Error = err.Error()
	} else {
		result.Files = cfg.SourceFiles
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
	} else {
		fmt.Printf("Configuration valid (%d file(s))\n", len(cfg.SourceFiles))
		if !cfg.Plugins.OperatorCode.IsEnabled() {
			fmt.Printf("warning: plugin %s is disabled\n", plugin.Name)
		}
	}
	if err != nil {
		return 1
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dryRun := fs.Bool("dry-run", false, "Show what would be written")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	files, err := config.SourceFiles(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
		return 1
	}
	locked, err := config.Lock(files, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	verb := "locked"
	if *dryRun {
		verb = "would lock"
	}
	for _, f := range locked {
		fmt.Printf("%s %s %s\n", verb, f.Hash[:16], f.Path)
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("config show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// Tokens are secrets.
	for i := range cfg.API.Tokens {
		cfg.API.Tokens[i].Token = "<redacted>"
	}
	data, err := cfg.Marshal()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

// openState loads config and opens the state database for offline tools.
func openState(ctx context.Context, configPath string) (*config.Config, *sql.DB, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log.SetupWriter(os.Stderr, cfg.Service.LogLevel)
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, db, nil
}

// --- operator ---

func runOperatorNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: threadgate operator <add|list> [flags]")
		return 1
	}
	action, actionArgs := args[0], args[1:]
	switch action {
	case "add":
		return runOperatorAdd(actionArgs)
	case "list":
		return runOperatorList(actionArgs)
	default:
		if isHelpToken(action) {
			fmt.Println("Usage: threadgate operator <add|list> [flags]")
			return 0
		}
		fmt.Fprintf(os.Stderr, "Unknown operator action: %s\n", action)
		return 1
	}
}

func runOperatorAdd(args []string) int {
	fs := flag.NewFlagSet("operator add", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	login := fs.String("login", "", "Operator login (required)")
	name := fs.String("name", "", "Display name")
	code := fs.String("code", "", "Operator code visitors can enter")
	caps := fs.String("capability", "", "Comma-separated capabilities (administrate,takeover,view_threads,modify_profile)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if strings.TrimSpace(*login) == "" {
		fmt.Fprintln(os.Stderr, "Error: --login is required")
		return 1
	}

	var perms thread.Permissions
	for _, raw := range strings.Split(*caps, ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		c, err := thread.ParseCapability(strings.TrimSpace(raw))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		perms = perms.With(c)
	}

	ctx := context.Background()
	_, db, err := openState(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	op, err := directory.NewStore(db).Add(ctx, directory.AddRequest{
		Login:       *login,
		Name:        *name,
		Code:        *code,
		Permissions: perms,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to add operator: %v\n", err)
		return 1
	}
	fmt.Printf("operator %d added (login=%s code=%s)\n", op.ID, op.Login, op.Code)
	return 0
}

func runOperatorList(args []string) int {
	fs := flag.NewFlagSet("operator list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	_, db, err := openState(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	ops, err := directory.NewStore(db).List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list operators: %v\n", err)
		return 1
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLOGIN\tCODE\tCAPABILITIES")
	for _, op := range ops {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", op.ID, op.Login, op.Code, strings.Join(op.Permissions.Names(), ","))
	}
	_ = tw.Flush()
	return 0
}

// --- thread ---

func runThreadNoun(args []string) int {
	if len(args) < 1 || args[0] != "pending" {
		if len(args) > 0 && isHelpToken(args[0]) {
			fmt.Println("Usage: threadgate thread pending [--operator ID] [--config PATH] [--json]")
			return 0
		}
		fmt.Fprintln(os.Stderr, "Usage: threadgate thread pending [--operator ID] [--config PATH] [--json]")
		return 1
	}
	return runThreadPending(args[1:])
}

func runThreadPending(args []string) int {
	fs := flag.NewFlagSet("thread pending", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	operatorID := fs.Int64("operator", 0, "View the list as this operator (0 for no operator)")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	cfg, db, err := openState(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	list, err := pendingFor(ctx, cfg, db, *operatorID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(list, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tVISITOR\tCREATED")
	for _, s := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.ID, s.State, s.UserName, s.Created.Format("2006-01-02 15:04:05"))
	}
	_ = tw.Flush()
	return 0
}

// pendingFor builds the pending list exactly as the API would deliver it to
// operatorID.
func pendingFor(ctx context.Context, cfg *config.Config, db *sql.DB, operatorID int64) ([]thread.Summary, error) {
	store := threads.NewStore(db)
	list, err := store.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pending threads: %w", err)
	}

	var op *thread.Operator
	if operatorID > 0 {
		op, err = directory.NewStore(db).OperatorByID(ctx, operatorID)
		if errors.Is(err, directory.ErrOperatorNotFound) {
			return nil, fmt.Errorf("operator %d not found", operatorID)
		}
		if err != nil {
			return nil, err
		}
	}

	dispatcher := events.NewDispatcher()
	if cfg.Plugins.OperatorCode.IsEnabled() {
		p, err := plugin.New(cfg.Plugins.OperatorCode.Visibility(), store, plugin.WithLogger(log.WithPlugin(plugin.Name)))
		if err != nil {
			return nil, err
		}
		p.Run(dispatcher)
	}

	args := &events.ThreadsAlterArgs{Operator: op, Threads: list}
	dispatcher.Dispatch(ctx, events.UsersUpdateThreadsAlter, args)
	return args.Threads, nil
}
