package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/weftlabs/weft/internal/connect"
	"github.com/weftlabs/weft/internal/engine"
	"github.com/weftlabs/weft/internal/logging"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/internal/trigger"
	"github.com/weftlabs/weft/internal/validation"
	"github.com/weftlabs/weft/pkg/mcp"
	"github.com/weftlabs/weft/pkg/schema"
)

const usage = `weft - workflow execution engine

Usage:
  weft run <definition.json> [input.json]   execute a workflow definition
  weft validate <definition.json>           validate a workflow definition
  weft serve                                serve the MCP tool surface on stdio
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(cfg, logger, os.Args[2:])
	case "validate":
		err = validateCmd(os.Args[2:])
	case "serve":
		err = serveCmd(cfg, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// buildRunner wires the store, connectors, and signal source into a Runner.
func buildRunner(cfg Config, logger *slog.Logger) (*engine.Runner, *store.LibSQLStore, *connect.ChannelSignalSource, error) {
	if err := os.MkdirAll(weftDir(), 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("create state dir: %w", err)
	}

	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		st.Close()
		return nil, nil, nil, fmt.Errorf("migrate store: %w", err)
	}

	httpCfg := connect.DefaultHTTPConfig()
	dispatcher := connect.NewDispatcher()
	for actionType, connector := range map[schema.ActionType]connect.ActionConnector{
		schema.ActionHTTP:      connect.NewHTTPConnector(httpCfg),
		schema.ActionWebhook:   connect.NewWebhookConnector(httpCfg),
		schema.ActionTransform: connect.NewTransformConnector(),
		schema.ActionDB:        connect.NewDBConnector(st.DB()),
		schema.ActionEmail: connect.NewEmailConnector(connect.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}),
	} {
		if err := dispatcher.Register(actionType, connector); err != nil {
			st.Close()
			return nil, nil, nil, err
		}
	}

	signals := connect.NewChannelSignalSource()

	// Agent steps need a model runtime, which the CLI does not carry; embed
	// the engine to provide one. Everything else works out of the box.
	runner, err := engine.NewRunner(engine.RunnerConfig{
		Logger:  logger,
		Actions: dispatcher,
		Signals: signals,
		Store:   st,
		StepCap: cfg.StepCap,
	})
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}
	return runner, st, signals, nil
}

func readDefinition(path string) (*schema.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &def, nil
}

func runCmd(cfg Config, logger *slog.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("run needs a definition file")
	}
	def, err := readDefinition(args[0])
	if err != nil {
		return err
	}

	var input map[string]any
	if len(args) > 1 {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &input); err != nil {
			return fmt.Errorf("parse %s: %w", args[1], err)
		}
	}

	runner, st, _, err := buildRunner(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := runner.Execute(ctx, def, input)
	if result == nil {
		return runErr
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if result.Status != schema.RunStatusSuccess {
		os.Exit(1)
	}
	return nil
}

func validateCmd(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("validate needs a definition file")
	}
	def, err := readDefinition(args[0])
	if err != nil {
		return err
	}

	validator, err := validation.NewWorkflowValidator()
	if err != nil {
		return err
	}

	result := validator.Validate(def)
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if !result.Valid() {
		os.Exit(1)
	}
	return nil
}

func serveCmd(cfg Config, logger *slog.Logger) error {
	runner, st, _, err := buildRunner(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := trigger.NewScheduler(st, runner, logger)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	srv := mcp.NewWeftServer(mcp.WeftServerDeps{
		Runner: runner,
		Store:  st,
		Logger: logger,
	})
	logger.Info("serving MCP on stdio", slog.String("db_path", cfg.DBPath))
	return srv.Serve(ctx)
}
