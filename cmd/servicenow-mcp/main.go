// ServiceNow MCP Agent
//
// A standalone Go binary that exposes ServiceNow to AI assistants as five
// Model Context Protocol tools:
//
//	check_ticket_status    incident / request / requested item status
//	search_knowledge_base  published knowledge articles
//	get_catalog_variables  form variables of a catalog item
//	get_user_id            active users by name or email
//	submit_catalog_request order a catalog item
//
// # Usage
//
//	servicenow-mcp [flags]
//	servicenow-mcp version
//
//	Flags:
//	  --config string      Path to an optional config YAML file
//	  --env-file string    Path to a .env file with SN_* variables (default ".env")
//	  --transport string   stdio or http (default "stdio")
//	  --addr string        Listen address for the http transport (default ":8000")
//	  --log-level string   debug, info, warn or error (default "info")
//
// # Architecture
//
//  1. Observability server (when observability.addr is set): /healthz, /readyz, /metrics
//  2. ServiceNow HTTP client with static basic auth
//  3. Audit publisher (when audit.enabled): Kafka producer
//  4. MCP server on the selected transport
//
// Components run under an errgroup. SIGINT/SIGTERM cancels them. With the
// http transport and a config file, a change to the file restarts the
// components with the new configuration.
//
// stdout belongs to the stdio transport; logs are written to stderr.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/audit"
	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/config"
	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/mcpserver"
	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/observability"
	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/servicenow"
	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/tools"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// options holds the command-line flags. The *Set fields record whether a
// flag was given explicitly and should override the configuration.
type options struct {
	configPath string
	envFile    string
	envFileSet bool

	transport    string
	transportSet bool
	addr         string
	addrSet      bool
	logLevel     string
	logLevelSet  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "servicenow-mcp",
		Short:        "MCP server exposing ServiceNow tickets, knowledge and catalog",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			opts.envFileSet = flags.Changed("env-file")
			opts.transportSet = flags.Changed("transport")
			opts.addrSet = flags.Changed("addr")
			opts.logLevelSet = flags.Changed("log-level")
			return execute(opts)
		},
	}

	flags := root.Flags()
	flags.StringVar(&opts.configPath, "config", "", "Path to an optional configuration YAML file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Path to a .env file with SN_* variables")
	flags.StringVar(&opts.transport, "transport", config.TransportStdio, "MCP transport: stdio or http")
	flags.StringVar(&opts.addr, "addr", ":8000", "Listen address for the http transport")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "servicenow-mcp %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	})

	return root
}

// execute runs the agent until a signal arrives or the transport ends,
// restarting on configuration changes.
func execute(opts *options) error {
	logger := newLogger("info")

	if err := loadEnvFile(opts); err != nil {
		logger.Error("failed to load env file", "path", opts.envFile, "error", err)
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		logger.Error("failed to load configuration", "path", opts.configPath, "error", err)
		return err
	}
	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting servicenow-mcp",
		"version", version,
		"commit", commit,
		"build_date", buildDate,
		"transport", cfg.Server.Transport,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	reloadCh := make(chan struct{}, 1)
	if cfg.Server.Transport == config.TransportHTTP && opts.configPath != "" {
		go watchConfig(ctx, opts.configPath, reloadCh, logger)
	}

	for {
		runCtx, runCancel := context.WithCancel(ctx)

		errCh := make(chan error, 1)
		go func() {
			errCh <- run(runCtx, opts, logger)
		}()

		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			runCancel()
			<-errCh
			logger.Info("shutdown complete")
			return nil
		case <-reloadCh:
			logger.Info("reloading configuration...")
			runCancel()
			if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("previous run exited with error on reload", "error", err)
			}
			logger.Info("restarting with new configuration")
		case err := <-errCh:
			runCancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("agent exited with error", "error", err)
				return err
			}
			logger.Info("shutdown complete")
			return nil
		}
	}
}

// run builds every component from a fresh configuration and blocks until
// ctx is cancelled or the transport ends.
func run(ctx context.Context, opts *options, logger *slog.Logger) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if missing := cfg.ServiceNow.MissingCredentials(); len(missing) > 0 {
		logger.Warn("ServiceNow credentials incomplete; tool calls will fail until they are set", "missing", missing)
	}

	// 1. ServiceNow client.
	var clientOpts []servicenow.ClientOption
	if cfg.ServiceNow.RateLimitRPS > 0 {
		clientOpts = append(clientOpts, servicenow.WithRateLimiter(cfg.ServiceNow.RateLimitRPS))
	}
	snClient := servicenow.NewClient(cfg.ServiceNow, logger, clientOpts...)
	defer snClient.Close()

	// 2. Audit publisher.
	publisher, err := audit.New(ctx, cfg.Audit, logger)
	if err != nil {
		return fmt.Errorf("initializing audit stream: %w", err)
	}
	defer publisher.Close()

	// 3. MCP server.
	toolset := tools.New(snClient, cfg.Tools, logger)
	srv := mcpserver.New(cfg.Server, version, toolset, publisher, logger)

	// 4. Lifecycle. The transport ending (stdin closed) stops everything.
	g, gCtx := errgroup.WithContext(ctx)
	gCtx, stop := context.WithCancel(gCtx)
	defer stop()

	var obsSrv *observability.Server
	if cfg.Observability.Addr != "" {
		obsSrv = observability.NewServer(cfg.Observability.Addr, logger)
		defer obsSrv.SetReady(false)
		g.Go(func() error {
			return obsSrv.Start(gCtx)
		})
	}

	g.Go(func() error {
		defer stop()
		return srv.Serve(gCtx, os.Stdin, os.Stdout, func() {
			if obsSrv != nil {
				obsSrv.SetReady(true)
			}
			logger.Info("agent is ready",
				"transport", cfg.Server.Transport,
				"audit_enabled", cfg.Audit.Enabled,
				"observability_addr", cfg.Observability.Addr,
			)
		})
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadConfig loads the file and environment, then applies explicit flags.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg, opts)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, opts *options) {
	if opts.transportSet {
		cfg.Server.Transport = opts.transport
	}
	if opts.addrSet {
		cfg.Server.Addr = opts.addr
	}
	if opts.logLevelSet {
		cfg.LogLevel = opts.logLevel
	}
}

// loadEnvFile loads SN_* variables from a .env file without overriding the
// process environment. A missing default file is not an error.
func loadEnvFile(opts *options) error {
	if opts.envFile == "" {
		return nil
	}
	err := godotenv.Load(opts.envFile)
	if err != nil && errors.Is(err, fs.ErrNotExist) && !opts.envFileSet {
		return nil
	}
	return err
}

// newLogger returns a JSON logger on stderr at the named level.
func newLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// watchConfig uses fsnotify to watch the config file for changes.
func watchConfig(ctx context.Context, path string, reloadCh chan<- struct{}, logger *slog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create config watcher", "error", err)
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(path); err != nil {
		logger.Error("failed to watch config file", "path", path, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				logger.Info("config file changed", "event", event.Name)
				select {
				case reloadCh <- struct{}{}:
				default:
					// reload already queued
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error("config watcher error", "error", err)
		}
	}
}
