package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schaermu/vclsync/internal/config"
	"github.com/schaermu/vclsync/internal/fastly"
	"github.com/schaermu/vclsync/internal/lock"
	"github.com/schaermu/vclsync/internal/sync"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vclsync",
	Short: "Synchronize local VCL files with a service's active configuration",
	Long: `vclsync deploys a directory of VCL files to a CDN service's versioned
configuration API. It diffs the local files against the currently active
version and, when they differ, clones the active version, applies the
changes, validates the result and activates it.

The whole deployment runs under a named distributed lock so concurrent
runs against the same service cannot race.`,
	SilenceUsage: true,
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy local VCL files as a new active version",
	Long: `Deploy loads every .vcl file from the configured directory, compares it
with the service's active version and stages the difference on a fresh
clone. The clone is validated remotely before activation; an invalid or
failed deployment never touches the live configuration.

Running deploy with no local changes is a no-op and creates no version.`,
	RunE: runDeploy,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what deploy would change, without mutating anything",
	Long: `Plan computes the same diff as deploy and logs every create, update and
delete it would perform, then exits. No lock is taken and no remote
mutation happens.`,
	RunE: runPlan,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vclsync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional, settings default to the environment)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Deploy command flags
	deployCmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute and log the plan without deploying")

	// Add commands
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(versionCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	return run(dryRun)
}

func runPlan(cmd *cobra.Command, args []string) error {
	return run(true)
}

func run(dryRun bool) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	api := fastly.NewHTTPClient(fastly.Options{
		BaseURL:   cfg.API.BaseURL,
		ServiceID: cfg.API.ServiceID,
		Creds:     fastly.TokenCredentials{Key: cfg.API.Key},
	})

	locker, err := lock.NewRedisLocker(cfg.Lock.RedisURL, cfg.Lock.TTL.Std())
	if err != nil {
		logger.Error("failed to set up deploy lock", "error", err)
		return err
	}
	defer func() {
		_ = locker.Close()
	}()

	engine := sync.NewEngine(cfg, api, locker, logger, dryRun)

	if err := engine.Run(ctx); err != nil {
		logger.Error("deployment failed", "error", err)
		return err
	}

	return nil
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	if cfgFile == "" {
		logger.Debug("no config file given, using environment")
		return config.FromEnv()
	}

	logger.Info("loading configuration", "path", cfgFile)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"service", cfg.API.ServiceID,
		"base_url", cfg.API.BaseURL,
		"vcl_dir", cfg.Local.VCLDir,
		"lock", cfg.Lock.Name)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
