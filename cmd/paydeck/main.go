package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/paydeck/paydeck/internal/agent"
	"github.com/paydeck/paydeck/internal/alert"
	"github.com/paydeck/paydeck/internal/client"
	"github.com/paydeck/paydeck/internal/config"
	"github.com/paydeck/paydeck/internal/dash"
	"github.com/paydeck/paydeck/internal/history"
	"github.com/paydeck/paydeck/internal/orchestrator"
	"github.com/paydeck/paydeck/internal/policy"
	"github.com/paydeck/paydeck/internal/server"
	"github.com/paydeck/paydeck/internal/simulator"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "paydeck",
		Short: "Monitoring and control console for an autonomous payment-ops agent",
		Long: "Paydeck — watch the traffic, gate the agent.\n" +
			"A terminal console over a remote payment-ops agent, plus the reference\nbackend and traffic simulator to run the whole loop locally.",
	}

	var configFile string
	var backendURL string
	var threadID string
	var port int
	var logFile string

	// ─── watch ───
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Open the console against a running backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(configFile, backendURL, threadID, logFile)
		},
	}
	watchCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: paydeck.yaml)")
	watchCmd.Flags().StringVar(&backendURL, "backend", "", "Override backend base URL")
	watchCmd.Flags().StringVar(&threadID, "thread", "", "Override agent thread id")
	watchCmd.Flags().StringVar(&logFile, "log-file", "", "Write console logs to this file (default: discard)")

	// ─── serve ───
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference agent backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configFile, port)
		},
	}
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: paydeck.yaml)")
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "Override HTTP port (default: 8000)")

	// ─── simulate ───
	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Generate synthetic payment traffic into the transactions log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(configFile)
		},
	}
	simulateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: paydeck.yaml)")

	// ─── status ───
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Check backend health and the agent's wait-state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(configFile, backendURL, threadID)
		},
	}
	statusCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: paydeck.yaml)")
	statusCmd.Flags().StringVar(&backendURL, "backend", "", "Override backend base URL")
	statusCmd.Flags().StringVar(&threadID, "thread", "", "Override agent thread id")

	// ─── init ───
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a starter paydeck.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.GenerateDefault("paydeck.yaml"); err != nil {
				return err
			}
			fmt.Println("✓ Wrote paydeck.yaml")
			return nil
		},
	}

	// ─── version ───
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("paydeck %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", buildDate)
		},
	}

	rootCmd.AddCommand(watchCmd, serveCmd, simulateCmd, statusCmd, initCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(configFile string) (*config.Loader, *config.Config, error) {
	loader := config.NewLoader()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := loader.Load(configFile); err != nil {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	return loader, loader.Get(), nil
}

func findConfigFile() string {
	for _, c := range []string{"paydeck.yaml", "paydeck.yml"} {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func newLogger(w io.Writer, level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

func runWatch(configFile, backendURL, threadID, logFile string) error {
	_, cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if backendURL == "" {
		backendURL = cfg.Console.BackendURL
	}
	if threadID == "" {
		threadID = cfg.Console.ThreadID
	}

	// The TUI owns the terminal, so logs go to a file or nowhere.
	var logWriter io.Writer = io.Discard
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer func() { _ = f.Close() }()
		logWriter = f
	}
	logger := newLogger(logWriter, cfg.Console.LogLevel)

	backend := client.New(backendURL, cfg.Console.RequestTimeout)
	orch := orchestrator.New(backend, orchestrator.Options{
		ThreadID:     threadID,
		PollInterval: cfg.Console.PollInterval,
		CycleDelay:   cfg.Console.CycleDelay,
		Logger:       logger,
	})
	orch.Start()
	defer orch.Close()

	return dash.Run(dash.New(orch, threadID, 0))
}

func runServe(configFile string, portOverride int) error {
	cfgLoader, cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}

	logger := newLogger(os.Stdout, cfg.Server.LogLevel)

	rules, err := policy.NewEngine(cfg.Rules, logger)
	if err != nil {
		return fmt.Errorf("failed to build rule engine: %w", err)
	}
	if cfg.Agent.RulesFile != "" {
		watcher, err := policy.WatchRulesFile(cfg.Agent.RulesFile, rules, logger)
		if err != nil {
			logger.Error("failed to watch rules file", "path", cfg.Agent.RulesFile, "error", err)
		} else {
			defer func() { _ = watcher.Close() }()
		}
	}

	var store history.Store
	if cfg.Server.HistoryPath != "" {
		sqlStore, err := history.NewSQLiteStore(cfg.Server.HistoryPath)
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		if err := sqlStore.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize history store: %w", err)
		}
		defer func() { _ = sqlStore.Close() }()
		store = sqlStore
	}

	alerts := alert.NewManager(cfg.Alerts, logger)

	engine := agent.NewEngine(cfg.Agent, rules, store, alerts, logger)
	if err := engine.Toolbox().EnsureRouting(); err != nil {
		return fmt.Errorf("failed to seed routing table: %w", err)
	}

	srv := server.NewServer(cfg.Server, engine, store, cfgLoader, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down...")
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		_ = srv.Shutdown(shutCtx)
	}()

	if err := srv.Start(server.Addr(cfg.Server.Port)); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

func runSimulate(configFile string) error {
	_, cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	logger := newLogger(os.Stdout, "info")

	sim, err := simulator.New(cfg.Simulator, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sim.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runStatus(configFile, backendURL, threadID string) error {
	_, cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if backendURL == "" {
		backendURL = cfg.Console.BackendURL
	}
	if threadID == "" {
		threadID = cfg.Console.ThreadID
	}

	c := client.New(backendURL, cfg.Console.RequestTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := c.Health(ctx); err != nil {
		fmt.Printf("✗ Backend unreachable at %s: %v\n", backendURL, err)
		return nil
	}
	fmt.Printf("✓ Backend healthy at %s\n", backendURL)

	st, err := c.AgentState(ctx, threadID)
	if err != nil {
		return fmt.Errorf("failed to query agent state: %w", err)
	}
	if st.Status == orchestrator.StatusWaitingForApproval {
		fmt.Printf("  Thread %s: WAITING FOR APPROVAL (%s)\n", threadID, st.Tool)
		fmt.Printf("  Proposal: %s\n", st.Proposal)
	} else {
		fmt.Printf("  Thread %s: %s\n", threadID, st.Status)
	}

	points, err := c.Telemetry(ctx)
	if err != nil {
		return fmt.Errorf("failed to query telemetry: %w", err)
	}
	fmt.Printf("  Telemetry: %d samples in window\n", len(points))
	return nil
}
