package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"chronicler/internal/archiver"
	"chronicler/internal/backfill"
	"chronicler/internal/bus"
	"chronicler/internal/config"
	"chronicler/internal/gateway"
	"chronicler/internal/ingest"
	"chronicler/internal/metrics"
	"chronicler/internal/notify"
	"chronicler/internal/store"
	"chronicler/internal/vault"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "chronicler",
		Short:   "Chronicler: Discord message history archiver",
		Long:    "Chronicler archives every revision of the messages it can see, captures attachments, and backfills history it missed while offline.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.chronicler/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			dataDir := config.ExpandPath(cfg.General.DataDir)
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "data_dir", dataDir)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and archive message history",
		Long:  "Connects to the Discord gateway, archives every message revision it observes, and backfills rooms it missed. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	// A .env next to the process can carry DISCORD_TOKEN; absence is fine.
	_ = godotenv.Load()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.General.LogLevel)}))

	// An unexpanded ${DISCORD_TOKEN} means the variable was never set.
	if cfg.Gateway.Token == "" || strings.HasPrefix(cfg.Gateway.Token, "${") {
		return fmt.Errorf("gateway.token is not set (export DISCORD_TOKEN or edit %s)", cfgPath)
	}

	for _, dir := range []string{cfg.General.DataDir, cfg.Archive.MediaDir, filepath.Dir(cfg.Archive.DBPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventBus := bus.New(256, logger)

	versions, err := store.NewSQLiteStore(cfg.Archive.DBPath, logger)
	if err != nil {
		return fmt.Errorf("version store: %w", err)
	}
	defer versions.Close()

	fetcher := vault.NewHTTPFetcher(cfg.Archive.MaxAttachmentBytes)
	mediaVault := vault.New(cfg.Archive.MediaDir, fetcher, logger)

	discord := gateway.NewDiscord(gateway.Config{
		Token:  cfg.Gateway.Token,
		Logger: logger,
	})

	ingestor := ingest.New(versions, mediaVault, cfg, logger)
	scheduler := backfill.New(discord, versions, cfg, ingestor.IngestRaw, cfg.Archive.BackfillQueueSize, logger)

	var notifier *notify.Notifier
	if hasLogRoutes(cfg) {
		notifier = notify.New(discord, versions, mediaVault, cfg, logger)
	} else {
		logger.Info("no log rooms configured, audit notices disabled")
	}

	router := archiver.New(eventBus, ingestor, scheduler, cfg, notifier, logger)

	go router.Run(ctx)
	go scheduler.Run(ctx)

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", metrics.Collector.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	logger.Info("chronicler starting", "version", version, "db", cfg.Archive.DBPath)

	// Blocks until the gateway disconnects or the context is cancelled.
	serveErr := discord.Start(ctx, eventBus)

	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if metricsSrv != nil {
			metricsSrv.Shutdown(shutdownCtx)
		}
		eventBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
	}

	return serveErr
}

// hasLogRoutes reports whether any guild routes audit notices somewhere.
func hasLogRoutes(cfg *config.Config) bool {
	for _, guild := range cfg.Archive.Guilds {
		if len(guild.LogRooms) > 0 {
			return true
		}
	}
	return false
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show archive status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			versions, err := store.NewSQLiteStore(cfg.Archive.DBPath, logger)
			if err != nil {
				return fmt.Errorf("open archive: %w", err)
			}
			defer versions.Close()

			stats, err := versions.Stats(context.Background())
			if err != nil {
				return err
			}
			logger.Info("archive",
				"db", cfg.Archive.DBPath,
				"messages", stats.Messages,
				"versions", stats.Versions,
				"rooms", stats.Rooms,
			)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. archive.historyEnabled)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. archive.backfillEnabled true)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
