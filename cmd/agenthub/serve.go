package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/phosphorco/agenthub/internal/config"
	"github.com/phosphorco/agenthub/internal/hub"
	"github.com/phosphorco/agenthub/internal/workspace"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub daemon for a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				slog.Error("failed to load config", "error", err)
				os.Exit(1)
			}
			if ws, _ := cmd.Flags().GetString("workspace"); ws != "" {
				cfg.Workspace = ws
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			setupLogger(cfg.LogLevel)

			root := cfg.Workspace
			if root == "" {
				wd, err := os.Getwd()
				if err != nil {
					slog.Error("resolve working directory", "error", err)
					os.Exit(1)
				}
				if found, err := workspace.Find(wd); err == nil {
					root = found
				} else {
					root = wd
				}
			}

			ctx := context.Background()
			h, err := hub.Start(ctx, root, cfg, slog.Default())
			if err != nil {
				if errors.Is(err, hub.ErrLockConflict) {
					slog.Warn("another daemon owns this workspace", "workspace", root)
					os.Exit(workspace.ExitCodeLockConflict)
				}
				slog.Error("failed to start hub", "error", err)
				os.Exit(1)
			}

			// --- Graceful shutdown ---
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigCh:
				slog.Info("received shutdown signal", "signal", sig)
			case err := <-h.ServeErr():
				if err != nil {
					slog.Error("http server error", "error", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			h.Shutdown(shutdownCtx)
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (0 picks an ephemeral port)")
	return cmd
}

func setupLogger(level string) {
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
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}
