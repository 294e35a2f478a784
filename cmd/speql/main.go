// Command speql runs the SpeQL server: it wires the shared Core state, the
// Postgres warehouse connector, the LLM client, the debug pipeline, and the
// orchestrator behind two HTTP listeners (main + control), plus, when
// enabled, the background replay worker (it replays only on events sent
// through kernel.BackgroundWorker.Notify, which nothing here calls).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/codeready-toolchain/speql/pkg/api"
	"github.com/codeready-toolchain/speql/pkg/config"
	"github.com/codeready-toolchain/speql/pkg/core"
	"github.com/codeready-toolchain/speql/pkg/debug"
	"github.com/codeready-toolchain/speql/pkg/history"
	"github.com/codeready-toolchain/speql/pkg/kernel"
	"github.com/codeready-toolchain/speql/pkg/llmclient"
	"github.com/codeready-toolchain/speql/pkg/orchestrator"
	"github.com/codeready-toolchain/speql/pkg/pgwarehouse"
	"github.com/codeready-toolchain/speql/pkg/warehouse"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	configPath := filepath.Join(*configDir, "speql.yaml")
	envPath := filepath.Join(*configDir, ".env")

	cfg, err := config.Load(configPath, envPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err, "path", configPath)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	slog.Info("starting speql", "http_port", cfg.HTTPPort, "control_port", cfg.HTTPPort+1, "config_dir", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := time.Now().UTC().Format("20060102T150405Z")
	logger := history.NewFlatLogger(cfg.RunDir, runID)

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(ctx, cfg.History.DSN)
		if err != nil {
			slog.Error("failed to open history store", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		slog.Info("history store connected")
	} else {
		slog.Info("history store disabled")
	}

	c := core.New(cfg)

	conn := pgwarehouse.New(cfg.Warehouse)
	engine := warehouse.NewEngine(conn, c.Schema)

	llm := llmclient.New(cfg.LLM)

	driver := &debug.Driver{
		Simple: &debug.Simple{
			LLM:              llm,
			Validator:        engine,
			CursorIdentifier: cfg.CursorIdentifier,
		},
		Complex: &debug.Complex{
			LLM:              llm,
			Validator:        engine,
			CursorIdentifier: cfg.CursorIdentifier,
			MinRuleLength:    cfg.MinRuleLength,
		},
	}
	middle := &debug.Middle{LLM: llm}

	orch := orchestrator.New(c, engine, driver, middle)

	var worker *kernel.BackgroundWorker
	if cfg.Enable.BackgroundThread {
		worker = kernel.NewBackgroundWorker(c.DBSlot, orch.Replay)
		worker.Start(ctx)
		defer worker.Stop()
		slog.Info("background worker started")
	}

	server := api.NewServer(cfg, c, orch, engine, store, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		stop()
		if err := <-errCh; err != nil {
			slog.Error("server exited with error", "error", err)
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil {
			slog.Error("server exited with error", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("speql stopped cleanly")
}
