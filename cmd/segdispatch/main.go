// Package main runs a segdispatch node: it consumes SEGMENT, DETECT and
// BATCH tasks from NATS JetStream, runs them against the model server and
// caches their artifacts in NATS KV.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Rensir56/SegTool-for-Jade/app"
	"github.com/Rensir56/SegTool-for-Jade/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "segdispatch"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}
	if cliCfg.EnvFile != "" {
		if err := godotenv.Load(cliCfg.EnvFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", cliCfg.EnvFile, err)
		}
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}
	if cliCfg.ShowHelp {
		return flag.ErrHelp
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg.ConfigPaths)
	if err != nil {
		return err
	}
	if cliCfg.PrintConfig {
		fmt.Println(cfg.String())
		return nil
	}
	if cliCfg.WriteConfig != "" {
		if err := cfg.SaveToFile(cliCfg.WriteConfig); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		slog.Info("Configuration written", "path", cliCfg.WriteConfig)
		return nil
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting segdispatch",
		"version", Version,
		"build_time", BuildTime,
		"config_paths", cliCfg.ConfigPaths)

	ctx := context.Background()
	node, err := app.New(ctx, cfg, app.Deps{Logger: logger})
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	return runWithSignalHandling(ctx, node, cliCfg.ShutdownTimeout)
}

// loadConfig layers every file over the defaults and applies SEGTOOL_*
// overrides.
func loadConfig(paths []string) (*config.Config, error) {
	loader := config.NewLoader()
	for _, p := range paths {
		loader.AddLayer(p)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

type lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// runWithSignalHandling starts the node and stops it on SIGINT or SIGTERM.
func runWithSignalHandling(ctx context.Context, node lifecycle, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := node.Start(signalCtx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = node.Stop(stopCtx)
		return fmt.Errorf("start: %w", err)
	}
	slog.Info("segdispatch started")

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := node.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("segdispatch shutdown complete")
	return nil
}
