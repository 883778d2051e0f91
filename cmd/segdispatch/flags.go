package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPaths     []string
	EnvFile         string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
	PrintConfig     bool
	WriteConfig     string
}

// layers collects repeated -config flags.
type layers []string

func (l *layers) String() string { return fmt.Sprint(*l) }

func (l *layers) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func parseFlags(args []string, output io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	var paths layers
	fs.Var(&paths, "config",
		"Configuration file, JSON or YAML; repeat to layer overrides (env: SEGTOOL_CONFIG)")
	fs.Var(&paths, "c", "Shorthand for -config")

	fs.StringVar(&cfg.EnvFile, "env-file",
		getEnv("SEGTOOL_ENV_FILE", ".env"),
		"Dotenv file loaded before reading the environment, ignored when missing (env: SEGTOOL_ENV_FILE)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("SEGTOOL_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: SEGTOOL_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("SEGTOOL_LOG_FORMAT", "json"),
		"Log format: json, text (env: SEGTOOL_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("SEGTOOL_DEBUG", false),
		"Enable debug logging (env: SEGTOOL_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("SEGTOOL_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: SEGTOOL_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	fs.BoolVar(&cfg.PrintConfig, "print-config", false, "Print the effective configuration and exit")
	fs.StringVar(&cfg.WriteConfig, "write-config", "",
		"Write the effective configuration, secrets included, to a JSON or YAML file and exit")

	fs.Usage = func() { printDetailedHelp(fs, output) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.ConfigPaths = paths
	if len(cfg.ConfigPaths) == 0 {
		if p := getEnv("SEGTOOL_CONFIG", ""); p != "" {
			cfg.ConfigPaths = []string{p}
		}
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	if cfg.ShowHelp {
		fs.Usage()
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	for _, p := range cfg.ConfigPaths {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("config file not found: %s", p)
		}
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - GPU task dispatch and artifact cache node

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Run with a base file and a production override
  %[1]s -config=/etc/segtool/base.yaml -config=/etc/segtool/production.json

  # Run with debug logging
  %[1]s --log-level=debug --log-format=text

  # Run with environment variables
  export SEGTOOL_NATS_URLS=nats://nats-1:4222,nats://nats-2:4222
  export SEGTOOL_INFERENCE_URL=http://gpu-0:8000
  %[1]s

  # Validate configuration only
  %[1]s -config=config.yaml --validate

  # Freeze layered files and environment into one file
  %[1]s -config=base.yaml -config=prod.json --write-config=/etc/segtool/effective.yaml

Version: %[2]s
Build: %[3]s
`, appName, Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
