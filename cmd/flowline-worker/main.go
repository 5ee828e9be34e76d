package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/flowline-dev/flowline/internal/logging"
	"github.com/flowline-dev/flowline/internal/runner"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: flowline-worker <payload-file>")
		os.Exit(2)
	}
	payloadPath := os.Args[len(os.Args)-1]

	reg := runner.NewRegistry()
	registerBuiltins(reg)

	if err := runWorker(context.Background(), payloadPath, reg, cfg, os.Stdout, logger); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(handler))
}
