// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/athena-flow/athena/lib/config"
	"github.com/athena-flow/athena/lib/version"
)

// envSocket overrides the configured socket path.
const envSocket = "ATHENA_SOCKET"

func main() {
	os.Exit(run())
}

func run() int {
	var configPath, socketPath string
	var replyTimeout time.Duration
	flagSet := pflag.NewFlagSet("athena-hook-forwarder", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to athena.yaml (default: $ATHENA_CONFIG, else built-in defaults)")
	flagSet.StringVar(&socketPath, "socket", os.Getenv(envSocket), "supervisor socket (default: $ATHENA_SOCKET, else forwarder.socket_path)")
	flagSet.DurationVar(&replyTimeout, "timeout", 0, "override forwarder.reply_timeout")
	showVersion := flagSet.Bool("version", false, "print version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "athena-hook-forwarder: %v\n", err)
		return exitUsage
	}
	if *showVersion {
		fmt.Printf("athena-hook-forwarder %s\n", version.Info())
		return 0
	}

	cfg, err := config.Resolve(configPath)
	if err != nil {
		// A broken config must not wedge the agent.
		fmt.Fprintf(os.Stderr, "athena-hook-forwarder: %v\n", err)
		cfg = config.Default()
	}

	settings := forwarderSettings{
		socketPath:   cfg.ForwarderSocket(),
		dialTimeout:  cfg.Forwarder.DialTimeout,
		replyTimeout: cfg.Forwarder.ReplyTimeout,
		failClosed:   cfg.Forwarder.FailClosed,
	}
	if socketPath != "" {
		settings.socketPath = socketPath
	}
	if replyTimeout > 0 {
		settings.replyTimeout = replyTimeout
	}

	// Only warnings reach the agent's hook output.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})).
		With("agent", version.Agent("athena-hook-forwarder"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return forward(ctx, settings, logger, os.Stdin, os.Stdout, os.Stderr)
}
