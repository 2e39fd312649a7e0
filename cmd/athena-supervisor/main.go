// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/athena-flow/athena/lib/clock"
	"github.com/athena-flow/athena/lib/config"
	"github.com/athena-flow/athena/lib/hookruntime"
	"github.com/athena-flow/athena/lib/permission"
	"github.com/athena-flow/athena/lib/process"
	"github.com/athena-flow/athena/lib/sessionstore"
	"github.com/athena-flow/athena/lib/supervisor"
	"github.com/athena-flow/athena/lib/transport"
	"github.com/athena-flow/athena/lib/version"
)

const shutdownTimeout = 5 * time.Second

type options struct {
	configPath string
	sessionID  string
	socketPath string
	rulesFile  string
	stateDir   string
	projectDir string
	label      string
	list       bool
}

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("athena-supervisor", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to athena.yaml (default: $ATHENA_CONFIG, else built-in defaults)")
	flagSet.StringVar(&opts.sessionID, "session", "", "resume this session id (default: start a new session)")
	flagSet.StringVar(&opts.socketPath, "socket", "", "override supervisor.socket_path")
	flagSet.StringVar(&opts.rulesFile, "rules", "", "override supervisor.rules_file")
	flagSet.StringVar(&opts.stateDir, "state", "", "override paths.state")
	flagSet.StringVar(&opts.projectDir, "project-dir", "", "project directory recorded on a new session (default: working directory)")
	flagSet.StringVar(&opts.label, "label", "", "label recorded on a new session")
	flagSet.BoolVar(&opts.list, "list", false, "list stored sessions and exit")
	showVersion := flagSet.Bool("version", false, "print version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Printf("athena-supervisor %s\n", version.Info())
		return nil
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	cfg, err := config.Resolve(opts.configPath)
	if err != nil {
		return err
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.list {
		return listSessions(ctx, cfg.Paths.State, os.Stdout)
	}

	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr).With("agent", version.Agent("athena-supervisor"))
	return supervise(ctx, cfg, opts, logger, os.Stdin, os.Stdout)
}

func (opts options) apply(cfg *config.Config) {
	if opts.socketPath != "" {
		cfg.Supervisor.SocketPath = opts.socketPath
	}
	if opts.rulesFile != "" {
		cfg.Supervisor.RulesFile = opts.rulesFile
	}
	if opts.stateDir != "" {
		cfg.Paths.State = opts.stateDir
	}
}

// supervise runs one session until the operator quits, the context is
// cancelled, or the hub fails.
func supervise(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger, input io.Reader, output io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rules, err := permission.ReadRuleFile(cfg.Supervisor.RulesFile)
	if err != nil {
		return err
	}
	if err := permission.ValidateRules(rules); err != nil {
		return fmt.Errorf("%s: %w", cfg.Supervisor.RulesFile, err)
	}

	sessionID := opts.sessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	projectDir := opts.projectDir
	if projectDir == "" {
		projectDir, _ = os.Getwd()
	}
	logger = logger.With("session_id", sessionID)

	lifecycle := process.NewLifecycle(logger)
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := lifecycle.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown incomplete", "error", err)
		}
	}()

	store, err := sessionstore.Open(ctx, sessionstore.Config{
		StateDir:    cfg.Paths.State,
		SessionID:   sessionID,
		ProjectDir:  projectDir,
		Label:       opts.label,
		RelaxedSync: cfg.Supervisor.RelaxedSync,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	lifecycle.RegisterCloser("session store", store)

	hub, err := transport.Listen(ctx, transport.HubConfig{
		SocketPath:   cfg.Supervisor.SocketPath,
		Logger:       logger,
		WriteTimeout: cfg.Supervisor.WriteTimeout,
	})
	if err != nil {
		return err
	}
	lifecycle.RegisterCloser("hook hub", hub)

	runtime, err := hookruntime.New(hookruntime.Config{
		Channel: hub,
		Clock:   clock.Real(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	lifecycle.Register("hook runtime", func(context.Context) error { return runtime.Stop() })

	controller, err := supervisor.New(ctx, supervisor.Config{
		SessionID: sessionID,
		Runtime:   runtime,
		Store:     store,
		Rules:     rules,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	lifecycle.Register("controller", func(context.Context) error { controller.Close(); return nil })

	out := &printer{out: output}
	for _, event := range controller.Timeline() {
		out.println(renderEvent(event))
	}
	controller.OnUpdate(func(update supervisor.Update) {
		switch update.Kind {
		case supervisor.UpdateFeed:
			for _, event := range update.Events {
				out.println(renderEvent(event))
			}
		case supervisor.UpdatePending:
			if len(update.Pending) > 0 {
				out.println(renderPending(update.Pending)...)
			}
		case supervisor.UpdateStatus:
			out.println(renderStatus(update.Status))
		}
	})

	if err := runtime.Start(ctx); err != nil {
		return err
	}
	out.println(fmt.Sprintf("session %s; hooks connect to %s", sessionID, hub.SocketPath()))
	logger.Info("supervisor started", "socket", hub.SocketPath(), "rules", len(rules))

	lines := make(chan string)
	go readLines(ctx, input, lines)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		select {
		case <-runtime.Done():
			if ctx.Err() == nil {
				return errors.New("hook runtime stopped unexpectedly")
			}
			return nil
		case <-groupCtx.Done():
			return nil
		}
	})
	group.Go(func() error {
		defer cancel()
		op := &operator{session: controller, printer: out}
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					// Stdin closed; keep serving hooks until signalled.
					<-groupCtx.Done()
					return nil
				}
				cmd, err := parseCommand(line)
				if err == nil {
					err = op.execute(groupCtx, cmd)
				}
				if errors.Is(err, errQuit) {
					return nil
				}
				if err != nil {
					out.println("error: " + err.Error())
				}
			}
		}
	})
	err = group.Wait()
	logger.Info("supervisor stopping")
	return err
}

// readLines forwards input lines until EOF or ctx is done, then closes
// lines.
func readLines(ctx context.Context, input io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

func listSessions(ctx context.Context, stateDir string, output io.Writer) error {
	sessions, err := sessionstore.List(ctx, stateDir)
	if err != nil {
		return err
	}
	for _, session := range sessions {
		fmt.Fprintf(output, "%s  %s  %4d events  %s %s\n",
			session.ID,
			session.UpdatedAt.Local().Format(time.DateTime),
			session.EventCount,
			session.ProjectDir,
			session.Label,
		)
	}
	return nil
}
