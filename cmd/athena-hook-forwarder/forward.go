// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/athena-flow/athena/lib/envelope"
	"github.com/athena-flow/athena/lib/transport"
)

// Exit codes the agent interprets.
const (
	exitProceed = 0
	exitUsage   = 1
	exitBlock   = 2
)

type forwarderSettings struct {
	socketPath   string
	dialTimeout  time.Duration
	replyTimeout time.Duration
	failClosed   bool
}

// hookFields are the payload fields the envelope repeats.
type hookFields struct {
	SessionID     string `json:"session_id"`
	HookEventName string `json:"hook_event_name"`
}

var errNoReply = errors.New("supervisor closed the connection without replying")

// forward relays one hook invocation and returns the process exit code.
func forward(ctx context.Context, settings forwarderSettings, logger *slog.Logger, stdin io.Reader, stdout, stderr io.Writer) int {
	payload, err := io.ReadAll(io.LimitReader(stdin, envelope.MaxLineSize+1))
	if err != nil {
		logger.Warn("reading hook payload failed", "error", err)
		return exitProceed
	}
	if len(payload) > envelope.MaxLineSize {
		logger.Warn("hook payload too large to forward", "limit", envelope.MaxLineSize)
		return exitProceed
	}
	var fields hookFields
	if err := json.Unmarshal(payload, &fields); err != nil || fields.HookEventName == "" {
		logger.Warn("hook payload is not a hook event object", "error", err)
		return exitProceed
	}

	requestID := uuid.NewString()
	line, err := envelope.EncodeInbound(envelope.Inbound{
		RequestID:     requestID,
		Timestamp:     time.Now().UnixMilli(),
		SessionID:     fields.SessionID,
		HookEventName: fields.HookEventName,
		Payload:       payload,
	})
	if err != nil {
		logger.Warn("encoding envelope failed", "error", err)
		return exitProceed
	}

	result, err := exchange(ctx, settings, requestID, line)
	if err != nil {
		logger.Warn("supervisor unavailable",
			"hook", fields.HookEventName,
			"socket", settings.socketPath,
			"error", err,
		)
		if settings.failClosed {
			fmt.Fprintf(stderr, "athena supervisor unavailable: %v\n", err)
			return exitBlock
		}
		return exitProceed
	}
	return apply(result, stdout, stderr)
}

// exchange sends line and returns the result addressed to requestID.
func exchange(ctx context.Context, settings forwarderSettings, requestID string, line []byte) (envelope.Result, error) {
	dialCtx := ctx
	if settings.dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, settings.dialTimeout)
		defer cancel()
	}
	channel, err := transport.Dial(dialCtx, settings.socketPath)
	if err != nil {
		return envelope.Result{}, err
	}
	defer channel.Close()

	if settings.replyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.replyTimeout)
		defer cancel()
	}
	stop := context.AfterFunc(ctx, func() { channel.Close() })
	defer stop()

	if err := channel.WriteLine(line); err != nil {
		return envelope.Result{}, fmt.Errorf("sending hook event: %w", err)
	}
	for {
		replyLine, err := channel.ReadLine()
		if err != nil {
			if ctx.Err() != nil {
				return envelope.Result{}, fmt.Errorf("waiting for decision: %w", ctx.Err())
			}
			if errors.Is(err, io.EOF) {
				return envelope.Result{}, errNoReply
			}
			return envelope.Result{}, fmt.Errorf("reading reply: %w", err)
		}
		reply, err := envelope.DecodeOutbound(replyLine)
		if err != nil || reply.RequestID != requestID {
			continue
		}
		return reply.Payload, nil
	}
}

// apply completes the hook as result directs.
func apply(result envelope.Result, stdout, stderr io.Writer) int {
	switch result.Action {
	case envelope.ActionBlockWithStderr:
		fmt.Fprintln(stderr, result.Stderr)
		return exitBlock
	case envelope.ActionJSONOutput:
		stdout.Write(result.StdoutJSON)
		fmt.Fprintln(stdout)
		return exitProceed
	default:
		return exitProceed
	}
}
