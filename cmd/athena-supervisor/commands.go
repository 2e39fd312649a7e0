// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/athena-flow/athena/lib/feed"
	"github.com/athena-flow/athena/lib/hookruntime"
	"github.com/athena-flow/athena/lib/permission"
	"github.com/athena-flow/athena/lib/sessionstore"
	"github.com/athena-flow/athena/lib/supervisor"
)

const defaultTimelineCount = 20

// errQuit is returned by execute for the quit command.
var errQuit = errors.New("quit")

// operatorSession is what the command loop needs from the controller.
type operatorSession interface {
	Pending() []supervisor.PendingRequest
	Timeline() []feed.Event
	Decide(eventID string, decision hookruntime.Decision) error
	AddRule(rule permission.HookRule) error
	Summary() supervisor.Summary
	RuntimeEvent(ctx context.Context, id string) (sessionstore.RuntimeRecord, error)
}

// printer serializes lines from the command loop and from controller
// updates onto one writer.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) println(lines ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, line := range lines {
		fmt.Fprintln(p.out, line)
	}
}

type command struct {
	name   string
	ref    string
	reason string
	count  int
}

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, nil
	}
	cmd := command{name: strings.ToLower(fields[0])}
	switch cmd.name {
	case "pending", "status", "quit", "help":
		if len(fields) > 1 {
			return command{}, fmt.Errorf("%s takes no arguments", cmd.name)
		}
	case "show":
		if len(fields) != 2 {
			return command{}, fmt.Errorf("usage: show <ref|#seq>")
		}
		cmd.ref = fields[1]
	case "allow", "deny", "always":
		if len(fields) < 2 {
			return command{}, fmt.Errorf("usage: %s <ref> [reason]", cmd.name)
		}
		cmd.ref = fields[1]
		cmd.reason = strings.Join(fields[2:], " ")
		if cmd.name == "always" && cmd.reason != "" {
			return command{}, fmt.Errorf("usage: always <ref>")
		}
	case "timeline":
		cmd.count = defaultTimelineCount
		if len(fields) > 2 {
			return command{}, fmt.Errorf("usage: timeline [n]")
		}
		if len(fields) == 2 {
			count, err := strconv.Atoi(fields[1])
			if err != nil || count <= 0 {
				return command{}, fmt.Errorf("timeline: %q is not a positive count", fields[1])
			}
			cmd.count = count
		}
	case "exit":
		cmd.name = "quit"
	default:
		return command{}, fmt.Errorf("unknown command %q (try help)", fields[0])
	}
	return cmd, nil
}

// operator runs parsed commands against the session.
type operator struct {
	session operatorSession
	printer *printer
}

func (o *operator) execute(ctx context.Context, cmd command) error {
	switch cmd.name {
	case "":
		return nil
	case "quit":
		return errQuit
	case "help":
		o.printer.println(
			"pending               list requests waiting for a decision",
			"allow <ref> [reason]  allow a pending tool call",
			"deny <ref> [reason]   deny a pending tool call",
			"always <ref>          allow and add a standing approve rule for the tool",
			"show <ref|#seq>       print the hook payload behind a request or event",
			"status                show the run, actors and open todos",
			"timeline [n]          reprint the last n visible events",
			"quit                  stop the supervisor",
		)
		return nil
	case "pending":
		o.printer.println(renderPending(o.session.Pending())...)
		return nil
	case "status":
		o.printer.println(renderSummary(o.session.Summary())...)
		return nil
	case "show":
		id, err := o.runtimeEventID(cmd.ref)
		if err != nil {
			return err
		}
		record, err := o.session.RuntimeEvent(ctx, id)
		if err != nil {
			return err
		}
		o.printer.println(renderRuntimeRecord(record)...)
		return nil
	case "timeline":
		timeline := o.session.Timeline()
		if len(timeline) > cmd.count {
			timeline = timeline[len(timeline)-cmd.count:]
		}
		lines := make([]string, 0, len(timeline))
		for _, event := range timeline {
			lines = append(lines, renderEvent(event))
		}
		o.printer.println(lines...)
		return nil
	}

	request, err := resolveRef(o.session.Pending(), cmd.ref)
	if err != nil {
		return err
	}
	var decision hookruntime.Decision
	switch cmd.name {
	case "allow":
		decision = hookruntime.Allow(hookruntime.SourceUser, cmd.reason)
	case "deny":
		decision = hookruntime.Deny(hookruntime.SourceUser, cmd.reason)
	case "always":
		rule := permission.HookRule{
			ID:       "operator-" + uuid.NewString(),
			ToolName: request.ToolName,
			Action:   permission.ActionApprove,
			AddedBy:  "operator",
		}
		if err := o.session.AddRule(rule); err != nil {
			return err
		}
		decision = hookruntime.Allow(hookruntime.SourceUser, "always allowed by operator")
	}
	return o.session.Decide(request.EventID, decision)
}

// runtimeEventID resolves "#seq" to the hook event behind a timeline
// event, and anything else to a pending request.
func (o *operator) runtimeEventID(ref string) (string, error) {
	seqText, isSeq := strings.CutPrefix(ref, "#")
	if !isSeq {
		request, err := resolveRef(o.session.Pending(), ref)
		if err != nil {
			return "", err
		}
		return request.EventID, nil
	}
	seq, err := strconv.ParseInt(seqText, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%q is not an event number", ref)
	}
	for _, event := range o.session.Timeline() {
		if event.Seq != seq {
			continue
		}
		if event.RuntimeEventID == "" {
			return "", fmt.Errorf("event #%d has no hook event", seq)
		}
		return event.RuntimeEventID, nil
	}
	return "", fmt.Errorf("no visible event #%d", seq)
}

// resolveRef finds a pending request by 1-based position, exact id, or
// unique id prefix.
func resolveRef(pending []supervisor.PendingRequest, ref string) (supervisor.PendingRequest, error) {
	if position, err := strconv.Atoi(ref); err == nil {
		if position < 1 || position > len(pending) {
			return supervisor.PendingRequest{}, fmt.Errorf("no pending request at position %d", position)
		}
		return pending[position-1], nil
	}
	var matches []supervisor.PendingRequest
	for _, request := range pending {
		if request.EventID == ref {
			return request, nil
		}
		if strings.HasPrefix(request.EventID, ref) {
			matches = append(matches, request)
		}
	}
	switch len(matches) {
	case 0:
		return supervisor.PendingRequest{}, fmt.Errorf("no pending request matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return supervisor.PendingRequest{}, fmt.Errorf("%q matches %d pending requests", ref, len(matches))
	}
}
