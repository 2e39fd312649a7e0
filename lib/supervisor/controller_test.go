// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/athena-flow/athena/lib/clock"
	"github.com/athena-flow/athena/lib/envelope"
	"github.com/athena-flow/athena/lib/feed"
	"github.com/athena-flow/athena/lib/hookruntime"
	"github.com/athena-flow/athena/lib/permission"
	"github.com/athena-flow/athena/lib/sessionstore"
	"github.com/athena-flow/athena/lib/testutil"
	"github.com/athena-flow/athena/lib/transport"
)

const testSessionID = "athena-test"

// harness runs a controller against a real runtime over an in-memory
// pipe. The agent side sends envelope lines and collects replies.
type harness struct {
	controller *Controller
	runtime    *hookruntime.Runtime
	agent      *transport.StreamChannel
	replies    chan envelope.Outbound
	pending    chan []PendingRequest
	feed       chan feed.Event
	statuses   chan hookruntime.Status
}

func openStore(t *testing.T, stateDir string) *sessionstore.Store {
	t.Helper()
	store, err := sessionstore.Open(context.Background(), sessionstore.Config{
		StateDir:  stateDir,
		SessionID: testSessionID,
		Logger:    testutil.Logger(t),
	})
	if err != nil {
		t.Fatalf("sessionstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newHarness(t *testing.T, store *sessionstore.Store, rules []permission.HookRule) *harness {
	t.Helper()
	logger := testutil.Logger(t)
	supervisorSide, agentSide := net.Pipe()

	runtime, err := hookruntime.New(hookruntime.Config{
		Channel: transport.NewStreamChannel(supervisorSide),
		Clock:   clock.Fake(time.UnixMilli(1_700_000_000_000)),
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("hookruntime.New: %v", err)
	}
	controller, err := New(context.Background(), Config{
		SessionID: testSessionID,
		Runtime:   runtime,
		Store:     store,
		Rules:     rules,
		Clock:     clock.Fake(time.UnixMilli(1_800_000_000_000)),
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h := &harness{
		controller: controller,
		runtime:    runtime,
		agent:      transport.NewStreamChannel(agentSide),
		replies:    make(chan envelope.Outbound, 16),
		pending:    make(chan []PendingRequest, 16),
		feed:       make(chan feed.Event, 64),
		statuses:   make(chan hookruntime.Status, 4),
	}
	controller.OnUpdate(func(update Update) {
		switch update.Kind {
		case UpdatePending:
			h.pending <- update.Pending
		case UpdateFeed:
			for _, event := range update.Events {
				h.feed <- event
			}
		case UpdateStatus:
			h.statuses <- update.Status
		}
	})

	go func() {
		for {
			line, err := h.agent.ReadLine()
			if err != nil {
				return
			}
			outbound, err := envelope.DecodeOutbound(line)
			if err != nil {
				t.Errorf("DecodeOutbound(%s): %v", line, err)
				return
			}
			h.replies <- outbound
		}
	}()

	if err := runtime.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	testutil.RequireReceive(t, h.statuses, testutil.DefaultTimeout, "running status")
	t.Cleanup(func() {
		controller.Close()
		runtime.Stop()
		h.agent.Close()
	})
	return h
}

func (h *harness) send(t *testing.T, requestID, hook, payload string) {
	t.Helper()
	line := fmt.Sprintf(`{"request_id":%q,"ts":1700000000123,"hook_event_name":%q,"session_id":"adapter-1","payload":%s}`,
		requestID, hook, payload)
	if err := h.agent.WriteLine([]byte(line)); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
}

func (h *harness) reply(t *testing.T) envelope.Outbound {
	t.Helper()
	return testutil.RequireReceive(t, h.replies, testutil.DefaultTimeout, "reply")
}

func (h *harness) waitPending(t *testing.T, count int) []PendingRequest {
	t.Helper()
	for {
		pending := testutil.RequireReceive(t, h.pending, testutil.DefaultTimeout, "pending update")
		if len(pending) == count {
			return pending
		}
	}
}

func (h *harness) waitKind(t *testing.T, kind feed.Kind) feed.Event {
	t.Helper()
	for {
		event := testutil.RequireReceive(t, h.feed, testutil.DefaultTimeout, "feed event "+string(kind))
		if event.Kind == kind {
			return event
		}
	}
}

func writeTool(requestID string) string {
	return fmt.Sprintf(`{"tool_name":"Write","tool_input":{"file_path":"/tmp/%s","content":"x"},"tool_use_id":"tu-%s"}`, requestID, requestID)
}

func TestSafeToolIsPassedThroughAutomatically(t *testing.T) {
	h := newHarness(t, openStore(t, t.TempDir()), nil)
	h.send(t, "r1", "PreToolUse", `{"tool_name":"Read","tool_input":{"file_path":"/etc/hosts"}}`)

	reply := h.reply(t)
	if reply.RequestID != "r1" || reply.Payload.Action != envelope.ActionPassthrough {
		t.Fatalf("reply = %+v, want passthrough for r1", reply)
	}
	h.waitKind(t, feed.KindToolPre)
	if pending := h.controller.Pending(); len(pending) != 0 {
		t.Errorf("Pending = %+v, want none", pending)
	}
}

func TestDenyRuleDecidesWithoutPrompting(t *testing.T) {
	rules := []permission.HookRule{{ID: "no-write", ToolName: "Write", Action: permission.ActionDeny}}
	h := newHarness(t, openStore(t, t.TempDir()), rules)
	h.send(t, "r1", "PreToolUse", writeTool("r1"))

	reply := h.reply(t)
	if reply.Payload.Action != envelope.ActionJSONOutput || !strings.Contains(string(reply.Payload.StdoutJSON), `"deny"`) {
		t.Fatalf("reply = %+v, want json_output deny", reply)
	}
	decision := h.waitKind(t, feed.KindPermissionDecision)
	data := decision.Data.(*feed.PermissionDecisionData)
	if data.Source != string(hookruntime.SourceRule) || data.Action != "deny" {
		t.Errorf("decision data = %+v", data)
	}
	if pending := h.controller.Pending(); len(pending) != 0 {
		t.Errorf("Pending = %+v, want none", pending)
	}
}

func TestApproveRuleAllows(t *testing.T) {
	rules := []permission.HookRule{{ID: "mcp", ToolName: "mcp__*", Action: permission.ActionApprove}}
	h := newHarness(t, openStore(t, t.TempDir()), rules)
	h.send(t, "r1", "PermissionRequest", `{"tool_name":"mcp__github__create_issue","tool_input":{}}`)

	reply := h.reply(t)
	if reply.Payload.Action != envelope.ActionJSONOutput || !strings.Contains(string(reply.Payload.StdoutJSON), `"allow"`) {
		t.Fatalf("reply = %+v, want json_output allow", reply)
	}
}

func TestPendingRequestsResolveInAnyOrder(t *testing.T) {
	h := newHarness(t, openStore(t, t.TempDir()), nil)
	h.send(t, "A", "PreToolUse", writeTool("A"))
	h.send(t, "B", "PreToolUse", writeTool("B"))

	pending := h.waitPending(t, 2)
	if pending[0].EventID != "A" || pending[1].EventID != "B" {
		t.Fatalf("pending = %+v, want A then B", pending)
	}
	if pending[0].ToolName != "Write" || pending[0].RiskTier != permission.RiskWrite {
		t.Errorf("pending[0] = %+v", pending[0])
	}

	if err := h.controller.Decide("B", hookruntime.Allow(hookruntime.SourceUser, "")); err != nil {
		t.Fatalf("Decide(B): %v", err)
	}
	if reply := h.reply(t); reply.RequestID != "B" {
		t.Fatalf("first reply for %s, want B", reply.RequestID)
	}
	if pending := h.controller.Pending(); len(pending) != 1 || pending[0].EventID != "A" {
		t.Fatalf("Pending after deciding B = %+v, want only A", pending)
	}

	if err := h.controller.Decide("A", hookruntime.Deny(hookruntime.SourceUser, "not now")); err != nil {
		t.Fatalf("Decide(A): %v", err)
	}
	reply := h.reply(t)
	if reply.RequestID != "A" || !strings.Contains(string(reply.Payload.StdoutJSON), "not now") {
		t.Fatalf("reply = %+v, want deny for A", reply)
	}

	if err := h.controller.Decide("A", hookruntime.Allow(hookruntime.SourceUser, "")); !errors.Is(err, ErrNotPending) {
		t.Errorf("second Decide(A) error = %v, want ErrNotPending", err)
	}
	if err := h.controller.Decide("nope", hookruntime.Allow(hookruntime.SourceUser, "")); !errors.Is(err, ErrNotPending) {
		t.Errorf("Decide(unknown) error = %v, want ErrNotPending", err)
	}

	decisions := 0
	for _, event := range h.controller.Timeline() {
		if event.Kind == feed.KindPermissionDecision {
			decisions++
		}
	}
	if decisions != 2 {
		t.Errorf("timeline has %d permission decisions, want 2", decisions)
	}
}

func TestUnsupportedDecisionKeepsRequestPending(t *testing.T) {
	h := newHarness(t, openStore(t, t.TempDir()), nil)
	h.send(t, "A", "PreToolUse", writeTool("A"))
	h.waitPending(t, 1)

	unsupported := hookruntime.Decision{Type: "bogus", Source: hookruntime.SourceUser}
	if err := h.controller.Decide("A", unsupported); !errors.Is(err, hookruntime.ErrUnsupportedDecision) {
		t.Fatalf("Decide error = %v, want ErrUnsupportedDecision", err)
	}
	if pending := h.controller.Pending(); len(pending) != 1 {
		t.Fatalf("Pending = %+v, want A still pending", pending)
	}
}

func TestRuntimeStopInvalidatesPending(t *testing.T) {
	h := newHarness(t, openStore(t, t.TempDir()), nil)
	h.send(t, "A", "PreToolUse", writeTool("A"))
	h.waitPending(t, 1)

	h.runtime.Stop()
	status := testutil.RequireReceive(t, h.statuses, testutil.DefaultTimeout, "stopped status")
	if status != hookruntime.StatusStopped {
		t.Fatalf("status = %s, want stopped", status)
	}
	if pending := h.controller.Pending(); len(pending) != 0 {
		t.Fatalf("Pending after stop = %+v, want none", pending)
	}
	if err := h.controller.Decide("A", hookruntime.Allow(hookruntime.SourceUser, "")); !errors.Is(err, ErrNotPending) {
		t.Errorf("Decide after stop error = %v, want ErrNotPending", err)
	}
	testutil.RequireNoReceive(t, h.replies, 50*time.Millisecond, "no decision is synthesized on stop")
}

func TestStopHookIsPassedThrough(t *testing.T) {
	h := newHarness(t, openStore(t, t.TempDir()), nil)
	h.send(t, "s1", "Stop", `{"last_assistant_message":"done"}`)
	if reply := h.reply(t); reply.Payload.Action != envelope.ActionPassthrough {
		t.Fatalf("reply = %+v, want passthrough", reply)
	}
	h.waitKind(t, feed.KindStopDecision)
}

func TestControllerResumesFromStore(t *testing.T) {
	stateDir := t.TempDir()
	store := openStore(t, stateDir)

	first := newHarness(t, store, nil)
	first.send(t, "r1", "SessionStart", `{"source":"startup"}`)
	first.waitKind(t, feed.KindRunStart)
	first.runtime.Stop()
	first.controller.Close()

	second := newHarness(t, store, nil)
	timeline := second.controller.Timeline()
	if len(timeline) != 2 || timeline[0].Kind != feed.KindSessionStart || timeline[1].Kind != feed.KindRunStart {
		t.Fatalf("restored timeline = %v", timeline)
	}

	second.send(t, "r2", "SessionStart", `{"source":"resume"}`)
	run := second.waitKind(t, feed.KindRunStart)
	if run.RunID != "adapter-1:R2" {
		t.Errorf("resumed run id = %s, want adapter-1:R2", run.RunID)
	}
	if run.Seq != timeline[1].Seq+2 {
		t.Errorf("resumed run.start seq = %d, want %d", run.Seq, timeline[1].Seq+2)
	}

	stored, err := store.LoadSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(stored.RuntimeEventIDs, ","); got != "r1,r2" {
		t.Errorf("stored runtime events = %s", got)
	}
}

func TestSummaryAndRuntimeEvent(t *testing.T) {
	h := newHarness(t, openStore(t, t.TempDir()), nil)
	h.send(t, "r1", "SessionStart", `{"source":"startup"}`)
	h.send(t, "r2", "SubagentStart", `{"agent_id":"helper","agent_type":"Explore"}`)
	h.send(t, "r3", "PreToolUse", `{"tool_name":"TodoWrite","tool_input":{"todos":[{"content":"ship","status":"pending"}]},"tool_use_id":"tu-todo"}`)
	h.send(t, "r4", "PreToolUse", writeTool("r4"))
	h.waitPending(t, 1)

	summary := h.controller.Summary()
	if summary.Status != hookruntime.StatusRunning || summary.RunID == "" || summary.Pending != 1 {
		t.Errorf("Summary = %+v, want a running session with an open run and one pending request", summary)
	}
	if len(summary.Actors) != 2 || summary.Actors[0] != feed.RootActor || summary.Actors[1] != feed.SubagentActor("helper") {
		t.Errorf("Actors = %v", summary.Actors)
	}
	if len(summary.Subagents) != 1 || summary.Subagents[0] != "helper" {
		t.Errorf("Subagents = %v", summary.Subagents)
	}
	if len(summary.OpenTodos) != 1 || summary.OpenTodos[0] != "ship" {
		t.Errorf("OpenTodos = %v", summary.OpenTodos)
	}

	record, err := h.controller.RuntimeEvent(context.Background(), "r4")
	if err != nil {
		t.Fatalf("RuntimeEvent: %v", err)
	}
	if record.HookName != hookruntime.HookPreToolUse || !strings.Contains(string(record.Payload), `"Write"`) {
		t.Errorf("RuntimeEvent = %+v", record)
	}
	if _, err := h.controller.RuntimeEvent(context.Background(), "missing"); !errors.Is(err, sessionstore.ErrNotFound) {
		t.Errorf("RuntimeEvent(missing) = %v, want ErrNotFound", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	store := openStore(t, t.TempDir())
	if _, err := New(context.Background(), Config{Store: store}); err == nil {
		t.Error("New without SessionID or Runtime succeeded")
	}
	runtime, err := hookruntime.New(hookruntime.Config{Channel: transport.NewStreamChannel(nopStream{})})
	if err != nil {
		t.Fatal(err)
	}
	bad := []permission.HookRule{{ID: "x", ToolName: "Bash", Action: "maybe"}}
	if _, err := New(context.Background(), Config{SessionID: testSessionID, Runtime: runtime, Store: store, Rules: bad}); err == nil {
		t.Error("New accepted an invalid rule")
	}
}

type nopStream struct{}

func (nopStream) Read([]byte) (int, error)    { return 0, errors.New("closed") }
func (nopStream) Write(p []byte) (int, error) { return len(p), nil }
func (nopStream) Close() error                { return nil }
