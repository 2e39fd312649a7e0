// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/athena-flow/athena/lib/clock"
	"github.com/athena-flow/athena/lib/hookruntime"
	"github.com/athena-flow/athena/lib/testutil"
)

type eventBuilder struct {
	adapterSessionID string
	next             int
	now              time.Time
}

func newBuilder() *eventBuilder {
	return &eventBuilder{adapterSessionID: "adapter-1", now: time.UnixMilli(1_700_000_000_000)}
}

func (b *eventBuilder) event(payload hookruntime.Payload) hookruntime.Event {
	b.next++
	b.now = b.now.Add(time.Second)
	name := payload.Hook()
	return hookruntime.Event{
		ID:          fmt.Sprintf("req-%d", b.next),
		Timestamp:   b.now,
		HookName:    name,
		SessionID:   b.adapterSessionID,
		Interaction: hookruntime.Interaction{ExpectsDecision: name.ExpectsDecision()},
		Payload:     payload,
		Raw:         json.RawMessage(`{}`),
	}
}

func tool(name, input, toolUseID string) hookruntime.ToolCall {
	return hookruntime.ToolCall{ToolName: name, ToolInput: json.RawMessage(input), ToolUseID: toolUseID}
}

func newTestMapper(t *testing.T) *Mapper {
	return NewMapper(Config{
		SessionID: "athena-1",
		Clock:     clock.Fake(time.UnixMilli(1_800_000_000_000)),
		Logger:    testutil.Logger(t),
	})
}

func mustMap(t *testing.T, mapper *Mapper, event hookruntime.Event) []Event {
	t.Helper()
	events, err := mapper.Map(event)
	if err != nil {
		t.Fatalf("Map(%s): %v", event.HookName, err)
	}
	return events
}

func kindsOf(events []Event) []Kind {
	var result []Kind
	for _, event := range events {
		result = append(result, event.Kind)
	}
	return result
}

func assertKinds(t *testing.T, events []Event, want ...Kind) {
	t.Helper()
	got := kindsOf(events)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
}

func TestSeqStrictlyIncreasingWithoutGaps(t *testing.T) {
	mapper := newTestMapper(t)
	builder := newBuilder()

	inputs := []hookruntime.Payload{
		&hookruntime.SessionStart{Source: "startup"},
		&hookruntime.UserPromptSubmit{Prompt: "fix the build"},
		&hookruntime.PreToolUse{ToolCall: tool("Bash", `{"command":"go build ./..."}`, "tu-1")},
		&hookruntime.PostToolUse{ToolCall: tool("Bash", `{"command":"go build ./..."}`, "tu-1")},
		&hookruntime.Notification{Message: "waiting"},
		&hookruntime.SubagentStart{AgentID: "a1", AgentType: "explorer"},
		&hookruntime.SubagentStop{AgentID: "a1", LastAssistantMessage: "done"},
		&hookruntime.Stop{LastAssistantMessage: "all fixed"},
		&hookruntime.SessionEnd{Reason: "exit"},
		&hookruntime.SessionStart{Source: "resume"},
		&hookruntime.Unknown{Name: "FutureHook"},
	}

	var all []Event
	for _, payload := range inputs {
		all = append(all, mustMap(t, mapper, builder.event(payload))...)
	}
	for index, event := range all {
		if event.Seq != int64(index+1) {
			t.Fatalf("event %d (%s) seq = %d, want %d", index, event.Kind, event.Seq, index+1)
		}
		if !strings.HasSuffix(event.EventID, fmt.Sprintf(":E%d", event.Seq)) {
			t.Errorf("event_id %q does not end with its seq", event.EventID)
		}
		if event.SessionID != "athena-1" {
			t.Errorf("session_id = %q", event.SessionID)
		}
	}
	if mapper.LastSeq() != int64(len(all)) {
		t.Fatalf("LastSeq = %d, want %d", mapper.LastSeq(), len(all))
	}
}

func TestSessionStartOpensRun(t *testing.T) {
	mapper := newTestMapper(t)
	builder := newBuilder()

	events := mustMap(t, mapper, builder.event(&hookruntime.SessionStart{Source: "startup", Model: "m"}))
	assertKinds(t, events, KindSessionStart, KindRunStart)
	if events[1].RunID != "adapter-1:R1" {
		t.Fatalf("run_id = %q, want adapter-1:R1", events[1].RunID)
	}
	if events[1].EventID != "adapter-1:R1:E2" {
		t.Fatalf("event_id = %q, want adapter-1:R1:E2", events[1].EventID)
	}

	events = mustMap(t, mapper, builder.event(&hookruntime.SessionStart{Source: "clear"}))
	assertKinds(t, events, KindRunEnd, KindSessionStart, KindRunStart)
	end := events[0].Data.(*RunEndData)
	if end.Status != RunSuperseded || events[0].RunID != "adapter-1:R1" {
		t.Fatalf("run.end = %+v in %q", end, events[0].RunID)
	}
	if events[2].RunID != "adapter-1:R2" {
		t.Fatalf("second run_id = %q, want adapter-1:R2", events[2].RunID)
	}
}

func TestSessionEndClosesRun(t *testing.T) {
	mapper := newTestMapper(t)
	builder := newBuilder()
	mustMap(t, mapper, builder.event(&hookruntime.SessionStart{}))
	mustMap(t, mapper, builder.event(&hookruntime.PreToolUse{ToolCall: tool("Edit", `{}`, "tu-1")}))
	mustMap(t, mapper, builder.event(&hookruntime.PostToolUseFailure{ToolCall: tool("Edit", `{}`, "tu-1"), Error: "no such file"}))

	events := mustMap(t, mapper, builder.event(&hookruntime.SessionEnd{Reason: "logout"}))
	assertKinds(t, events, KindRunEnd, KindSessionEnd)
	end := events[0].Data.(*RunEndData)
	if end.Status != RunCompleted || end.Counters.ToolUses != 1 || end.Counters.ToolFailures != 1 {
		t.Fatalf("run.end data = %+v", end)
	}
	if events[1].RunID != "adapter-1:R1" {
		t.Fatalf("session.end run_id = %q", events[1].RunID)
	}
	if mapper.CurrentRunID() != "" {
		t.Fatalf("CurrentRunID = %q after session end", mapper.CurrentRunID())
	}
}

func TestImplicitRun(t *testing.T) {
	mapper := newTestMapper(t)
	events := mustMap(t, mapper, newBuilder().event(&hookruntime.UserPromptSubmit{Prompt: "hi"}))
	assertKinds(t, events, KindRunStart, KindUserPrompt)
	if trigger := events[0].Data.(*RunStartData).Trigger; trigger != TriggerImplicit {
		t.Fatalf("trigger = %s, want implicit", trigger)
	}
}

func TestBootstrapContinuesRunOrdinals(t *testing.T) {
	builder := newBuilder()
	first := newTestMapper(t)
	var stored []Event
	var runtimeIDs []string
	for _, payload := range []hookruntime.Payload{
		&hookruntime.SessionStart{Source: "startup"},
		&hookruntime.SubagentStart{AgentID: "helper"},
		&hookruntime.SessionStart{Source: "clear"},
		&hookruntime.Stop{},
	} {
		event := builder.event(payload)
		runtimeIDs = append(runtimeIDs, event.ID)
		stored = append(stored, mustMap(t, first, event)...)
	}

	resumed := newTestMapper(t)
	if err := resumed.Bootstrap(Fold(stored, runtimeIDs)); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if resumed.LastSeq() != first.LastSeq() {
		t.Fatalf("LastSeq = %d, want %d", resumed.LastSeq(), first.LastSeq())
	}
	if seen := resumed.SeenSubagents(); !slices.Contains(seen, "helper") {
		t.Error("seen subagent not restored")
	}
	if actors := resumed.Actors(); len(actors) != 1 || actors[0] != RootActor {
		t.Errorf("Actors after bootstrap = %v, want only root", actors)
	}

	events := mustMap(t, resumed, builder.event(&hookruntime.SessionStart{Source: "resume"}))
	var runStart *Event
	for index := range events {
		if events[index].Kind == KindRunStart {
			runStart = &events[index]
		}
	}
	if runStart == nil {
		t.Fatalf("no run.start in %v", kindsOf(events))
	}
	if !strings.Contains(runStart.RunID, "R3") {
		t.Fatalf("run_id = %q, want R3", runStart.RunID)
	}
	if events[0].Seq != first.LastSeq()+1 {
		t.Fatalf("first seq after resume = %d, want %d", events[0].Seq, first.LastSeq()+1)
	}
}

func TestBootstrapAfterMapRejected(t *testing.T) {
	mapper := newTestMapper(t)
	mustMap(t, mapper, newBuilder().event(&hookruntime.Notification{Message: "x"}))
	if err := mapper.Bootstrap(History{}); !errors.Is(err, ErrBootstrapAfterMap) {
		t.Fatalf("Bootstrap after Map = %v, want ErrBootstrapAfterMap", err)
	}
}

func TestSubagentActorRequiresFreshStart(t *testing.T) {
	builder := newBuilder()
	mapper := newTestMapper(t)
	if err := mapper.Bootstrap(History{SeenSubagents: []string{"old"}}); err != nil {
		t.Fatal(err)
	}

	call := tool("Read", `{"file_path":"a.go"}`, "tu-1")
	call.AgentID = "old"
	events := mustMap(t, mapper, builder.event(&hookruntime.PreToolUse{ToolCall: call}))
	if actor := events[len(events)-1].ActorID; actor != RootActor {
		t.Fatalf("actor before fresh start = %q, want root", actor)
	}

	mustMap(t, mapper, builder.event(&hookruntime.SubagentStart{AgentID: "old"}))
	call.ToolUseID = "tu-2"
	events = mustMap(t, mapper, builder.event(&hookruntime.PreToolUse{ToolCall: call}))
	if actor := events[0].ActorID; actor != "subagent:old" {
		t.Fatalf("actor after fresh start = %q, want subagent:old", actor)
	}

	mustMap(t, mapper, builder.event(&hookruntime.SubagentStop{AgentID: "old"}))
	if actors := mapper.Actors(); len(actors) != 1 {
		t.Fatalf("Actors after stop = %v", actors)
	}
}

func TestSubagentStartWithoutIDStaysRoot(t *testing.T) {
	mapper := newTestMapper(t)
	events := mustMap(t, mapper, newBuilder().event(&hookruntime.SubagentStart{AgentType: "Explore"}))
	start := events[len(events)-1]
	if start.Kind != KindSubagentStart || start.ActorID != RootActor {
		t.Fatalf("subagent.start = %s by %q, want root", start.Kind, start.ActorID)
	}
	if actors := mapper.Actors(); len(actors) != 1 || actors[0] != RootActor {
		t.Errorf("Actors = %v, want only root", actors)
	}
	if seen := mapper.SeenSubagents(); len(seen) != 0 {
		t.Errorf("SeenSubagents = %v, want none", seen)
	}
	if history := Fold(events, nil); len(history.SeenSubagents) != 0 {
		t.Errorf("folded SeenSubagents = %v, want none", history.SeenSubagents)
	}
}

func TestStopMessageSynthesizesAgentMessage(t *testing.T) {
	t.Run("root with message", func(t *testing.T) {
		mapper := newTestMapper(t)
		events := mustMap(t, mapper, newBuilder().event(&hookruntime.Stop{LastAssistantMessage: "X"}))
		assertKinds(t, events, KindRunStart, KindStopRequest, KindAgentMessage)
		message := events[2]
		data := message.Data.(*AgentMessageData)
		if data.Message != "X" || data.Scope != ScopeRoot || data.Source != "hook" {
			t.Fatalf("agent.message data = %+v", data)
		}
		if message.Cause == nil || message.Cause.ParentEventID != events[1].EventID {
			t.Fatalf("cause = %+v, want parent %s", message.Cause, events[1].EventID)
		}
	})
	t.Run("root without message", func(t *testing.T) {
		mapper := newTestMapper(t)
		events := mustMap(t, mapper, newBuilder().event(&hookruntime.Stop{}))
		assertKinds(t, events, KindRunStart, KindStopRequest)
	})
	t.Run("subagent with message", func(t *testing.T) {
		mapper := newTestMapper(t)
		builder := newBuilder()
		mustMap(t, mapper, builder.event(&hookruntime.SubagentStart{AgentID: "s1"}))
		events := mustMap(t, mapper, builder.event(&hookruntime.SubagentStop{AgentID: "s1", LastAssistantMessage: "found it"}))
		assertKinds(t, events, KindSubagentStop, KindAgentMessage)
		data := events[1].Data.(*AgentMessageData)
		if data.Scope != ScopeSubagent || data.AgentID != "s1" || events[1].ActorID != "subagent:s1" {
			t.Fatalf("agent.message = %+v actor %q", data, events[1].ActorID)
		}
	})
}

func TestReplayedRuntimeEventIgnored(t *testing.T) {
	mapper := newTestMapper(t)
	event := newBuilder().event(&hookruntime.UserPromptSubmit{Prompt: "once"})
	first := mustMap(t, mapper, event)
	if len(first) == 0 {
		t.Fatal("first Map produced nothing")
	}
	seq := mapper.LastSeq()
	if again := mustMap(t, mapper, event); len(again) != 0 {
		t.Fatalf("replay produced %v", kindsOf(again))
	}
	if mapper.LastSeq() != seq {
		t.Fatalf("LastSeq moved on replay: %d -> %d", seq, mapper.LastSeq())
	}

	resumed := newTestMapper(t)
	if err := resumed.Bootstrap(History{LastSeq: seq, RuntimeEventIDs: []string{event.ID}}); err != nil {
		t.Fatal(err)
	}
	if again := mustMap(t, resumed, event); len(again) != 0 {
		t.Fatalf("replay after bootstrap produced %v", kindsOf(again))
	}
}

func TestMappingFailurePreservesSeq(t *testing.T) {
	mapper := newTestMapper(t)
	builder := newBuilder()
	mustMap(t, mapper, builder.event(&hookruntime.SessionStart{}))
	seq := mapper.LastSeq()

	broken := builder.event(&hookruntime.PreToolUse{ToolCall: tool("TodoWrite", `{"todos":"not a list"}`, "tu-1")})
	if _, err := mapper.Map(broken); !errors.Is(err, ErrMapping) {
		t.Fatalf("Map(broken) error = %v, want ErrMapping", err)
	}
	if mapper.LastSeq() != seq {
		t.Fatalf("LastSeq after failure = %d, want %d", mapper.LastSeq(), seq)
	}

	missing := builder.event(&hookruntime.Notification{})
	missing.Payload = nil
	if _, err := mapper.Map(missing); !errors.Is(err, ErrMapping) {
		t.Fatalf("Map(nil payload) error = %v, want ErrMapping", err)
	}

	events := mustMap(t, mapper, builder.event(&hookruntime.Notification{Message: "next"}))
	if events[0].Seq != seq+1 {
		t.Fatalf("seq after failures = %d, want %d", events[0].Seq, seq+1)
	}

	// A failed event was not marked processed and can be retried.
	fixed := broken
	fixed.Payload = &hookruntime.PreToolUse{ToolCall: tool("TodoWrite", `{"todos":[]}`, "tu-1")}
	if events := mustMap(t, mapper, fixed); len(events) != 1 {
		t.Fatalf("retry produced %v", kindsOf(events))
	}
}

func TestToolPostLinksToPre(t *testing.T) {
	mapper := newTestMapper(t)
	builder := newBuilder()
	pre := mustMap(t, mapper, builder.event(&hookruntime.PreToolUse{ToolCall: tool("Bash", `{"command":"ls"}`, "tu-9")}))
	post := mustMap(t, mapper, builder.event(&hookruntime.PostToolUse{ToolCall: tool("Bash", `{"command":"ls"}`, "tu-9")}))
	preEvent := pre[len(pre)-1]
	if post[0].Cause == nil || post[0].Cause.ParentEventID != preEvent.EventID || post[0].Cause.ToolUseID != "tu-9" {
		t.Fatalf("tool.post cause = %+v, want parent %s", post[0].Cause, preEvent.EventID)
	}
}

func TestTodoDiffing(t *testing.T) {
	mapper := newTestMapper(t)
	builder := newBuilder()
	write := func(input string) []Event {
		return mustMap(t, mapper, builder.event(&hookruntime.PreToolUse{ToolCall: tool("TodoWrite", input, "")}))
	}

	events := write(`{"todos":[{"content":"write tests","status":"pending"},{"content":"ship","status":"pending"}]}`)
	assertKinds(t, events, KindRunStart, KindToolPre, KindTodoAdd, KindTodoAdd)
	if IsVisible(events[1]) {
		t.Error("TodoWrite tool.pre should be hidden")
	}

	events = write(`{"todos":[{"content":"write tests","status":"in_progress"},{"content":"ship","status":"pending"}]}`)
	assertKinds(t, events, KindToolPre, KindTodoUpdate)
	if update := events[1].Data.(*TodoUpdateData); update.PreviousStatus != "pending" || update.Status != "in_progress" {
		t.Fatalf("todo.update = %+v", update)
	}

	events = write(`{"todos":[{"content":"write tests","status":"completed"},{"content":"ship","status":"pending"}]}`)
	assertKinds(t, events, KindToolPre, KindTodoDone)

	if open := mapper.OpenTodos(); len(open) != 1 || open[0] != "ship" {
		t.Fatalf("OpenTodos = %v, want [ship]", open)
	}
}

func TestMapDecision(t *testing.T) {
	mapper := newTestMapper(t)
	builder := newBuilder()

	request := builder.event(&hookruntime.PermissionRequest{ToolCall: tool("Bash", `{"command":"rm -rf x"}`, "tu-1")})
	requestEvents := mustMap(t, mapper, request)
	requestEvent := requestEvents[len(requestEvents)-1]

	events, err := mapper.MapDecision(request.ID, hookruntime.Deny(hookruntime.SourceUser, "too risky"))
	if err != nil {
		t.Fatalf("MapDecision: %v", err)
	}
	assertKinds(t, events, KindPermissionDecision)
	decision := events[0]
	data := decision.Data.(*PermissionDecisionData)
	if data.Action != "deny" || data.Source != "user" || data.Reason != "too risky" || data.ToolName != "Bash" {
		t.Fatalf("decision data = %+v", data)
	}
	if decision.Cause.ParentEventID != requestEvent.EventID || decision.RunID != requestEvent.RunID {
		t.Fatalf("decision cause/run = %+v / %q", decision.Cause, decision.RunID)
	}
	if decision.RuntimeEventID != "" {
		t.Errorf("decision runtime_event_id = %q, want empty", decision.RuntimeEventID)
	}
	if !decision.Timestamp.Equal(time.UnixMilli(1_800_000_000_000)) {
		t.Errorf("decision timestamp = %v, want clock time", decision.Timestamp)
	}
	if decision.Seq != requestEvent.Seq+1 {
		t.Errorf("decision seq = %d, want %d", decision.Seq, requestEvent.Seq+1)
	}

	if _, err := mapper.MapDecision(request.ID, hookruntime.Allow(hookruntime.SourceUser, "")); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("second MapDecision = %v, want ErrUnknownRequest", err)
	}
}

func TestMapDecisionPassthroughAndStop(t *testing.T) {
	mapper := newTestMapper(t)
	builder := newBuilder()

	pre := builder.event(&hookruntime.PreToolUse{ToolCall: tool("Read", `{}`, "tu-1")})
	mustMap(t, mapper, pre)
	events, err := mapper.MapDecision(pre.ID, hookruntime.Passthrough(hookruntime.SourceAuto))
	if err != nil || len(events) != 0 {
		t.Fatalf("passthrough decision = %v, %v; want no events", kindsOf(events), err)
	}

	stop := builder.event(&hookruntime.Stop{})
	mustMap(t, mapper, stop)
	events, err = mapper.MapDecision(stop.ID, hookruntime.Block(hookruntime.SourceUser, "keep going"))
	if err != nil {
		t.Fatal(err)
	}
	assertKinds(t, events, KindStopDecision)
	if data := events[0].Data.(*StopDecisionData); data.Action != "block" {
		t.Fatalf("stop.decision action = %q", data.Action)
	}
	if events[0].Title != "Stop blocked: keep going" {
		t.Errorf("title = %q", events[0].Title)
	}
}

func TestVisibility(t *testing.T) {
	tests := []struct {
		data Data
		want bool
	}{
		{&ToolPreData{ToolName: "Bash"}, true},
		{&ToolPreData{ToolName: "TodoWrite"}, false},
		{&ToolPostData{ToolName: "Task"}, false},
		{&ToolFailureData{ToolName: "TodoWrite"}, false},
		{&SubagentStopData{AgentID: "a"}, false},
		{&SubagentStartData{AgentID: "a"}, true},
		{&TodoAddData{}, true},
	}
	for _, test := range tests {
		event := Event{Kind: test.data.Kind(), Data: test.data}
		if got := IsVisible(event); got != test.want {
			t.Errorf("IsVisible(%s %+v) = %v, want %v", event.Kind, test.data, got, test.want)
		}
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	mapper := newTestMapper(t)
	events := mustMap(t, mapper, newBuilder().event(&hookruntime.PermissionRequest{ToolCall: tool("Edit", `{"file_path":"main.go"}`, "tu-1")}))
	original := events[len(events)-1]

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Kind != original.Kind || decoded.EventID != original.EventID || decoded.Seq != original.Seq {
		t.Fatalf("decoded = %+v", decoded)
	}
	request, ok := decoded.Data.(*PermissionRequestData)
	if !ok || request.ToolName != "Edit" || string(request.ToolInput) != `{"file_path":"main.go"}` {
		t.Fatalf("decoded data = %#v", decoded.Data)
	}
}
