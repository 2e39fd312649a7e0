// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package feed

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/athena-flow/athena/lib/clock"
	"github.com/athena-flow/athena/lib/hookruntime"
)

var (
	// ErrMapping wraps every failure to map one runtime event. The
	// mapper's state is unchanged when it is returned.
	ErrMapping = errors.New("feed: mapping failed")

	// ErrUnknownRequest is returned by MapDecision for a request id
	// that has no open decision-bearing event.
	ErrUnknownRequest = errors.New("feed: no open request with that id")

	// ErrBootstrapAfterMap is returned by Bootstrap once events have
	// been mapped.
	ErrBootstrapAfterMap = errors.New("feed: bootstrap after events were mapped")
)

// Config holds the parameters for NewMapper.
type Config struct {
	// SessionID is the athena session every event belongs to.
	SessionID string

	// Clock stamps decision events. Defaults to clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

// Mapper converts runtime events into feed events for one session. It
// is not safe for concurrent use; callers serialize Map and
// MapDecision.
type Mapper struct {
	sessionID string
	clock     clock.Clock
	logger    *slog.Logger

	seq      int64
	mapped   bool
	ordinals map[string]int
	run      *runState

	// actors holds the agent ids of subagents started in this process.
	actors        map[string]bool
	seenSubagents map[string]bool
	processed     map[string]bool

	todos []todoItem

	// toolEvents maps tool_use_id to the tool.pre event for that call.
	toolEvents map[string]string

	// requests maps runtime event ids awaiting a decision to the feed
	// event that represents them.
	requests map[string]openRequest
}

type runState struct {
	id               string
	adapterSessionID string
	ordinal          int
	counters         RunCounters
}

type openRequest struct {
	eventID  string
	kind     Kind
	runID    string
	actorID  string
	toolName string
}

// NewMapper creates a mapper with no history.
func NewMapper(config Config) *Mapper {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Mapper{
		sessionID:     config.SessionID,
		clock:         config.Clock,
		logger:        config.Logger,
		ordinals:      make(map[string]int),
		actors:        make(map[string]bool),
		seenSubagents: make(map[string]bool),
		processed:     make(map[string]bool),
		toolEvents:    make(map[string]string),
		requests:      make(map[string]openRequest),
	}
}

// Bootstrap restores summary state from a stored session. It must be
// called before the first Map.
func (m *Mapper) Bootstrap(history History) error {
	if m.mapped {
		return ErrBootstrapAfterMap
	}
	m.seq = history.LastSeq
	for adapterSessionID, ordinal := range history.RunOrdinals {
		m.ordinals[adapterSessionID] = ordinal
	}
	for _, agentID := range history.SeenSubagents {
		m.seenSubagents[agentID] = true
	}
	for _, id := range history.RuntimeEventIDs {
		m.processed[id] = true
	}
	m.logger.Debug("feed mapper bootstrapped",
		"session_id", m.sessionID,
		"last_seq", m.seq,
		"adapter_sessions", len(m.ordinals),
		"runtime_events", len(m.processed),
	)
	return nil
}

// LastSeq returns the sequence number of the most recent event.
func (m *Mapper) LastSeq() int64 { return m.seq }

// CurrentRunID returns the open run, or "" when none is open.
func (m *Mapper) CurrentRunID() string {
	if m.run == nil {
		return ""
	}
	return m.run.id
}

// Actors returns the actor ids events can currently be attributed to,
// root first.
func (m *Mapper) Actors() []string {
	actors := []string{RootActor}
	var subagents []string
	for agentID := range m.actors {
		subagents = append(subagents, SubagentActor(agentID))
	}
	slices.Sort(subagents)
	return append(actors, subagents...)
}

// SeenSubagents returns the ids of every subagent that ever started in
// this session, including before a restart, sorted.
func (m *Mapper) SeenSubagents() []string {
	seen := make([]string, 0, len(m.seenSubagents))
	for agentID := range m.seenSubagents {
		seen = append(seen, agentID)
	}
	slices.Sort(seen)
	return seen
}

// Map converts one runtime event. An event whose id was already mapped
// (in this process or, after Bootstrap, in an earlier one) yields no
// events.
func (m *Mapper) Map(event hookruntime.Event) (events []Event, err error) {
	if event.ID != "" && m.processed[event.ID] {
		m.logger.Debug("skipping replayed runtime event", "request_id", event.ID)
		return nil, nil
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			events = nil
			err = fmt.Errorf("%w: %s %s: panic: %v", ErrMapping, event.HookName, event.ID, recovered)
		}
	}()

	tx := m.begin(event.Timestamp, event.ID)
	if err := tx.mapEvent(event); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrMapping, event.HookName, event.ID, err)
	}
	if event.ID != "" {
		tx.onCommit(func() { m.processed[event.ID] = true })
	}
	tx.commit()
	return tx.events, nil
}

// MapDecision records the decision for an open request. Passthrough
// decisions on tool calls produce no event; every other decision
// produces exactly one permission.decision or stop.decision.
func (m *Mapper) MapDecision(requestID string, decision hookruntime.Decision) (events []Event, err error) {
	request, open := m.requests[requestID]
	if !open {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			events = nil
			err = fmt.Errorf("%w: decision %s: panic: %v", ErrMapping, requestID, recovered)
		}
	}()

	tx := m.begin(m.clock.Now(), "")
	tx.onCommit(func() { delete(m.requests, requestID) })

	action := string(decision.Intent.Action)
	cause := &Cause{ParentEventID: request.eventID, HookRequestID: requestID}
	level := LevelInfo

	switch request.kind {
	case KindToolPre, KindPermissionRequest:
		if decision.Type == hookruntime.DecisionPassthrough || decision.Type == "" {
			break
		}
		if action == "" && decision.Type == hookruntime.DecisionBlock {
			action = string(hookruntime.IntentDeny)
		}
		if action == string(hookruntime.IntentDeny) {
			level = LevelWarn
		}
		tx.emitIn(request.runID, KindPermissionDecision, level, request.actorID, &PermissionDecisionData{
			DecisionData: decisionData(request.toolName, decision, action),
		}, cause)
	case KindStopRequest, KindSubagentStop:
		if action == "" && decision.Type == hookruntime.DecisionBlock {
			action = string(hookruntime.IntentBlock)
		}
		if action == "" {
			action = string(hookruntime.IntentAllow)
		}
		tx.emitIn(request.runID, KindStopDecision, level, request.actorID, &StopDecisionData{
			DecisionData: decisionData("", decision, action),
		}, cause)
	}

	tx.commit()
	return tx.events, nil
}

func decisionData(toolName string, decision hookruntime.Decision, action string) DecisionData {
	return DecisionData{
		ToolName:     toolName,
		DecisionType: string(decision.Type),
		Source:       string(decision.Source),
		Action:       action,
		Reason:       decision.Intent.Reason,
	}
}

// transaction accumulates the output and state changes of one Map or
// MapDecision call. Nothing reaches the Mapper until commit.
type transaction struct {
	mapper         *Mapper
	timestamp      time.Time
	runtimeEventID string
	seq            int64
	run            *runState
	events         []Event
	commits        []func()
}

func (m *Mapper) begin(timestamp time.Time, runtimeEventID string) *transaction {
	tx := &transaction{
		mapper:         m,
		timestamp:      timestamp,
		runtimeEventID: runtimeEventID,
		seq:            m.seq,
	}
	if m.run != nil {
		working := *m.run
		tx.run = &working
	}
	return tx
}

func (tx *transaction) onCommit(change func()) {
	tx.commits = append(tx.commits, change)
}

func (tx *transaction) commit() {
	m := tx.mapper
	m.seq = tx.seq
	m.run = tx.run
	m.mapped = true
	for _, change := range tx.commits {
		change()
	}
}

func (tx *transaction) runID() string {
	if tx.run == nil {
		return ""
	}
	return tx.run.id
}

func (tx *transaction) emit(kind Kind, level Level, actorID string, data Data, cause *Cause) Event {
	return tx.emitIn(tx.runID(), kind, level, actorID, data, cause)
}

func (tx *transaction) emitIn(runID string, kind Kind, level Level, actorID string, data Data, cause *Cause) Event {
	tx.seq++
	prefix := runID
	if prefix == "" {
		prefix = tx.mapper.sessionID
	}
	event := Event{
		EventID:        fmt.Sprintf("%s:E%d", prefix, tx.seq),
		Seq:            tx.seq,
		Timestamp:      tx.timestamp,
		SessionID:      tx.mapper.sessionID,
		RunID:          runID,
		Kind:           kind,
		Level:          level,
		ActorID:        actorID,
		Title:          Title(kind, data),
		RuntimeEventID: tx.runtimeEventID,
		Cause:          cause,
		Data:           data,
	}
	tx.events = append(tx.events, event)
	return event
}

// openRun starts a new run for adapterSessionID without emitting
// anything.
func (tx *transaction) openRun(adapterSessionID string) *runState {
	m := tx.mapper
	ordinal := m.ordinals[adapterSessionID] + 1
	tx.run = &runState{
		id:               fmt.Sprintf("%s:R%d", adapterSessionID, ordinal),
		adapterSessionID: adapterSessionID,
		ordinal:          ordinal,
	}
	tx.onCommit(func() { m.ordinals[adapterSessionID] = ordinal })
	return tx.run
}

func (tx *transaction) emitRunStart(trigger RunTrigger, source string) {
	tx.emit(KindRunStart, LevelInfo, RootActor, &RunStartData{
		AdapterSessionID: tx.run.adapterSessionID,
		Ordinal:          tx.run.ordinal,
		Trigger:          trigger,
		Source:           source,
	}, nil)
}

// closeRun emits run.end for the open run and returns its id.
func (tx *transaction) closeRun(status RunStatus) string {
	run := tx.run
	tx.emit(KindRunEnd, LevelInfo, RootActor, &RunEndData{
		AdapterSessionID: run.adapterSessionID,
		Ordinal:          run.ordinal,
		Status:           status,
		Counters:         run.counters,
	}, nil)
	tx.run = nil
	return run.id
}

// ensureRun opens an implicit run when an event arrives with none open.
func (tx *transaction) ensureRun(adapterSessionID string) {
	if tx.run != nil {
		return
	}
	tx.openRun(adapterSessionID)
	tx.emitRunStart(TriggerImplicit, "")
}

func (tx *transaction) trackRequest(requestID string, event Event, toolName string) {
	m := tx.mapper
	request := openRequest{
		eventID:  event.EventID,
		kind:     event.Kind,
		runID:    event.RunID,
		actorID:  event.ActorID,
		toolName: toolName,
	}
	tx.onCommit(func() { m.requests[requestID] = request })
}

func (m *Mapper) actorFor(agentID string) string {
	if agentID != "" && m.actors[agentID] {
		return SubagentActor(agentID)
	}
	return RootActor
}

var errNoPayload = errors.New("event has no payload")

func (tx *transaction) mapEvent(event hookruntime.Event) error {
	m := tx.mapper
	adapterSessionID := event.SessionID
	if adapterSessionID == "" {
		adapterSessionID = m.sessionID
	}

	switch payload := event.Payload.(type) {
	case nil:
		return errNoPayload

	case *hookruntime.SessionStart:
		if tx.run != nil {
			tx.closeRun(RunSuperseded)
		}
		tx.openRun(adapterSessionID)
		tx.emit(KindSessionStart, LevelInfo, RootActor, &SessionStartData{
			AdapterSessionID: adapterSessionID,
			Source:           payload.Source,
			Model:            payload.Model,
			AgentType:        payload.AgentType,
		}, nil)
		tx.emitRunStart(TriggerSessionStart, payload.Source)
		return nil

	case *hookruntime.SessionEnd:
		runID := ""
		if tx.run != nil {
			runID = tx.closeRun(RunCompleted)
		}
		tx.emitIn(runID, KindSessionEnd, LevelInfo, RootActor, &SessionEndData{
			AdapterSessionID: adapterSessionID,
			Reason:           payload.Reason,
		}, nil)
		return nil
	}

	tx.ensureRun(adapterSessionID)
	cause := &Cause{HookRequestID: event.ID}

	switch payload := event.Payload.(type) {
	case *hookruntime.UserPromptSubmit:
		tx.emit(KindUserPrompt, LevelInfo, RootActor, &UserPromptData{
			Prompt: payload.Prompt,
			Cwd:    event.Context.Cwd,
		}, cause)

	case *hookruntime.PreToolUse:
		tx.run.counters.ToolUses++
		cause.ToolUseID = payload.ToolUseID
		pre := tx.emit(KindToolPre, LevelInfo, m.actorFor(payload.AgentID), &ToolPreData{
			ToolName:  payload.ToolName,
			ToolUseID: payload.ToolUseID,
			ToolInput: payload.ToolInput,
		}, cause)
		if payload.ToolUseID != "" {
			toolUseID := payload.ToolUseID
			tx.onCommit(func() { m.toolEvents[toolUseID] = pre.EventID })
		}
		tx.trackRequest(event.ID, pre, payload.ToolName)
		if payload.ToolName == todoWriteTool {
			if err := tx.diffTodos(payload.ToolInput, pre); err != nil {
				return err
			}
		}

	case *hookruntime.PostToolUse:
		cause.ToolUseID = payload.ToolUseID
		cause.ParentEventID = tx.consumeToolEvent(payload.ToolUseID)
		tx.emit(KindToolPost, LevelInfo, m.actorFor(payload.AgentID), &ToolPostData{
			ToolName:     payload.ToolName,
			ToolUseID:    payload.ToolUseID,
			ToolInput:    payload.ToolInput,
			ToolResponse: payload.ToolResponse,
		}, cause)

	case *hookruntime.PostToolUseFailure:
		tx.run.counters.ToolFailures++
		cause.ToolUseID = payload.ToolUseID
		cause.ParentEventID = tx.consumeToolEvent(payload.ToolUseID)
		level := LevelError
		if payload.IsInterrupt {
			level = LevelWarn
		}
		tx.emit(KindToolFailure, level, m.actorFor(payload.AgentID), &ToolFailureData{
			ToolName:    payload.ToolName,
			ToolUseID:   payload.ToolUseID,
			ToolInput:   payload.ToolInput,
			Error:       payload.Error,
			IsInterrupt: payload.IsInterrupt,
		}, cause)

	case *hookruntime.PermissionRequest:
		tx.run.counters.PermissionRequests++
		cause.ToolUseID = payload.ToolUseID
		cause.ParentEventID = m.toolEvents[payload.ToolUseID]
		request := tx.emit(KindPermissionRequest, LevelWarn, m.actorFor(payload.AgentID), &PermissionRequestData{
			ToolName:    payload.ToolName,
			ToolUseID:   payload.ToolUseID,
			ToolInput:   payload.ToolInput,
			Suggestions: payload.PermissionSuggestions,
		}, cause)
		tx.trackRequest(event.ID, request, payload.ToolName)

	case *hookruntime.Stop:
		stop := tx.emit(KindStopRequest, LevelInfo, RootActor, &StopRequestData{
			StopHookActive: payload.StopHookActive,
		}, cause)
		tx.trackRequest(event.ID, stop, "")
		if payload.LastAssistantMessage != "" {
			tx.emit(KindAgentMessage, LevelInfo, RootActor, &AgentMessageData{
				Message: payload.LastAssistantMessage,
				Scope:   ScopeRoot,
				Source:  "hook",
			}, &Cause{ParentEventID: stop.EventID, HookRequestID: event.ID})
		}

	case *hookruntime.SubagentStart:
		agentID := payload.AgentID
		actor := RootActor
		if agentID != "" {
			actor = SubagentActor(agentID)
			tx.onCommit(func() {
				m.actors[agentID] = true
				m.seenSubagents[agentID] = true
			})
		}
		tx.emit(KindSubagentStart, LevelInfo, actor, &SubagentStartData{
			AgentID:   agentID,
			AgentType: payload.AgentType,
		}, cause)

	case *hookruntime.SubagentStop:
		agentID := payload.AgentID
		actor := m.actorFor(agentID)
		stop := tx.emit(KindSubagentStop, LevelInfo, actor, &SubagentStopData{
			AgentID:        agentID,
			AgentType:      payload.AgentType,
			TranscriptPath: payload.AgentTranscriptPath,
			StopHookActive: payload.StopHookActive,
		}, cause)
		tx.trackRequest(event.ID, stop, "")
		if payload.LastAssistantMessage != "" {
			tx.emit(KindAgentMessage, LevelInfo, actor, &AgentMessageData{
				Message: payload.LastAssistantMessage,
				Scope:   ScopeSubagent,
				Source:  "hook",
				AgentID: agentID,
			}, &Cause{ParentEventID: stop.EventID, HookRequestID: event.ID})
		}
		tx.onCommit(func() { delete(m.actors, agentID) })

	case *hookruntime.Notification:
		tx.emit(KindNotification, LevelInfo, RootActor, &NotificationData{
			Message:          payload.Message,
			Title:            payload.Title,
			NotificationType: payload.NotificationType,
		}, cause)

	case *hookruntime.PreCompact:
		tx.emit(KindCompactPre, LevelInfo, RootActor, &CompactPreData{
			Trigger:            payload.Trigger,
			CustomInstructions: payload.CustomInstructions,
		}, cause)

	case *hookruntime.ConfigChange:
		tx.emit(KindConfigChange, LevelInfo, RootActor, &ConfigChangeData{
			Source:  payload.Source,
			Changes: payload.Changes,
		}, cause)

	default:
		tx.emit(KindUnknownHook, LevelDebug, RootActor, &UnknownHookData{
			HookName: string(event.HookName),
			Payload:  event.Raw,
		}, cause)
	}
	return nil
}

// consumeToolEvent returns the tool.pre event id for toolUseID and
// forgets it on commit.
func (tx *transaction) consumeToolEvent(toolUseID string) string {
	if toolUseID == "" {
		return ""
	}
	m := tx.mapper
	eventID := m.toolEvents[toolUseID]
	tx.onCommit(func() { delete(m.toolEvents, toolUseID) })
	return eventID
}
