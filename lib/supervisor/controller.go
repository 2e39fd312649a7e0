// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/athena-flow/athena/lib/clock"
	"github.com/athena-flow/athena/lib/feed"
	"github.com/athena-flow/athena/lib/hookruntime"
	"github.com/athena-flow/athena/lib/permission"
	"github.com/athena-flow/athena/lib/sessionstore"
)

// ErrNotPending is returned by Decide for an id that is not waiting
// for the operator: never queued, already decided, or invalidated by
// a runtime stop.
var ErrNotPending = errors.New("supervisor: request is not pending")

// Runtime is the subset of *hookruntime.Runtime the controller uses.
type Runtime interface {
	OnEvent(handler hookruntime.Handler) (unsubscribe func())
	OnStatus(handler hookruntime.StatusHandler) (unsubscribe func())
	SendDecision(eventID string, decision hookruntime.Decision) error
}

// Store is the subset of *sessionstore.Store the controller uses.
type Store interface {
	LoadSession(ctx context.Context) (*sessionstore.StoredSession, error)
	Record(ctx context.Context, runtimeEvent hookruntime.Event, feedEvents []feed.Event) error
	AppendRuntimeEvent(ctx context.Context, event hookruntime.Event) error
	AppendFeedEvents(ctx context.Context, events []feed.Event) error
	RuntimeEvent(ctx context.Context, id string) (sessionstore.RuntimeRecord, error)
}

// PendingRequest is a permission request waiting for the operator.
type PendingRequest struct {
	// EventID is the runtime event id that Decide answers.
	EventID   string
	ToolName  string
	ToolInput []byte
	RiskTier  permission.RiskTier
	QueuedAt  time.Time
}

// Summary is a snapshot of the session's state.
type Summary struct {
	Status hookruntime.Status

	// RunID is the open run, or "" between runs.
	RunID string

	// Actors are the actors events can currently be attributed to,
	// root first.
	Actors []string

	// Subagents are every subagent id seen in the session, including
	// before a restart.
	Subagents []string

	OpenTodos []string
	Pending   int
}

// UpdateKind says what changed in an Update.
type UpdateKind string

const (
	// UpdateFeed carries newly visible feed events.
	UpdateFeed UpdateKind = "feed"

	// UpdatePending carries the new pending set.
	UpdatePending UpdateKind = "pending"

	// UpdateStatus carries a runtime status change.
	UpdateStatus UpdateKind = "status"
)

// Update is delivered to OnUpdate handlers after the controller's
// state has changed.
type Update struct {
	Kind    UpdateKind
	Events  []feed.Event
	Pending []PendingRequest
	Status  hookruntime.Status
}

// UpdateHandler receives updates. Handlers run on the goroutine that
// caused the change and must not block for long.
type UpdateHandler func(Update)

// Config holds the parameters for New. SessionID, Runtime, and Store
// are required.
type Config struct {
	SessionID string
	Runtime   Runtime
	Store     Store

	// Rules are the standing permission rules. They are validated by
	// New.
	Rules []permission.HookRule

	Clock  clock.Clock
	Logger *slog.Logger
}

// Controller owns the mapper, the timeline, and the pending set of one
// session.
type Controller struct {
	runtime Runtime
	store   Store
	clock   clock.Clock
	logger  *slog.Logger

	mu       sync.Mutex
	mapper   *feed.Mapper
	rules    []permission.HookRule
	timeline []feed.Event
	pending  map[string]PendingRequest
	order    []string
	status   hookruntime.Status

	// runtimeStopped is set once the runtime reports it stopped. An
	// event still in flight at that point is recorded but not queued.
	runtimeStopped bool

	handlersMu    sync.Mutex
	nextHandlerID uint64
	handlers      []registeredHandler

	unsubscribe []func()
}

type registeredHandler struct {
	id      uint64
	handler UpdateHandler
}

// New loads the stored session, bootstraps a mapper from it, and
// subscribes to the runtime. Subscribe before starting the runtime so
// no event is missed.
func New(ctx context.Context, config Config) (*Controller, error) {
	if config.SessionID == "" {
		return nil, fmt.Errorf("supervisor: SessionID is required")
	}
	if config.Runtime == nil {
		return nil, fmt.Errorf("supervisor: Runtime is required")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("supervisor: Store is required")
	}
	if err := permission.ValidateRules(config.Rules); err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	mapper := feed.NewMapper(feed.Config{
		SessionID: config.SessionID,
		Clock:     config.Clock,
		Logger:    config.Logger,
	})
	stored, err := config.Store.LoadSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("supervisor: loading session %s: %w", config.SessionID, err)
	}
	controller := &Controller{
		runtime: config.Runtime,
		store:   config.Store,
		clock:   config.Clock,
		logger:  config.Logger.With("session_id", config.SessionID),
		mapper:  mapper,
		rules:   slices.Clone(config.Rules),
		pending: make(map[string]PendingRequest),
		status:  hookruntime.StatusStopped,
	}
	if stored != nil {
		if err := mapper.Bootstrap(stored.History()); err != nil {
			return nil, fmt.Errorf("supervisor: %w", err)
		}
		for _, event := range stored.FeedEvents {
			if feed.IsVisible(event) {
				controller.timeline = append(controller.timeline, event)
			}
		}
		controller.logger.Info("session resumed",
			"feed_events", len(stored.FeedEvents),
			"runtime_events", len(stored.RuntimeEventIDs),
			"last_seq", mapper.LastSeq(),
		)
	}

	controller.unsubscribe = append(controller.unsubscribe,
		config.Runtime.OnStatus(controller.handleStatus),
		config.Runtime.OnEvent(controller.handleEvent),
	)
	return controller, nil
}

// Close detaches from the runtime. Pending requests are dropped.
func (c *Controller) Close() {
	for _, unsubscribe := range c.unsubscribe {
		unsubscribe()
	}
	c.mu.Lock()
	c.clearPendingLocked()
	c.mu.Unlock()
}

// Pending returns the requests waiting for the operator, oldest first.
func (c *Controller) Pending() []PendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

// Timeline returns every visible feed event, including those restored
// from the store.
func (c *Controller) Timeline() []feed.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.timeline)
}

// Summary returns a snapshot of the session's state.
func (c *Controller) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Summary{
		Status:    c.status,
		RunID:     c.mapper.CurrentRunID(),
		Actors:    c.mapper.Actors(),
		Subagents: c.mapper.SeenSubagents(),
		OpenTodos: c.mapper.OpenTodos(),
		Pending:   len(c.pending),
	}
}

// RuntimeEvent reads the stored hook event with id.
func (c *Controller) RuntimeEvent(ctx context.Context, id string) (sessionstore.RuntimeRecord, error) {
	return c.store.RuntimeEvent(ctx, id)
}

// Rules returns the standing rules.
func (c *Controller) Rules() []permission.HookRule {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.rules)
}

// AddRule appends a standing rule. It applies to requests that arrive
// afterwards; already pending requests stay pending.
func (c *Controller) AddRule(rule permission.HookRule) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rules := append(slices.Clone(c.rules), rule)
	if err := permission.ValidateRules(rules); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	c.rules = rules
	c.logger.Info("permission rule added", "rule_id", rule.ID, "tool_name", rule.ToolName, "action", rule.Action)
	return nil
}

// Status returns the last runtime status the controller observed.
func (c *Controller) Status() hookruntime.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// OnUpdate registers handler and returns a function that removes it.
func (c *Controller) OnUpdate(handler UpdateHandler) (unsubscribe func()) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.nextHandlerID++
	id := c.nextHandlerID
	c.handlers = append(c.handlers, registeredHandler{id: id, handler: handler})
	return func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		c.handlers = slices.DeleteFunc(c.handlers, func(entry registeredHandler) bool { return entry.id == id })
	}
}

// Decide answers a pending request. Requests may be decided in any
// order. An unsupported decision leaves the request pending.
func (c *Controller) Decide(eventID string, decision hookruntime.Decision) error {
	c.mu.Lock()
	request, ok := c.pending[eventID]
	if !ok {
		c.mu.Unlock()
		c.logger.Warn("decision for a request that is not pending", "event_id", eventID)
		return fmt.Errorf("%w: %s", ErrNotPending, eventID)
	}
	c.removePendingLocked(eventID)
	c.mu.Unlock()

	err := c.runtime.SendDecision(eventID, decision)
	switch {
	case errors.Is(err, hookruntime.ErrUnsupportedDecision):
		c.mu.Lock()
		if !c.runtimeStopped {
			c.addPendingLocked(request)
		}
		c.mu.Unlock()
		return fmt.Errorf("supervisor: %w", err)
	case errors.Is(err, hookruntime.ErrUnknownRequest), errors.Is(err, hookruntime.ErrNotRunning):
		c.logger.Warn("request is no longer open in the runtime", "event_id", eventID, "error", err)
		c.notify(Update{Kind: UpdatePending, Pending: c.Pending()})
		return fmt.Errorf("%w: %s: %w", ErrNotPending, eventID, err)
	case err != nil:
		c.notify(Update{Kind: UpdatePending, Pending: c.Pending()})
		return fmt.Errorf("supervisor: sending decision for %s: %w", eventID, err)
	}

	c.logger.Info("request decided",
		"event_id", eventID,
		"tool_name", request.ToolName,
		"decision", decision.Type,
		"action", decision.Intent.Action,
		"source", decision.Source,
	)
	c.mu.Lock()
	visible := c.recordDecisionLocked(eventID, decision)
	pending := c.pendingLocked()
	c.mu.Unlock()

	c.notify(Update{Kind: UpdatePending, Pending: pending})
	if len(visible) > 0 {
		c.notify(Update{Kind: UpdateFeed, Events: visible})
	}
	return nil
}

func (c *Controller) handleStatus(status hookruntime.Status) {
	c.mu.Lock()
	c.status = status
	dropped := 0
	if status == hookruntime.StatusStopped {
		c.runtimeStopped = true
		dropped = len(c.pending)
		c.clearPendingLocked()
	}
	c.mu.Unlock()

	if dropped > 0 {
		c.logger.Warn("runtime stopped with pending requests", "invalidated", dropped)
		c.notify(Update{Kind: UpdatePending})
	}
	c.notify(Update{Kind: UpdateStatus, Status: status})
}

func (c *Controller) handleEvent(event hookruntime.Event) {
	c.mu.Lock()
	visible := c.recordEventLocked(event)
	decision, auto := c.autoDecisionLocked(event)
	var pending []PendingRequest
	if event.Interaction.ExpectsDecision && !auto && !c.runtimeStopped {
		tool, _ := hookruntime.Tool(event.Payload)
		c.addPendingLocked(PendingRequest{
			EventID:   event.ID,
			ToolName:  tool.ToolName,
			ToolInput: slices.Clone(tool.ToolInput),
			RiskTier:  permission.ToolRiskTier(tool.ToolName, tool.ToolInput),
			QueuedAt:  c.clock.Now(),
		})
		pending = c.pendingLocked()
		c.logger.Info("permission request queued", "event_id", event.ID, "tool_name", tool.ToolName)
	}
	c.mu.Unlock()

	if len(visible) > 0 {
		c.notify(Update{Kind: UpdateFeed, Events: visible})
	}
	if pending != nil {
		c.notify(Update{Kind: UpdatePending, Pending: pending})
	}
	if !auto {
		return
	}

	if err := c.runtime.SendDecision(event.ID, decision); err != nil {
		c.logger.Warn("automatic decision not delivered", "event_id", event.ID, "error", err)
		return
	}
	c.mu.Lock()
	visible = c.recordDecisionLocked(event.ID, decision)
	c.mu.Unlock()
	if len(visible) > 0 {
		c.notify(Update{Kind: UpdateFeed, Events: visible})
	}
}

// recordEventLocked maps and persists one runtime event and returns
// the visible feed events it produced.
func (c *Controller) recordEventLocked(event hookruntime.Event) []feed.Event {
	ctx := context.Background()
	events, err := c.mapper.Map(event)
	if err != nil {
		c.logger.Error("mapping hook event failed", "event_id", event.ID, "hook", event.HookName, "error", err)
		if err := c.store.AppendRuntimeEvent(ctx, event); err != nil {
			c.logStoreError("runtime event", event.ID, err)
		}
		return nil
	}
	if err := c.store.Record(ctx, event, events); err != nil {
		c.logStoreError("runtime event", event.ID, err)
	}
	return c.appendVisibleLocked(events)
}

func (c *Controller) recordDecisionLocked(eventID string, decision hookruntime.Decision) []feed.Event {
	events, err := c.mapper.MapDecision(eventID, decision)
	if errors.Is(err, feed.ErrUnknownRequest) {
		// Replayed requests were mapped by a previous supervisor.
		c.logger.Debug("decision has no open feed request", "event_id", eventID)
		return nil
	}
	if err != nil {
		c.logger.Error("mapping decision failed", "event_id", eventID, "error", err)
		return nil
	}
	if err := c.store.AppendFeedEvents(context.Background(), events); err != nil {
		c.logStoreError("decision", eventID, err)
	}
	return c.appendVisibleLocked(events)
}

func (c *Controller) logStoreError(what, eventID string, err error) {
	if errors.Is(err, sessionstore.ErrConstraint) {
		c.logger.Warn("store rejected "+what, "event_id", eventID, "error", err)
		return
	}
	c.logger.Error("persisting "+what+" failed", "event_id", eventID, "error", err)
}

func (c *Controller) appendVisibleLocked(events []feed.Event) []feed.Event {
	var visible []feed.Event
	for _, event := range events {
		if feed.IsVisible(event) {
			visible = append(visible, event)
		}
	}
	c.timeline = append(c.timeline, visible...)
	return visible
}

// autoDecisionLocked returns the decision the controller makes without
// the operator, if any. Stop hooks are passed through; operators
// cannot hold a stopping agent from this controller.
func (c *Controller) autoDecisionLocked(event hookruntime.Event) (hookruntime.Decision, bool) {
	if !event.Interaction.ExpectsDecision {
		return hookruntime.Decision{}, false
	}
	switch event.HookName {
	case hookruntime.HookPreToolUse, hookruntime.HookPermissionRequest:
	default:
		return hookruntime.Passthrough(hookruntime.SourceAuto), true
	}

	tool, _ := hookruntime.Tool(event.Payload)
	if !permission.IsPermissionRequired(tool.ToolName, c.rules, tool.ToolInput) {
		if rule := permission.MatchRule(tool.ToolName, c.rules); rule != nil {
			reason := fmt.Sprintf("rule %s", rule.ID)
			c.logger.Info("permission decided by rule", "event_id", event.ID, "tool_name", tool.ToolName, "rule_id", rule.ID, "action", rule.Action)
			if rule.Action == permission.ActionDeny {
				return hookruntime.Deny(hookruntime.SourceRule, reason), true
			}
			return hookruntime.Allow(hookruntime.SourceRule, reason), true
		}
		return hookruntime.Passthrough(hookruntime.SourceAuto), true
	}
	return hookruntime.Decision{}, false
}

func (c *Controller) addPendingLocked(request PendingRequest) {
	if _, exists := c.pending[request.EventID]; !exists {
		c.order = append(c.order, request.EventID)
	}
	c.pending[request.EventID] = request
}

func (c *Controller) removePendingLocked(eventID string) {
	delete(c.pending, eventID)
	c.order = slices.DeleteFunc(c.order, func(id string) bool { return id == eventID })
}

func (c *Controller) clearPendingLocked() {
	clear(c.pending)
	c.order = nil
}

func (c *Controller) pendingLocked() []PendingRequest {
	requests := make([]PendingRequest, 0, len(c.order))
	for _, id := range c.order {
		requests = append(requests, c.pending[id])
	}
	return requests
}

func (c *Controller) notify(update Update) {
	c.handlersMu.Lock()
	handlers := slices.Clone(c.handlers)
	c.handlersMu.Unlock()
	for _, entry := range handlers {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					c.logger.Error("update handler panicked", "kind", update.Kind, "panic", fmt.Sprint(recovered))
				}
			}()
			entry.handler(update)
		}()
	}
}
