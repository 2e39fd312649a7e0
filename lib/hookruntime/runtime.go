// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package hookruntime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/athena-flow/athena/lib/clock"
	"github.com/athena-flow/athena/lib/envelope"
)

// Channel is a line-oriented duplex connection to one agent process.
// ReadLine blocks until a complete line is available and returns it
// without the trailing newline. Any error from ReadLine, including
// io.EOF, ends the channel. Implementations must allow WriteLine to be
// called concurrently with a blocked ReadLine.
type Channel interface {
	ReadLine() ([]byte, error)
	WriteLine(line []byte) error
	Close() error
}

// Status is the runtime's lifecycle state.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// Handler receives every delivered event.
type Handler func(Event)

// StatusHandler receives status transitions.
type StatusHandler func(Status)

var (
	// ErrNotRunning is returned by SendDecision once the runtime has
	// stopped (or before it started).
	ErrNotRunning = errors.New("hookruntime: not running")

	// ErrUnknownRequest is returned by SendDecision for an id that is
	// not awaiting a decision: never seen, not decision-bearing, or
	// already decided.
	ErrUnknownRequest = errors.New("hookruntime: no open request with that id")

	// ErrStopped is returned by Start after Stop. A runtime is bound to
	// one channel and cannot be restarted.
	ErrStopped = errors.New("hookruntime: runtime was stopped")
)

// Config holds the parameters for New.
type Config struct {
	Channel Channel

	// Clock stamps events that arrive without a ts field. Defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger receives dropped-line warnings and handler panics. If nil,
	// logs are discarded.
	Logger *slog.Logger
}

// Runtime converts envelope lines into events and serializes decisions
// back onto the channel. It is safe for concurrent use.
type Runtime struct {
	channel Channel
	clock   clock.Clock
	logger  *slog.Logger

	mu             sync.Mutex
	status         Status
	started        bool
	stopped        bool
	nextHandlerID  uint64
	handlers       []registeredHandler[Handler]
	statusHandlers []registeredHandler[StatusHandler]

	// awaiting maps request ids of decision-bearing events to their
	// hook name. An entry is removed when answered.
	awaiting map[string]HookName

	// writeMu serializes lines onto the channel.
	writeMu sync.Mutex

	done chan struct{}
}

type registeredHandler[F any] struct {
	id      uint64
	handler F
}

// New creates a stopped runtime bound to config.Channel.
func New(config Config) (*Runtime, error) {
	if config.Channel == nil {
		return nil, fmt.Errorf("hookruntime: Channel is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Runtime{
		channel:  config.Channel,
		clock:    config.Clock,
		logger:   config.Logger,
		status:   StatusStopped,
		awaiting: make(map[string]HookName),
		done:     make(chan struct{}),
	}, nil
}

// Start begins reading from the channel. Calling Start on a running
// runtime is a no-op. Cancelling ctx stops the runtime.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrStopped
	}
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.status = StatusRunning
	statusHandlers := snapshot(r.statusHandlers)
	r.mu.Unlock()

	notifyStatus(r.logger, statusHandlers, StatusRunning)

	go r.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.done:
		}
	}()
	return nil
}

// Stop closes the channel and drops every subscription and open
// request. Safe to call any number of times, from any goroutine,
// including from inside a handler.
func (r *Runtime) Stop() error {
	return r.shutdown(nil)
}

// Status returns the current lifecycle state.
func (r *Runtime) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Done is closed when the read loop has exited, or immediately on Stop
// if the runtime never started.
func (r *Runtime) Done() <-chan struct{} {
	return r.done
}

// OnEvent registers handler for every subsequently delivered event and
// returns a function that removes it.
func (r *Runtime) OnEvent(handler Handler) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextHandlerID++
	id := r.nextHandlerID
	r.handlers = append(r.handlers, registeredHandler[Handler]{id: id, handler: handler})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.handlers = remove(r.handlers, id)
	}
}

// OnStatus registers handler for status transitions and returns a
// function that removes it.
func (r *Runtime) OnStatus(handler StatusHandler) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextHandlerID++
	id := r.nextHandlerID
	r.statusHandlers = append(r.statusHandlers, registeredHandler[StatusHandler]{id: id, handler: handler})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.statusHandlers = remove(r.statusHandlers, id)
	}
}

// SendDecision answers the open request eventID. Each request accepts
// exactly one decision; later attempts return ErrUnknownRequest.
func (r *Runtime) SendDecision(eventID string, decision Decision) error {
	r.mu.Lock()
	if r.status != StatusRunning {
		r.mu.Unlock()
		return ErrNotRunning
	}
	hook, open := r.awaiting[eventID]
	if !open {
		r.mu.Unlock()
		return ErrUnknownRequest
	}
	result, err := encodeDecision(hook, decision)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	delete(r.awaiting, eventID)
	r.mu.Unlock()

	return r.reply(eventID, result)
}

// reply writes one outbound record. A write failure stops the runtime.
func (r *Runtime) reply(requestID string, result envelope.Result) error {
	line, err := envelope.EncodeOutbound(envelope.Outbound{
		RequestID: requestID,
		Timestamp: r.clock.Now().UnixMilli(),
		Payload:   result,
	})
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	err = r.channel.WriteLine(line)
	r.writeMu.Unlock()
	if err != nil {
		r.shutdown(err)
		return fmt.Errorf("hookruntime: writing reply %s: %w", requestID, err)
	}
	return nil
}

func (r *Runtime) readLoop() {
	defer close(r.done)
	for {
		line, err := r.channel.ReadLine()
		if err != nil {
			r.shutdown(err)
			return
		}
		r.handleLine(line)
	}
}

func (r *Runtime) handleLine(line []byte) {
	inbound, err := envelope.DecodeInbound(line)
	if err != nil {
		r.logger.Warn("dropping envelope", "error", err, "bytes", len(line))
		return
	}

	event, err := r.buildEvent(inbound)
	if err != nil {
		r.logger.Warn("dropping hook event with undecodable payload",
			"request_id", inbound.RequestID,
			"hook", inbound.HookEventName,
			"error", err,
		)
		r.acknowledge(inbound.RequestID)
		return
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	if event.Interaction.ExpectsDecision {
		if _, duplicate := r.awaiting[event.ID]; duplicate {
			r.mu.Unlock()
			r.logger.Warn("dropping duplicate request id", "request_id", event.ID, "hook", event.HookName)
			return
		}
		r.awaiting[event.ID] = event.HookName
	}
	handlers := snapshot(r.handlers)
	r.mu.Unlock()

	for _, entry := range handlers {
		r.deliver(entry.handler, event)
	}

	if !event.Interaction.ExpectsDecision {
		r.acknowledge(event.ID)
	}
}

// acknowledge replies passthrough to a request nobody will decide.
func (r *Runtime) acknowledge(requestID string) {
	if r.Status() != StatusRunning {
		return
	}
	if err := r.reply(requestID, envelope.Passthrough()); err != nil {
		r.logger.Debug("acknowledgement not delivered", "request_id", requestID, "error", err)
	}
}

func (r *Runtime) deliver(handler Handler, event Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error("event handler panicked",
				"request_id", event.ID,
				"hook", event.HookName,
				"panic", fmt.Sprint(recovered),
			)
		}
	}()
	handler(event)
}

func (r *Runtime) buildEvent(inbound envelope.Inbound) (Event, error) {
	name := HookName(inbound.HookEventName)

	payload, err := DecodePayload(name, inbound.Payload)
	if err != nil {
		return Event{}, err
	}

	var common commonFields
	if err := json.Unmarshal(inbound.Payload, &common); err != nil {
		// Shared fields of the wrong type are treated as absent.
		common = commonFields{}
	}

	sessionID := inbound.SessionID
	if sessionID == "" {
		sessionID = common.SessionID
	}

	timestamp := r.clock.Now()
	if inbound.Timestamp > 0 {
		timestamp = time.UnixMilli(inbound.Timestamp)
	}

	return Event{
		ID:        inbound.RequestID,
		Timestamp: timestamp,
		HookName:  name,
		SessionID: sessionID,
		Context: Context{
			Cwd:            common.Cwd,
			TranscriptPath: common.TranscriptPath,
			PermissionMode: common.PermissionMode,
		},
		Interaction: Interaction{ExpectsDecision: name.ExpectsDecision()},
		Payload:     payload,
		Raw:         inbound.Payload,
	}, nil
}

// shutdown transitions to stopped exactly once. cause is nil for an
// explicit Stop.
func (r *Runtime) shutdown(cause error) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	wasRunning := r.status == StatusRunning
	r.status = StatusStopped
	startedLoop := r.started
	statusHandlers := snapshot(r.statusHandlers)
	r.handlers = nil
	r.statusHandlers = nil
	pending := len(r.awaiting)
	r.awaiting = make(map[string]HookName)
	r.mu.Unlock()

	closeErr := r.channel.Close()
	if !startedLoop {
		close(r.done)
	}

	if cause != nil {
		r.logger.Warn("hook channel failed", "error", cause, "abandoned_requests", pending)
	} else {
		r.logger.Info("hook runtime stopped", "abandoned_requests", pending)
	}

	if wasRunning {
		notifyStatus(r.logger, statusHandlers, StatusStopped)
	}

	if closeErr != nil && cause == nil {
		return fmt.Errorf("hookruntime: closing channel: %w", closeErr)
	}
	return nil
}

func notifyStatus(logger *slog.Logger, handlers []registeredHandler[StatusHandler], status Status) {
	for _, entry := range handlers {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.Error("status handler panicked", "status", status, "panic", fmt.Sprint(recovered))
				}
			}()
			entry.handler(status)
		}()
	}
}

func snapshot[F any](handlers []registeredHandler[F]) []registeredHandler[F] {
	return append([]registeredHandler[F](nil), handlers...)
}

func remove[F any](handlers []registeredHandler[F], id uint64) []registeredHandler[F] {
	for index, entry := range handlers {
		if entry.id == id {
			return append(handlers[:index:index], handlers[index+1:]...)
		}
	}
	return handlers
}
