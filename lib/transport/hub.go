// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/athena-flow/athena/lib/envelope"
)

// HubConfig holds the parameters for Listen.
type HubConfig struct {
	// SocketPath is where the hub listens. A stale socket file at this
	// path is removed first; the file is removed again on Close.
	SocketPath string

	// Logger receives connection-level warnings. If nil, logs are
	// discarded.
	Logger *slog.Logger

	// WriteTimeout bounds each reply write. Zero means 10 seconds.
	WriteTimeout time.Duration
}

// Hub accepts forwarder connections on a Unix socket and merges them
// into one Channel. See the package documentation for routing.
type Hub struct {
	socketPath   string
	logger       *slog.Logger
	allowedUID   int
	writeTimeout time.Duration
	listener     net.Listener

	lines chan []byte

	mu          sync.Mutex
	routes      map[string]*hubConnection
	connections map[*hubConnection]struct{}

	closed    chan struct{}
	closeOnce sync.Once
	handlers  sync.WaitGroup
}

type hubConnection struct {
	conn    *net.UnixConn
	writeMu sync.Mutex
}

// Listen creates the socket and starts accepting connections. The hub
// closes when ctx is cancelled or Close is called.
func Listen(ctx context.Context, config HubConfig) (*Hub, error) {
	if config.SocketPath == "" {
		return nil, fmt.Errorf("transport: SocketPath is required")
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}

	if err := os.Remove(config.SocketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("transport: removing stale socket %s: %w", config.SocketPath, err)
	}
	listener, err := net.Listen("unix", config.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("transport: listening on %s: %w", config.SocketPath, err)
	}
	if err := os.Chmod(config.SocketPath, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("transport: restricting socket permissions: %w", err)
	}

	hub := &Hub{
		socketPath:   config.SocketPath,
		logger:       config.Logger,
		allowedUID:   os.Getuid(),
		writeTimeout: config.WriteTimeout,
		listener:     listener,
		lines:        make(chan []byte),
		routes:       make(map[string]*hubConnection),
		connections:  make(map[*hubConnection]struct{}),
		closed:       make(chan struct{}),
	}

	go func() {
		select {
		case <-ctx.Done():
			hub.Close()
		case <-hub.closed:
		}
	}()
	go hub.acceptLoop()

	hub.logger.Info("hook hub listening", "path", config.SocketPath)
	return hub, nil
}

// SocketPath returns the path the hub listens on.
func (h *Hub) SocketPath() string {
	return h.socketPath
}

// ReadLine returns the next line received on any connection.
func (h *Hub) ReadLine() ([]byte, error) {
	select {
	case line := <-h.lines:
		return line, nil
	case <-h.closed:
		return nil, ErrClosed
	}
}

// WriteLine routes line to the connection that sent the request with
// the same request_id. Lines for requests whose forwarder has gone away
// are dropped; only a closed hub is an error.
func (h *Hub) WriteLine(line []byte) error {
	select {
	case <-h.closed:
		return ErrClosed
	default:
	}

	requestID := envelope.PeekRequestID(line)
	h.mu.Lock()
	target, ok := h.routes[requestID]
	delete(h.routes, requestID)
	h.mu.Unlock()
	if !ok {
		h.logger.Debug("dropping reply for departed forwarder", "request_id", requestID)
		return nil
	}

	target.writeMu.Lock()
	defer target.writeMu.Unlock()
	target.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	if _, err := target.conn.Write(terminate(line)); err != nil {
		h.logger.Warn("reply not delivered", "request_id", requestID, "error", err)
	}
	return nil
}

// Close stops accepting connections, closes every open connection,
// and removes the socket file. Safe to call more than once.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		close(h.closed)
		h.listener.Close()

		h.mu.Lock()
		for connection := range h.connections {
			connection.conn.Close()
		}
		h.mu.Unlock()

		h.handlers.Wait()
		os.Remove(h.socketPath)
	})
	return nil
}

func (h *Hub) acceptLoop() {
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			select {
			case <-h.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			h.logger.Error("accept failed", "error", err)
			continue
		}

		unixConn, ok := conn.(*net.UnixConn)
		if !ok {
			conn.Close()
			continue
		}
		if err := checkPeer(unixConn, h.allowedUID); err != nil {
			h.logger.Warn("rejecting hook connection", "error", err)
			conn.Close()
			continue
		}

		connection := &hubConnection{conn: unixConn}
		h.mu.Lock()
		select {
		case <-h.closed:
			h.mu.Unlock()
			conn.Close()
			return
		default:
		}
		h.connections[connection] = struct{}{}
		h.handlers.Add(1)
		h.mu.Unlock()

		go func() {
			defer h.handlers.Done()
			h.serveConnection(connection)
		}()
	}
}

// serveConnection forwards every line from one forwarder until it
// disconnects, then drops any routes still pointing at it.
func (h *Hub) serveConnection(connection *hubConnection) {
	defer func() {
		connection.conn.Close()
		h.mu.Lock()
		delete(h.connections, connection)
		for requestID, target := range h.routes {
			if target == connection {
				delete(h.routes, requestID)
			}
		}
		h.mu.Unlock()
	}()

	stream := NewStreamChannel(connection.conn)
	for {
		line, err := stream.ReadLine()
		if err != nil {
			return
		}

		if requestID := envelope.PeekRequestID(line); requestID != "" {
			h.mu.Lock()
			if _, taken := h.routes[requestID]; taken {
				h.logger.Warn("request id already in flight", "request_id", requestID)
			} else {
				h.routes[requestID] = connection
			}
			h.mu.Unlock()
		}

		select {
		case h.lines <- line:
		case <-h.closed:
			return
		}
	}
}
