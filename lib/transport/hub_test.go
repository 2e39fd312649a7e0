// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/athena-flow/athena/lib/envelope"
	"github.com/athena-flow/athena/lib/testutil"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "hooks.sock")
	hub, err := Listen(context.Background(), HubConfig{SocketPath: socketPath, Logger: testutil.Logger(t)})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { hub.Close() })
	return hub
}

func dialHub(t *testing.T, hub *Hub) *StreamChannel {
	t.Helper()
	client, err := Dial(context.Background(), hub.SocketPath())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func inbound(t *testing.T, requestID string) []byte {
	t.Helper()
	line, err := envelope.EncodeInbound(envelope.Inbound{
		RequestID:     requestID,
		Timestamp:     1,
		HookEventName: "PreToolUse",
		Payload:       []byte(`{"tool_name":"Bash"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	return line
}

func reply(t *testing.T, requestID string) []byte {
	t.Helper()
	line, err := envelope.EncodeOutbound(envelope.Outbound{RequestID: requestID, Timestamp: 2, Payload: envelope.Passthrough()})
	if err != nil {
		t.Fatal(err)
	}
	return line
}

func readAsync(channel interface{ ReadLine() ([]byte, error) }) <-chan []byte {
	lines := make(chan []byte, 1)
	go func() {
		line, err := channel.ReadLine()
		if err != nil {
			close(lines)
			return
		}
		lines <- line
	}()
	return lines
}

func TestHubRoutesRepliesByRequestID(t *testing.T) {
	hub := startHub(t)
	first := dialHub(t, hub)
	second := dialHub(t, hub)

	if err := first.WriteLine(inbound(t, "A")); err != nil {
		t.Fatal(err)
	}
	lineA := testutil.RequireReceive(t, readAsync(hub), testutil.DefaultTimeout, "hub read A")
	if err := second.WriteLine(inbound(t, "B")); err != nil {
		t.Fatal(err)
	}
	lineB := testutil.RequireReceive(t, readAsync(hub), testutil.DefaultTimeout, "hub read B")

	if envelope.PeekRequestID(lineA) != "A" || envelope.PeekRequestID(lineB) != "B" {
		t.Fatalf("hub lines = %s / %s", lineA, lineB)
	}

	secondReplies := readAsync(second)
	firstReplies := readAsync(first)

	if err := hub.WriteLine(reply(t, "B")); err != nil {
		t.Fatalf("WriteLine(B): %v", err)
	}
	gotB := testutil.RequireReceive(t, secondReplies, testutil.DefaultTimeout, "reply B")
	if envelope.PeekRequestID(gotB) != "B" {
		t.Fatalf("second forwarder received %s", gotB)
	}

	if err := hub.WriteLine(reply(t, "A")); err != nil {
		t.Fatalf("WriteLine(A): %v", err)
	}
	gotA := testutil.RequireReceive(t, firstReplies, testutil.DefaultTimeout, "reply A")
	if envelope.PeekRequestID(gotA) != "A" {
		t.Fatalf("first forwarder received %s", gotA)
	}
}

func TestHubDropsRepliesForUnknownRequests(t *testing.T) {
	hub := startHub(t)
	if err := hub.WriteLine(reply(t, "nobody")); err != nil {
		t.Fatalf("WriteLine for unrouted request = %v, want nil", err)
	}
}

func TestHubCloseUnblocksReaderAndRemovesSocket(t *testing.T) {
	hub := startHub(t)
	client := dialHub(t, hub)

	pending := readAsync(hub)
	if err := hub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-pending; ok {
		t.Fatal("ReadLine returned a line after Close")
	}
	if err := hub.WriteLine(reply(t, "x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("WriteLine after Close = %v, want ErrClosed", err)
	}
	if _, err := os.Stat(hub.SocketPath()); !os.IsNotExist(err) {
		t.Fatalf("socket still present after Close: %v", err)
	}

	if _, ok := <-readAsync(client); ok {
		t.Fatal("client read a line after hub Close")
	}
}

func TestHubContextCancelCloses(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "hooks.sock")
	ctx, cancel := context.WithCancel(context.Background())
	hub, err := Listen(ctx, HubConfig{SocketPath: socketPath})
	if err != nil {
		t.Fatal(err)
	}
	pending := readAsync(hub)
	cancel()
	if _, ok := <-pending; ok {
		t.Fatal("ReadLine returned a line after cancel")
	}
}

func TestHubReplacesStaleSocket(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "hooks.sock")
	if err := os.WriteFile(socketPath, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	hub, err := Listen(context.Background(), HubConfig{SocketPath: socketPath})
	if err != nil {
		t.Fatalf("Listen over stale file: %v", err)
	}
	hub.Close()
}

func TestDialMissingSocket(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "absent.sock")
	if _, err := Dial(context.Background(), socketPath); err == nil {
		t.Fatal("Dial succeeded without a listener")
	}
}
