// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package hookruntime

import (
	"errors"
	"io"
	"sync"
)

// fakeChannel is an in-memory Channel. Tests push inbound lines with
// send and read replies from written.
type fakeChannel struct {
	inbound chan []byte
	written chan []byte

	mu       sync.Mutex
	closed   bool
	closedCh chan struct{}
	writeErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		inbound:  make(chan []byte, 16),
		written:  make(chan []byte, 16),
		closedCh: make(chan struct{}),
	}
}

func (c *fakeChannel) send(line string) {
	c.inbound <- []byte(line)
}

// hangUp simulates the peer closing its end.
func (c *fakeChannel) hangUp() {
	close(c.inbound)
}

func (c *fakeChannel) failWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeChannel) ReadLine() ([]byte, error) {
	select {
	case line, ok := <-c.inbound:
		if !ok {
			return nil, io.EOF
		}
		return line, nil
	case <-c.closedCh:
		return nil, errors.New("channel closed")
	}
}

func (c *fakeChannel) WriteLine(line []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("channel closed")
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written <- append([]byte(nil), line...)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
	return nil
}
