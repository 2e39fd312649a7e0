// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/athena-flow/athena/lib/envelope"
)

// ErrClosed is returned by channel operations after Close.
var ErrClosed = errors.New("transport: channel closed")

// StreamChannel frames one duplex byte stream as newline-delimited
// lines. Lines longer than envelope.MaxLineSize are discarded whole and
// reading continues with the next line. Blank lines are skipped.
type StreamChannel struct {
	stream io.ReadWriteCloser
	reader *bufio.Reader

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
	closed    bool
}

// NewStreamChannel wraps stream. The channel owns stream and closes it
// on Close.
func NewStreamChannel(stream io.ReadWriteCloser) *StreamChannel {
	return &StreamChannel{
		stream: stream,
		reader: bufio.NewReaderSize(stream, 64*1024),
	}
}

// ReadLine returns the next line without its terminator. A final line
// without a trailing newline is returned before io.EOF.
func (c *StreamChannel) ReadLine() ([]byte, error) {
	for {
		line, err := readBoundedLine(c.reader, envelope.MaxLineSize)
		if errors.Is(err, errLineTooLong) || (err == nil && len(line) == 0) {
			continue
		}
		if err != nil {
			if c.isClosed() {
				return nil, ErrClosed
			}
			return nil, err
		}
		return line, nil
	}
}

// WriteLine writes line, appending a newline if it has none.
func (c *StreamChannel) WriteLine(line []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stream.Write(terminate(line)); err != nil {
		return fmt.Errorf("transport: writing line: %w", err)
	}
	return nil
}

// Close closes the underlying stream. A blocked ReadLine returns
// ErrClosed. Safe to call more than once.
func (c *StreamChannel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.closeErr = c.stream.Close()
	})
	return c.closeErr
}

func (c *StreamChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

var errLineTooLong = errors.New("transport: line exceeds maximum size")

// readBoundedLine reads through the next newline. A line over limit is
// consumed entirely and reported as errLineTooLong.
func readBoundedLine(reader *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		fragment, err := reader.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(fragment) > limit+1 {
				tooLong = true
				line = nil
			} else {
				line = append(line, fragment...)
			}
		}
		switch {
		case err == nil:
			if tooLong {
				return nil, errLineTooLong
			}
			return bytes.TrimRight(line, "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0 && !tooLong:
			return bytes.TrimRight(line, "\r\n"), nil
		default:
			return nil, err
		}
	}
}

func terminate(line []byte) []byte {
	if len(line) > 0 && line[len(line)-1] == '\n' {
		return line
	}
	terminated := make([]byte, len(line)+1)
	copy(terminated, line)
	terminated[len(line)] = '\n'
	return terminated
}
