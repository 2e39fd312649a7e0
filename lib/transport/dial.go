// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"net"
)

// Dial connects to a hub. ctx bounds only the connect; close the
// returned channel to abandon a pending read.
func Dial(ctx context.Context, socketPath string) (*StreamChannel, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("transport: connecting to %s: %w", socketPath, err)
	}
	return NewStreamChannel(conn), nil
}
