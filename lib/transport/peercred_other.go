// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package transport

import "net"

// checkPeer relies on the socket file's 0600 mode where SO_PEERCRED is
// unavailable.
func checkPeer(conn *net.UnixConn, allowedUID int) error {
	return nil
}
