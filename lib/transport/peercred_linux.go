// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// checkPeer rejects connections from processes not running as
// allowedUID.
func checkPeer(conn *net.UnixConn, allowedUID int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("accessing socket: %w", err)
	}
	var credentials *unix.Ucred
	var credentialErr error
	if err := raw.Control(func(fd uintptr) {
		credentials, credentialErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return fmt.Errorf("reading peer credentials: %w", err)
	}
	if credentialErr != nil {
		return fmt.Errorf("reading peer credentials: %w", credentialErr)
	}
	if int(credentials.Uid) != allowedUID {
		return fmt.Errorf("peer pid %d runs as uid %d, want %d", credentials.Pid, credentials.Uid, allowedUID)
	}
	return nil
}
