// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries envelope lines between hook forwarders and
// the supervisor runtime.
//
// Every implementation satisfies the runtime's Channel contract:
// ReadLine returns one newline-delimited record at a time, WriteLine
// sends one record, and any ReadLine error ends the channel.
//
// [StreamChannel] wraps a single duplex stream (a pipe pair or one
// socket connection). [Hub] listens on a Unix socket and presents every
// short-lived forwarder connection as one merged channel: inbound lines
// are delivered in the order the hub receives them, and each outbound
// line is routed back to the connection that sent the request with the
// same request_id. [Dial] is the forwarder side.
//
// Only processes running as the supervisor's uid may connect to a hub;
// the peer's credentials are read with SO_PEERCRED on accept.
package transport
