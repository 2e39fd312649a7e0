// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Athena's CBOR encoding configuration.
//
// JSON is the wire format between the agent and the supervisor (the
// envelope protocol) and the format of feed event data in the session
// store, because both are read by external tooling. Raw hook payloads
// are captured verbatim and never read back by the feed, so the store
// keeps them as canonical CBOR: smaller than JSON, and the Core
// Deterministic Encoding (RFC 8949 §4.2) means two hook payloads with
// the same content produce identical bytes regardless of the key order
// the agent emitted. The session store digests those bytes to detect
// duplicate deliveries.
//
//	blob, err := codec.FromJSON(payload)
//	payload, err = codec.ToJSON(blob)
package codec
