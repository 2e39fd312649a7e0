// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

// Package hookruntime owns the supervisor side of the hook channel.
//
// A [Runtime] reads envelope lines from a [Channel], turns each valid
// line into an [Event], and delivers it synchronously, in receipt
// order, to every registered handler. Handlers that panic are recovered
// and logged; delivery continues with the next handler and the next
// line.
//
// Hooks that let the agent wait for an answer (PreToolUse,
// PermissionRequest, Stop, SubagentStop) are marked with
// Interaction.ExpectsDecision and remain open until [Runtime.SendDecision]
// answers them or the runtime stops. Every other hook is acknowledged
// with a passthrough reply as soon as the handlers return, so the
// hook command never blocks on events nobody decides.
//
// The runtime enforces no timeouts. When it stops, either explicitly or
// because the channel failed, open requests are dropped without
// synthesizing any decision and become unanswerable; the owning layer
// treats them as invalid. Status changes are reported through
// [Runtime.OnStatus], never as errors from a blocking call.
package hookruntime
