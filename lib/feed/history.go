// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package feed

import "slices"

// History is the summary of a stored session that Bootstrap needs.
type History struct {
	LastSeq int64

	// RunOrdinals maps each adapter session to the highest run ordinal
	// it has used.
	RunOrdinals map[string]int

	SeenSubagents []string

	// RuntimeEventIDs lists every runtime event already recorded, so
	// that a replayed hook is not mapped twice.
	RuntimeEventIDs []string
}

// Fold summarizes stored feed events and runtime event ids into a
// History. Only terminal bookkeeping is reconstructed; open runs,
// actors, and pending requests are not.
func Fold(events []Event, runtimeEventIDs []string) History {
	history := History{
		RunOrdinals:     make(map[string]int),
		RuntimeEventIDs: slices.Clone(runtimeEventIDs),
	}
	seen := make(map[string]bool)
	for _, event := range events {
		if event.Seq > history.LastSeq {
			history.LastSeq = event.Seq
		}
		switch data := event.Data.(type) {
		case *RunStartData:
			if data.Ordinal > history.RunOrdinals[data.AdapterSessionID] {
				history.RunOrdinals[data.AdapterSessionID] = data.Ordinal
			}
		case *SubagentStartData:
			if data.AgentID != "" && !seen[data.AgentID] {
				seen[data.AgentID] = true
				history.SeenSubagents = append(history.SeenSubagents, data.AgentID)
			}
		}
	}
	return history
}
