// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/athena-flow/athena/lib/feed"
	"github.com/athena-flow/athena/lib/hookruntime"
	"github.com/athena-flow/athena/lib/permission"
	"github.com/athena-flow/athena/lib/sessionstore"
	"github.com/athena-flow/athena/lib/supervisor"
)

const inputPreviewWidth = 60

var (
	timeStyle  = lipgloss.NewStyle().Faint(true)
	seqStyle   = lipgloss.NewStyle().Faint(true)
	actorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	refStyle   = lipgloss.NewStyle().Bold(true)

	levelStyles = map[feed.Level]lipgloss.Style{
		feed.LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		feed.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		feed.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
		feed.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}

	tierStyles = map[permission.RiskTier]lipgloss.Style{
		permission.RiskRead:        lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		permission.RiskModerate:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		permission.RiskWrite:       lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		permission.RiskDestructive: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
)

// renderEvent formats one feed event as a single terminal line.
func renderEvent(event feed.Event) string {
	level, ok := levelStyles[event.Level]
	if !ok {
		level = levelStyles[feed.LevelInfo]
	}
	return fmt.Sprintf("%s %s %s %s %s",
		timeStyle.Render(event.Timestamp.Local().Format("15:04:05")),
		seqStyle.Render(fmt.Sprintf("#%d", event.Seq)),
		level.Render(fmt.Sprintf("%-5s", strings.ToUpper(string(event.Level)))),
		actorStyle.Render(event.ActorID),
		event.Title,
	)
}

// renderPending formats the pending list with 1-based positions.
func renderPending(pending []supervisor.PendingRequest) []string {
	if len(pending) == 0 {
		return []string{"no pending requests"}
	}
	lines := make([]string, 0, len(pending))
	for index, request := range pending {
		lines = append(lines, renderRequest(index+1, request))
	}
	return lines
}

func renderRequest(position int, request supervisor.PendingRequest) string {
	tier, ok := tierStyles[request.RiskTier]
	if !ok {
		tier = tierStyles[permission.RiskWrite]
	}
	line := fmt.Sprintf("%s %s %s %s",
		refStyle.Render(fmt.Sprintf("[%d]", position)),
		request.ToolName,
		tier.Render(request.RiskTier.String()),
		previewInput(request.ToolInput),
	)
	return strings.TrimRight(line, " ") + " " + seqStyle.Render(shortID(request.EventID))
}

// previewInput compacts a tool input to one line of bounded width.
func previewInput(input []byte) string {
	if len(input) == 0 {
		return ""
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, input); err != nil {
		return ansi.Truncate(ansi.Strip(string(input)), inputPreviewWidth, "…")
	}
	return ansi.Truncate(compact.String(), inputPreviewWidth, "…")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func renderStatus(status hookruntime.Status) string {
	if status == hookruntime.StatusRunning {
		return levelStyles[feed.LevelInfo].Render("listening for hook events")
	}
	return levelStyles[feed.LevelWarn].Render("hook runtime stopped")
}

func renderSummary(summary supervisor.Summary) []string {
	run := summary.RunID
	if run == "" {
		run = "none"
	}
	lines := []string{
		renderStatus(summary.Status),
		fmt.Sprintf("run %s; %d pending", run, summary.Pending),
		"actors: " + strings.Join(summary.Actors, ", "),
	}
	if len(summary.Subagents) > 0 {
		lines = append(lines, "subagents seen: "+strings.Join(summary.Subagents, ", "))
	}
	if len(summary.OpenTodos) == 0 {
		return append(lines, "no open todos")
	}
	lines = append(lines, "open todos:")
	for _, todo := range summary.OpenTodos {
		lines = append(lines, "  - "+todo)
	}
	return lines
}

func renderRuntimeRecord(record sessionstore.RuntimeRecord) []string {
	header := fmt.Sprintf("%s %s %s",
		timeStyle.Render(record.Timestamp.Local().Format("15:04:05")),
		refStyle.Render(string(record.HookName)),
		record.ID,
	)
	var indented bytes.Buffer
	if err := json.Indent(&indented, record.Payload, "", "  "); err != nil {
		return []string{header, string(record.Payload)}
	}
	return append([]string{header}, strings.Split(indented.String(), "\n")...)
}
