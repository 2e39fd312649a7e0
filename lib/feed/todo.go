// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package feed

import (
	"encoding/json"
	"fmt"
)

const todoWriteTool = "TodoWrite"

const todoCompleted = "completed"

type todoItem struct {
	key      string
	content  string
	status   string
	priority string
}

// parseTodos reads the full task list from a TodoWrite tool input.
// Items are keyed by id when present, otherwise by content.
func parseTodos(input json.RawMessage) ([]todoItem, error) {
	if len(input) == 0 {
		return nil, nil
	}
	var write struct {
		Todos []struct {
			ID       string `json:"id"`
			Content  string `json:"content"`
			Status   string `json:"status"`
			Priority string `json:"priority"`
		} `json:"todos"`
	}
	if err := json.Unmarshal(input, &write); err != nil {
		return nil, fmt.Errorf("decoding %s input: %w", todoWriteTool, err)
	}
	items := make([]todoItem, 0, len(write.Todos))
	for _, todo := range write.Todos {
		key := todo.ID
		if key == "" {
			key = todo.Content
		}
		items = append(items, todoItem{key: key, content: todo.Content, status: todo.Status, priority: todo.Priority})
	}
	return items, nil
}

// diffTodos emits todo events for the difference between the open task
// list and the one in a TodoWrite call, then replaces the open list on
// commit. Items dropped from the list emit nothing.
func (tx *transaction) diffTodos(input json.RawMessage, pre Event) error {
	next, err := parseTodos(input)
	if err != nil {
		return err
	}
	m := tx.mapper
	previous := make(map[string]todoItem, len(m.todos))
	for _, item := range m.todos {
		previous[item.key] = item
	}

	cause := &Cause{ParentEventID: pre.EventID, HookRequestID: pre.RuntimeEventID}
	for _, item := range next {
		data := TodoData{TodoID: item.key, Content: item.content, Status: item.status, Priority: item.priority}
		old, existed := previous[item.key]
		switch {
		case !existed:
			tx.emit(KindTodoAdd, LevelInfo, pre.ActorID, &TodoAddData{TodoData: data}, cause)
		case old.status != item.status && item.status == todoCompleted:
			tx.emit(KindTodoDone, LevelInfo, pre.ActorID, &TodoDoneData{TodoData: data}, cause)
		case old.status != item.status || old.content != item.content:
			tx.emit(KindTodoUpdate, LevelInfo, pre.ActorID, &TodoUpdateData{TodoData: data, PreviousStatus: old.status}, cause)
		}
	}
	tx.onCommit(func() { m.todos = next })
	return nil
}

// OpenTodos returns the contents of the current task list items that
// are not completed, in list order.
func (m *Mapper) OpenTodos() []string {
	var open []string
	for _, item := range m.todos {
		if item.status != todoCompleted {
			open = append(open, item.content)
		}
	}
	return open
}
