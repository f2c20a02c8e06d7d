// Package upgrade finds controllers running an outdated version and drives
// their upgrade tasks to completion.
//
// A run is strictly sequential:
//
//  1. Prepare: resolve the target version, fetch the inventory, filter it
//  2. List: print the outdated set, or
//  3. Issue: submit one upgrade task per selected controller
//  4. Poll: watch the issued tasks until all are terminal or the wait budget ends
package upgrade

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pilot-net/ctrl-upgrade/pkg/types"
)

// Task is one issued upgrade: the controller it targets and the server-side
// task tracking it.
type Task struct {
	ControllerID   string           `json:"controller_id"`
	ControllerName string           `json:"controller_name"`
	TaskID         types.TaskID     `json:"task_id"`
	Status         types.TaskStatus `json:"status"`
	Errors         json.RawMessage  `json:"errors,omitempty"`
}

// Session is the state of a single run.
type Session struct {
	TargetVersion string
	Inventory     []types.Controller
	Outdated      []types.Controller
	Tasks         []*Task

	reported map[types.TaskID]bool
}

// NewSession builds a session from a resolved version and inventory.
func NewSession(target string, inventory []types.Controller) *Session {
	return &Session{
		TargetVersion: target,
		Inventory:     inventory,
		Outdated:      Outdated(inventory, target),
		reported:      make(map[types.TaskID]bool),
	}
}

// addTask appends a freshly issued task in PENDING state.
func (s *Session) addTask(controllerID, name string, id types.TaskID) *Task {
	t := &Task{
		ControllerID:   controllerID,
		ControllerName: name,
		TaskID:         id,
		Status:         types.TaskPending,
	}
	s.Tasks = append(s.Tasks, t)
	return t
}

// markReported records id as terminal. It returns false if id was already
// recorded, so each task is reported at most once.
func (s *Session) markReported(id types.TaskID) bool {
	if s.reported[id] {
		return false
	}
	s.reported[id] = true
	return true
}

// Reported reports whether the task id has been recorded terminal.
func (s *Session) Reported(id types.TaskID) bool {
	return s.reported[id]
}

// AllTerminal reports whether every issued task reached a terminal state.
func (s *Session) AllTerminal() bool {
	for _, t := range s.Tasks {
		if !t.Status.IsTerminal() {
			return false
		}
	}
	return len(s.Tasks) > 0
}

// Pending returns the tasks not yet terminal.
func (s *Session) Pending() []*Task {
	var out []*Task
	for _, t := range s.Tasks {
		if !t.Status.IsTerminal() {
			out = append(out, t)
		}
	}
	return out
}

// Failed returns the tasks that ended in FAILED.
func (s *Session) Failed() []*Task {
	var out []*Task
	for _, t := range s.Tasks {
		if t.Status == types.TaskFailed {
			out = append(out, t)
		}
	}
	return out
}

// controllerName looks up a display name in the full inventory.
func (s *Session) controllerName(id string) (string, bool) {
	for _, c := range s.Inventory {
		if c.ID == id {
			return c.ServerName, true
		}
	}
	return "", false
}

func (s *Session) isOutdated(id string) bool {
	for _, c := range s.Outdated {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Outdated returns the controllers whose version differs from target and
// which are available, preserving inventory order.
func Outdated(inventory []types.Controller, target string) []types.Controller {
	var out []types.Controller
	for _, c := range inventory {
		if c.Version != target && c.Available {
			out = append(out, c)
		}
	}
	return out
}

// Selector chooses which controllers to upgrade.
type Selector struct {
	All bool
	IDs []string
}

// ParseSelector parses "*" or a comma-separated list of controller ids.
// Blank entries are dropped and duplicates keep their first position.
func ParseSelector(s string) (Selector, error) {
	s = strings.TrimSpace(s)
	if s == "*" {
		return Selector{All: true}, nil
	}

	var sel Selector
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		id := strings.TrimSpace(part)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		sel.IDs = append(sel.IDs, id)
	}
	if len(sel.IDs) == 0 {
		return Selector{}, fmt.Errorf("upgrade selector %q names no controllers (use \"*\" or a comma-separated id list)", s)
	}
	return sel, nil
}

// renderUpgradeErrors formats the upgradeErrors payload for display,
// falling back to "[]" when it is absent or not valid JSON.
func renderUpgradeErrors(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || !json.Valid([]byte(trimmed)) {
		return "[]"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(trimmed)); err != nil {
		return "[]"
	}
	return buf.String()
}
