// Package types defines the wire types of the Command Center REST API.
//
// # Design Principles
//
// 1. Simplicity: Types mirror the JSON the server returns, no client-side enrichment
// 2. Serialization: Field names follow the server's camelCase JSON keys
// 3. Immutability: Values are decoded once per run and never mutated locally
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// =============================================================================
// SERVER
// =============================================================================

// ServerInfo is returned by a GET on the API root.
type ServerInfo struct {
	ServerVersion string `json:"serverVersion"`
	APIVersion    string `json:"apiVersion,omitempty"`
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller is a managed agent host whose version is tracked by the server.
type Controller struct {
	ID         string `json:"id"`
	ServerName string `json:"serverName"`
	Version    string `json:"version"`
	Available  bool   `json:"available"`
}

// ControllerPage is one page of the controller listing.
type ControllerPage struct {
	Embedded struct {
		Controllers []Controller `json:"controller"`
	} `json:"_embedded"`
}

// =============================================================================
// UPGRADE TASK
// =============================================================================

// TaskStatus is the server-side state of an upgrade task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
)

// IsTerminal reports whether the status will not change any more.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskID identifies an upgrade task. The server has been seen returning it
// both as a JSON number and as a numeric string.
type TaskID int64

// UnmarshalJSON accepts 42 and "42".
func (id *TaskID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("task id is null")
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid task id %q: %w", string(data), err)
	}
	*id = TaskID(n)
	return nil
}

func (id TaskID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// CreateUpgradeTaskRequest is the body posted to schedule an upgrade.
type CreateUpgradeTaskRequest struct {
	Controller string `json:"controller"`
}

// ControllerRef builds the resource reference the server expects for a controller.
func ControllerRef(controllerID string) string {
	return "controllers/" + controllerID
}

// UpgradeTask is the status document of an upgrade task.
type UpgradeTask struct {
	ID                  TaskID          `json:"id"`
	Status              TaskStatus      `json:"status"`
	CurrentVersion      string          `json:"currentVersion,omitempty"`
	CreationTimestamp   *time.Time      `json:"creationTimestamp,omitempty"`
	CompletionTimestamp *time.Time      `json:"completionTimestamp,omitempty"`
	UpgradeErrors       json.RawMessage `json:"upgradeErrors,omitempty"`
}

// UpgradeTaskPage is one page of the upgrade task listing.
type UpgradeTaskPage struct {
	Embedded struct {
		Tasks []UpgradeTask `json:"controllerUpgradeTask"`
	} `json:"_embedded"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorPayload is the body the server returns on failed requests.
type ErrorPayload struct {
	ErrorMessage string `json:"errorMessage"`
	ErrorCode    string `json:"errorCode"`
}

// UnmarshalJSON tolerates numeric error codes.
func (p *ErrorPayload) UnmarshalJSON(data []byte) error {
	var raw struct {
		ErrorMessage string          `json:"errorMessage"`
		ErrorCode    json.RawMessage `json:"errorCode"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.ErrorMessage = raw.ErrorMessage
	p.ErrorCode = ""
	if len(raw.ErrorCode) > 0 && !bytes.Equal(raw.ErrorCode, []byte("null")) {
		var s string
		if err := json.Unmarshal(raw.ErrorCode, &s); err == nil {
			p.ErrorCode = s
		} else {
			p.ErrorCode = string(raw.ErrorCode)
		}
	}
	return nil
}
