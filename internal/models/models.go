// Package models defines the persisted domain types for antos.
package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// ProcessID identifies a process for its whole lifetime. IDs are never reused.
type ProcessID int64

func (id ProcessID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseProcessID parses the decimal form printed by String.
func ParseProcessID(s string) (ProcessID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return ProcessID(n), nil
}

// ProcessStatus represents the scheduling state of a process.
type ProcessStatus string

const (
	ProcessStatusRunning   ProcessStatus = "running"
	ProcessStatusSuspended ProcessStatus = "suspended"
)

// Dependencies lists what must be present and running before a process may run.
type Dependencies struct {
	Processes []ProcessID `json:"processes,omitempty"`
	Types     []string    `json:"types,omitempty"`
}

// Empty reports whether no dependency is declared.
func (d Dependencies) Empty() bool {
	return len(d.Processes) == 0 && len(d.Types) == 0
}

// ProcessRecord is the serialized form of a process.
type ProcessRecord struct {
	Type       string          `json:"type"`
	ID         ProcessID       `json:"id"`
	LaunchTime uint64          `json:"launch_time"`
	Status     ProcessStatus   `json:"status,omitempty"`
	DependsOn  Dependencies    `json:"depends_on"`
	State      json.RawMessage `json:"state,omitempty"`
}

// TypeTag returns the tag used to look up the record's decoder.
func (r ProcessRecord) TypeTag() string {
	return r.Type
}

// AgentBinding is the persisted pool entry for one agent.
type AgentBinding struct {
	AgentID     string          `json:"agent_id"`
	Group       string          `json:"group"`
	HomeProcess ProcessID       `json:"home_process"`
	Runner      string          `json:"runner"`
	Priority    string          `json:"priority"`
	Task        json.RawMessage `json:"task,omitempty"`
	LastStatus  string          `json:"last_status,omitempty"`
	LastReason  string          `json:"last_reason,omitempty"`
	AssignedAt  uint64          `json:"assigned_at"`
}

// Snapshot is everything the kernel needs to resume on the next tick.
type Snapshot struct {
	Tick      uint64          `json:"tick"`
	NextID    ProcessID       `json:"next_id"`
	Processes []ProcessRecord `json:"processes"`
	Bindings  []AgentBinding  `json:"bindings,omitempty"`
}

// Decision is an audit record of a kernel decision.
type Decision struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	ProcessID  ProcessID `json:"process_id,omitempty"`
	Tick       uint64    `json:"tick"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// TickSummary records what happened during one tick.
type TickSummary struct {
	RunID     string        `json:"run_id"`
	Tick      uint64        `json:"tick"`
	Ran       int           `json:"ran"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Tasks     int           `json:"tasks"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}
