package scan

import (
	"fmt"
	"time"

	"github.com/unicro/uniscout/internal/radio"
	"github.com/unicro/uniscout/internal/registry"
)

// State is the orchestrator lifecycle state.
type State int

// Orchestrator states.
const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText renders the state name for JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// canStart reports whether Start is accepted in state s. A failed run is
// acknowledged with Stop, which moves it to Stopped.
func (s State) canStart() bool {
	return s == StateIdle || s == StateStopped
}

// TechnologyStatus is the per-technology outcome of a run.
type TechnologyStatus struct {
	Technology radio.Technology    `json:"technology"`
	State      radio.SessionState  `json:"state"`
	Reason     radio.FailureReason `json:"reason,omitempty"`
	Error      string              `json:"error,omitempty"`
	Progress   float64             `json:"progress"`
}

// Run describes one orchestration run.
type Run struct {
	ID        string             `json:"id"`
	Scope     radio.Scope        `json:"scope"`
	StartedAt time.Time          `json:"startedAt"`
	Statuses  []TechnologyStatus `json:"statuses"`
}

// Update is one observation of the orchestrator, emitted on every registry
// mutation, progress change and state transition.
type Update struct {
	RunID    string                   `json:"runId"`
	Seq      uint64                   `json:"seq"`
	State    State                    `json:"state"`
	Progress float64                  `json:"progress"`
	Devices  []registry.Device        `json:"devices"`
	Statuses []TechnologyStatus       `json:"statuses"`
	Counts   map[radio.Technology]int `json:"counts"`
	At       time.Time                `json:"at"`
}

// Status summarizes the orchestrator for status queries.
type Status struct {
	State    State              `json:"state"`
	Run      *Run               `json:"run,omitempty"`
	Progress float64            `json:"progress"`
	Statuses []TechnologyStatus `json:"statuses,omitempty"`
	Devices  int                `json:"devices"`
}
