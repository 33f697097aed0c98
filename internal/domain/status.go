package domain

import (
	"fmt"
	"time"
)

// WorkloadState is the coarse state reported to the operator.
type WorkloadState string

const (
	StateMaintenance WorkloadState = "maintenance"
	StateActive      WorkloadState = "active"
	StateBlocked     WorkloadState = "blocked"
	StateWaiting     WorkloadState = "waiting"
)

// Status is the last known outcome of a reconciliation step.
type Status struct {
	State     WorkloadState `json:"state"`
	Message   string        `json:"message"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func Maintenance(msg string) Status { return Status{State: StateMaintenance, Message: msg} }
func Blocked(msg string) Status     { return Status{State: StateBlocked, Message: msg} }
func Waiting(msg string) Status     { return Status{State: StateWaiting, Message: msg} }

// Serving is the active status for the web service listening on port.
func Serving(port string) Status {
	return Status{State: StateActive, Message: fmt.Sprintf("Serving on port %s", port)}
}

func (s Status) String() string {
	return fmt.Sprintf("%s: %s", s.State, s.Message)
}
