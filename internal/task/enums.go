package task

import (
	"encoding/json"
	"fmt"
)

// Status represents the scheduling state of a task record.
type Status int

const (
	StatusPending    Status = iota // Registered, not yet matched to an agent
	StatusReady                    // Dependencies satisfied, awaiting scheduling
	StatusBlocked                  // At least one blocker is not done
	StatusAssigned                 // Claimed by exactly one agent
	StatusInProgress               // Agent reported work started
	StatusDone                     // Finished successfully
	StatusFailed                   // Finished with an error
	StatusEscalated                // Handed to a human or higher tier
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusBlocked:
		return "blocked"
	case StatusAssigned:
		return "assigned"
	case StatusInProgress:
		return "in_progress"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	case StatusEscalated:
		return "escalated"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus maps a wire name to a Status. Unknown names are rejected
// rather than defaulted.
func ParseStatus(name string) (Status, error) {
	switch name {
	case "pending":
		return StatusPending, nil
	case "ready":
		return StatusReady, nil
	case "blocked":
		return StatusBlocked, nil
	case "assigned":
		return StatusAssigned, nil
	case "in_progress":
		return StatusInProgress, nil
	case "done":
		return StatusDone, nil
	case "failed":
		return StatusFailed, nil
	case "escalated":
		return StatusEscalated, nil
	default:
		return 0, fmt.Errorf("unknown task status %q", name)
	}
}

// Valid reports whether the status is one of the defined values.
func (s Status) Valid() bool {
	return s >= StatusPending && s <= StatusEscalated
}

// Schedulable reports whether a record in this status may still be offered
// to the scheduler.
func (s Status) Schedulable() bool {
	switch s {
	case StatusPending, StatusReady, StatusBlocked:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusEscalated:
		return true
	default:
		return false
	}
}

// MarshalJSON encodes the status as its wire name.
func (s Status) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot encode invalid task status %d", int(s))
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a wire name, rejecting unknown values.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("task status must be a string: %w", err)
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Tier is the capability class shared by tasks and agents. An agent only
// runs tasks of its own tier on the default scheduling path.
type Tier int

const (
	TierPlanning Tier = iota // Decomposition and estimation work
	TierCode                 // Implementation work
	TierReview               // Review and verification work
	TierDeploy               // Release and rollout work
)

// String returns the wire name of the tier.
func (t Tier) String() string {
	switch t {
	case TierPlanning:
		return "planning"
	case TierCode:
		return "code"
	case TierReview:
		return "review"
	case TierDeploy:
		return "deploy"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier maps a wire name to a Tier. Unknown names are rejected.
func ParseTier(name string) (Tier, error) {
	switch name {
	case "planning":
		return TierPlanning, nil
	case "code":
		return TierCode, nil
	case "review":
		return TierReview, nil
	case "deploy":
		return TierDeploy, nil
	default:
		return 0, fmt.Errorf("unknown tier %q", name)
	}
}

// Valid reports whether the tier is one of the defined values.
func (t Tier) Valid() bool {
	return t >= TierPlanning && t <= TierDeploy
}

// MarshalJSON encodes the tier as its wire name.
func (t Tier) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("cannot encode invalid tier %d", int(t))
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a wire name, rejecting unknown values.
func (t *Tier) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("tier must be a string: %w", err)
	}
	parsed, err := ParseTier(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Priority orders tasks for scheduling. Lower values are more urgent.
type Priority int

const (
	PriorityHigh   Priority = iota // Scheduled first
	PriorityMedium                 // Default
	PriorityLow                    // Scheduled last
)

// String returns the wire name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority maps a wire name to a Priority. Unknown names are rejected.
func ParsePriority(name string) (Priority, error) {
	switch name {
	case "high":
		return PriorityHigh, nil
	case "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", name)
	}
}

// Valid reports whether the priority is one of the defined values.
func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

// MarshalJSON encodes the priority as its wire name.
func (p Priority) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("cannot encode invalid priority %d", int(p))
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a wire name, rejecting unknown values.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("priority must be a string: %w", err)
	}
	parsed, err := ParsePriority(name)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
