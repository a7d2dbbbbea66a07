package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tigerroll/famsync/pkg/sync/support/util/exception"
)

// OwnerKind discriminates which audit entity a ProcessStatus or ErrorEntry is
// attached to.
type OwnerKind string

const (
	OwnerKindJob          OwnerKind = "job"
	OwnerKindTransmission OwnerKind = "transmission"
	OwnerKindTransaction  OwnerKind = "transaction"
)

// ProcessStateKey represents the state of an audit entity.
type ProcessStateKey string

const (
	// StateInitial is the state an entity starts in when the request leg is built.
	StateInitial ProcessStateKey = "initial"
	// StateAcked marks the response leg: the exchange with the CRM completed and
	// was recorded.
	StateAcked ProcessStateKey = "acked"
	// StateSucceeded is the terminal success state.
	StateSucceeded ProcessStateKey = "succeeded"
	// StateFailed is the terminal failure state for one entity. It does not
	// block sibling entities.
	StateFailed ProcessStateKey = "failed"
)

// processStateTransitions defines the valid state transitions. States only
// move forward; an entity never returns to an earlier state.
var processStateTransitions = map[ProcessStateKey][]ProcessStateKey{
	StateInitial:   {StateAcked, StateSucceeded, StateFailed},
	StateAcked:     {StateSucceeded, StateFailed},
	StateSucceeded: {},
	StateFailed:    {},
}

// isValidProcessStateTransition checks whether the transition from the current
// state to the target state is allowed.
func isValidProcessStateTransition(current, target ProcessStateKey) bool {
	for _, next := range processStateTransitions[current] {
		if next == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state admits no further transitions.
func (k ProcessStateKey) IsTerminal() bool {
	return len(processStateTransitions[k]) == 0
}

// ProcessState is one entry in the append-only state history of an audit
// entity.
type ProcessState struct {
	Event     string          `json:"event"`
	Message   string          `json:"message"`
	StateKey  ProcessStateKey `json:"stateKey"`
	StartedAt time.Time       `json:"startedAt"`
	EndedAt   *time.Time      `json:"endedAt,omitempty"`
	Seconds   float64         `json:"seconds"`
}

// ProcessStateList is the embedded, ordered state history. It persists as a
// JSON column.
type ProcessStateList []ProcessState

// Value implements driver.Valuer, serializing the list to JSON.
func (l ProcessStateList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, exception.NewSyncError("model", "Failed to serialize ProcessStateList", err, false, false)
	}
	return string(data), nil
}

// Scan implements sql.Scanner, deserializing the list from a JSON column.
func (l *ProcessStateList) Scan(value interface{}) error {
	if value == nil {
		*l = ProcessStateList{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return exception.NewSyncErrorf("model", "Unsupported type for ProcessStateList scan: %T", value)
	}
	if len(data) == 0 || string(data) == "null" {
		*l = ProcessStateList{}
		return nil
	}
	if err := json.Unmarshal(data, l); err != nil {
		return exception.NewSyncError("model", "Failed to deserialize ProcessStateList", err, false, false)
	}
	return nil
}

// ProcessStatus tracks the current and historical state of exactly one audit
// entity, identified by the (OwnerKind, OwnerID) pair.
type ProcessStatus struct {
	ID              string           `json:"id"`
	OwnerKind       OwnerKind        `json:"ownerKind"`
	OwnerID         string           `json:"ownerId"`
	InitialStateKey ProcessStateKey  `json:"initialStateKey"`
	LatestState     ProcessStateKey  `json:"latestState"`
	ElapsedTime     float64          `json:"elapsedTime"`
	States          ProcessStateList `json:"states"`
	CreateTime      time.Time        `json:"createTime"`
	LastUpdated     time.Time        `json:"lastUpdated"`
	Version         int              `json:"version"`
}

// NewProcessStatus creates a ProcessStatus for the given owner, opening the
// history with the initial state.
func NewProcessStatus(ownerKind OwnerKind, ownerID string) *ProcessStatus {
	now := time.Now()
	return &ProcessStatus{
		ID:              NewID(),
		OwnerKind:       ownerKind,
		OwnerID:         ownerID,
		InitialStateKey: StateInitial,
		LatestState:     StateInitial,
		States: ProcessStateList{
			{
				Event:     "created",
				Message:   "entity created",
				StateKey:  StateInitial,
				StartedAt: now,
			},
		},
		CreateTime:  now,
		LastUpdated: now,
	}
}

// Transition appends a new state to the history after validating the move
// against the transition table. The previous state is closed out and the
// cumulative elapsed time recomputed. Illegal transitions are rejected.
func (ps *ProcessStatus) Transition(target ProcessStateKey, event, message string) error {
	if !isValidProcessStateTransition(ps.LatestState, target) {
		return exception.NewSyncErrorf("model", "invalid state transition from '%s' to '%s' for %s %s",
			ps.LatestState, target, ps.OwnerKind, ps.OwnerID)
	}

	now := time.Now()
	if n := len(ps.States); n > 0 && ps.States[n-1].EndedAt == nil {
		last := &ps.States[n-1]
		last.EndedAt = &now
		last.Seconds = now.Sub(last.StartedAt).Seconds()
	}

	ps.States = append(ps.States, ProcessState{
		Event:     event,
		Message:   message,
		StateKey:  target,
		StartedAt: now,
	})
	ps.LatestState = target
	ps.ElapsedTime = 0
	for _, s := range ps.States {
		ps.ElapsedTime += s.Seconds
	}
	ps.LastUpdated = now
	return nil
}

// MarkAsAcked transitions the owner to the acked state.
func (ps *ProcessStatus) MarkAsAcked(message string) error {
	return ps.Transition(StateAcked, "acked", message)
}

// MarkAsSucceeded transitions the owner to the terminal succeeded state.
func (ps *ProcessStatus) MarkAsSucceeded(message string) error {
	return ps.Transition(StateSucceeded, "succeeded", message)
}

// MarkAsFailed transitions the owner to the terminal failed state.
func (ps *ProcessStatus) MarkAsFailed(message string) error {
	return ps.Transition(StateFailed, "failed", message)
}

func (ps *ProcessStatus) String() string {
	return fmt.Sprintf("ProcessStatus{Owner: %s/%s, Latest: %s, States: %d}",
		ps.OwnerKind, ps.OwnerID, ps.LatestState, len(ps.States))
}
