package bridge

import (
	"errors"
	"time"

	"github.com/nerrad567/spherolink/internal/audit"
	"github.com/nerrad567/spherolink/internal/automation"
	"github.com/nerrad567/spherolink/internal/fleet"
	"github.com/nerrad567/spherolink/internal/protocol/notify"
)

// CommandMessage is the payload accepted on a command topic.
type CommandMessage struct {
	// ID is echoed in the ack. One is generated when empty.
	ID      string         `json:"id,omitempty"`
	Command string         `json:"command"`
	Args    []any          `json:"args,omitempty"`
	Named   map[string]any `json:"named,omitempty"`

	// TimeoutMS overrides the bridge's command timeout when positive.
	TimeoutMS int `json:"timeout_ms,omitempty"`

	// Operator is recorded in the audit log.
	Operator string `json:"operator,omitempty"`
}

// Ack reports the outcome of one CommandMessage.
type Ack struct {
	ID         string    `json:"id"`
	Toy        string    `json:"toy"`
	Command    string    `json:"command"`
	OK         bool      `json:"ok"`
	Result     any       `json:"result,omitempty"`
	Error      *AckError `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// AckError describes a failed command. Code is one of the audit outcomes
// or "not_found" / "bad_request".
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes beyond the audit outcomes.
const (
	CodeNotFound   = "not_found"
	CodeBadRequest = "bad_request"
	CodeDisabled   = "disabled"
)

func ackError(err error) *AckError {
	code := audit.OutcomeOf(err)
	if errors.Is(err, fleet.ErrNotFound) {
		code = CodeNotFound
	}
	return &AckError{Code: code, Message: err.Error()}
}

// RoutineRunMessage is the payload accepted on a routine run topic. An
// empty payload is valid.
type RoutineRunMessage struct {
	ID       string `json:"id,omitempty"`
	Operator string `json:"operator,omitempty"`
}

// RoutineResult reports a finished routine run. OK is true only when every
// step succeeded; Run carries the per-step detail.
type RoutineResult struct {
	ID      string          `json:"id"`
	Routine string          `json:"routine"`
	OK      bool            `json:"ok"`
	Run     *automation.Run `json:"run,omitempty"`
	Error   *AckError       `json:"error,omitempty"`
	At      time.Time       `json:"at"`
}

func routineError(err error) *AckError {
	code := audit.OutcomeOf(err)
	switch {
	case errors.Is(err, automation.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, automation.ErrDisabled):
		code = CodeDisabled
	}
	return &AckError{Code: code, Message: err.Error()}
}

// EventMessage is published for every notification.
type EventMessage struct {
	Toy          string    `json:"toy"`
	Kind         string    `json:"kind"`
	Notification string    `json:"notification"`
	Args         []any     `json:"args"`
	SourceID     byte      `json:"source_id,omitempty"`
	At           time.Time `json:"at"`
}

func eventMessage(toy string, ev notify.Event) EventMessage {
	args := ev.Args
	if args == nil {
		args = []any{}
	}
	return EventMessage{
		Toy:          toy,
		Kind:         ev.Kind.String(),
		Notification: ev.Name,
		Args:         args,
		SourceID:     ev.SourceID,
		At:           ev.Received.UTC(),
	}
}

// StateMessage is the retained connection state of a toy.
type StateMessage struct {
	Toy   string    `json:"toy"`
	Kind  string    `json:"kind"`
	State string    `json:"state"`
	Cause string    `json:"cause,omitempty"`
	At    time.Time `json:"at"`
}

func stateMessage(sc fleet.StateChange) StateMessage {
	m := StateMessage{
		Toy:   sc.Toy,
		Kind:  sc.Kind.String(),
		State: sc.State.String(),
		At:    sc.At.UTC(),
	}
	if sc.Cause != nil {
		m.Cause = sc.Cause.Error()
	}
	return m
}
