// Package protocol defines the messages exchanged between the pool coordinator
// and its workers. The JSON shapes are the wire schema whenever a message
// leaves the process (HTTP API, websocket stream).
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zjrosen/sortpool/internal/metrics"
)

// ErrInvalidMessage is returned when a message is missing required fields or
// carries out-of-range values.
var ErrInvalidMessage = errors.New("invalid message")

// Type identifies the kind of message.
type Type string

const (
	// TypeExecute asks a worker to run one task (coordinator → worker).
	TypeExecute Type = "execute"
	// TypeProgress reports incremental progress (worker → coordinator).
	TypeProgress Type = "progress"
	// TypeComplete carries the sorted result. Terminal.
	TypeComplete Type = "complete"
	// TypeError carries a human-readable failure. Terminal.
	TypeError Type = "error"
)

// IsTerminal reports whether the type ends a task's message stream.
func (t Type) IsTerminal() bool {
	return t == TypeComplete || t == TypeError
}

// Message is implemented by Execute, Progress, Complete and Failure.
type Message interface {
	Kind() Type
	Worker() int
	Task() string
	Validate() error
}

// Execute asks a worker to sort Data with Algorithm.
type Execute struct {
	WorkerID  int       `json:"workerId"`
	TaskID    string    `json:"taskId"`
	Algorithm string    `json:"algorithm"`
	Data      []Element `json:"data"`
	Options   Options   `json:"options,omitempty"`
}

// Progress reports a completion percentage in [0,100].
type Progress struct {
	WorkerID int    `json:"workerId"`
	TaskID   string `json:"taskId"`
	Progress int    `json:"progress"`
}

// Complete carries the final ordered sequence.
type Complete struct {
	WorkerID int                  `json:"workerId"`
	TaskID   string               `json:"taskId"`
	Result   []Element            `json:"result"`
	Metrics  *metrics.SortMetrics `json:"metrics,omitempty"`
}

// Failure reports that a task ended in error. Its wire type is "error".
type Failure struct {
	WorkerID int    `json:"workerId"`
	TaskID   string `json:"taskId"`
	Message  string `json:"error"`
}

func (Execute) Kind() Type  { return TypeExecute }
func (Progress) Kind() Type { return TypeProgress }
func (Complete) Kind() Type { return TypeComplete }
func (Failure) Kind() Type  { return TypeError }

func (m Execute) Worker() int  { return m.WorkerID }
func (m Progress) Worker() int { return m.WorkerID }
func (m Complete) Worker() int { return m.WorkerID }
func (m Failure) Worker() int  { return m.WorkerID }

func (m Execute) Task() string  { return m.TaskID }
func (m Progress) Task() string { return m.TaskID }
func (m Complete) Task() string { return m.TaskID }
func (m Failure) Task() string  { return m.TaskID }

func validateHeader(kind Type, workerID int, taskID string) error {
	if workerID < 0 {
		return fmt.Errorf("%w: %s: negative workerId %d", ErrInvalidMessage, kind, workerID)
	}
	if taskID == "" {
		return fmt.Errorf("%w: %s: missing taskId", ErrInvalidMessage, kind)
	}
	return nil
}

// Validate checks required fields and element values.
func (m Execute) Validate() error {
	if err := validateHeader(TypeExecute, m.WorkerID, m.TaskID); err != nil {
		return err
	}
	if m.Algorithm == "" {
		return fmt.Errorf("%w: execute: missing algorithm", ErrInvalidMessage)
	}
	for i, e := range m.Data {
		if err := e.validate(); err != nil {
			return fmt.Errorf("%w: execute: data[%d]: %v", ErrInvalidMessage, i, err)
		}
	}
	return nil
}

// Validate checks the progress range.
func (m Progress) Validate() error {
	if err := validateHeader(TypeProgress, m.WorkerID, m.TaskID); err != nil {
		return err
	}
	if m.Progress < 0 || m.Progress > 100 {
		return fmt.Errorf("%w: progress %d outside [0,100]", ErrInvalidMessage, m.Progress)
	}
	return nil
}

// Validate checks the header. An empty result is valid for empty input.
func (m Complete) Validate() error {
	return validateHeader(TypeComplete, m.WorkerID, m.TaskID)
}

// Validate requires a non-empty error text.
func (m Failure) Validate() error {
	if err := validateHeader(TypeError, m.WorkerID, m.TaskID); err != nil {
		return err
	}
	if m.Message == "" {
		return fmt.Errorf("%w: error: missing error text", ErrInvalidMessage)
	}
	return nil
}

// MarshalJSON adds the "type" discriminator.
func (m Execute) MarshalJSON() ([]byte, error) {
	type plain Execute
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeExecute, plain(m)})
}

// MarshalJSON adds the "type" discriminator.
func (m Progress) MarshalJSON() ([]byte, error) {
	type plain Progress
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeProgress, plain(m)})
}

// MarshalJSON adds the "type" discriminator.
func (m Complete) MarshalJSON() ([]byte, error) {
	type plain Complete
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeComplete, plain(m)})
}

// MarshalJSON adds the "type" discriminator.
func (m Failure) MarshalJSON() ([]byte, error) {
	type plain Failure
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeError, plain(m)})
}

// Decode parses a JSON message, dispatching on its "type" field, and validates it.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var (
		msg Message
		err error
	)
	switch head.Type {
	case TypeExecute:
		var m Execute
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeProgress:
		var m Progress
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeComplete:
		var m Complete
		err = json.Unmarshal(data, &m)
		msg = m
	case TypeError:
		var m Failure
		err = json.Unmarshal(data, &m)
		msg = m
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, head.Type, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}
