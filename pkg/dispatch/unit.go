package dispatch

import (
	"fmt"
)

// Envelope is the single input message delivered to an execution unit per
// assignment.
type Envelope struct {
	Kind    Kind
	Payload any
	Options any
}

// MessageType discriminates the messages a unit emits back.
type MessageType int

const (
	// MessageProgress is a non-terminal update. The dispatcher observes it
	// but it never resolves or transitions the task.
	MessageProgress MessageType = iota

	// MessageResult is the terminal success message.
	MessageResult

	// MessageError is the terminal failure message.
	MessageError
)

func (t MessageType) String() string {
	switch t {
	case MessageProgress:
		return "progress"
	case MessageResult:
		return "result"
	case MessageError:
		return "error"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

// Message is an output message emitted by an execution unit. Data carries the
// result or progress payload; Err is set for MessageError.
type Message struct {
	Type MessageType
	Data any
	Err  error
}

// Unit is one independently scheduled execution unit. It accepts one input
// message at a time and emits zero or more progress messages followed by
// exactly one terminal message per input.
//
// Send must not block: the dispatcher only ever sends to a unit it considers
// idle, and a unit that cannot accept input must return an error instead.
// Messages returns the unit's output stream; it is closed once the unit has
// terminated. Terminate force-stops the unit and is idempotent.
type Unit interface {
	ID() string
	Send(Envelope) error
	Messages() <-chan Message
	Terminate()
}

// Factory provisions execution units. It is called once per unit during
// dispatcher startup with a generated unit id.
type Factory func(id string) (Unit, error)
