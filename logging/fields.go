package logging

import (
	"time"

	"github.com/felixgeelhaar/bolt/v3"
)

// Field is a function that applies structured data to a log event.
type Field func(*bolt.Event) *bolt.Event

// SessionID adds a session id field.
func SessionID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("session_id", id)
	}
}

// Status adds a controller status field.
func Status(s string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("status", s)
	}
}

// FromStatus adds a from_status field for transitions.
func FromStatus(s string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("from_status", s)
	}
}

// ToStatus adds a to_status field for transitions.
func ToStatus(s string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("to_status", s)
	}
}

// Event adds a state machine event field.
func Event(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("event", name)
	}
}

// ToolName adds a tool name field.
func ToolName(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("tool", name)
	}
}

// ToolCallID adds a tool call id field.
func ToolCallID(id string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("tool_call_id", id)
	}
}

// Messages adds the size of the message log.
func Messages(n int) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int("messages", n)
	}
}

// Approved adds an approval decision field.
func Approved(approved bool) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Bool("approved", approved)
	}
}

// Duration adds a duration field in milliseconds.
func Duration(d time.Duration) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Int64("duration_ms", d.Milliseconds())
	}
}

// ErrorField adds an error field.
func ErrorField(err error) Field {
	return func(e *bolt.Event) *bolt.Event {
		if err == nil {
			return e
		}
		return e.Err(err)
	}
}

// Component adds a component field for categorization.
func Component(name string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str("component", name)
	}
}

// Str adds a string field with custom key.
func Str(key, value string) Field {
	return func(e *bolt.Event) *bolt.Event {
		return e.Str(key, value)
	}
}
