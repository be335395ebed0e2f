package agent

import (
	"encoding/json"
	"fmt"

	"labagent/internal/engine"
	"labagent/internal/protocol"
	"labagent/internal/toolcall"
)

// Turn is one conversation message.
type Turn = engine.Turn

// Kind tags an Event.
type Kind string

const (
	KindToken    Kind = protocol.EventKeyToken
	KindStatus   Kind = protocol.EventKeyStatus
	KindToolCall Kind = protocol.EventKeyToolCall
	KindDone     Kind = protocol.EventKeyDone
	KindError    Kind = protocol.EventKeyError
)

// Event is one item of the stream a Run produces. Text carries the token,
// status or error message; Tool is set for KindToolCall.
type Event struct {
	Kind Kind
	Text string
	Tool *toolcall.Invocation
}

func Token(text string) Event  { return Event{Kind: KindToken, Text: text} }
func Status(text string) Event { return Event{Kind: KindStatus, Text: text} }
func Done() Event              { return Event{Kind: KindDone} }
func Error(msg string) Event   { return Event{Kind: KindError, Text: msg} }

func ToolCall(inv toolcall.Invocation) Event {
	if inv.Args == nil {
		inv.Args = map[string]any{}
	}
	return Event{Kind: KindToolCall, Tool: &inv}
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == KindDone || e.Kind == KindError
}

// MarshalJSON encodes the event as a single-key object, for example
// {"token":"..."} or {"done":true}.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindToken, KindStatus, KindError:
		return json.Marshal(map[string]string{string(e.Kind): e.Text})
	case KindToolCall:
		inv := toolcall.Invocation{}
		if e.Tool != nil {
			inv = *e.Tool
		}
		if inv.Args == nil {
			inv.Args = map[string]any{}
		}
		return json.Marshal(map[string]toolcall.Invocation{string(e.Kind): inv})
	case KindDone:
		return json.Marshal(map[string]bool{string(e.Kind): true})
	default:
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}
}

// UnmarshalJSON accepts the encoding produced by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, kind := range []Kind{KindToolCall, KindStatus, KindToken, KindError, KindDone} {
		val, ok := raw[string(kind)]
		if !ok {
			continue
		}
		*e = Event{Kind: kind}
		switch kind {
		case KindToolCall:
			var inv toolcall.Invocation
			if err := json.Unmarshal(val, &inv); err != nil {
				return err
			}
			e.Tool = &inv
		case KindDone:
		default:
			if err := json.Unmarshal(val, &e.Text); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("event has no known key: %s", string(data))
}
