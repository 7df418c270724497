package session

import (
	"github.com/m4xw311/askhuman/errors"
)

// UnknownToolCallID is used when a tool result has to be written but no tool
// call is available to answer.
const UnknownToolCallID = "unknown"

// State is the conversation state shared between steps.
type State struct {
	Messages Log  `json:"messages"`
	AskHuman bool `json:"ask_human"`
}

// Last returns the newest message, or nil for an empty log.
func (s *State) Last() Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}

// LastAssistant returns the newest assistant message and its index.
func (s *State) LastAssistant() (AssistantMessage, int, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if m, ok := s.Messages[i].(AssistantMessage); ok {
			return m, i, true
		}
	}
	return AssistantMessage{}, -1, false
}

// PendingToolCalls returns the tool calls of the newest assistant message that
// have no tool result yet.
func (s *State) PendingToolCalls() []ToolCall {
	am, idx, ok := s.LastAssistant()
	if !ok || len(am.ToolCalls) == 0 {
		return nil
	}
	answered := make(map[string]bool)
	for _, msg := range s.Messages[idx+1:] {
		if tr, ok := msg.(ToolResultMessage); ok {
			answered[tr.ToolCallID] = true
		}
	}
	var pending []ToolCall
	for _, tc := range am.ToolCalls {
		if !answered[tc.ToolCallID] {
			pending = append(pending, tc)
		}
	}
	return pending
}

// Append adds messages to the log. A tool result must answer a pending call of
// the preceding assistant message; the placeholder id is always accepted.
func (s *State) Append(msgs ...Message) error {
	for _, msg := range msgs {
		if tr, ok := msg.(ToolResultMessage); ok && tr.ToolCallID != UnknownToolCallID {
			if !isPending(s.PendingToolCalls(), tr.ToolCallID) {
				return errors.CallerState("tool result %q does not answer a pending tool call", tr.ToolCallID)
			}
		}
		s.Messages = append(s.Messages, msg)
	}
	return nil
}

func isPending(pending []ToolCall, id string) bool {
	for _, tc := range pending {
		if tc.ToolCallID == id {
			return true
		}
	}
	return false
}

// ResponseFor builds a tool result answering the first tool call of msg. When
// msg carries no tool call the placeholder id is used and ok is false.
func ResponseFor(content string, msg Message) (result ToolResultMessage, ok bool) {
	am, isAssistant := msg.(AssistantMessage)
	if !isAssistant || len(am.ToolCalls) == 0 {
		return ToolResultMessage{ToolCallID: UnknownToolCallID, Content: content}, false
	}
	tc := am.ToolCalls[0]
	return ToolResultMessage{ToolCallID: tc.ToolCallID, Name: tc.Name, Content: content}, true
}

// ResultFor builds a tool result answering tc.
func ResultFor(tc ToolCall, content string) ToolResultMessage {
	return ToolResultMessage{ToolCallID: tc.ToolCallID, Name: tc.Name, Content: content}
}
