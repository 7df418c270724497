package session

import (
	"encoding/json"

	"github.com/m4xw311/askhuman/errors"
)

// Role names the author of a message on the wire and on disk.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ToolCallID string                 `json:"id"`
	Name       string                 `json:"name"`
	Args       map[string]interface{} `json:"args,omitempty"`
}

// Message is one turn of the conversation. The set of implementations is
// closed: UserMessage, AssistantMessage and ToolResultMessage.
type Message interface {
	Role() Role
	Text() string
	message()
}

// UserMessage is text typed by the user.
type UserMessage struct {
	Content string
}

// AssistantMessage is a model reply, possibly requesting tool calls.
type AssistantMessage struct {
	Content   string
	ToolCalls []ToolCall
}

// ToolResultMessage answers one ToolCall of the preceding assistant message.
type ToolResultMessage struct {
	ToolCallID string
	Name       string
	Content    string
}

func (UserMessage) Role() Role       { return RoleUser }
func (AssistantMessage) Role() Role  { return RoleAssistant }
func (ToolResultMessage) Role() Role { return RoleTool }

func (m UserMessage) Text() string       { return m.Content }
func (m AssistantMessage) Text() string  { return m.Content }
func (m ToolResultMessage) Text() string { return m.Content }

func (UserMessage) message()       {}
func (AssistantMessage) message()  {}
func (ToolResultMessage) message() {}

// HasToolCall reports whether the message requests a call to the named tool.
func (m AssistantMessage) HasToolCall(name string) bool {
	for _, tc := range m.ToolCalls {
		if tc.Name == name {
			return true
		}
	}
	return false
}

// Log is the ordered, append-only message history.
type Log []Message

// record is the tagged on-disk form of a Message.
type record struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

func (l Log) MarshalJSON() ([]byte, error) {
	records := make([]record, 0, len(l))
	for _, msg := range l {
		switch m := msg.(type) {
		case UserMessage:
			records = append(records, record{Role: RoleUser, Content: m.Content})
		case AssistantMessage:
			records = append(records, record{Role: RoleAssistant, Content: m.Content, ToolCalls: m.ToolCalls})
		case ToolResultMessage:
			records = append(records, record{Role: RoleTool, Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name})
		default:
			return nil, errors.New("unsupported message type %T", msg)
		}
	}
	return json.Marshal(records)
}

func (l *Log) UnmarshalJSON(data []byte) error {
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	out := make(Log, 0, len(records))
	for i, r := range records {
		switch r.Role {
		case RoleUser:
			out = append(out, UserMessage{Content: r.Content})
		case RoleAssistant:
			out = append(out, AssistantMessage{Content: r.Content, ToolCalls: r.ToolCalls})
		case RoleTool:
			out = append(out, ToolResultMessage{ToolCallID: r.ToolCallID, Name: r.Name, Content: r.Content})
		default:
			return errors.New("message %d has unknown role %q", i, r.Role)
		}
	}
	*l = out
	return nil
}
