package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/m4xw311/askhuman/errors"
	"github.com/m4xw311/askhuman/session"
	"github.com/m4xw311/askhuman/tools"
)

// LLMClient is the interface for interacting with a Large Language Model.
type LLMClient interface {
	Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.AssistantMessage, error)
}

// DefaultOpenAIModel is used when the openai client is selected without a
// model.
const DefaultOpenAIModel = "gpt-4o-mini"

// NewClient builds the client named by the llm config key. An empty name
// selects openai; the scripted mock client must be asked for by name.
func NewClient(ctx context.Context, name, model string, temperature float64) (LLMClient, error) {
	switch name {
	case "", "openai":
		if model == "" {
			model = DefaultOpenAIModel
		}
		return NewOpenAILLMClient(ctx, model, temperature)
	case "anthropic":
		return NewAnthropicLLMClient(ctx, model, temperature)
	case "bedrock":
		return NewBedrockLLMClient(ctx, model, temperature)
	case "gemini":
		return NewGeminiLLMClient(ctx, model, temperature)
	case "mock":
		return &MockLLMClient{}, nil
	default:
		return nil, errors.New("unknown LLM client: %s", name)
	}
}

// schemaMap renders a tool input schema as a plain JSON object.
func schemaMap(s *jsonschema.Schema) map[string]any {
	out := map[string]any{"type": "object", "properties": map[string]any{}}
	if s == nil {
		return out
	}
	data, err := json.Marshal(s)
	if err != nil {
		return out
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return out
	}
	// Providers reject the meta-schema keys the reflector adds.
	delete(m, "$schema")
	delete(m, "$id")
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]any{}
	}
	return m
}

// decodeArgs parses a JSON argument string; an empty string is no arguments.
func decodeArgs(raw string) (map[string]interface{}, error) {
	args := map[string]interface{}{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// MockLLMClient is a scripted client used for offline runs and tests. It
// searches for weather and news questions, escalates when the user asks for an
// expert, and otherwise echoes the user.
type MockLLMClient struct {
	// Err, when set, is returned by every call.
	Err error
}

func (m *MockLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.AssistantMessage, error) {
	if m.Err != nil {
		return nil, errors.Collaborator(m.Err, "mock LLM failed")
	}
	if len(messages) == 0 {
		return &session.AssistantMessage{Content: "How can I help?"}, nil
	}

	last := messages[len(messages)-1]
	if tr, ok := last.(session.ToolResultMessage); ok {
		if tr.Name == tools.RequestAssistanceToolName {
			return &session.AssistantMessage{Content: fmt.Sprintf("An expert responded: %s", tr.Content)}, nil
		}
		return &session.AssistantMessage{Content: fmt.Sprintf("Here is what I found: %s", tr.Content)}, nil
	}

	text := last.Text()
	lower := strings.ToLower(text)
	callID := fmt.Sprintf("mock_call_%d", len(messages))
	switch {
	case hasTool(availableTools, tools.RequestAssistanceToolName) && containsAny(lower, "expert", "human", "assistance"):
		return &session.AssistantMessage{ToolCalls: []session.ToolCall{{
			ToolCallID: callID,
			Name:       tools.RequestAssistanceToolName,
			Args:       map[string]interface{}{"request": text},
		}}}, nil
	case hasTool(availableTools, tools.SearchToolName) && containsAny(lower, "weather", "news", "latest", "search"):
		return &session.AssistantMessage{ToolCalls: []session.ToolCall{{
			ToolCallID: callID,
			Name:       tools.SearchToolName,
			Args:       map[string]interface{}{"query": text},
		}}}, nil
	}
	return &session.AssistantMessage{Content: fmt.Sprintf("I am a mock LLM. You said: '%s'.", text)}, nil
}

func hasTool(ts []tools.Tool, name string) bool {
	for _, t := range ts {
		if t.Name() == name {
			return true
		}
	}
	return false
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
