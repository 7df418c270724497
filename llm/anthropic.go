package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m4xw311/askhuman/errors"
	"github.com/m4xw311/askhuman/logging"
	"github.com/m4xw311/askhuman/session"
	"github.com/m4xw311/askhuman/tools"
)

// AnthropicLLMClient is a client for the Anthropic API.
type AnthropicLLMClient struct {
	client      *anthropic.Client
	model       string
	temperature float64
}

// NewAnthropicLLMClient creates a new AnthropicLLMClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicLLMClient(ctx context.Context, modelName string, temperature float64) (*AnthropicLLMClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}
	return newAnthropicLLMClient(modelName, temperature, option.WithAPIKey(apiKey)), nil
}

func newAnthropicLLMClient(modelName string, temperature float64, options ...option.RequestOption) *AnthropicLLMClient {
	options = append(options, option.WithMaxRetries(0))
	client := anthropic.NewClient(options...)
	return &AnthropicLLMClient{
		client:      &client,
		model:       modelName,
		temperature: temperature,
	}
}

// Chat sends a chat request to the Anthropic API.
func (a *AnthropicLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.AssistantMessage, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   4096,
		Messages:    convertMessagesToAnthropicMessages(messages),
		Temperature: anthropic.Float(a.temperature),
	}
	for _, toolParam := range convertToolsToAnthropicTools(availableTools) {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Collaborator(err, "failed to send message to Anthropic")
	}
	return processAnthropicResponse(resp)
}

// convertMessagesToAnthropicMessages converts the message log to Anthropic's
// format. Consecutive tool results are sent as one user turn.
func convertMessagesToAnthropicMessages(messages []session.Message) []anthropic.MessageParam {
	var anthropicMessages []anthropic.MessageParam
	var results []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(results) > 0 {
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: results,
			})
			results = nil
		}
	}

	for _, msg := range messages {
		switch m := msg.(type) {
		case session.UserMessage:
			flush()
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case session.AssistantMessage:
			flush()
			var contentItems []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
					OfText: &anthropic.TextBlockParam{Text: m.Content},
				})
			}
			for _, tc := range m.ToolCalls {
				argsBytes, err := json.Marshal(tc.Args)
				if err != nil {
					logging.Warn().
						Add(logging.Component("llm")).
						Add(logging.ToolName(tc.Name)).
						Add(logging.ErrorField(err)).
						Msg("skipping tool call with unencodable arguments")
					continue
				}
				contentItems = append(contentItems, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						Type:  "tool_use",
						ID:    tc.ToolCallID,
						Name:  tc.Name,
						Input: json.RawMessage(argsBytes),
					}})
			}
			if len(contentItems) > 0 {
				anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleAssistant,
					Content: contentItems,
				})
			}
		case session.ToolResultMessage:
			results = append(results, anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: m.ToolCallID,
					Content: []anthropic.ToolResultBlockParamContentUnion{{
						OfText: &anthropic.TextBlockParam{Text: m.Content},
					}},
				},
			})
		}
	}
	flush()
	return anthropicMessages
}

// convertToolsToAnthropicTools converts tools to Anthropic's tool format.
func convertToolsToAnthropicTools(ts []tools.Tool) []anthropic.ToolParam {
	if len(ts) == 0 {
		return nil
	}

	var anthropicTools []anthropic.ToolParam
	for _, t := range ts {
		schema := schemaMap(t.InputSchema())
		input := anthropic.ToolInputSchemaParam{Properties: schema["properties"]}
		if req, ok := schema["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					input.Required = append(input.Required, s)
				}
			}
		}
		anthropicTools = append(anthropicTools, anthropic.ToolParam{
			Name:        t.Name(),
			Description: anthropic.String(t.Description()),
			InputSchema: input,
		})
	}
	return anthropicTools
}

// processAnthropicResponse converts an Anthropic API response into a session.AssistantMessage.
func processAnthropicResponse(resp *anthropic.Message) (*session.AssistantMessage, error) {
	out := &session.AssistantMessage{}
	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += c.Text
		case anthropic.ToolUseBlock:
			args, err := decodeArgs(string(c.Input))
			if err != nil {
				return nil, errors.Collaborator(err, "failed to unmarshal tool call input")
			}
			out.ToolCalls = append(out.ToolCalls, session.ToolCall{
				ToolCallID: c.ID,
				Name:       c.Name,
				Args:       args,
			})
		}
	}
	return out, nil
}
