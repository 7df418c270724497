package llm

import (
	"context"
	"encoding/json"
	"os"

	"github.com/m4xw311/askhuman/errors"
	"github.com/m4xw311/askhuman/logging"
	"github.com/m4xw311/askhuman/session"
	"github.com/m4xw311/askhuman/tools"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAILLMClient is a client for the OpenAI Chat Completion API.
type OpenAILLMClient struct {
	client      *openai.Client
	model       string
	temperature float64
}

// NewOpenAILLMClient creates a new OpenAILLMClient. It requires the OPENAI_API_KEY environment variable to be set.
// It also supports OPENAI_BASE_URL for custom API endpoints.
func NewOpenAILLMClient(ctx context.Context, modelName string, temperature float64) (*OpenAILLMClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	return newOpenAILLMClient(modelName, temperature, options...), nil
}

func newOpenAILLMClient(modelName string, temperature float64, options ...option.RequestOption) *OpenAILLMClient {
	// Retries stay with the caller; a failed turn is reported, not repeated.
	options = append(options, option.WithMaxRetries(0))
	c := openai.NewClient(options...)
	// The &c is required, do not replace and just use c
	return &OpenAILLMClient{client: &c, model: modelName, temperature: temperature}
}

// Chat sends a chat request to OpenAI and converts the response into a session.AssistantMessage.
func (o *OpenAILLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.AssistantMessage, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.model),
		Messages:    convertMessagesToOpenaiContent(messages),
		Tools:       convertToolsToOpenAITools(availableTools),
		Temperature: openai.Float(o.temperature),
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.Collaborator(err, "failed to send message to OpenAI")
	}
	return processOpenaiResponse(resp)
}

// processOpenaiResponse converts an OpenAI API response into a session.AssistantMessage.
func processOpenaiResponse(resp *openai.ChatCompletion) (*session.AssistantMessage, error) {
	if len(resp.Choices) == 0 {
		return &session.AssistantMessage{}, nil
	}

	choice := resp.Choices[0].Message
	out := &session.AssistantMessage{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		args, err := decodeArgs(tc.Function.Arguments)
		if err != nil {
			return nil, errors.Collaborator(err, "failed to unmarshal function call arguments from OpenAI")
		}
		out.ToolCalls = append(out.ToolCalls, session.ToolCall{
			ToolCallID: tc.ID,
			Name:       tc.Function.Name,
			Args:       args,
		})
	}
	return out, nil
}

// convertMessagesToOpenaiContent converts the message log to OpenAI's format.
func convertMessagesToOpenaiContent(messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch m := msg.(type) {
		case session.AssistantMessage:
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: m.Content,
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
				assistantMessage.ToolCalls = append(assistantMessage.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   tc.ToolCallID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      tc.Name,
						Arguments: string(argsBytes),
					},
				})
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		case session.ToolResultMessage:
			chatMessages = append(chatMessages, openai.ToolMessage(m.Content, m.ToolCallID))
		case session.UserMessage:
			chatMessages = append(chatMessages, openai.UserMessage(m.Content))
		}
	}
	return chatMessages
}

// convertToolsToOpenAITools converts tools to the OpenAI function tool format.
func convertToolsToOpenAITools(ts []tools.Tool) []openai.ChatCompletionToolUnionParam {
	if len(ts) == 0 {
		return nil
	}
	var openAITools []openai.ChatCompletionToolUnionParam
	for _, t := range ts {
		openAITools = append(openAITools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String(t.Description()),
			Parameters:  openai.FunctionParameters(schemaMap(t.InputSchema())),
		}))
	}
	return openAITools
}
