package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/m4xw311/askhuman/errors"
	"github.com/m4xw311/askhuman/session"
	"github.com/m4xw311/askhuman/tools"
)

// modelInvoker is the part of the Bedrock runtime client used here.
type modelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockLLMClient is a client for the Anthropic models on AWS Bedrock.
type BedrockLLMClient struct {
	client      modelInvoker
	modelID     string
	temperature float64
}

// NewBedrockLLMClient creates a new BedrockLLMClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockLLMClient(ctx context.Context, modelID string, temperature float64) (*BedrockLLMClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	client := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		o.RetryMaxAttempts = 1
	})
	return &BedrockLLMClient{
		client:      client,
		modelID:     modelID,
		temperature: temperature,
	}, nil
}

// Chat sends a chat request to the Anthropic model via AWS Bedrock.
func (b *BedrockLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.AssistantMessage, error) {
	requestBody, err := createAnthropicRequest(convertMessagesToAnthropicFormat(messages), b.temperature, availableTools)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, errors.Collaborator(err, "failed to invoke Bedrock model")
	}
	return processBedrockResponse(resp.Body)
}

func textContent(text string) []map[string]interface{} {
	return []map[string]interface{}{{"type": "text", "text": text}}
}

// convertMessagesToAnthropicFormat converts the message log to the Anthropic
// messages format Bedrock expects. Consecutive tool results share one user turn.
func convertMessagesToAnthropicFormat(messages []session.Message) []map[string]interface{} {
	var out []map[string]interface{}
	var results []map[string]interface{}

	flush := func() {
		if len(results) > 0 {
			out = append(out, map[string]interface{}{"role": "user", "content": results})
			results = nil
		}
	}

	for _, msg := range messages {
		switch m := msg.(type) {
		case session.UserMessage:
			flush()
			out = append(out, map[string]interface{}{"role": "user", "content": textContent(m.Content)})
		case session.AssistantMessage:
			flush()
			var content []map[string]interface{}
			if m.Content != "" {
				content = append(content, textContent(m.Content)...)
			}
			for _, tc := range m.ToolCalls {
				args := tc.Args
				if args == nil {
					args = map[string]interface{}{}
				}
				content = append(content, map[string]interface{}{
					"type":  "tool_use",
					"id":    tc.ToolCallID,
					"name":  tc.Name,
					"input": args,
				})
			}
			if len(content) > 0 {
				out = append(out, map[string]interface{}{"role": "assistant", "content": content})
			}
		case session.ToolResultMessage:
			results = append(results, map[string]interface{}{
				"type":        "tool_result",
				"tool_use_id": m.ToolCallID,
				"content":     m.Content,
			})
		}
	}
	flush()
	return out
}

// createAnthropicRequest creates the request body for Anthropic models on Bedrock.
func createAnthropicRequest(messages []map[string]interface{}, temperature float64, availableTools []tools.Tool) ([]byte, error) {
	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        4096,
		"temperature":       temperature,
		"messages":          messages,
	}

	if len(availableTools) > 0 {
		var defs []map[string]interface{}
		for _, tool := range availableTools {
			defs = append(defs, map[string]interface{}{
				"name":         tool.Name(),
				"description":  tool.Description(),
				"input_schema": schemaMap(tool.InputSchema()),
			})
		}
		request["tools"] = defs
	}

	return json.Marshal(request)
}

// processBedrockResponse converts a Bedrock API response into a session.AssistantMessage.
func processBedrockResponse(body []byte) (*session.AssistantMessage, error) {
	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Collaborator(err, "failed to unmarshal Bedrock response")
	}

	if errMsg, ok := response["error"]; ok {
		return nil, errors.Collaborator(errors.New("%v", errMsg), "Bedrock API error")
	}

	out := &session.AssistantMessage{}
	content, ok := response["content"]
	if !ok {
		return out, nil
	}
	contentArray, ok := content.([]interface{})
	if !ok {
		return nil, errors.Collaborator(errors.New("content is %T", content), "unexpected content format in Bedrock response")
	}

	for i, item := range contentArray {
		itemMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		switch itemMap["type"] {
		case "text":
			if text, ok := itemMap["text"].(string); ok {
				out.Content += text
			}
		case "tool_use":
			name, ok := itemMap["name"].(string)
			if !ok {
				continue
			}
			input, _ := itemMap["input"].(map[string]interface{})
			if input == nil {
				input = map[string]interface{}{}
			}
			id, _ := itemMap["id"].(string)
			if id == "" {
				id = fmt.Sprintf("call_%d_%s", i, name)
			}
			out.ToolCalls = append(out.ToolCalls, session.ToolCall{
				ToolCallID: id,
				Name:       name,
				Args:       input,
			})
		}
	}
	return out, nil
}
