// Package openai adapts github.com/openai/openai-go to the llm.Client
// contract, translating requests into Chat Completions calls and mapping
// responses back into the generic dispatch types.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/agentup/agentup/internal/llm"
)

// ChatClient captures the subset of the openai-go client the adapter
// uses, so tests can substitute a stub.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// Client implements llm.Client via the OpenAI Chat Completions API.
type Client struct {
	chat  ChatClient
	model string
}

// New builds an OpenAI-backed llm.Client.
func New(chat ChatClient, defaultModel string) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	defaultModel = strings.TrimSpace(defaultModel)
	if defaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, model: defaultModel}, nil
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	sdkClient := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&sdkClient.Chat.Completions, defaultModel)
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = c.model
	}

	messages := encodeMessages(req)
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}

	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}
	if len(tools) > 0 {
		params.Tools = tools
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		if errors.Is(err, llm.ErrRateLimited) {
			return nil, fmt.Errorf("%w: %w", llm.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	return translateResponse(resp), nil
}

// Stream implements llm.Client. Streaming is not wired up for the OpenAI
// adapter; the dispatch loop calls only Complete.
func (c *Client) Stream(context.Context, *llm.Request) (llm.Streamer, error) {
	return nil, llm.ErrStreamingUnsupported
}

// SupportsFunctionCalling implements llm.Client. Chat Completions has
// native tool-calling support.
func (c *Client) SupportsFunctionCalling() bool { return true }

func encodeMessages(req *llm.Request) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, sdk.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		text := flattenText(m.Parts)
		switch m.Role {
		case llm.RoleUser:
			if text != "" {
				out = append(out, sdk.UserMessage(text))
			}
		case llm.RoleAssistant:
			if text != "" {
				out = append(out, sdk.AssistantMessage(text))
			}
		}
		for _, part := range m.Parts {
			if tr, ok := part.(llm.ToolResultPart); ok {
				content := ""
				if s, ok := tr.Content.(string); ok {
					content = s
				} else if raw, err := json.Marshal(tr.Content); err == nil {
					content = string(raw)
				}
				out = append(out, sdk.ToolMessage(content, tr.ToolUseID))
			}
		}
	}
	return out
}

func flattenText(parts []llm.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if tp, ok := p.(llm.TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

func encodeTools(defs []llm.ToolDefinition) ([]sdk.ChatCompletionToolParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		out = append(out, sdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: sdk.String(def.Description),
				Parameters:  shared.FunctionParameters(def.InputSchema),
			},
		})
	}
	return out, nil
}

func translateResponse(resp *sdk.ChatCompletion) *llm.Response {
	out := &llm.Response{}
	for _, choice := range resp.Choices {
		if text := choice.Message.Content; text != "" {
			out.Content = append(out.Content, llm.Message{
				Role:  llm.RoleAssistant,
				Parts: []llm.Part{llm.TextPart{Text: text}},
			})
		}
		for _, call := range choice.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:      call.ID,
				Name:    call.Function.Name,
				Payload: json.RawMessage(call.Function.Arguments),
			})
		}
		if choice.FinishReason != "" {
			out.StopReason = string(choice.FinishReason)
		}
	}
	out.Usage = llm.TokenUsage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	return out
}
