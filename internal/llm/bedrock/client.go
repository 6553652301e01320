// Package bedrock adapts the AWS Bedrock Converse API to the llm.Client
// contract: encode the transcript and tool schemas into Bedrock's
// message/ToolConfiguration shapes, and translate Converse responses
// (text + tool_use blocks) back into the generic dispatch types.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agentup/agentup/internal/llm"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client the
// adapter needs, matching *bedrockruntime.Client so tests can substitute
// a stub.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client implements llm.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTokens    int
	temperature  float32
}

// New builds a Bedrock-backed llm.Client.
func New(runtime RuntimeClient, defaultModel string, maxTokens int, temperature float32) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if defaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{runtime: runtime, defaultModel: defaultModel, maxTokens: maxTokens, temperature: temperature}, nil
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: messages,
	}
	if req.SystemPrompt != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.SystemPrompt}}
	}
	inferenceConfig := &brtypes.InferenceConfiguration{}
	if maxTokens := effectiveInt(req.MaxTokens, c.maxTokens); maxTokens > 0 {
		v := int32(maxTokens)
		inferenceConfig.MaxTokens = &v
	}
	if temp := effectiveFloat(req.Temperature, c.temperature); temp > 0 {
		inferenceConfig.Temperature = aws.Float32(temp)
	}
	input.InferenceConfig = inferenceConfig

	if toolConfig, err := encodeTools(req.Tools); err != nil {
		return nil, err
	} else if toolConfig != nil {
		input.ToolConfig = toolConfig
	}

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock: converse: %w", err)
	}
	return translateResponse(out)
}

// Stream implements llm.Client. Streaming is not wired up for the
// Bedrock adapter; the dispatch loop calls only Complete.
func (c *Client) Stream(context.Context, *llm.Request) (llm.Streamer, error) {
	return nil, llm.ErrStreamingUnsupported
}

// SupportsFunctionCalling implements llm.Client. The Converse API has
// native ToolConfiguration support.
func (c *Client) SupportsFunctionCalling() bool { return true }

func effectiveInt(requested, fallback int) int {
	if requested > 0 {
		return requested
	}
	return fallback
}

func effectiveFloat(requested, fallback float32) float32 {
	if requested > 0 {
		return requested
	}
	return fallback
}

func encodeMessages(msgs []llm.Message) ([]brtypes.Message, error) {
	out := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case llm.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case llm.ToolUsePart:
				var input map[string]any
				_ = json.Unmarshal(v.Input, &input)
				doc, err := document.NewLazyDocument(input).MarshalSmithyDocument()
				if err != nil {
					return nil, fmt.Errorf("bedrock: encode tool use input: %w", err)
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
					Value: brtypes.ToolUseBlock{ToolUseId: aws.String(v.ID), Name: aws.String(v.Name), Input: doc},
				})
			case llm.ToolResultPart:
				content := ""
				if s, ok := v.Content.(string); ok {
					content = s
				} else if raw, err := json.Marshal(v.Content); err == nil {
					content = string(raw)
				}
				status := brtypes.ToolResultStatusSuccess
				if v.IsError {
					status = brtypes.ToolResultStatusError
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{
					Value: brtypes.ToolResultBlock{
						ToolUseId: aws.String(v.ToolUseID),
						Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: content}},
						Status:    status,
					},
				})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		var role brtypes.ConversationRole
		switch m.Role {
		case llm.RoleUser:
			role = brtypes.ConversationRoleUser
		case llm.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
		out = append(out, brtypes.Message{Role: role, Content: blocks})
	}
	if len(out) == 0 {
		return nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return out, nil
}

func encodeTools(defs []llm.ToolDefinition) (*brtypes.ToolConfiguration, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		doc, err := document.NewLazyDocument(def.InputSchema).MarshalSmithyDocument()
		if err != nil {
			return nil, fmt.Errorf("bedrock: encode tool %q schema: %w", def.Name, err)
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: doc},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: tools}, nil
}

func translateResponse(out *bedrockruntime.ConverseOutput) (*llm.Response, error) {
	if out == nil || out.Output == nil {
		return nil, errors.New("bedrock: converse output is nil")
	}
	msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, errors.New("bedrock: unsupported converse output type")
	}
	resp := &llm.Response{}
	for _, block := range msgOutput.Value.Content {
		switch b := block.(type) {
		case *brtypes.ContentBlockMemberText:
			resp.Content = append(resp.Content, llm.Message{
				Role:  llm.RoleAssistant,
				Parts: []llm.Part{llm.TextPart{Text: b.Value}},
			})
		case *brtypes.ContentBlockMemberToolUse:
			payload, _ := document.NewLazyDocument(b.Value.Input).MarshalSmithyDocument()
			raw, _ := json.Marshal(payload)
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:      aws.ToString(b.Value.ToolUseId),
				Name:    aws.ToString(b.Value.Name),
				Payload: raw,
			})
		}
	}
	if out.Usage != nil {
		resp.Usage = llm.TokenUsage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	resp.StopReason = string(out.StopReason)
	return resp, nil
}
