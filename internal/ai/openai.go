package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// openaiProvider 基于官方 SDK 调用 OpenAI Chat Completions。
type openaiProvider struct {
	sdk   *openai.Client
	model string
}

func newOpenAIProvider(apiKey, model, baseURL string, timeout time.Duration) *openaiProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &openaiProvider{
		sdk:   openai.NewClientWithConfig(cfg),
		model: model,
	}
}

func (p *openaiProvider) Generate(ctx context.Context, req GenerateRequest) ModelResponse {
	request := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Temperature: 0.1,
	}

	if len(req.Schema) > 0 {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "trade_plan",
				Strict: true,
				Schema: req.Schema,
			},
		}
	} else {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.sdk.CreateChatCompletion(ctx, request)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return failedResponse(classifyStatus(apiErr.HTTPStatusCode, apiErr.Message), apiErr.Message)
		}
		return failedResponse(classifyTransportError(err), err.Error())
	}

	if len(resp.Choices) == 0 {
		return failedResponse(ErrorInvalidOutput, "OpenAI 返回结果为空")
	}

	raw, _ := json.Marshal(resp)
	return ModelResponse{
		Success: true,
		Content: resp.Choices[0].Message.Content,
		Usage: &TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
		Raw: raw,
	}
}

func (p *openaiProvider) Close() {}
