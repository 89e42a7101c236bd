package ai

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	anthropicBaseURL    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 4096
)

// anthropicProvider 直连 Anthropic Messages API。
type anthropicProvider struct {
	http   *resty.Client
	apiKey string
	model  string
}

func newAnthropicProvider(apiKey, model, baseURL string, timeout time.Duration) *anthropicProvider {
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	return &anthropicProvider{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		apiKey: apiKey,
		model:  model,
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *anthropicProvider) Generate(ctx context.Context, req GenerateRequest) ModelResponse {
	system := req.SystemPrompt
	if len(req.Schema) > 0 {
		system += "\n\nYou MUST respond with valid JSON matching this schema. No other text allowed."
	}

	body := anthropicRequest{
		Model:     p.model,
		MaxTokens: anthropicMaxTokens,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: req.UserPrompt}},
	}

	var result anthropicResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetHeader("x-api-key", p.apiKey).
		SetHeader("anthropic-version", anthropicAPIVersion).
		SetBody(body).
		SetResult(&result).
		Post("/messages")
	if err != nil {
		return failedResponse(classifyTransportError(err), err.Error())
	}
	if resp.IsError() {
		return failedResponse(classifyStatus(resp.StatusCode(), resp.String()), resp.String())
	}
	if len(result.Content) == 0 {
		return failedResponse(ErrorInvalidOutput, "Anthropic 返回结果为空")
	}

	return ModelResponse{
		Success: true,
		Content: result.Content[0].Text,
		Usage: &TokenUsage{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
		},
		Raw: resp.Body(),
	}
}

func (p *anthropicProvider) Close() {}
