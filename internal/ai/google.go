package ai

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"
)

const googleBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// googleProvider 直连 Google Gemini generateContent 接口。
type googleProvider struct {
	http   *resty.Client
	apiKey string
	model  string
}

func newGoogleProvider(apiKey, model, baseURL string, timeout time.Duration) *googleProvider {
	if baseURL == "" {
		baseURL = googleBaseURL
	}
	return &googleProvider{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		apiKey: apiKey,
		model:  model,
	}
}

type googleRequest struct {
	Contents          []googleContent `json:"contents"`
	SystemInstruction googleContent   `json:"systemInstruction"`
	GenerationConfig  googleGenConfig `json:"generationConfig"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text"`
}

type googleGenConfig struct {
	Temperature      float64         `json:"temperature"`
	ResponseMimeType string          `json:"responseMimeType"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

type googleResponse struct {
	Candidates []struct {
		Content struct {
			Parts []googlePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (p *googleProvider) Generate(ctx context.Context, req GenerateRequest) ModelResponse {
	body := googleRequest{
		Contents: []googleContent{
			{Role: "user", Parts: []googlePart{{Text: req.UserPrompt}}},
		},
		SystemInstruction: googleContent{Parts: []googlePart{{Text: req.SystemPrompt}}},
		GenerationConfig: googleGenConfig{
			Temperature:      0.1,
			ResponseMimeType: "application/json",
			ResponseSchema:   req.Schema,
		},
	}

	var result googleResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParam("key", p.apiKey).
		SetBody(body).
		SetResult(&result).
		Post("/models/" + p.model + ":generateContent")
	if err != nil {
		return failedResponse(classifyTransportError(err), err.Error())
	}
	if resp.IsError() {
		return failedResponse(classifyStatus(resp.StatusCode(), resp.String()), resp.String())
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return failedResponse(ErrorInvalidOutput, "Gemini 返回结果为空")
	}

	return ModelResponse{
		Success: true,
		Content: result.Candidates[0].Content.Parts[0].Text,
		Usage: &TokenUsage{
			InputTokens:  result.UsageMetadata.PromptTokenCount,
			OutputTokens: result.UsageMetadata.CandidatesTokenCount,
		},
		Raw: resp.Body(),
	}
}

func (p *googleProvider) Close() {}
