// Package ai 封装多家大模型提供商的统一调用、限流与输出校验。
package ai

import "encoding/json"

// ErrorType 为模型调用失败的分类。
type ErrorType string

const (
	ErrorAuth          ErrorType = "auth"
	ErrorQuota         ErrorType = "quota"
	ErrorRateLimit     ErrorType = "rate_limit"
	ErrorInvalidOutput ErrorType = "invalid_output"
	ErrorTimeout       ErrorType = "timeout"
	ErrorNetwork       ErrorType = "network"
	ErrorUnknown       ErrorType = "unknown"
)

// TokenUsage 为一次调用的 token 消耗。
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ModelResponse 为模型调用结果;失败不返回 error,由 ErrorType 分类。
type ModelResponse struct {
	Success      bool
	Content      string
	ErrorType    ErrorType
	ErrorMessage string
	Usage        *TokenUsage
	Raw          json.RawMessage
}

func failedResponse(errType ErrorType, message string) ModelResponse {
	if len(message) > 200 {
		message = message[:200]
	}
	return ModelResponse{
		Success:      false,
		ErrorType:    errType,
		ErrorMessage: message,
	}
}

// GenerateRequest 为一次生成请求。Schema 非空时要求模型按 JSON Schema 输出。
type GenerateRequest struct {
	SystemPrompt string
	UserPrompt   string
	Schema       json.RawMessage
}
