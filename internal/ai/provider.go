package ai

import (
	"context"
	"errors"
	"math"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Provider 为单个模型提供商的适配器。
type Provider interface {
	Generate(ctx context.Context, req GenerateRequest) ModelResponse
	Close()
}

// classifyStatus 按 HTTP 状态码与响应体归类错误。
func classifyStatus(statusCode int, body string) ErrorType {
	lower := strings.ToLower(body)
	switch {
	case statusCode == 401:
		return ErrorAuth
	case statusCode == 429 && strings.Contains(lower, "quota"):
		return ErrorQuota
	case statusCode == 429:
		return ErrorRateLimit
	case statusCode == 408 || strings.Contains(lower, "timeout"):
		return ErrorTimeout
	}
	return ErrorUnknown
}

// classifyTransportError 归类传输层错误。
func classifyTransportError(err error) ErrorType {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}
	return ErrorNetwork
}

// generateWithRetry 指数退避重试;AUTH 与 QUOTA 不可重试,立即返回。
// 永远返回最后一次结果,不返回 error。
func generateWithRetry(ctx context.Context, p Provider, req GenerateRequest, maxRetries int, logger *zap.Logger) ModelResponse {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var last ModelResponse
	for attempt := 0; attempt < maxRetries; attempt++ {
		resp := p.Generate(ctx, req)
		if resp.Success {
			return resp
		}
		if resp.ErrorType == ErrorAuth || resp.ErrorType == ErrorQuota {
			return resp
		}
		last = resp

		if attempt < maxRetries-1 {
			wait := time.Duration((math.Pow(2, float64(attempt)) + 0.1*float64(attempt)) * float64(time.Second))
			logger.Warn("模型调用失败,准备重试",
				zap.Int("attempt", attempt+1),
				zap.String("error_type", string(resp.ErrorType)),
				zap.Duration("wait", wait))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return failedResponse(ErrorTimeout, "context cancelled during retry")
			case <-timer.C:
			}
		}
	}

	if last.ErrorType == "" {
		return failedResponse(ErrorUnknown, "Max retries exceeded")
	}
	return last
}
