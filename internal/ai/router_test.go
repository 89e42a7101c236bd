package ai

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Sisyphusclub/ai-crypto-trader/internal/config"
)

type fixedProvider struct {
	resp  ModelResponse
	calls int
}

func (f *fixedProvider) Generate(context.Context, GenerateRequest) ModelResponse {
	f.calls++
	return f.resp
}

func (f *fixedProvider) Close() {}

func TestGenerateWithRetryShortCircuitsAuth(t *testing.T) {
	p := &fixedProvider{resp: failedResponse(ErrorAuth, "invalid key")}

	resp := generateWithRetry(context.Background(), p, GenerateRequest{}, 3, zap.NewNop())
	if resp.Success {
		t.Fatal("expected failure")
	}
	if resp.ErrorType != ErrorAuth {
		t.Fatalf("expected auth error, got %s", resp.ErrorType)
	}
	if p.calls != 1 {
		t.Fatalf("auth errors must not be retried, got %d calls", p.calls)
	}
}

func TestGenerateWithRetryReturnsFirstSuccess(t *testing.T) {
	p := &countingProvider{failuresBefore: 1}

	resp := generateWithRetry(context.Background(), p, GenerateRequest{}, 3, zap.NewNop())
	if !resp.Success {
		t.Fatalf("expected success after retry, got %+v", resp)
	}
	if p.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", p.calls)
	}
}

func TestGenerateWithRetrySucceedsOnThirdAttempt(t *testing.T) {
	p := &countingProvider{failuresBefore: 2}

	resp := generateWithRetry(context.Background(), p, GenerateRequest{}, 3, zap.NewNop())
	if !resp.Success {
		t.Fatalf("expected success on third attempt, got %+v", resp)
	}
	if p.calls != 3 {
		t.Fatalf("expected exactly 3 calls, got %d", p.calls)
	}
}

func TestGenerateWithRetryReturnsLastErrorAfterExhaustion(t *testing.T) {
	p := &countingProvider{failuresBefore: 99}

	resp := generateWithRetry(context.Background(), p, GenerateRequest{}, 2, zap.NewNop())
	if resp.Success {
		t.Fatal("expected failure")
	}
	if resp.ErrorType != ErrorNetwork {
		t.Fatalf("expected network error, got %s", resp.ErrorType)
	}
	if p.calls != 2 {
		t.Fatalf("expected exactly max retries calls, got %d", p.calls)
	}
}

type countingProvider struct {
	failuresBefore int
	calls          int
}

func (c *countingProvider) Generate(context.Context, GenerateRequest) ModelResponse {
	c.calls++
	if c.calls <= c.failuresBefore {
		return failedResponse(ErrorNetwork, "connection reset")
	}
	return ModelResponse{Success: true, Content: `{"action":"skip"}`}
}

func (c *countingProvider) Close() {}

func TestRouterRateLimitPerTrader(t *testing.T) {
	r := NewRouter(config.AIConfig{
		Timeout:            time.Second,
		MaxRetries:         1,
		RateLimitPerMinute: 2,
	}, nil)

	now := time.Now()
	r.now = func() time.Time { return now }

	if !r.allow("trader-1") || !r.allow("trader-1") {
		t.Fatal("first two requests should pass")
	}
	if r.allow("trader-1") {
		t.Fatal("third request within window should be limited")
	}
	// 其他 trader 独立计数。
	if !r.allow("trader-2") {
		t.Fatal("other trader should not be limited")
	}

	// 窗口滑过后恢复。
	now = now.Add(61 * time.Second)
	if !r.allow("trader-1") {
		t.Fatal("request after window should pass")
	}
}

func TestRouterSyntheticRateLimitResponse(t *testing.T) {
	r := NewRouter(config.AIConfig{
		Timeout:            time.Second,
		MaxRetries:         1,
		RateLimitPerMinute: 0,
	}, nil)

	resp := r.Generate(context.Background(), ProviderSpec{Provider: "openai"}, GenerateRequest{}, "trader-1")
	if resp.Success {
		t.Fatal("expected rate limit failure")
	}
	if resp.ErrorType != ErrorRateLimit {
		t.Fatalf("expected rate_limit, got %s", resp.ErrorType)
	}
}

func TestRouterRejectsUnknownProvider(t *testing.T) {
	r := NewRouter(config.AIConfig{
		Timeout:            time.Second,
		MaxRetries:         1,
		RateLimitPerMinute: 10,
	}, nil)

	resp := r.Generate(context.Background(), ProviderSpec{Provider: "llama-farm"}, GenerateRequest{}, "")
	if resp.Success || resp.ErrorType != ErrorUnknown {
		t.Fatalf("expected unknown provider failure, got %+v", resp)
	}
}
