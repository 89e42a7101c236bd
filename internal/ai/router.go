package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Sisyphusclub/ai-crypto-trader/internal/config"
)

// ProviderSpec 描述一次调用使用的提供商配置,密钥为解密后的明文,仅驻留内存。
type ProviderSpec struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

// Router 按提供商分发模型请求,并对每个 trader 做固定窗口限流。
type Router struct {
	cfg    config.AIConfig
	logger *zap.Logger

	mu      sync.Mutex
	history map[string][]time.Time
	now     func() time.Time
}

const rateLimitWindow = time.Minute

// NewRouter 创建模型路由。
func NewRouter(cfg config.AIConfig, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:     cfg,
		logger:  logger.Named("ai"),
		history: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// allow 检查 trader 是否仍在限流窗口额度内,在额度内时记录本次请求。
func (r *Router) allow(traderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	kept := r.history[traderID][:0]
	for _, t := range r.history[traderID] {
		if now.Sub(t) < rateLimitWindow {
			kept = append(kept, t)
		}
	}
	r.history[traderID] = kept

	if len(kept) >= r.cfg.RateLimitPerMinute {
		return false
	}
	r.history[traderID] = append(kept, now)
	return true
}

func (r *Router) newProvider(spec ProviderSpec) (Provider, error) {
	switch spec.Provider {
	case "openai":
		return newOpenAIProvider(spec.APIKey, spec.Model, spec.BaseURL, r.cfg.Timeout), nil
	case "anthropic":
		return newAnthropicProvider(spec.APIKey, spec.Model, spec.BaseURL, r.cfg.Timeout), nil
	case "google":
		return newGoogleProvider(spec.APIKey, spec.Model, spec.BaseURL, r.cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("ai: 不支持的提供商 %q", spec.Provider)
	}
}

// Generate 校验限流后调用指定提供商,带重试。
// 限流触发时返回合成的 RATE_LIMIT 响应,不访问网络。
func (r *Router) Generate(ctx context.Context, spec ProviderSpec, req GenerateRequest, traderID string) ModelResponse {
	if traderID != "" && !r.allow(traderID) {
		r.logger.Warn("trader 触发模型限流", zap.String("trader_id", traderID))
		return failedResponse(ErrorRateLimit, "Trader rate limit exceeded")
	}

	provider, err := r.newProvider(spec)
	if err != nil {
		return failedResponse(ErrorUnknown, err.Error())
	}
	defer provider.Close()

	return generateWithRetry(ctx, provider, req, r.cfg.MaxRetries, r.logger)
}
