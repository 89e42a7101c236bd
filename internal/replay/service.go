// Package replay 把一次决策还原成 信号 → 快照 → AI 决策 → 风控报告 → 交易计划 → 委托 的完整链路。
// 输出只包含结构化字段,模型原始输出不落链。
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Sisyphusclub/ai-crypto-trader/internal/store"
)

// 回放链路里的错误信息截断长度。
const maxChainErrorLen = 100

// OHLCV 摘要只保留末尾的 K 线数量。
const ohlcvSummaryLimit = 5

// ErrNotFound 表示回放入口对象不存在。
var ErrNotFound = errors.New("replay: 记录不存在")

// Step 为链路中的一个节点。
type Step struct {
	Step int            `json:"step"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Chain 为一条完整回放链。
type Chain struct {
	GeneratedAt time.Time `json:"generated_at"`
	Steps       []Step    `json:"chain"`
}

// Service 从存储层组装回放链。
type Service struct {
	store  *store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService 创建回放服务。
func NewService(st *store.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  st,
		logger: logger.Named("replay"),
		now:    time.Now,
	}
}

// ReplayDecision 以决策为入口回放整条链路。
func (s *Service) ReplayDecision(ctx context.Context, decisionID string) (*Chain, error) {
	decision, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, mapNotFound(err)
	}

	signal, snapshot := s.loadSignalContext(ctx, decision.SignalID)

	plan, execs, err := s.loadPlanContext(ctx, decision.TradePlanID)
	if err != nil {
		return nil, err
	}

	return s.buildChain(decision, signal, snapshot, plan, execs), nil
}

// ReplayTrade 以交易计划为入口,经决策记录反查触发信号。
func (s *Service) ReplayTrade(ctx context.Context, tradePlanID string) (*Chain, error) {
	plan, err := s.store.GetTradePlan(ctx, tradePlanID)
	if err != nil {
		return nil, mapNotFound(err)
	}

	decision, err := s.store.FindDecisionByTradePlanID(ctx, tradePlanID)
	if err != nil {
		return nil, err
	}

	var signal *store.Signal
	var snapshot *store.MarketSnapshot
	if decision != nil {
		signal, snapshot = s.loadSignalContext(ctx, decision.SignalID)
	}

	execs, err := s.store.ExecutionsByPlan(ctx, plan.ID)
	if err != nil {
		return nil, err
	}

	return s.buildChain(decision, signal, snapshot, plan, execs), nil
}

// ReplaySignal 以信号为入口,列出该信号触发的每个 trader 的链路。
func (s *Service) ReplaySignal(ctx context.Context, signalID string) ([]*Chain, error) {
	signal, err := s.store.GetSignal(ctx, signalID)
	if err != nil {
		return nil, mapNotFound(err)
	}

	snapshot := s.loadSnapshot(ctx, signal.SnapshotID)

	decisions, err := s.store.DecisionsBySignal(ctx, signalID)
	if err != nil {
		return nil, err
	}
	if len(decisions) == 0 {
		// 信号尚未被任何 trader 消费,链路只有信号与快照。
		return []*Chain{s.buildChain(nil, signal, snapshot, nil, nil)}, nil
	}

	chains := make([]*Chain, 0, len(decisions))
	for i := range decisions {
		decision := &decisions[i]
		plan, execs, err := s.loadPlanContext(ctx, decision.TradePlanID)
		if err != nil {
			return nil, err
		}
		chains = append(chains, s.buildChain(decision, signal, snapshot, plan, execs))
	}
	return chains, nil
}

// loadPlanContext 读取计划与其委托;决策未产生计划时两者皆空。
func (s *Service) loadPlanContext(ctx context.Context, tradePlanID *string) (*store.TradePlan, []store.Execution, error) {
	if tradePlanID == nil {
		return nil, nil, nil
	}
	plan, err := s.store.GetTradePlan(ctx, *tradePlanID)
	if err != nil {
		return nil, nil, err
	}
	execs, err := s.store.ExecutionsByPlan(ctx, plan.ID)
	if err != nil {
		return nil, nil, err
	}
	return plan, execs, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ListDecisions 按条件查询决策历史。
func (s *Service) ListDecisions(ctx context.Context, f store.DecisionFilter) ([]store.DecisionLog, error) {
	return s.store.ListDecisions(ctx, f)
}

func (s *Service) loadSignalContext(ctx context.Context, signalID *string) (*store.Signal, *store.MarketSnapshot) {
	if signalID == nil {
		return nil, nil
	}
	signal, err := s.store.GetSignal(ctx, *signalID)
	if err != nil || signal == nil {
		if err != nil {
			s.logger.Warn("回放读取信号失败", zap.String("signal_id", *signalID), zap.Error(err))
		}
		return nil, nil
	}
	return signal, s.loadSnapshot(ctx, signal.SnapshotID)
}

func (s *Service) loadSnapshot(ctx context.Context, snapshotID *string) *store.MarketSnapshot {
	if snapshotID == nil {
		return nil
	}
	snapshot, err := s.store.GetSnapshot(ctx, *snapshotID)
	if err != nil {
		s.logger.Warn("回放读取快照失败", zap.String("snapshot_id", *snapshotID), zap.Error(err))
		return nil
	}
	return snapshot
}

// buildChain 按固定顺序组装链路;任一环节缺失时跳过对应节点。
func (s *Service) buildChain(decision *store.DecisionLog, signal *store.Signal, snapshot *store.MarketSnapshot, plan *store.TradePlan, execs []store.Execution) *Chain {
	chain := &Chain{GeneratedAt: s.now().UTC()}

	if signal != nil {
		chain.Steps = append(chain.Steps, Step{
			Step: 1,
			Type: "signal",
			Data: map[string]any{
				"id":             signal.ID,
				"strategy_id":    signal.StrategyID,
				"symbol":         signal.Symbol,
				"timeframe":      signal.Timeframe,
				"side":           signal.Side,
				"score":          signal.Score.String(),
				"reason_summary": signal.ReasonSummary,
				"created_at":     signal.CreatedAt.UTC().Format(time.RFC3339),
			},
		})
	}

	if snapshot != nil {
		chain.Steps = append(chain.Steps, Step{
			Step: 2,
			Type: "market_snapshot",
			Data: map[string]any{
				"id":            snapshot.ID,
				"exchange":      snapshot.Exchange,
				"symbol":        snapshot.Symbol,
				"timeframe":     snapshot.Timeframe,
				"timestamp":     snapshot.Timestamp.UTC().Format(time.RFC3339),
				"ohlcv_summary": sanitizeOHLCV(snapshot.OHLCV),
				"indicators":    jsonObject(snapshot.Indicators),
			},
		})
	}

	if decision != nil {
		chain.Steps = append(chain.Steps, Step{
			Step: 3,
			Type: "ai_decision",
			Data: map[string]any{
				"id":              decision.ID,
				"trader_id":       decision.TraderID,
				"client_order_id": decision.ClientOrderID,
				"status":          decision.Status,
				"model_provider":  decision.ModelProvider,
				"model_name":      decision.ModelName,
				"confidence":      nullDecimalString(decision.Confidence),
				"reason_summary":  decision.ReasonSummary,
				"evidence":        jsonValue(decision.Evidence),
				"trade_plan":      jsonValue(decision.TradePlanJSON),
				"tokens_used":     decision.TokensUsed,
				"is_paper":        decision.IsPaper,
				"created_at":      decision.CreatedAt.UTC().Format(time.RFC3339),
			},
		})
		chain.Steps = append(chain.Steps, Step{
			Step: 4,
			Type: "risk_report",
			Data: map[string]any{
				"allowed":         decision.RiskAllowed,
				"reasons":         jsonArray(decision.RiskReasons),
				"normalized_plan": jsonValue(decision.NormalizedPlan),
			},
		})
	}

	if plan != nil {
		chain.Steps = append(chain.Steps, Step{
			Step: 5,
			Type: "trade_plan",
			Data: map[string]any{
				"id":              plan.ID,
				"client_order_id": plan.ClientOrderID,
				"symbol":          plan.Symbol,
				"side":            plan.Side,
				"quantity":        plan.Quantity.String(),
				"entry_price":     nullDecimalString(plan.EntryPrice),
				"tp_price":        nullDecimalString(plan.TPPrice),
				"sl_price":        nullDecimalString(plan.SLPrice),
				"leverage":        plan.Leverage.String(),
				"status":          plan.Status,
				"is_paper":        plan.IsPaper,
				"error_message":   truncateError(plan.ErrorMessage),
				"created_at":      plan.CreatedAt.UTC().Format(time.RFC3339),
			},
		})
	}

	for i := range execs {
		exec := &execs[i]
		chain.Steps = append(chain.Steps, Step{
			Step: 6 + i,
			Type: "execution",
			Data: map[string]any{
				"id":                exec.ID,
				"order_type":        exec.OrderType,
				"exchange_order_id": exec.ExchangeOrderID,
				"client_order_id":   exec.ClientOrderID,
				"symbol":            exec.Symbol,
				"side":              exec.Side,
				"quantity":          exec.Quantity.String(),
				"price":             nullDecimalString(exec.Price),
				"status":            exec.Status,
				"is_paper":          exec.IsPaper,
				"error_message":     truncateError(exec.ErrorMessage),
				"created_at":        exec.CreatedAt.UTC().Format(time.RFC3339),
			},
		})
	}

	return chain
}

// sanitizeOHLCV 只保留末尾几根 K 线,避免整段行情数据进回放输出。
func sanitizeOHLCV(raw []byte) []any {
	var candles []any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &candles)
	}
	if candles == nil {
		return []any{}
	}
	if len(candles) > ohlcvSummaryLimit {
		candles = candles[len(candles)-ohlcvSummaryLimit:]
	}
	return candles
}

func jsonValue(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func jsonObject(raw []byte) map[string]any {
	obj := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &obj)
	}
	return obj
}

func jsonArray(raw []byte) []any {
	var arr []any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &arr)
	}
	if arr == nil {
		return []any{}
	}
	return arr
}

func nullDecimalString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func truncateError(msg string) *string {
	if msg == "" {
		return nil
	}
	if len(msg) > maxChainErrorLen {
		msg = msg[:maxChainErrorLen]
	}
	return &msg
}
