// Package trader 实现单个 trader 的完整决策周期:
// 取信号、问模型、过风控、下单、落审计,每个信号独立提交。
package trader

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/Sisyphusclub/ai-crypto-trader/internal/ai"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/config"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/exchange"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/execution"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/lock"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/risk"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/secret"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/store"
)

// modelCaller 为模型路由的最小接口,便于测试注入。
type modelCaller interface {
	Generate(ctx context.Context, spec ai.ProviderSpec, req ai.GenerateRequest, traderID string) ai.ModelResponse
}

// AdapterFactory 创建交易所适配器,测试中可替换为假实现。
type AdapterFactory func(name, apiKey, apiSecret string, testnet bool, logger *zap.Logger) (exchange.Adapter, error)

// Runner 驱动 trader 决策周期。
type Runner struct {
	cfg      *config.Config
	store    *store.Store
	router   modelCaller
	riskMgr  *risk.Manager
	executor *execution.Executor
	locker   lock.Locker
	crypto   *secret.Crypto
	adapters AdapterFactory
	logger   *zap.Logger
	now      func() time.Time
}

// NewRunner 创建周期执行器。
func NewRunner(
	cfg *config.Config,
	st *store.Store,
	router *ai.Router,
	locker lock.Locker,
	crypto *secret.Crypto,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		store:    st,
		router:   router,
		riskMgr:  risk.NewManager(),
		executor: execution.NewExecutor(st, logger),
		locker:   locker,
		crypto:   crypto,
		adapters: exchange.New,
		logger:   logger.Named("trader"),
		now:      time.Now,
	}
}

// RunCycle 在 trader 互斥锁下执行一个决策周期。
// 锁被占用视为正常跳过,不算错误。
func (r *Runner) RunCycle(ctx context.Context, traderID string) error {
	mutex := r.locker.NewMutex(lock.TraderLockName(traderID), r.cfg.Lock.TTL)
	if err := mutex.TryAcquire(ctx); err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			r.logger.Warn("trader 周期锁被占用,跳过", zap.String("trader_id", traderID))
			return nil
		}
		return err
	}
	defer func() {
		if err := mutex.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("释放 trader 锁失败", zap.String("trader_id", traderID), zap.Error(err))
		}
	}()

	return r.runCycleLocked(ctx, traderID)
}

func (r *Runner) runCycleLocked(ctx context.Context, traderID string) error {
	trader, err := r.store.GetTrader(ctx, traderID)
	if err != nil {
		return err
	}
	if !trader.Enabled {
		return nil
	}

	strategy, err := r.store.GetStrategy(ctx, trader.StrategyID)
	if err != nil {
		return err
	}
	account, err := r.store.GetExchangeAccount(ctx, trader.ExchangeAccountID)
	if err != nil {
		return err
	}
	modelCfg, err := r.store.GetModelConfig(ctx, trader.ModelConfigID)
	if err != nil {
		return err
	}

	signals, err := r.store.UnconsumedSignals(ctx, traderID, trader.StrategyID, r.cfg.Scheduler.SignalBatchSize)
	if err != nil {
		return err
	}
	if len(signals) == 0 {
		return nil
	}

	adapter, err := r.openAdapter(account)
	if err != nil {
		return err
	}
	defer adapter.Close()

	isPaper := trader.Mode == store.TraderModePaper || r.cfg.App.PaperTrading

	// 单个信号失败只影响自己,循环继续。
	for i := range signals {
		signal := &signals[i]
		if err := r.processSignal(ctx, adapter, trader, strategy, account, modelCfg, signal, isPaper); err != nil {
			r.logger.Error("处理信号失败",
				zap.String("trader_id", traderID),
				zap.String("signal_id", signal.ID),
				zap.Error(err))
		}
	}

	return nil
}

// openAdapter 解密账户密钥并创建适配器;明文密钥不出本函数作用域之外持久化。
func (r *Runner) openAdapter(account *store.ExchangeAccount) (exchange.Adapter, error) {
	apiKey, err := r.crypto.Decrypt(account.APIKeyEncrypted)
	if err != nil {
		return nil, err
	}
	apiSecret, err := r.crypto.Decrypt(account.APISecretEncrypted)
	if err != nil {
		return nil, err
	}
	return r.adapters(account.Exchange, apiKey, apiSecret, account.IsTestnet, r.logger)
}

func (r *Runner) processSignal(
	ctx context.Context,
	adapter exchange.Adapter,
	trader *store.Trader,
	strategy *store.Strategy,
	account *store.ExchangeAccount,
	modelCfg *store.ModelConfig,
	signal *store.Signal,
	isPaper bool,
) error {
	clientOrderID := risk.GenerateClientOrderID(trader.ID, signal.ID, r.now())

	existing, err := r.store.FindDecisionByClientOrderID(ctx, clientOrderID)
	if err != nil {
		return err
	}
	if existing != nil {
		r.logger.Debug("幂等键已存在,跳过信号",
			zap.String("signal_id", signal.ID),
			zap.String("client_order_id", clientOrderID))
		return nil
	}

	marketData := r.loadMarketData(ctx, signal)

	var currentPrice *decimal.Decimal
	if price, err := adapter.GetTicker(ctx, signal.Symbol); err == nil && price.IsPositive() {
		currentPrice = &price
	}

	profile := buildRiskProfile(trader, strategy)
	state := r.buildAccountState(ctx, adapter, trader, account, signal, isPaper)

	signalData := map[string]any{
		"symbol":    signal.Symbol,
		"side":      signal.Side,
		"score":     signal.Score.InexactFloat64(),
		"timeframe": signal.Timeframe,
		"reason":    signal.ReasonSummary,
	}
	riskData := map[string]any{
		"max_leverage":             profile.MaxLeverage,
		"max_position_notional":    decimalString(profile.MaxPositionNotional),
		"max_concurrent_positions": profile.MaxConcurrentPositions,
		"cooldown_seconds":         profile.CooldownSeconds,
	}
	accountData := map[string]any{
		"available_balance": state.AvailableBalance.String(),
		"open_positions":    state.OpenPositions,
	}

	systemPrompt, userPrompt, err := ai.BuildPrompt(signalData, marketData, riskData, accountData)
	if err != nil {
		return err
	}

	decision := &store.DecisionLog{
		TraderID:      trader.ID,
		SignalID:      &signal.ID,
		ClientOrderID: clientOrderID,
		Status:        store.DecisionStatusPending,
		InputSnapshot: mustJSON(map[string]any{
			"signal":  signalData,
			"market":  marketData,
			"risk":    riskData,
			"account": accountData,
		}),
		ModelProvider: modelCfg.Provider,
		ModelName:     modelCfg.ModelName,
		IsPaper:       isPaper,
	}
	if err := r.store.CreateDecision(ctx, decision); err != nil {
		return err
	}

	apiKey, err := r.crypto.Decrypt(modelCfg.APIKeyEncrypted)
	if err != nil {
		decision.Status = store.DecisionStatusFailed
		decision.ExecutionError = "credential error"
		_ = r.store.SaveDecision(ctx, decision)
		return err
	}

	resp := r.router.Generate(ctx, ai.ProviderSpec{
		Provider: modelCfg.Provider,
		Model:    modelCfg.ModelName,
		BaseURL:  modelCfg.BaseURL,
		APIKey:   apiKey,
	}, ai.GenerateRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Schema:       ai.TradePlanSchema(),
	}, trader.ID)

	if !resp.Success {
		decision.Status = store.DecisionStatusFailed
		decision.ExecutionError = "AI error: " + string(resp.ErrorType)
		return r.store.SaveDecision(ctx, decision)
	}

	if resp.Usage != nil {
		tokens := resp.Usage.InputTokens + resp.Usage.OutputTokens
		decision.TokensUsed = &tokens
	}

	validation := ai.ValidateTradePlan(resp.Content)
	if !validation.Valid {
		decision.Status = store.DecisionStatusFailed
		decision.ExecutionError = joinErrors(validation.Errors)
		return r.store.SaveDecision(ctx, decision)
	}

	plan := validation.Plan
	decision.TradePlanJSON = mustJSON(map[string]any{
		"action":     plan.Action,
		"symbol":     plan.Symbol,
		"side":       plan.Side,
		"leverage":   plan.Leverage,
		"confidence": plan.Confidence,
	})
	decision.Confidence = decimal.NullDecimal{Decimal: decimal.NewFromFloat(plan.Confidence), Valid: true}
	decision.ReasonSummary = plan.ReasonSummary
	decision.Evidence = mustJSON(plan.Evidence)

	if plan.Action == ai.ActionSkip {
		decision.Status = store.DecisionStatusAllowed
		allowed := true
		decision.RiskAllowed = &allowed
		decision.RiskReasons = mustJSON([]string{"Action is skip"})
		return r.store.SaveDecision(ctx, decision)
	}

	report := r.riskMgr.Check(plan, profile, state, currentPrice)
	decision.RiskAllowed = &report.Allowed
	decision.RiskReasons = mustJSON(report.Reasons)

	if !report.Allowed {
		decision.Status = store.DecisionStatusBlocked
		return r.store.SaveDecision(ctx, decision)
	}

	if report.NormalizedPlan == nil {
		// close 动作放行但不自动执行,留给人工或持仓管理流程。
		decision.Status = store.DecisionStatusAllowed
		return r.store.SaveDecision(ctx, decision)
	}

	np := report.NormalizedPlan
	decision.NormalizedPlan = mustJSON(map[string]any{
		"symbol":      np.Symbol,
		"side":        np.Side,
		"quantity":    np.Quantity.String(),
		"leverage":    np.Leverage,
		"entry_type":  np.EntryType,
		"entry_price": decimalString(np.EntryPrice),
		"tp_price":    decimalString(np.TPPrice),
		"sl_price":    decimalString(np.SLPrice),
	})

	tradePlan, err := r.executor.Execute(ctx, adapter, execution.Request{
		Plan:          np,
		AccountID:     account.ID,
		ClientOrderID: clientOrderID,
		IsPaper:       isPaper,
		CurrentPrice:  currentPrice,
	})
	if err != nil {
		decision.Status = store.DecisionStatusFailed
		decision.ExecutionError = err.Error()
		return r.store.SaveDecision(ctx, decision)
	}

	decision.TradePlanID = &tradePlan.ID
	if tradePlan.Status == store.TradePlanStatusFailed {
		decision.Status = store.DecisionStatusFailed
	} else {
		decision.Status = store.DecisionStatusExecuted
	}
	if tradePlan.ErrorMessage != "" {
		decision.ExecutionError = tradePlan.ErrorMessage
	}

	return r.store.SaveDecision(ctx, decision)
}

// loadMarketData 读取信号引用的行情快照,K线只保留最近 10 根。
func (r *Runner) loadMarketData(ctx context.Context, signal *store.Signal) map[string]any {
	if signal.SnapshotID == nil {
		return map[string]any{}
	}

	snapshot, err := r.store.GetSnapshot(ctx, *signal.SnapshotID)
	if err != nil {
		r.logger.Warn("读取行情快照失败", zap.String("signal_id", signal.ID), zap.Error(err))
		return map[string]any{}
	}

	var ohlcv []any
	_ = json.Unmarshal(snapshot.OHLCV, &ohlcv)
	if len(ohlcv) > 10 {
		ohlcv = ohlcv[len(ohlcv)-10:]
	}

	indicators := map[string]any{}
	if len(snapshot.Indicators) > 0 {
		_ = json.Unmarshal(snapshot.Indicators, &indicators)
	}

	return map[string]any{
		"symbol":     snapshot.Symbol,
		"timeframe":  snapshot.Timeframe,
		"ohlcv":      ohlcv,
		"indicators": indicators,
	}
}

// buildAccountState 组装风控账户快照;交易所不可用时降级为零值,由风控自然拦截。
// 纸面模式的持仓在交易所并不存在,用账户未结计划数代替。
func (r *Runner) buildAccountState(ctx context.Context, adapter exchange.Adapter, trader *store.Trader, account *store.ExchangeAccount, signal *store.Signal, isPaper bool) risk.AccountState {
	state := risk.AccountState{}

	if balance, err := adapter.GetBalance(ctx, "USDT"); err == nil {
		state.AvailableBalance = balance
	} else {
		r.logger.Warn("查询余额失败,按零处理", zap.String("trader_id", trader.ID), zap.Error(err))
	}

	if isPaper {
		if count, err := r.store.CountOpenPlans(ctx, account.ID); err == nil {
			state.OpenPositions = count
		} else {
			r.logger.Warn("统计未结计划失败,按零处理", zap.String("trader_id", trader.ID), zap.Error(err))
		}
	} else if positions, err := adapter.GetPositions(ctx); err == nil {
		state.OpenPositions = len(positions)
	} else {
		r.logger.Warn("查询持仓失败,按零处理", zap.String("trader_id", trader.ID), zap.Error(err))
	}

	if pnl, err := r.store.DailyRealizedPnL(ctx, account.ID, r.now()); err == nil {
		state.CurrentDailyPnL = pnl
	}

	cutoff := r.now().UTC().Add(-24 * time.Hour)
	decisions, err := r.store.RecentExecutedDecisions(ctx, trader.ID, cutoff)
	if err != nil {
		r.logger.Warn("查询近期决策失败", zap.String("trader_id", trader.ID), zap.Error(err))
		return state
	}
	for _, d := range decisions {
		if len(d.NormalizedPlan) == 0 {
			continue
		}
		var np struct {
			Symbol string `json:"symbol"`
			Side   string `json:"side"`
		}
		if err := json.Unmarshal(d.NormalizedPlan, &np); err != nil {
			continue
		}
		state.RecentTrades = append(state.RecentTrades, risk.RecentTrade{
			Symbol:    np.Symbol,
			Side:      np.Side,
			CreatedAt: d.CreatedAt,
		})
	}

	// 冷却按账户算:同账户其它 trader 的计划也要计入,
	// 本 trader 的决策记录看不到它们。
	if last, err := r.store.LastPlanTime(ctx, account.ID, signal.Symbol, signal.Side); err == nil && last != nil {
		state.RecentTrades = append(state.RecentTrades, risk.RecentTrade{
			Symbol:    signal.Symbol,
			Side:      signal.Side,
			CreatedAt: *last,
		})
	}

	return state
}

// buildRiskProfile 合并 trader 限额与策略 risk_json。
func buildRiskProfile(trader *store.Trader, strategy *store.Strategy) risk.Profile {
	profile := risk.DefaultProfile()

	if trader.MaxConcurrentPositions > 0 {
		profile.MaxConcurrentPositions = trader.MaxConcurrentPositions
	}
	if strategy.CooldownSeconds > 0 {
		profile.CooldownSeconds = strategy.CooldownSeconds
	}
	if trader.DailyLossCap.Valid {
		lossCap := trader.DailyLossCap.Decimal
		profile.DailyLossCap = &lossCap
	}

	if len(strategy.RiskJSON) == 0 {
		return profile
	}

	var raw struct {
		MaxLeverage         *int     `json:"max_leverage"`
		MaxPositionNotional *float64 `json:"max_position_notional"`
		MaxPositionQty      *float64 `json:"max_position_qty"`
		PricePrecision      *int32   `json:"price_precision"`
		QuantityPrecision   *int32   `json:"quantity_precision"`
		MinQuantity         *float64 `json:"min_quantity"`
		MinNotional         *float64 `json:"min_notional"`
	}
	if err := json.Unmarshal(strategy.RiskJSON, &raw); err != nil {
		return profile
	}

	if raw.MaxLeverage != nil {
		profile.MaxLeverage = *raw.MaxLeverage
	}
	if raw.MaxPositionNotional != nil {
		d := decimal.NewFromFloat(*raw.MaxPositionNotional)
		profile.MaxPositionNotional = &d
	}
	if raw.MaxPositionQty != nil {
		d := decimal.NewFromFloat(*raw.MaxPositionQty)
		profile.MaxPositionQty = &d
	}
	if raw.PricePrecision != nil {
		profile.PricePrecision = *raw.PricePrecision
	}
	if raw.QuantityPrecision != nil {
		profile.QuantityPrecision = *raw.QuantityPrecision
	}
	if raw.MinQuantity != nil {
		profile.MinQuantity = decimal.NewFromFloat(*raw.MinQuantity)
	}
	if raw.MinNotional != nil {
		profile.MinNotional = decimal.NewFromFloat(*raw.MinNotional)
	}

	return profile
}

func mustJSON(v any) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON(`{}`)
	}
	return datatypes.JSON(raw)
}

func decimalString(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func joinErrors(errs []string) string {
	joined := ""
	for i, e := range errs {
		if i > 0 {
			joined += "; "
		}
		joined += e
	}
	if len(joined) > 500 {
		joined = joined[:500]
	}
	return joined
}
