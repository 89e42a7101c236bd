// Package reconcile 把本地委托与计划状态对齐到交易所的真实状态。
// 状态只会前向推进,重复执行是幂等的。
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Sisyphusclub/ai-crypto-trader/internal/config"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/exchange"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/lock"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/secret"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/store"
)

// AdapterFactory 创建交易所适配器。
type AdapterFactory func(name, apiKey, apiSecret string, testnet bool, logger *zap.Logger) (exchange.Adapter, error)

// Result 为一次账户对账的统计。
type Result struct {
	Skipped bool
	Checked int
	Updated int
	Errors  int
}

// Engine 执行账户级对账。
type Engine struct {
	cfg      *config.Config
	store    *store.Store
	locker   lock.Locker
	crypto   *secret.Crypto
	adapters AdapterFactory
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine 创建对账引擎。
func NewEngine(cfg *config.Config, st *store.Store, locker lock.Locker, crypto *secret.Crypto, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		locker:   locker,
		crypto:   crypto,
		adapters: exchange.New,
		logger:   logger.Named("reconcile"),
		now:      time.Now,
	}
}

// ReconcileAccount 在账户互斥锁下对账;锁被占用视为正常跳过。
func (e *Engine) ReconcileAccount(ctx context.Context, accountID string) (Result, error) {
	mutex := e.locker.NewMutex(lock.ReconcileLockName(accountID), e.cfg.Lock.ReconcileTTL)
	if err := mutex.TryAcquire(ctx); err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			e.logger.Warn("对账锁被占用,跳过", zap.String("account_id", accountID))
			return Result{Skipped: true}, nil
		}
		return Result{}, err
	}
	defer func() {
		if err := mutex.Release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("释放对账锁失败", zap.String("account_id", accountID), zap.Error(err))
		}
	}()

	return e.reconcileLocked(ctx, accountID)
}

func (e *Engine) reconcileLocked(ctx context.Context, accountID string) (Result, error) {
	account, err := e.store.GetExchangeAccount(ctx, accountID)
	if err != nil {
		return Result{}, err
	}

	apiKey, err := e.crypto.Decrypt(account.APIKeyEncrypted)
	if err != nil {
		return Result{}, err
	}
	apiSecret, err := e.crypto.Decrypt(account.APISecretEncrypted)
	if err != nil {
		return Result{}, err
	}
	adapter, err := e.adapters(account.Exchange, apiKey, apiSecret, account.IsTestnet, e.logger)
	if err != nil {
		return Result{}, err
	}
	defer adapter.Close()

	since := e.now().UTC().Add(-time.Duration(e.cfg.Reconcile.LookbackHours) * time.Hour)
	plans, err := e.store.NonTerminalPlans(ctx, accountID, since, e.cfg.Reconcile.BatchSize)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for i := range plans {
		result.Checked++
		updated, err := e.reconcilePlan(ctx, adapter, &plans[i])
		if err != nil {
			result.Errors++
			e.logger.Error("对账计划失败",
				zap.String("trade_plan_id", plans[i].ID),
				zap.Error(err))
			continue
		}
		if updated {
			result.Updated++
		}
	}

	e.logger.Info("账户对账完成",
		zap.String("account_id", accountID),
		zap.Int("checked", result.Checked),
		zap.Int("updated", result.Updated),
		zap.Int("errors", result.Errors))

	return result, nil
}

// reconcilePlan 逐笔核对委托状态,再根据委托推进计划状态机。
func (e *Engine) reconcilePlan(ctx context.Context, adapter exchange.Adapter, plan *store.TradePlan) (bool, error) {
	execs, err := e.store.ExecutionsByPlan(ctx, plan.ID)
	if err != nil {
		return false, err
	}

	updated := false
	for i := range execs {
		exec := &execs[i]
		if exec.Status == store.ExecutionStatusFilled || exec.Status == store.ExecutionStatusCancelled {
			continue
		}
		if exec.ExchangeOrderID == nil {
			continue
		}

		order, err := adapter.GetOrder(ctx, exec.Symbol, exec.ClientOrderID)
		if err != nil || order == nil {
			// 单笔查询失败不阻断其余委托。
			if err != nil {
				e.logger.Warn("查询委托状态失败",
					zap.String("execution_id", exec.ID),
					zap.String("client_order_id", exec.ClientOrderID),
					zap.Error(err))
			}
			continue
		}

		switch order.Status {
		case "filled", "closed":
			exec.Status = store.ExecutionStatusFilled
			if order.AvgPrice.IsPositive() {
				exec.Price = decimal.NullDecimal{Decimal: order.AvgPrice, Valid: true}
			}
			now := e.now().UTC()
			exec.FilledAt = &now
		case "cancelled", "canceled", "expired":
			exec.Status = store.ExecutionStatusCancelled
		case "partially_filled", "partial":
			exec.Status = store.ExecutionStatusPartiallyFilled
			if order.ExecutedQty.IsPositive() {
				exec.Quantity = order.ExecutedQty
			}
		default:
			continue
		}

		if err := e.store.SaveExecution(ctx, exec); err != nil {
			return updated, err
		}
		updated = true
		e.logger.Info("委托状态已对齐",
			zap.String("execution_id", exec.ID),
			zap.String("status", exec.Status))
	}

	// 计划推进不依赖本轮是否有委托变更:上一轮可能已落库终态委托
	// 却没来得及保存计划,这里必须能把滞后的计划补齐。
	advanced, err := e.advancePlan(ctx, plan, execs)
	if err != nil {
		return updated, err
	}
	return updated || advanced, nil
}

// advancePlan 根据委托终态前向推进计划;不支持任何回退。
func (e *Engine) advancePlan(ctx context.Context, plan *store.TradePlan, execs []store.Execution) (bool, error) {
	var entries, stops []store.Execution
	for _, exec := range execs {
		switch exec.OrderType {
		case store.OrderTypeEntry:
			entries = append(entries, exec)
		case store.OrderTypeTP, store.OrderTypeSL:
			stops = append(stops, exec)
		}
	}

	changed := false

	if len(entries) > 0 && plan.Status == store.TradePlanStatusEntryPlaced {
		allFilled := true
		for _, entry := range entries {
			if entry.Status != store.ExecutionStatusFilled {
				allFilled = false
				break
			}
		}
		if allFilled {
			plan.Status = store.TradePlanStatusEntryFilled
			if entries[0].Price.Valid {
				plan.EntryPrice = entries[0].Price
			}
			changed = true
		}
	}

	if len(stops) > 0 && plan.Status == store.TradePlanStatusTPSLPlaced {
		allClosed := true
		for _, stop := range stops {
			if stop.Status != store.ExecutionStatusFilled && stop.Status != store.ExecutionStatusCancelled {
				allClosed = false
				break
			}
		}
		if allClosed {
			plan.Status = store.TradePlanStatusCompleted
			if pnl := realizedPnL(plan, stops); pnl != nil {
				plan.RealizedPnL = decimal.NullDecimal{Decimal: *pnl, Valid: true}
			}
			changed = true
			e.logger.Info("交易计划已完结", zap.String("trade_plan_id", plan.ID))
		}
	}

	if !changed {
		return false, nil
	}
	if err := e.store.SaveTradePlan(ctx, plan); err != nil {
		return false, err
	}
	return true, nil
}

// realizedPnL 用成交的止盈或止损价结算已实现盈亏;数据不全时返回 nil。
func realizedPnL(plan *store.TradePlan, stops []store.Execution) *decimal.Decimal {
	if !plan.EntryPrice.Valid {
		return nil
	}

	for _, stop := range stops {
		if stop.Status != store.ExecutionStatusFilled || !stop.Price.Valid {
			continue
		}
		diff := stop.Price.Decimal.Sub(plan.EntryPrice.Decimal)
		if plan.Side == "short" {
			diff = diff.Neg()
		}
		pnl := diff.Mul(plan.Quantity)
		return &pnl
	}
	return nil
}
