// Package execution 负责把通过风控的计划落到交易所,并持久化每一笔委托。
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/Sisyphusclub/ai-crypto-trader/internal/exchange"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/risk"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/store"
)

const maxErrorMessageLen = 500

// 纸面模式无行情可取时的兜底模拟价。
var paperFallbackPrice = decimal.NewFromInt(50000)

// Executor 执行归一化计划。纸面模式不触达交易所。
type Executor struct {
	store  *store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewExecutor 创建执行器。
func NewExecutor(st *store.Store, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		store:  st,
		logger: logger.Named("execution"),
		now:    time.Now,
	}
}

// Request 为一次执行请求。
type Request struct {
	Plan          *risk.NormalizedPlan
	AccountID     string
	ClientOrderID string
	IsPaper       bool
	CurrentPrice  *decimal.Decimal
}

// Execute 创建 TradePlan 并按模式执行。
// 入场失败时计划标记 failed;入场成功而止盈止损挂单失败时,
// 计划停留在 entry_filled 并记录错误,等待对账或人工处理,绝不回滚入场。
func (e *Executor) Execute(ctx context.Context, adapter exchange.Adapter, req Request) (*store.TradePlan, error) {
	np := req.Plan

	plan := &store.TradePlan{
		ExchangeAccountID: req.AccountID,
		ClientOrderID:     req.ClientOrderID,
		Symbol:            np.Symbol,
		Side:              np.Side,
		Quantity:          np.Quantity,
		TPPrice:           toNullDecimal(np.TPPrice),
		SLPrice:           toNullDecimal(np.SLPrice),
		Leverage:          decimal.NewFromInt(int64(np.Leverage)),
		Status:            store.TradePlanStatusPending,
		IsPaper:           req.IsPaper,
	}
	if err := e.store.CreateTradePlan(ctx, plan); err != nil {
		return nil, err
	}

	if req.IsPaper {
		e.executePaper(plan, req)
	} else {
		e.executeLive(ctx, adapter, plan, np)
	}

	if err := e.store.SaveTradePlan(ctx, plan); err != nil {
		return plan, err
	}
	return plan, nil
}

// executePaper 模拟即时成交,直接推进状态机。
func (e *Executor) executePaper(plan *store.TradePlan, req Request) {
	price := paperFallbackPrice
	switch {
	case req.Plan.EntryPrice != nil:
		price = *req.Plan.EntryPrice
	case req.CurrentPrice != nil:
		price = *req.CurrentPrice
	}

	plan.Status = store.TradePlanStatusEntryFilled
	plan.EntryPrice = decimal.NullDecimal{Decimal: price, Valid: true}
	if plan.TPPrice.Valid || plan.SLPrice.Valid {
		plan.Status = store.TradePlanStatusTPSLPlaced
	}

	e.logger.Info("纸面成交",
		zap.String("trade_plan_id", plan.ID),
		zap.String("symbol", plan.Symbol),
		zap.String("side", plan.Side),
		zap.String("price", price.String()))
}

func (e *Executor) executeLive(ctx context.Context, adapter exchange.Adapter, plan *store.TradePlan, np *risk.NormalizedPlan) {
	// 杠杆调整尽力而为,失败不阻断下单。
	adapter.SetLeverage(ctx, np.Symbol, np.Leverage)

	entrySide := exchange.OrderSideBuy
	if np.Side == "short" {
		entrySide = exchange.OrderSideSell
	}

	result := adapter.PlaceMarketOrder(ctx, np.Symbol, entrySide, np.Quantity, plan.ClientOrderID)
	e.recordExecution(ctx, plan, store.OrderTypeEntry, entrySide, np.Quantity, plan.ClientOrderID, result)

	if !result.Success {
		plan.Status = store.TradePlanStatusFailed
		plan.ErrorMessage = truncate(result.Error)
		e.logger.Error("入场下单失败",
			zap.String("trade_plan_id", plan.ID),
			zap.String("symbol", plan.Symbol),
			zap.String("error", plan.ErrorMessage))
		return
	}

	plan.Status = store.TradePlanStatusEntryFilled
	if result.AvgPrice.IsPositive() {
		plan.EntryPrice = decimal.NullDecimal{Decimal: result.AvgPrice, Valid: true}
	}
	plan.EntryOrder = datatypes.JSON(result.Raw)

	if !plan.TPPrice.Valid && !plan.SLPrice.Valid {
		return
	}

	closeSide := entrySide.Opposite()
	var stopErr error

	if plan.TPPrice.Valid {
		tpID := plan.ClientOrderID + "_TP"
		tpResult := adapter.PlaceTakeProfit(ctx, np.Symbol, closeSide, np.Quantity, plan.TPPrice.Decimal, tpID)
		e.recordExecution(ctx, plan, store.OrderTypeTP, closeSide, np.Quantity, tpID, tpResult)
		if tpResult.Success {
			plan.TPOrder = datatypes.JSON(tpResult.Raw)
		} else {
			stopErr = multierr.Append(stopErr, fmt.Errorf("止盈挂单失败: %s", tpResult.Error))
		}
	}

	if plan.SLPrice.Valid {
		slID := plan.ClientOrderID + "_SL"
		slResult := adapter.PlaceStopLoss(ctx, np.Symbol, closeSide, np.Quantity, plan.SLPrice.Decimal, slID)
		e.recordExecution(ctx, plan, store.OrderTypeSL, closeSide, np.Quantity, slID, slResult)
		if slResult.Success {
			plan.SLOrder = datatypes.JSON(slResult.Raw)
		} else {
			stopErr = multierr.Append(stopErr, fmt.Errorf("止损挂单失败: %s", slResult.Error))
		}
	}

	if stopErr != nil {
		// 入场已成交,保持 entry_filled 等待后续处理。
		plan.ErrorMessage = truncate(stopErr.Error())
		e.logger.Error("止盈止损挂单部分失败",
			zap.String("trade_plan_id", plan.ID),
			zap.String("symbol", plan.Symbol),
			zap.String("error", plan.ErrorMessage))
		return
	}

	plan.Status = store.TradePlanStatusTPSLPlaced
}

// recordExecution 把单笔下单结果落库;落库失败只记日志,不影响交易流程。
func (e *Executor) recordExecution(ctx context.Context, plan *store.TradePlan, orderType string, side exchange.OrderSide, quantity decimal.Decimal, clientOrderID string, result exchange.OrderResult) {
	exec := &store.Execution{
		TradePlanID:   plan.ID,
		OrderType:     orderType,
		ClientOrderID: clientOrderID,
		Symbol:        plan.Symbol,
		Side:          string(side),
		Quantity:      quantity,
		IsPaper:       plan.IsPaper,
	}

	if result.Success {
		if result.OrderID != "" {
			exec.ExchangeOrderID = &result.OrderID
		}
		exec.ExchangeResponse = datatypes.JSON(result.Raw)
		if result.Status == "filled" {
			exec.Status = store.ExecutionStatusFilled
			now := e.now().UTC()
			exec.FilledAt = &now
			if result.AvgPrice.IsPositive() {
				exec.Price = decimal.NullDecimal{Decimal: result.AvgPrice, Valid: true}
			}
		} else {
			exec.Status = store.ExecutionStatusSubmitted
		}
	} else {
		exec.Status = store.ExecutionStatusFailed
		exec.ErrorMessage = truncate(result.Error)
	}

	if err := e.store.CreateExecution(ctx, exec); err != nil {
		e.logger.Error("写入委托记录失败",
			zap.String("trade_plan_id", plan.ID),
			zap.String("client_order_id", clientOrderID),
			zap.Error(err))
	}
}

func toNullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func truncate(msg string) string {
	if len(msg) > maxErrorMessageLen {
		return msg[:maxErrorMessageLen]
	}
	return msg
}
