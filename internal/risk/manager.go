package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Sisyphusclub/ai-crypto-trader/internal/ai"
)

// Manager 校验并归一化模型交易计划。
type Manager struct {
	now func() time.Time
}

// NewManager 创建风控管理器。
func NewManager() *Manager {
	return &Manager{now: time.Now}
}

// Check 对计划执行全部风控检查。检查不短路,所有失败原因一次性收集,
// 便于审计与提示词调优。skip 与 close 永远放行。
func (m *Manager) Check(plan *ai.TradePlanOutput, profile Profile, state AccountState, currentPrice *decimal.Decimal) Report {
	switch plan.Action {
	case ai.ActionSkip:
		return Report{Allowed: true, Reasons: []string{"Action is skip"}}
	case ai.ActionClose:
		return Report{Allowed: true, Reasons: []string{"Close action allowed"}}
	case ai.ActionOpen:
	default:
		return Report{Allowed: false, Reasons: []string{fmt.Sprintf("Unknown action: %s", plan.Action)}}
	}

	if plan.Symbol == "" || plan.Side == "" || plan.PositionSize == nil {
		return Report{Allowed: false, Reasons: []string{"Missing required fields for open action"}}
	}

	var reasons []string

	if plan.Leverage > profile.MaxLeverage {
		reasons = append(reasons, fmt.Sprintf("Leverage %d exceeds max %d", plan.Leverage, profile.MaxLeverage))
	}

	if state.OpenPositions >= profile.MaxConcurrentPositions {
		reasons = append(reasons, fmt.Sprintf("Max concurrent positions (%d) reached", profile.MaxConcurrentPositions))
	}

	quantity := calculateQuantity(plan, profile, currentPrice)
	if quantity == nil {
		reasons = append(reasons, "Could not calculate valid quantity")
	} else {
		if profile.MaxPositionNotional != nil && currentPrice != nil {
			notional := quantity.Mul(*currentPrice)
			if notional.GreaterThan(*profile.MaxPositionNotional) {
				reasons = append(reasons, fmt.Sprintf("Position notional %s exceeds max %s", notional, profile.MaxPositionNotional))
			}
		}

		if profile.MaxPositionQty != nil && quantity.GreaterThan(*profile.MaxPositionQty) {
			reasons = append(reasons, fmt.Sprintf("Position qty %s exceeds max %s", quantity, profile.MaxPositionQty))
		}

		if quantity.LessThan(profile.MinQuantity) {
			reasons = append(reasons, fmt.Sprintf("Position qty %s below min %s", quantity, profile.MinQuantity))
		}

		if currentPrice != nil {
			notional := quantity.Mul(*currentPrice)
			if notional.LessThan(profile.MinNotional) {
				reasons = append(reasons, fmt.Sprintf("Position notional %s below min %s", notional, profile.MinNotional))
			}
		}
	}

	if profile.DailyLossCap != nil && state.CurrentDailyPnL.LessThan(profile.DailyLossCap.Neg()) {
		reasons = append(reasons, fmt.Sprintf("Daily loss cap %s exceeded", profile.DailyLossCap))
	}

	if reason := m.checkCooldown(plan.Symbol, plan.Side, state.RecentTrades, profile.CooldownSeconds); reason != "" {
		reasons = append(reasons, reason)
	}

	if quantity != nil && currentPrice != nil && plan.Leverage > 0 {
		margin := quantity.Mul(*currentPrice).Div(decimal.NewFromInt(int64(plan.Leverage)))
		if margin.GreaterThan(state.AvailableBalance) {
			reasons = append(reasons, fmt.Sprintf("Insufficient margin: need %s, have %s", margin, state.AvailableBalance))
		}
	}

	if len(reasons) > 0 {
		return Report{Allowed: false, Reasons: reasons}
	}

	return Report{
		Allowed:        true,
		NormalizedPlan: normalizePlan(plan, *quantity, profile, currentPrice),
	}
}

// calculateQuantity 按仓位配置换算数量并向零截断;无法得出正数量时返回 nil。
func calculateQuantity(plan *ai.TradePlanOutput, profile Profile, currentPrice *decimal.Decimal) *decimal.Decimal {
	if plan.PositionSize == nil {
		return nil
	}

	var qty decimal.Decimal
	switch plan.PositionSize.Mode {
	case "qty":
		qty = decimal.NewFromFloat(plan.PositionSize.Value)
	case "notional":
		if currentPrice == nil || !currentPrice.IsPositive() {
			return nil
		}
		qty = decimal.NewFromFloat(plan.PositionSize.Value).Div(*currentPrice)
	default:
		return nil
	}

	qty = qty.Truncate(profile.QuantityPrecision)
	if !qty.IsPositive() {
		return nil
	}
	return &qty
}

func (m *Manager) checkCooldown(symbol, side string, recent []RecentTrade, cooldownSeconds int) string {
	cutoff := m.now().UTC().Add(-time.Duration(cooldownSeconds) * time.Second)
	for _, trade := range recent {
		if trade.Symbol == symbol && trade.Side == side && trade.CreatedAt.After(cutoff) {
			return fmt.Sprintf("Cooldown active for %s %s (wait %ds)", symbol, side, cooldownSeconds)
		}
	}
	return ""
}

// normalizePlan 修正价格精度并换算百分比止盈止损;杠杆收敛到上限以内。
func normalizePlan(plan *ai.TradePlanOutput, quantity decimal.Decimal, profile Profile, currentPrice *decimal.Decimal) *NormalizedPlan {
	var entryPrice *decimal.Decimal
	entryType := "market"
	if plan.Entry != nil {
		entryType = plan.Entry.Type
		if plan.Entry.Price != nil {
			p := decimal.NewFromFloat(*plan.Entry.Price).Round(profile.PricePrecision)
			entryPrice = &p
		}
	}

	leverage := plan.Leverage
	if leverage > profile.MaxLeverage {
		leverage = profile.MaxLeverage
	}

	return &NormalizedPlan{
		Symbol:      plan.Symbol,
		Side:        plan.Side,
		Quantity:    quantity,
		Leverage:    leverage,
		EntryType:   entryType,
		EntryPrice:  entryPrice,
		TPPrice:     resolveStopPrice(plan.TP, plan.Side, true, profile, currentPrice),
		SLPrice:     resolveStopPrice(plan.SL, plan.Side, false, profile, currentPrice),
		TimeInForce: plan.TimeInForce,
	}
}

// resolveStopPrice 把 percent/price 两种模式统一换算为绝对价格。
// 多仓止盈在上、止损在下,空仓镜像;无现价时 percent 模式无法换算,返回 nil。
func resolveStopPrice(cfg *ai.TPSLConfig, side string, takeProfit bool, profile Profile, currentPrice *decimal.Decimal) *decimal.Decimal {
	if cfg == nil || currentPrice == nil {
		return nil
	}

	var price decimal.Decimal
	if cfg.Mode == "percent" {
		pct := decimal.NewFromFloat(cfg.Value).Div(decimal.NewFromInt(100))
		up := side == ai.SideLong
		if !takeProfit {
			up = !up
		}
		if up {
			price = currentPrice.Mul(decimal.NewFromInt(1).Add(pct))
		} else {
			price = currentPrice.Mul(decimal.NewFromInt(1).Sub(pct))
		}
	} else {
		price = decimal.NewFromFloat(cfg.Value)
	}

	price = price.Round(profile.PricePrecision)
	return &price
}
