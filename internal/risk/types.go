// Package risk 为所有模型产出的交易计划提供硬性风控闸门。
// 模型输出永远不会绕过这里直接下单。
package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// Profile 汇总策略与合约约束的风控参数。
type Profile struct {
	MaxLeverage            int
	MaxPositionNotional    *decimal.Decimal
	MaxPositionQty         *decimal.Decimal
	MaxConcurrentPositions int
	CooldownSeconds        int
	DailyLossCap           *decimal.Decimal
	PricePrecision         int32
	QuantityPrecision      int32
	MinQuantity            decimal.Decimal
	MinNotional            decimal.Decimal
}

// DefaultProfile 返回保守缺省值,策略配置按需覆盖。
func DefaultProfile() Profile {
	return Profile{
		MaxLeverage:            10,
		MaxConcurrentPositions: 5,
		CooldownSeconds:        3600,
		PricePrecision:         2,
		QuantityPrecision:      3,
		MinQuantity:            decimal.RequireFromString("0.001"),
		MinNotional:            decimal.NewFromInt(5),
	}
}

// RecentTrade 为冷却检查用的近期开仓摘要。
type RecentTrade struct {
	Symbol    string
	Side      string
	CreatedAt time.Time
}

// AccountState 为风控检查所需的账户快照。
type AccountState struct {
	AvailableBalance decimal.Decimal
	OpenPositions    int
	CurrentDailyPnL  decimal.Decimal
	RecentTrades     []RecentTrade
}

// NormalizedPlan 为通过风控后精度修正的可执行计划。
type NormalizedPlan struct {
	Symbol      string
	Side        string
	Quantity    decimal.Decimal
	Leverage    int
	EntryType   string
	EntryPrice  *decimal.Decimal
	TPPrice     *decimal.Decimal
	SLPrice     *decimal.Decimal
	TimeInForce string
}

// Report 为风控检查结果;不通过时 Reasons 列出全部失败原因。
type Report struct {
	Allowed        bool
	Reasons        []string
	NormalizedPlan *NormalizedPlan
}
