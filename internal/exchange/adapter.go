// Package exchange 封装各交易所合约接口的统一适配层。
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderSide 为统一的买卖方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite 返回反方向,用于平仓单。
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ErrSymbolNotFound 表示交易所不存在该合约。
var ErrSymbolNotFound = errors.New("exchange: 合约不存在")

// SymbolInfo 为合约的精度与数量边界约束。
type SymbolInfo struct {
	Symbol            string
	PricePrecision    int32
	QuantityPrecision int32
	MinQuantity       decimal.Decimal
	MaxQuantity       decimal.Decimal
	MinNotional       decimal.Decimal
}

// Position 为当前持仓。
type Position struct {
	Symbol        string
	Side          string
	Quantity      decimal.Decimal
	EntryPrice    decimal.Decimal
	Leverage      decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// Order 为交易所侧委托的规范化视图,状态为小写原始值。
type Order struct {
	OrderID       string
	ClientOrderID string
	Status        string
	ExecutedQty   decimal.Decimal
	AvgPrice      decimal.Decimal
	UpdatedAt     time.Time
}

// OrderResult 为下单结果;下单失败不返回 error,失败原因记录在 Error 字段。
type OrderResult struct {
	Success       bool
	OrderID       string
	ClientOrderID string
	Status        string
	ExecutedQty   decimal.Decimal
	AvgPrice      decimal.Decimal
	Raw           json.RawMessage
	Error         string
}

func failedResult(clientOrderID string, err error) OrderResult {
	return OrderResult{
		Success:       false,
		ClientOrderID: clientOrderID,
		Error:         err.Error(),
	}
}

// Adapter 为交易所适配器接口。下单操作不返回 error,
// 调用方通过 OrderResult.Success 判断成败并落库。
type Adapter interface {
	Name() string
	GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) bool
	PlaceMarketOrder(ctx context.Context, symbol string, side OrderSide, quantity decimal.Decimal, clientOrderID string) OrderResult
	PlaceTakeProfit(ctx context.Context, symbol string, side OrderSide, quantity, stopPrice decimal.Decimal, clientOrderID string) OrderResult
	PlaceStopLoss(ctx context.Context, symbol string, side OrderSide, quantity, stopPrice decimal.Decimal, clientOrderID string) OrderResult
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
	GetOrder(ctx context.Context, symbol, clientOrderID string) (*Order, error)
	Close()
}

// New 按交易所名称创建适配器,密钥仅驻留内存。
func New(name, apiKey, apiSecret string, testnet bool, logger *zap.Logger) (Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch name {
	case "binance":
		return newBinance(apiKey, apiSecret, testnet, logger), nil
	case "gate":
		return newGate(apiKey, apiSecret, testnet, logger), nil
	default:
		return nil, fmt.Errorf("exchange: 不支持的交易所 %q", name)
	}
}
