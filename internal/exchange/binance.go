package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const binanceFuturesTestnetURL = "https://testnet.binancefuture.com"

// binanceAdapter 基于 go-binance 的 USDT 本位合约适配器。
type binanceAdapter struct {
	client *futures.Client
	logger *zap.Logger

	mu      sync.Mutex
	symbols map[string]*SymbolInfo
}

func newBinance(apiKey, apiSecret string, testnet bool, logger *zap.Logger) *binanceAdapter {
	client := futures.NewClient(apiKey, apiSecret)
	if testnet {
		client.BaseURL = binanceFuturesTestnetURL
	}
	return &binanceAdapter{
		client:  client,
		logger:  logger.Named("binance"),
		symbols: make(map[string]*SymbolInfo),
	}
}

func (b *binanceAdapter) Name() string { return "binance" }

// GetSymbolInfo 查询合约精度,结果进程内缓存。
func (b *binanceAdapter) GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	b.mu.Lock()
	if info, ok := b.symbols[symbol]; ok {
		b.mu.Unlock()
		return info, nil
	}
	b.mu.Unlock()

	res, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询合约信息失败: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range res.Symbols {
		s := res.Symbols[i]
		b.symbols[s.Symbol] = binanceSymbolInfo(&s)
	}

	info, ok := b.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	return info, nil
}

func binanceSymbolInfo(s *futures.Symbol) *SymbolInfo {
	info := &SymbolInfo{
		Symbol:            s.Symbol,
		PricePrecision:    int32(s.PricePrecision),
		QuantityPrecision: int32(s.QuantityPrecision),
	}
	if f := s.LotSizeFilter(); f != nil {
		info.MinQuantity = parseDecimal(f.MinQuantity)
		info.MaxQuantity = parseDecimal(f.MaxQuantity)
	}
	if f := s.MinNotionalFilter(); f != nil {
		info.MinNotional = parseDecimal(f.Notional)
	}
	return info
}

// GetBalance 返回指定资产的可用余额。
func (b *binanceAdapter) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	balances, err := b.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("查询余额失败: %w", err)
	}
	for _, bal := range balances {
		if strings.EqualFold(bal.Asset, asset) {
			return parseDecimal(bal.AvailableBalance), nil
		}
	}
	return decimal.Zero, nil
}

// GetPositions 返回全部非零持仓。
func (b *binanceAdapter) GetPositions(ctx context.Context) ([]Position, error) {
	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询持仓失败: %w", err)
	}

	positions := make([]Position, 0, len(risks))
	for _, r := range risks {
		amt := parseDecimal(r.PositionAmt)
		if amt.IsZero() {
			continue
		}
		side := "long"
		if amt.IsNegative() {
			side = "short"
		}
		positions = append(positions, Position{
			Symbol:        r.Symbol,
			Side:          side,
			Quantity:      amt.Abs(),
			EntryPrice:    parseDecimal(r.EntryPrice),
			Leverage:      parseDecimal(r.Leverage),
			UnrealizedPnL: parseDecimal(r.UnRealizedProfit),
		})
	}
	return positions, nil
}

// GetOpenOrders 返回指定合约的未完成委托。
func (b *binanceAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	raws, err := b.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询挂单失败: %w", err)
	}

	orders := make([]Order, 0, len(raws))
	for _, o := range raws {
		orders = append(orders, convertBinanceOrder(o))
	}
	return orders, nil
}

// GetTicker 返回标记价格。
func (b *binanceAdapter) GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	res, err := b.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("查询标记价格失败: %w", err)
	}
	if len(res) == 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	return parseDecimal(res[0].MarkPrice), nil
}

// SetLeverage 调整杠杆;失败只记日志,不阻断后续下单。
func (b *binanceAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) bool {
	_, err := b.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if err != nil {
		b.logger.Warn("调整杠杆失败",
			zap.String("symbol", symbol),
			zap.Int("leverage", leverage),
			zap.Error(err))
		return false
	}
	return true
}

// PlaceMarketOrder 以市价单开仓。
func (b *binanceAdapter) PlaceMarketOrder(ctx context.Context, symbol string, side OrderSide, quantity decimal.Decimal, clientOrderID string) OrderResult {
	res, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(quantity.String()).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return failedResult(clientOrderID, err)
	}
	return convertCreateResponse(res)
}

// PlaceTakeProfit 挂止盈市价单,触价后以反方向平仓。
func (b *binanceAdapter) PlaceTakeProfit(ctx context.Context, symbol string, side OrderSide, quantity, stopPrice decimal.Decimal, clientOrderID string) OrderResult {
	return b.placeConditional(ctx, symbol, side, quantity, stopPrice, clientOrderID, futures.OrderTypeTakeProfitMarket)
}

// PlaceStopLoss 挂止损市价单。
func (b *binanceAdapter) PlaceStopLoss(ctx context.Context, symbol string, side OrderSide, quantity, stopPrice decimal.Decimal, clientOrderID string) OrderResult {
	return b.placeConditional(ctx, symbol, side, quantity, stopPrice, clientOrderID, futures.OrderTypeStopMarket)
}

func (b *binanceAdapter) placeConditional(ctx context.Context, symbol string, side OrderSide, quantity, stopPrice decimal.Decimal, clientOrderID string, orderType futures.OrderType) OrderResult {
	res, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(orderType).
		Quantity(quantity.String()).
		StopPrice(stopPrice.String()).
		ReduceOnly(true).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return failedResult(clientOrderID, err)
	}
	return convertCreateResponse(res)
}

// CancelOrder 按幂等键撤单。
func (b *binanceAdapter) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	_, err := b.client.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("撤单失败: %w", err)
	}
	return nil
}

// GetOrder 按幂等键查询委托状态。
func (b *binanceAdapter) GetOrder(ctx context.Context, symbol, clientOrderID string) (*Order, error) {
	raw, err := b.client.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询委托失败: %w", err)
	}
	o := convertBinanceOrder(raw)
	return &o, nil
}

func (b *binanceAdapter) Close() {}

func convertBinanceOrder(o *futures.Order) Order {
	return Order{
		OrderID:       strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Status:        strings.ToLower(string(o.Status)),
		ExecutedQty:   parseDecimal(o.ExecutedQuantity),
		AvgPrice:      parseDecimal(o.AvgPrice),
		UpdatedAt:     time.UnixMilli(o.UpdateTime),
	}
}

func convertCreateResponse(res *futures.CreateOrderResponse) OrderResult {
	raw, _ := json.Marshal(res)
	return OrderResult{
		Success:       true,
		OrderID:       strconv.FormatInt(res.OrderID, 10),
		ClientOrderID: res.ClientOrderID,
		Status:        strings.ToLower(string(res.Status)),
		ExecutedQty:   parseDecimal(res.ExecutedQuantity),
		AvgPrice:      parseDecimal(res.AvgPrice),
		Raw:           raw,
	}
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
