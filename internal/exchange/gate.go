package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	gateBaseURL        = "https://api.gateio.ws"
	gateTestnetBaseURL = "https://fx-api-testnet.gateio.ws"
	gateAPIPrefix      = "/api/v4"
	gateSettle         = "usdt"
)

// gateAdapter 基于 resty 直连 Gate.io v4 合约接口。
// 客户端委托号通过 text 字段携带,需带 t- 前缀。
type gateAdapter struct {
	http      *resty.Client
	apiKey    string
	apiSecret string
	logger    *zap.Logger

	mu        sync.Mutex
	contracts map[string]*SymbolInfo
}

func newGate(apiKey, apiSecret string, testnet bool, logger *zap.Logger) *gateAdapter {
	base := gateBaseURL
	if testnet {
		base = gateTestnetBaseURL
	}
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(15 * time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")

	return &gateAdapter{
		http:      client,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		logger:    logger.Named("gate"),
		contracts: make(map[string]*SymbolInfo),
	}
}

func (g *gateAdapter) Name() string { return "gate" }

// gateContract 把 BTCUSDT 风格的标的转换为 Gate 的 BTC_USDT。
func gateContract(symbol string) string {
	if strings.Contains(symbol, "_") {
		return symbol
	}
	for _, quote := range []string{"USDT", "USDC", "BTC"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return symbol[:len(symbol)-len(quote)] + "_" + quote
		}
	}
	return symbol
}

func (g *gateAdapter) sign(method, path, query, body string) (string, string) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	bodyHash := sha512.Sum512([]byte(body))
	payload := strings.Join([]string{
		method,
		gateAPIPrefix + path,
		query,
		hex.EncodeToString(bodyHash[:]),
		timestamp,
	}, "\n")

	mac := hmac.New(sha512.New, []byte(g.apiSecret))
	mac.Write([]byte(payload))
	return timestamp, hex.EncodeToString(mac.Sum(nil))
}

func (g *gateAdapter) request(ctx context.Context, method, path, query string, body any, out any) error {
	var bodyStr string
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		bodyStr = string(raw)
	}

	timestamp, sign := g.sign(method, path, query, bodyStr)

	req := g.http.R().
		SetContext(ctx).
		SetHeader("KEY", g.apiKey).
		SetHeader("Timestamp", timestamp).
		SetHeader("SIGN", sign)
	if query != "" {
		req.SetQueryString(query)
	}
	if bodyStr != "" {
		req.SetBody(bodyStr)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, gateAPIPrefix+path)
	if err != nil {
		return fmt.Errorf("请求 Gate 失败: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("Gate 返回错误 %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

type gateContractInfo struct {
	Name            string `json:"name"`
	OrderPriceRound string `json:"order_price_round"`
	OrderSizeMin    int64  `json:"order_size_min"`
	OrderSizeMax    int64  `json:"order_size_max"`
}

// GetSymbolInfo 查询合约约束;Gate 的下单数量以整数张为单位。
func (g *gateAdapter) GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	contract := gateContract(symbol)

	g.mu.Lock()
	if info, ok := g.contracts[contract]; ok {
		g.mu.Unlock()
		return info, nil
	}
	g.mu.Unlock()

	var raw gateContractInfo
	err := g.request(ctx, "GET", "/futures/"+gateSettle+"/contracts/"+contract, "", nil, &raw)
	if err != nil {
		if strings.Contains(err.Error(), "404") {
			return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
		}
		return nil, err
	}

	info := gateSymbolInfo(symbol, &raw)

	g.mu.Lock()
	g.contracts[contract] = info
	g.mu.Unlock()
	return info, nil
}

func gateSymbolInfo(symbol string, raw *gateContractInfo) *SymbolInfo {
	return &SymbolInfo{
		Symbol:            symbol,
		PricePrecision:    decimalPlaces(raw.OrderPriceRound),
		QuantityPrecision: 0,
		MinQuantity:       decimal.NewFromInt(raw.OrderSizeMin),
		MaxQuantity:       decimal.NewFromInt(raw.OrderSizeMax),
	}
}

func decimalPlaces(step string) int32 {
	if _, frac, ok := strings.Cut(step, "."); ok {
		return int32(len(strings.TrimRight(frac, "0")))
	}
	return 0
}

type gateAccount struct {
	Available string `json:"available"`
}

// GetBalance 查询合约账户可用余额;Gate 合约按结算币种分账户。
func (g *gateAdapter) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	if !strings.EqualFold(asset, gateSettle) {
		return decimal.Zero, fmt.Errorf("不支持的结算币种 %q", asset)
	}
	var acc gateAccount
	if err := g.request(ctx, "GET", "/futures/"+gateSettle+"/accounts", "", nil, &acc); err != nil {
		return decimal.Zero, fmt.Errorf("查询余额失败: %w", err)
	}
	return parseDecimal(acc.Available), nil
}

type gatePosition struct {
	Contract      string `json:"contract"`
	Size          int64  `json:"size"`
	EntryPrice    string `json:"entry_price"`
	Leverage      string `json:"leverage"`
	UnrealisedPnl string `json:"unrealised_pnl"`
}

func (g *gateAdapter) GetPositions(ctx context.Context) ([]Position, error) {
	var raws []gatePosition
	if err := g.request(ctx, "GET", "/futures/"+gateSettle+"/positions", "", nil, &raws); err != nil {
		return nil, fmt.Errorf("查询持仓失败: %w", err)
	}

	positions := make([]Position, 0, len(raws))
	for _, r := range raws {
		if r.Size == 0 {
			continue
		}
		side := "long"
		if r.Size < 0 {
			side = "short"
		}
		positions = append(positions, Position{
			Symbol:        strings.ReplaceAll(r.Contract, "_", ""),
			Side:          side,
			Quantity:      decimal.NewFromInt(r.Size).Abs(),
			EntryPrice:    parseDecimal(r.EntryPrice),
			Leverage:      parseDecimal(r.Leverage),
			UnrealizedPnL: parseDecimal(r.UnrealisedPnl),
		})
	}
	return positions, nil
}

type gateOrder struct {
	ID         int64  `json:"id"`
	Text       string `json:"text"`
	Status     string `json:"status"`
	FinishAs   string `json:"finish_as"`
	Size       int64  `json:"size"`
	Left       int64  `json:"left"`
	FillPrice  string `json:"fill_price"`
	FinishTime int64  `json:"finish_time"`
	CreateTime int64  `json:"create_time"`
}

func (g *gateAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	query := "contract=" + gateContract(symbol) + "&status=open"
	var raws []gateOrder
	if err := g.request(ctx, "GET", "/futures/"+gateSettle+"/orders", query, nil, &raws); err != nil {
		return nil, fmt.Errorf("查询挂单失败: %w", err)
	}

	orders := make([]Order, 0, len(raws))
	for i := range raws {
		orders = append(orders, convertGateOrder(&raws[i]))
	}
	return orders, nil
}

type gateTicker struct {
	MarkPrice string `json:"mark_price"`
	Last      string `json:"last"`
}

func (g *gateAdapter) GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	query := "contract=" + gateContract(symbol)
	var raws []gateTicker
	if err := g.request(ctx, "GET", "/futures/"+gateSettle+"/tickers", query, nil, &raws); err != nil {
		return decimal.Zero, fmt.Errorf("查询行情失败: %w", err)
	}
	if len(raws) == 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	if raws[0].MarkPrice != "" {
		return parseDecimal(raws[0].MarkPrice), nil
	}
	return parseDecimal(raws[0].Last), nil
}

func (g *gateAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) bool {
	path := "/futures/" + gateSettle + "/positions/" + gateContract(symbol) + "/leverage"
	query := "leverage=" + strconv.Itoa(leverage)
	if err := g.request(ctx, "POST", path, query, nil, nil); err != nil {
		g.logger.Warn("调整杠杆失败",
			zap.String("symbol", symbol),
			zap.Int("leverage", leverage),
			zap.Error(err))
		return false
	}
	return true
}

type gateOrderRequest struct {
	Contract   string `json:"contract"`
	Size       int64  `json:"size"`
	Price      string `json:"price"`
	TIF        string `json:"tif"`
	Text       string `json:"text"`
	ReduceOnly bool   `json:"reduce_only,omitempty"`
}

func gateSize(side OrderSide, quantity decimal.Decimal) int64 {
	size := quantity.IntPart()
	if side == OrderSideSell {
		return -size
	}
	return size
}

// PlaceMarketOrder 以 IOC 零价单实现市价开仓。
func (g *gateAdapter) PlaceMarketOrder(ctx context.Context, symbol string, side OrderSide, quantity decimal.Decimal, clientOrderID string) OrderResult {
	body := gateOrderRequest{
		Contract: gateContract(symbol),
		Size:     gateSize(side, quantity),
		Price:    "0",
		TIF:      "ioc",
		Text:     "t-" + clientOrderID,
	}

	var raw gateOrder
	if err := g.request(ctx, "POST", "/futures/"+gateSettle+"/orders", "", body, &raw); err != nil {
		return failedResult(clientOrderID, err)
	}
	return convertGateResult(&raw, clientOrderID)
}

type gatePriceOrderRequest struct {
	Initial gateOrderRequest `json:"initial"`
	Trigger struct {
		StrikePrice string `json:"price"`
		Rule        int    `json:"rule"`
	} `json:"trigger"`
}

// Gate 触发规则:1 为价格上穿,2 为价格下穿。
func gateTriggerRule(closeSide OrderSide, takeProfit bool) int {
	// 平多(SELL)时止盈在上方、止损在下方;平空反之。
	if closeSide == OrderSideSell {
		if takeProfit {
			return 1
		}
		return 2
	}
	if takeProfit {
		return 2
	}
	return 1
}

func (g *gateAdapter) PlaceTakeProfit(ctx context.Context, symbol string, side OrderSide, quantity, stopPrice decimal.Decimal, clientOrderID string) OrderResult {
	return g.placeConditional(ctx, symbol, side, quantity, stopPrice, clientOrderID, true)
}

func (g *gateAdapter) PlaceStopLoss(ctx context.Context, symbol string, side OrderSide, quantity, stopPrice decimal.Decimal, clientOrderID string) OrderResult {
	return g.placeConditional(ctx, symbol, side, quantity, stopPrice, clientOrderID, false)
}

func (g *gateAdapter) placeConditional(ctx context.Context, symbol string, side OrderSide, quantity, stopPrice decimal.Decimal, clientOrderID string, takeProfit bool) OrderResult {
	var body gatePriceOrderRequest
	body.Initial = gateOrderRequest{
		Contract:   gateContract(symbol),
		Size:       gateSize(side, quantity),
		Price:      "0",
		TIF:        "ioc",
		Text:       "t-" + clientOrderID,
		ReduceOnly: true,
	}
	body.Trigger.StrikePrice = stopPrice.String()
	body.Trigger.Rule = gateTriggerRule(side, takeProfit)

	var raw struct {
		ID int64 `json:"id"`
	}
	if err := g.request(ctx, "POST", "/futures/"+gateSettle+"/price_orders", "", body, &raw); err != nil {
		return failedResult(clientOrderID, err)
	}

	encoded, _ := json.Marshal(raw)
	return OrderResult{
		Success:       true,
		OrderID:       strconv.FormatInt(raw.ID, 10),
		ClientOrderID: clientOrderID,
		Status:        "new",
		Raw:           encoded,
	}
}

func (g *gateAdapter) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	path := "/futures/" + gateSettle + "/orders/t-" + clientOrderID
	if err := g.request(ctx, "DELETE", path, "", nil, nil); err != nil {
		return fmt.Errorf("撤单失败: %w", err)
	}
	return nil
}

func (g *gateAdapter) GetOrder(ctx context.Context, symbol, clientOrderID string) (*Order, error) {
	path := "/futures/" + gateSettle + "/orders/t-" + clientOrderID
	var raw gateOrder
	if err := g.request(ctx, "GET", path, "", nil, &raw); err != nil {
		return nil, fmt.Errorf("查询委托失败: %w", err)
	}
	o := convertGateOrder(&raw)
	return &o, nil
}

func (g *gateAdapter) Close() {}

func convertGateOrder(o *gateOrder) Order {
	status := "new"
	switch o.Status {
	case "open":
		if o.Left != o.Size {
			status = "partially_filled"
		}
	case "finished":
		switch o.FinishAs {
		case "filled":
			status = "filled"
		case "cancelled", "liquidated", "ioc", "auto_deleveraged", "reduce_only":
			status = "cancelled"
		default:
			status = "cancelled"
		}
	}

	updated := o.CreateTime
	if o.FinishTime > 0 {
		updated = o.FinishTime
	}

	abs := o.Size
	if abs < 0 {
		abs = -abs
	}
	left := o.Left
	if left < 0 {
		left = -left
	}

	return Order{
		OrderID:       strconv.FormatInt(o.ID, 10),
		ClientOrderID: strings.TrimPrefix(o.Text, "t-"),
		Status:        status,
		ExecutedQty:   decimal.NewFromInt(abs - left),
		AvgPrice:      parseDecimal(o.FillPrice),
		UpdatedAt:     time.Unix(updated, 0),
	}
}

func convertGateResult(o *gateOrder, clientOrderID string) OrderResult {
	order := convertGateOrder(o)
	raw, _ := json.Marshal(o)
	return OrderResult{
		Success:       true,
		OrderID:       order.OrderID,
		ClientOrderID: clientOrderID,
		Status:        order.Status,
		ExecutedQty:   order.ExecutedQty,
		AvgPrice:      order.AvgPrice,
		Raw:           raw,
	}
}
