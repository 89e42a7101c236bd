package reconcile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Sisyphusclub/ai-crypto-trader/internal/config"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/exchange"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/lock"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/secret"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/store"
)

const testMasterKey = "0123456789abcdef0123456789abcdef"

// orderAdapter 按 client_order_id 返回预设的交易所委托状态。
type orderAdapter struct {
	orders map[string]exchange.Order
}

func (a *orderAdapter) Name() string { return "fake" }

func (a *orderAdapter) GetSymbolInfo(context.Context, string) (*exchange.SymbolInfo, error) {
	return nil, exchange.ErrSymbolNotFound
}

func (a *orderAdapter) GetBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (a *orderAdapter) GetPositions(context.Context) ([]exchange.Position, error) { return nil, nil }

func (a *orderAdapter) GetOpenOrders(context.Context, string) ([]exchange.Order, error) {
	return nil, nil
}

func (a *orderAdapter) GetTicker(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (a *orderAdapter) SetLeverage(context.Context, string, int) bool { return true }

func (a *orderAdapter) PlaceMarketOrder(context.Context, string, exchange.OrderSide, decimal.Decimal, string) exchange.OrderResult {
	return exchange.OrderResult{}
}

func (a *orderAdapter) PlaceTakeProfit(context.Context, string, exchange.OrderSide, decimal.Decimal, decimal.Decimal, string) exchange.OrderResult {
	return exchange.OrderResult{}
}

func (a *orderAdapter) PlaceStopLoss(context.Context, string, exchange.OrderSide, decimal.Decimal, decimal.Decimal, string) exchange.OrderResult {
	return exchange.OrderResult{}
}

func (a *orderAdapter) CancelOrder(context.Context, string, string) error { return nil }

func (a *orderAdapter) GetOrder(_ context.Context, _ string, clientOrderID string) (*exchange.Order, error) {
	order, ok := a.orders[clientOrderID]
	if !ok {
		return nil, nil
	}
	return &order, nil
}

func (a *orderAdapter) Close() {}

type fixture struct {
	engine  *Engine
	store   *store.Store
	account *store.ExchangeAccount
	adapter *orderAdapter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{
		Lock: config.LockConfig{
			Backend:      "memory",
			TTL:          time.Minute,
			ReconcileTTL: 5 * time.Minute,
		},
		Reconcile: config.ReconcileConfig{LookbackHours: 24, BatchSize: 100},
	}

	st, err := store.Open(config.DatabaseConfig{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	crypto, err := secret.NewCrypto(testMasterKey)
	if err != nil {
		t.Fatalf("new crypto: %v", err)
	}
	locker, err := lock.New(cfg.Lock, nil)
	if err != nil {
		t.Fatalf("new locker: %v", err)
	}

	encKey, _ := crypto.Encrypt("api-key")
	encSecret, _ := crypto.Encrypt("api-secret")
	account := &store.ExchangeAccount{
		Exchange:           "binance",
		Label:              "test",
		APIKeyEncrypted:    encKey,
		APISecretEncrypted: encSecret,
		Status:             "active",
	}
	if err := st.DB().Create(account).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}

	adapter := &orderAdapter{orders: map[string]exchange.Order{}}
	engine := NewEngine(cfg, st, locker, crypto, zap.NewNop())
	engine.adapters = func(string, string, string, bool, *zap.Logger) (exchange.Adapter, error) {
		return adapter, nil
	}

	return &fixture{engine: engine, store: st, account: account, adapter: adapter}
}

func seedPlanWithStops(t *testing.T, f *fixture) *store.TradePlan {
	t.Helper()
	ctx := context.Background()

	plan := &store.TradePlan{
		ExchangeAccountID: f.account.ID,
		ClientOrderID:     "Tplan1",
		Symbol:            "BTCUSDT",
		Side:              "long",
		Quantity:          decimal.RequireFromString("0.02"),
		EntryPrice:        decimal.NullDecimal{Decimal: decimal.NewFromInt(50000), Valid: true},
		Leverage:          decimal.NewFromInt(5),
		Status:            store.TradePlanStatusTPSLPlaced,
	}
	if err := f.store.CreateTradePlan(ctx, plan); err != nil {
		t.Fatalf("seed plan: %v", err)
	}

	orderID := func(s string) *string { return &s }
	execs := []*store.Execution{
		{
			TradePlanID: plan.ID, OrderType: store.OrderTypeEntry,
			ExchangeOrderID: orderID("1001"), ClientOrderID: "Tplan1",
			Symbol: "BTCUSDT", Side: "BUY", Quantity: plan.Quantity,
			Status: store.ExecutionStatusFilled,
		},
		{
			TradePlanID: plan.ID, OrderType: store.OrderTypeTP,
			ExchangeOrderID: orderID("1002"), ClientOrderID: "Tplan1_TP",
			Symbol: "BTCUSDT", Side: "SELL", Quantity: plan.Quantity,
			Status: store.ExecutionStatusSubmitted,
		},
		{
			TradePlanID: plan.ID, OrderType: store.OrderTypeSL,
			ExchangeOrderID: orderID("1003"), ClientOrderID: "Tplan1_SL",
			Symbol: "BTCUSDT", Side: "SELL", Quantity: plan.Quantity,
			Status: store.ExecutionStatusSubmitted,
		},
	}
	for _, ex := range execs {
		if err := f.store.CreateExecution(ctx, ex); err != nil {
			t.Fatalf("seed execution: %v", err)
		}
	}
	return plan
}

func TestReconcileCompletesPlanWhenStopsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plan := seedPlanWithStops(t, f)

	// 止盈成交,止损被交易所撤销。
	f.adapter.orders["Tplan1_TP"] = exchange.Order{
		OrderID: "1002", ClientOrderID: "Tplan1_TP",
		Status: "filled", AvgPrice: decimal.NewFromInt(51500),
	}
	f.adapter.orders["Tplan1_SL"] = exchange.Order{
		OrderID: "1003", ClientOrderID: "Tplan1_SL",
		Status: "cancelled",
	}

	result, err := f.engine.ReconcileAccount(ctx, f.account.ID)
	if err != nil {
		t.Fatalf("ReconcileAccount: %v", err)
	}
	if result.Checked != 1 || result.Updated != 1 {
		t.Fatalf("result = %+v, want checked=1 updated=1", result)
	}

	got, err := f.store.GetTradePlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("GetTradePlan: %v", err)
	}
	if got.Status != store.TradePlanStatusCompleted {
		t.Errorf("plan status = %s, want completed", got.Status)
	}
	// (51500 - 50000) * 0.02 = 30
	if !got.RealizedPnL.Valid || !got.RealizedPnL.Decimal.Equal(decimal.NewFromInt(30)) {
		t.Errorf("realized pnl = %v, want 30", got.RealizedPnL)
	}

	execs, _ := f.store.ExecutionsByPlan(ctx, plan.ID)
	byType := map[string]store.Execution{}
	for _, ex := range execs {
		byType[ex.OrderType] = ex
	}
	if byType[store.OrderTypeTP].Status != store.ExecutionStatusFilled {
		t.Errorf("tp status = %s, want filled", byType[store.OrderTypeTP].Status)
	}
	if byType[store.OrderTypeSL].Status != store.ExecutionStatusCancelled {
		t.Errorf("sl status = %s, want cancelled", byType[store.OrderTypeSL].Status)
	}
}

func TestReconcileAdvancesLaggingPlanWithoutFreshUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plan := seedPlanWithStops(t, f)

	// 上一轮已把委托落成终态,但计划保存前中断了。
	execs, err := f.store.ExecutionsByPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("ExecutionsByPlan: %v", err)
	}
	for i := range execs {
		switch execs[i].OrderType {
		case store.OrderTypeTP:
			execs[i].Status = store.ExecutionStatusFilled
			execs[i].Price = decimal.NullDecimal{Decimal: decimal.NewFromInt(51500), Valid: true}
		case store.OrderTypeSL:
			execs[i].Status = store.ExecutionStatusCancelled
		}
		if err := f.store.SaveExecution(ctx, &execs[i]); err != nil {
			t.Fatalf("SaveExecution: %v", err)
		}
	}

	// 交易所不再返回任何委托,本轮没有新的委托变更。
	result, err := f.engine.ReconcileAccount(ctx, f.account.ID)
	if err != nil {
		t.Fatalf("ReconcileAccount: %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("result = %+v, want updated=1", result)
	}

	got, err := f.store.GetTradePlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("GetTradePlan: %v", err)
	}
	if got.Status != store.TradePlanStatusCompleted {
		t.Errorf("plan status = %s, want completed", got.Status)
	}
	if !got.RealizedPnL.Valid || !got.RealizedPnL.Decimal.Equal(decimal.NewFromInt(30)) {
		t.Errorf("realized pnl = %v, want 30", got.RealizedPnL)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plan := seedPlanWithStops(t, f)

	f.adapter.orders["Tplan1_TP"] = exchange.Order{Status: "filled", AvgPrice: decimal.NewFromInt(51500)}
	f.adapter.orders["Tplan1_SL"] = exchange.Order{Status: "cancelled"}

	if _, err := f.engine.ReconcileAccount(ctx, f.account.ID); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	// 再跑一轮:计划已到终态,不再进入对账窗口。
	result, err := f.engine.ReconcileAccount(ctx, f.account.ID)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if result.Checked != 0 {
		t.Fatalf("terminal plan must leave the window, checked = %d", result.Checked)
	}

	got, _ := f.store.GetTradePlan(ctx, plan.ID)
	if got.Status != store.TradePlanStatusCompleted {
		t.Errorf("status regressed to %s", got.Status)
	}
}

func TestReconcilePartialFillUpdatesQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plan := seedPlanWithStops(t, f)

	f.adapter.orders["Tplan1_TP"] = exchange.Order{
		Status:      "partially_filled",
		ExecutedQty: decimal.RequireFromString("0.01"),
	}

	if _, err := f.engine.ReconcileAccount(ctx, f.account.ID); err != nil {
		t.Fatalf("ReconcileAccount: %v", err)
	}

	got, _ := f.store.GetTradePlan(ctx, plan.ID)
	// 止损仍未终态,计划不能完结。
	if got.Status != store.TradePlanStatusTPSLPlaced {
		t.Errorf("plan status = %s, want tp_sl_placed", got.Status)
	}

	execs, _ := f.store.ExecutionsByPlan(ctx, plan.ID)
	for _, ex := range execs {
		if ex.OrderType == store.OrderTypeTP {
			if ex.Status != store.ExecutionStatusPartiallyFilled {
				t.Errorf("tp status = %s, want partially_filled", ex.Status)
			}
			if !ex.Quantity.Equal(decimal.RequireFromString("0.01")) {
				t.Errorf("tp quantity = %s, want 0.01", ex.Quantity)
			}
		}
	}
}

func TestReconcileAdvancesEntryPlaced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plan := &store.TradePlan{
		ExchangeAccountID: f.account.ID,
		ClientOrderID:     "Tplan2",
		Symbol:            "ETHUSDT",
		Side:              "long",
		Quantity:          decimal.RequireFromString("0.5"),
		Leverage:          decimal.NewFromInt(3),
		Status:            store.TradePlanStatusEntryPlaced,
	}
	if err := f.store.CreateTradePlan(ctx, plan); err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	orderID := "2001"
	exec := &store.Execution{
		TradePlanID: plan.ID, OrderType: store.OrderTypeEntry,
		ExchangeOrderID: &orderID, ClientOrderID: "Tplan2",
		Symbol: "ETHUSDT", Side: "BUY", Quantity: plan.Quantity,
		Status: store.ExecutionStatusSubmitted,
	}
	if err := f.store.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("seed execution: %v", err)
	}

	f.adapter.orders["Tplan2"] = exchange.Order{
		Status: "filled", AvgPrice: decimal.NewFromInt(3000),
	}

	if _, err := f.engine.ReconcileAccount(ctx, f.account.ID); err != nil {
		t.Fatalf("ReconcileAccount: %v", err)
	}

	got, _ := f.store.GetTradePlan(ctx, plan.ID)
	if got.Status != store.TradePlanStatusEntryFilled {
		t.Errorf("plan status = %s, want entry_filled", got.Status)
	}
	if !got.EntryPrice.Valid || !got.EntryPrice.Decimal.Equal(decimal.NewFromInt(3000)) {
		t.Errorf("entry price = %v, want 3000", got.EntryPrice)
	}
}

func TestReconcileSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	held := f.engine.locker.NewMutex(lock.ReconcileLockName(f.account.ID), time.Minute)
	if err := held.TryAcquire(ctx); err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}

	result, err := f.engine.ReconcileAccount(ctx, f.account.ID)
	if err != nil {
		t.Fatalf("ReconcileAccount: %v", err)
	}
	if !result.Skipped {
		t.Fatal("expected skip while lock held")
	}
}
