package execution

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Sisyphusclub/ai-crypto-trader/internal/config"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/exchange"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/risk"
	"github.com/Sisyphusclub/ai-crypto-trader/internal/store"
)

type fakeAdapter struct {
	entryResult exchange.OrderResult
	tpResult    exchange.OrderResult
	slResult    exchange.OrderResult
	leverageSet []int
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) GetSymbolInfo(context.Context, string) (*exchange.SymbolInfo, error) {
	return &exchange.SymbolInfo{PricePrecision: 2, QuantityPrecision: 3}, nil
}

func (f *fakeAdapter) GetBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(10000), nil
}

func (f *fakeAdapter) GetPositions(context.Context) ([]exchange.Position, error) { return nil, nil }

func (f *fakeAdapter) GetOpenOrders(context.Context, string) ([]exchange.Order, error) {
	return nil, nil
}

func (f *fakeAdapter) GetTicker(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(50000), nil
}

func (f *fakeAdapter) SetLeverage(_ context.Context, _ string, leverage int) bool {
	f.leverageSet = append(f.leverageSet, leverage)
	return true
}

func (f *fakeAdapter) PlaceMarketOrder(context.Context, string, exchange.OrderSide, decimal.Decimal, string) exchange.OrderResult {
	return f.entryResult
}

func (f *fakeAdapter) PlaceTakeProfit(context.Context, string, exchange.OrderSide, decimal.Decimal, decimal.Decimal, string) exchange.OrderResult {
	return f.tpResult
}

func (f *fakeAdapter) PlaceStopLoss(context.Context, string, exchange.OrderSide, decimal.Decimal, decimal.Decimal, string) exchange.OrderResult {
	return f.slResult
}

func (f *fakeAdapter) CancelOrder(context.Context, string, string) error { return nil }

func (f *fakeAdapter) GetOrder(context.Context, string, string) (*exchange.Order, error) {
	return nil, nil
}

func (f *fakeAdapter) Close() {}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(config.DatabaseConfig{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func normalizedPlan() *risk.NormalizedPlan {
	return &risk.NormalizedPlan{
		Symbol:    "BTCUSDT",
		Side:      "long",
		Quantity:  decimal.RequireFromString("0.02"),
		Leverage:  5,
		EntryType: "market",
		TPPrice:   dec("51500"),
		SLPrice:   dec("49250"),
	}
}

func okResult(orderID, status string) exchange.OrderResult {
	return exchange.OrderResult{
		Success: true,
		OrderID: orderID,
		Status:  status,
		Raw:     []byte(`{}`),
	}
}

func TestExecutePaperSimulatesFill(t *testing.T) {
	s := newTestStore(t)
	e := NewExecutor(s, nil)

	plan, err := e.Execute(context.Background(), nil, Request{
		Plan:          normalizedPlan(),
		AccountID:     "acct-1",
		ClientOrderID: "Tpaper1",
		IsPaper:       true,
		CurrentPrice:  dec("50000"),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if plan.Status != store.TradePlanStatusTPSLPlaced {
		t.Errorf("status = %s, want tp_sl_placed", plan.Status)
	}
	if !plan.IsPaper {
		t.Error("plan should be marked paper")
	}
	if !plan.EntryPrice.Valid || !plan.EntryPrice.Decimal.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("entry price = %v, want 50000", plan.EntryPrice)
	}
}

func TestExecutePaperWithoutStopsStaysEntryFilled(t *testing.T) {
	s := newTestStore(t)
	e := NewExecutor(s, nil)

	np := normalizedPlan()
	np.TPPrice = nil
	np.SLPrice = nil

	plan, err := e.Execute(context.Background(), nil, Request{
		Plan:          np,
		AccountID:     "acct-1",
		ClientOrderID: "Tpaper2",
		IsPaper:       true,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if plan.Status != store.TradePlanStatusEntryFilled {
		t.Errorf("status = %s, want entry_filled", plan.Status)
	}
}

func TestExecuteLiveFullSuccess(t *testing.T) {
	s := newTestStore(t)
	e := NewExecutor(s, nil)
	ctx := context.Background()

	adapter := &fakeAdapter{
		entryResult: exchange.OrderResult{
			Success:  true,
			OrderID:  "1001",
			Status:   "filled",
			AvgPrice: decimal.RequireFromString("50010"),
			Raw:      []byte(`{}`),
		},
		tpResult: okResult("1002", "new"),
		slResult: okResult("1003", "new"),
	}

	plan, err := e.Execute(ctx, adapter, Request{
		Plan:          normalizedPlan(),
		AccountID:     "acct-1",
		ClientOrderID: "Tlive1",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if plan.Status != store.TradePlanStatusTPSLPlaced {
		t.Errorf("status = %s, want tp_sl_placed", plan.Status)
	}
	if !plan.EntryPrice.Valid || !plan.EntryPrice.Decimal.Equal(decimal.RequireFromString("50010")) {
		t.Errorf("entry price = %v, want 50010", plan.EntryPrice)
	}
	if len(adapter.leverageSet) != 1 || adapter.leverageSet[0] != 5 {
		t.Errorf("leverage calls = %v, want [5]", adapter.leverageSet)
	}

	execs, err := s.ExecutionsByPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("ExecutionsByPlan: %v", err)
	}
	if len(execs) != 3 {
		t.Fatalf("expected 3 executions, got %d", len(execs))
	}

	byType := map[string]store.Execution{}
	for _, ex := range execs {
		byType[ex.OrderType] = ex
	}
	if byType[store.OrderTypeEntry].Status != store.ExecutionStatusFilled {
		t.Errorf("entry status = %s, want filled", byType[store.OrderTypeEntry].Status)
	}
	if got := byType[store.OrderTypeTP].ClientOrderID; got != "Tlive1_TP" {
		t.Errorf("tp client id = %s, want Tlive1_TP", got)
	}
	if got := byType[store.OrderTypeSL].ClientOrderID; got != "Tlive1_SL" {
		t.Errorf("sl client id = %s, want Tlive1_SL", got)
	}
}

func TestExecuteLiveEntryFailureMarksPlanFailed(t *testing.T) {
	s := newTestStore(t)
	e := NewExecutor(s, nil)
	ctx := context.Background()

	adapter := &fakeAdapter{
		entryResult: exchange.OrderResult{Success: false, Error: "insufficient balance"},
	}

	plan, err := e.Execute(ctx, adapter, Request{
		Plan:          normalizedPlan(),
		AccountID:     "acct-1",
		ClientOrderID: "Tlive2",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if plan.Status != store.TradePlanStatusFailed {
		t.Errorf("status = %s, want failed", plan.Status)
	}
	if !strings.Contains(plan.ErrorMessage, "insufficient balance") {
		t.Errorf("error message = %q", plan.ErrorMessage)
	}

	execs, _ := s.ExecutionsByPlan(ctx, plan.ID)
	if len(execs) != 1 || execs[0].Status != store.ExecutionStatusFailed {
		t.Fatalf("expected single failed execution, got %+v", execs)
	}
}

func TestExecuteLivePartialStopFailureKeepsEntryFilled(t *testing.T) {
	s := newTestStore(t)
	e := NewExecutor(s, nil)
	ctx := context.Background()

	adapter := &fakeAdapter{
		entryResult: exchange.OrderResult{
			Success:  true,
			OrderID:  "2001",
			Status:   "filled",
			AvgPrice: decimal.RequireFromString("50005"),
			Raw:      []byte(`{}`),
		},
		tpResult: exchange.OrderResult{Success: false, Error: "price would trigger immediately"},
		slResult: okResult("2003", "new"),
	}

	plan, err := e.Execute(ctx, adapter, Request{
		Plan:          normalizedPlan(),
		AccountID:     "acct-1",
		ClientOrderID: "Tlive3",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// 入场已成交,不能因止盈失败回滚或标记整单失败。
	if plan.Status != store.TradePlanStatusEntryFilled {
		t.Errorf("status = %s, want entry_filled", plan.Status)
	}
	if !plan.EntryPrice.Valid {
		t.Error("entry price should be recorded")
	}
	if !strings.Contains(plan.ErrorMessage, "止盈挂单失败") {
		t.Errorf("error message = %q, want tp failure recorded", plan.ErrorMessage)
	}

	execs, _ := s.ExecutionsByPlan(ctx, plan.ID)
	if len(execs) != 3 {
		t.Fatalf("expected 3 executions, got %d", len(execs))
	}
}
