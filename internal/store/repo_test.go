package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Sisyphusclub/ai-crypto-trader/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	cfg := config.DatabaseConfig{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	}
	s, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUnconsumedSignalsExcludesDecided(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	strategy := &Strategy{Name: "breakout", Enabled: true}
	if err := s.db.Create(strategy).Error; err != nil {
		t.Fatalf("seed strategy: %v", err)
	}

	sig1 := &Signal{StrategyID: strategy.ID, Symbol: "BTCUSDT", Timeframe: "1h", Side: "long", Score: decimal.NewFromInt(80)}
	sig2 := &Signal{StrategyID: strategy.ID, Symbol: "ETHUSDT", Timeframe: "1h", Side: "short", Score: decimal.NewFromInt(70)}
	for _, sig := range []*Signal{sig1, sig2} {
		if err := s.db.Create(sig).Error; err != nil {
			t.Fatalf("seed signal: %v", err)
		}
	}

	decided := &DecisionLog{
		TraderID:      "trader-1",
		SignalID:      &sig1.ID,
		ClientOrderID: "Tabc",
		Status:        DecisionStatusExecuted,
	}
	if err := s.CreateDecision(ctx, decided); err != nil {
		t.Fatalf("CreateDecision: %v", err)
	}

	signals, err := s.UnconsumedSignals(ctx, "trader-1", strategy.ID, 5)
	if err != nil {
		t.Fatalf("UnconsumedSignals: %v", err)
	}
	if len(signals) != 1 || signals[0].ID != sig2.ID {
		t.Fatalf("expected only undecided signal, got %+v", signals)
	}

	// 其他 trader 未消费过,两条都应返回。
	signals, err = s.UnconsumedSignals(ctx, "trader-2", strategy.ID, 5)
	if err != nil {
		t.Fatalf("UnconsumedSignals: %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("expected 2 signals for fresh trader, got %d", len(signals))
	}
}

func TestFindDecisionByClientOrderID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	found, err := s.FindDecisionByClientOrderID(ctx, "Tmissing")
	if err != nil {
		t.Fatalf("FindDecisionByClientOrderID: %v", err)
	}
	if found != nil {
		t.Fatalf("expected nil for missing key, got %+v", found)
	}

	d := &DecisionLog{TraderID: "trader-1", ClientOrderID: "Tdeadbeef", Status: DecisionStatusPending}
	if err := s.CreateDecision(ctx, d); err != nil {
		t.Fatalf("CreateDecision: %v", err)
	}

	found, err = s.FindDecisionByClientOrderID(ctx, "Tdeadbeef")
	if err != nil {
		t.Fatalf("FindDecisionByClientOrderID: %v", err)
	}
	if found == nil || found.ID != d.ID {
		t.Fatalf("expected decision %s, got %+v", d.ID, found)
	}
}

func TestNonTerminalPlansFiltering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mk := func(cid, status string, paper bool) *TradePlan {
		p := &TradePlan{
			ExchangeAccountID: "acct-1",
			ClientOrderID:     cid,
			Symbol:            "BTCUSDT",
			Side:              "long",
			Quantity:          decimal.NewFromFloat(0.01),
			Status:            status,
			IsPaper:           paper,
		}
		if err := s.CreateTradePlan(ctx, p); err != nil {
			t.Fatalf("CreateTradePlan %s: %v", cid, err)
		}
		return p
	}

	open := mk("T1", TradePlanStatusEntryPlaced, false)
	mk("T2", TradePlanStatusCompleted, false)
	mk("T3", TradePlanStatusEntryFilled, true)
	mk("T4", TradePlanStatusFailed, false)

	since := time.Now().UTC().Add(-24 * time.Hour)
	plans, err := s.NonTerminalPlans(ctx, "acct-1", since, 100)
	if err != nil {
		t.Fatalf("NonTerminalPlans: %v", err)
	}
	if len(plans) != 1 || plans[0].ID != open.ID {
		t.Fatalf("expected only live non-terminal plan, got %+v", plans)
	}
}

func TestDailyRealizedPnL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mk := func(cid string, pnl decimal.NullDecimal) {
		p := &TradePlan{
			ExchangeAccountID: "acct-1",
			ClientOrderID:     cid,
			Symbol:            "BTCUSDT",
			Side:              "long",
			Quantity:          decimal.NewFromFloat(0.01),
			Status:            TradePlanStatusCompleted,
			RealizedPnL:       pnl,
		}
		if err := s.CreateTradePlan(ctx, p); err != nil {
			t.Fatalf("CreateTradePlan %s: %v", cid, err)
		}
	}

	mk("T1", decimal.NullDecimal{Decimal: decimal.NewFromFloat(-30), Valid: true})
	mk("T2", decimal.NullDecimal{Decimal: decimal.NewFromFloat(12.5), Valid: true})
	mk("T3", decimal.NullDecimal{})

	total, err := s.DailyRealizedPnL(ctx, "acct-1", time.Now())
	if err != nil {
		t.Fatalf("DailyRealizedPnL: %v", err)
	}
	if !total.Equal(decimal.NewFromFloat(-17.5)) {
		t.Fatalf("expected -17.5, got %s", total)
	}
}

func TestLastPlanTimeIgnoresRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	when, err := s.LastPlanTime(ctx, "acct-1", "BTCUSDT", "long")
	if err != nil {
		t.Fatalf("LastPlanTime: %v", err)
	}
	if when != nil {
		t.Fatalf("expected nil for no plans, got %v", when)
	}

	failed := &TradePlan{
		ExchangeAccountID: "acct-1",
		ClientOrderID:     "T1",
		Symbol:            "BTCUSDT",
		Side:              "long",
		Quantity:          decimal.NewFromFloat(0.01),
		Status:            TradePlanStatusFailed,
	}
	if err := s.CreateTradePlan(ctx, failed); err != nil {
		t.Fatalf("CreateTradePlan: %v", err)
	}

	when, err = s.LastPlanTime(ctx, "acct-1", "BTCUSDT", "long")
	if err != nil {
		t.Fatalf("LastPlanTime: %v", err)
	}
	if when != nil {
		t.Fatalf("failed plans should not trigger cooldown, got %v", when)
	}

	live := &TradePlan{
		ExchangeAccountID: "acct-1",
		ClientOrderID:     "T2",
		Symbol:            "BTCUSDT",
		Side:              "long",
		Quantity:          decimal.NewFromFloat(0.01),
		Status:            TradePlanStatusEntryFilled,
	}
	if err := s.CreateTradePlan(ctx, live); err != nil {
		t.Fatalf("CreateTradePlan: %v", err)
	}

	when, err = s.LastPlanTime(ctx, "acct-1", "BTCUSDT", "long")
	if err != nil {
		t.Fatalf("LastPlanTime: %v", err)
	}
	if when == nil {
		t.Fatal("expected cooldown timestamp for live plan")
	}
}
