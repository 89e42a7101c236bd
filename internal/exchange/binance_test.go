package exchange

import (
	"testing"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

func TestBinanceSymbolInfoCarriesQuantityBounds(t *testing.T) {
	s := &futures.Symbol{
		Symbol:            "BTCUSDT",
		PricePrecision:    2,
		QuantityPrecision: 3,
		Filters: []map[string]interface{}{
			{"filterType": "LOT_SIZE", "minQty": "0.001", "maxQty": "1000", "stepSize": "0.001"},
			{"filterType": "MIN_NOTIONAL", "notional": "5"},
		},
	}

	info := binanceSymbolInfo(s)
	if info.PricePrecision != 2 || info.QuantityPrecision != 3 {
		t.Fatalf("precision = %d/%d, want 2/3", info.PricePrecision, info.QuantityPrecision)
	}
	if !info.MinQuantity.Equal(decimal.RequireFromString("0.001")) {
		t.Errorf("min quantity = %s, want 0.001", info.MinQuantity)
	}
	if !info.MaxQuantity.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("max quantity = %s, want 1000", info.MaxQuantity)
	}
	if !info.MinNotional.Equal(decimal.NewFromInt(5)) {
		t.Errorf("min notional = %s, want 5", info.MinNotional)
	}
}

func TestBinanceSymbolInfoWithoutFilters(t *testing.T) {
	info := binanceSymbolInfo(&futures.Symbol{Symbol: "ETHUSDT", PricePrecision: 2, QuantityPrecision: 3})
	if !info.MinQuantity.IsZero() || !info.MaxQuantity.IsZero() || !info.MinNotional.IsZero() {
		t.Fatalf("missing filters should leave zero bounds, got %+v", info)
	}
}
