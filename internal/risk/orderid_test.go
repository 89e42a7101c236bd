package risk

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateClientOrderIDStableWithinMinute(t *testing.T) {
	base := time.Date(2026, 8, 23, 10, 30, 5, 0, time.UTC)
	later := base.Add(40 * time.Second)

	id1 := GenerateClientOrderID("trader-1", "signal-1", base)
	id2 := GenerateClientOrderID("trader-1", "signal-1", later)
	if id1 != id2 {
		t.Fatalf("same minute bucket should yield same id: %s vs %s", id1, id2)
	}
}

func TestGenerateClientOrderIDChangesAcrossMinutes(t *testing.T) {
	base := time.Date(2026, 8, 23, 10, 30, 59, 0, time.UTC)
	next := base.Add(2 * time.Second)

	id1 := GenerateClientOrderID("trader-1", "signal-1", base)
	id2 := GenerateClientOrderID("trader-1", "signal-1", next)
	if id1 == id2 {
		t.Fatal("different minute buckets should yield different ids")
	}
}

func TestGenerateClientOrderIDFormat(t *testing.T) {
	id := GenerateClientOrderID("trader-1", "signal-1", time.Now())
	if !strings.HasPrefix(id, "T") || len(id) != 17 {
		t.Fatalf("expected T + 16 hex chars, got %q", id)
	}

	other := GenerateClientOrderID("trader-2", "signal-1", time.Now())
	if id == other {
		t.Fatal("different traders should yield different ids")
	}
}
