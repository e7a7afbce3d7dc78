package journal

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"levels-trading-bot/internal/patterns"
	"levels-trading-bot/internal/position"
)

func closedTrade(symbol string, pnl, r float64, closedAt time.Time) position.Position {
	return position.Position{
		Symbol:      symbol,
		Direction:   patterns.Long,
		Entry:       100,
		StopLoss:    95,
		Size:        20,
		RiskAmount:  100,
		Status:      position.StatusClosed,
		ClosedAt:    closedAt,
		RealizedPnL: pnl,
		RMultiple:   r,
	}
}

func TestMemoryLogSummary(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()
	now := time.Now().UTC()

	log.AppendClosedTrade(ctx, closedTrade("BTCUSDT", 200, 2, now))
	log.AppendClosedTrade(ctx, closedTrade("BTCUSDT", -100, -1, now))
	log.AppendClosedTrade(ctx, closedTrade("ETHUSDT", 150, 1.5, now))
	// Outside the window
	log.AppendClosedTrade(ctx, closedTrade("BTCUSDT", 999, 9, now.Add(-48*time.Hour)))

	s, err := log.Summary(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if s.Trades != 3 {
		t.Errorf("trades: expected 3 inside the window, got %d", s.Trades)
	}
	if s.Wins != 2 || s.Losses != 1 {
		t.Errorf("wins/losses: expected 2/1, got %d/%d", s.Wins, s.Losses)
	}
	if s.NetPnL != 250 {
		t.Errorf("net pnl: expected 250, got %v", s.NetPnL)
	}
	if s.TotalR != 2.5 {
		t.Errorf("total r: expected 2.5, got %v", s.TotalR)
	}
	if s.WinRate < 66 || s.WinRate > 67 {
		t.Errorf("win rate: expected ~66.7, got %v", s.WinRate)
	}
}

func TestSnapshotStoreMemoryMode(t *testing.T) {
	store := NewRedisSnapshotStore(nil, zerolog.Nop())
	ctx := context.Background()

	open := []position.Position{
		{Symbol: "BTCUSDT", Direction: patterns.Long, Entry: 100, Status: position.StatusOpen},
	}
	if err := store.SaveOpenPositions(ctx, open); err != nil {
		t.Fatalf("SaveOpenPositions failed: %v", err)
	}

	loaded, err := store.LoadOpenPositions(ctx)
	if err != nil {
		t.Fatalf("LoadOpenPositions failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Symbol != "BTCUSDT" {
		t.Errorf("snapshot round trip wrong: %+v", loaded)
	}
}
