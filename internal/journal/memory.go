package journal

import (
	"context"
	"sync"
	"time"

	"levels-trading-bot/internal/position"
)

// MemoryLog is an in-memory trade log. Used when no database is configured
// and as the degraded mode everywhere else, so the core never depends on
// infrastructure to stay correct.
type MemoryLog struct {
	mu     sync.Mutex
	trades []position.Position
}

// NewMemoryLog creates an empty in-memory log
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// AppendClosedTrade records one closed position
func (l *MemoryLog) AppendClosedTrade(_ context.Context, p position.Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trades = append(l.trades, p)
	return nil
}

// Summary aggregates trades closed at or after since
func (l *MemoryLog) Summary(_ context.Context, since time.Time) (position.Summary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var s position.Summary
	for _, p := range l.trades {
		if p.ClosedAt.Before(since) {
			continue
		}
		s.Trades++
		switch {
		case p.RealizedPnL > 0:
			s.Wins++
		case p.RealizedPnL < 0:
			s.Losses++
		}
		s.NetPnL += p.RealizedPnL
		s.TotalR += p.RMultiple
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
	}
	return s, nil
}

// ClosedTrades returns a copy of all recorded trades
func (l *MemoryLog) ClosedTrades() []position.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]position.Position, len(l.trades))
	copy(out, l.trades)
	return out
}
