package position

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"levels-trading-bot/internal/events"
	"levels-trading-bot/internal/patterns"
)

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]float64
}

func newFakePrices() *fakePrices {
	return &fakePrices{prices: make(map[string]float64)}
}

func (f *fakePrices) set(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func (f *fakePrices) LastPrice(symbol string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	return p, ok
}

type memLog struct {
	mu     sync.Mutex
	trades []Position
}

func (l *memLog) AppendClosedTrade(_ context.Context, p Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trades = append(l.trades, p)
	return nil
}

func (l *memLog) Summary(_ context.Context, since time.Time) (Summary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var s Summary
	for _, p := range l.trades {
		if p.ClosedAt.Before(since) {
			continue
		}
		s.Trades++
		if p.RealizedPnL > 0 {
			s.Wins++
		} else if p.RealizedPnL < 0 {
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

func testManager(cfg Config, prices PriceSource) (*Manager, *memLog) {
	log := &memLog{}
	return NewManager(cfg, prices, events.NewBus(), log, nil), log
}

func longSignal(symbol string, entry, stop float64) patterns.Signal {
	return patterns.Signal{
		Symbol:    symbol,
		Direction: patterns.Long,
		Entry:     entry,
		StopLoss:  stop,
		Setup:     "test",
		Time:      time.Now().UTC(),
	}
}

func TestSizePosition(t *testing.T) {
	m, _ := testManager(Config{Balance: 10000, RiskPercent: 1, AutoTrade: true}, newFakePrices())

	if err := m.OnSignal(longSignal("BTCUSDT", 100, 95)); err != nil {
		t.Fatalf("OnSignal failed: %v", err)
	}

	open := m.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("expected one open position, got %d", len(open))
	}
	pos := open[0]
	if pos.RiskAmount != 100 {
		t.Errorf("risk amount: expected 100 (1%% of 10000), got %v", pos.RiskAmount)
	}
	if pos.Size != 20 {
		t.Errorf("size: expected 20 (100/5), got %v", pos.Size)
	}
	if got := pos.Size * math.Abs(pos.Entry-pos.StopLoss); math.Abs(got-pos.RiskAmount) > 1e-9 {
		t.Errorf("size * stop distance should equal risk amount, got %v", got)
	}
}

func TestZeroStopDistanceRefused(t *testing.T) {
	m, _ := testManager(Config{Balance: 10000, RiskPercent: 1, AutoTrade: true}, newFakePrices())

	err := m.OnSignal(longSignal("BTCUSDT", 100, 100))
	if !errors.Is(err, ErrZeroStopDistance) {
		t.Errorf("expected ErrZeroStopDistance, got %v", err)
	}
	if len(m.OpenPositions()) != 0 {
		t.Error("no position may open with a zero stop distance")
	}
}

func TestDefaultTakeProfit(t *testing.T) {
	m, _ := testManager(Config{Balance: 10000, RiskPercent: 1, DefaultRR: 2, AutoTrade: true}, newFakePrices())

	m.OnSignal(longSignal("BTCUSDT", 100, 95))
	pos := m.OpenPositions()[0]
	if pos.TakeProfit != 110 {
		t.Errorf("take profit: expected entry + 2x risk = 110, got %v", pos.TakeProfit)
	}

	short := patterns.Signal{
		Symbol: "ETHUSDT", Direction: patterns.Short,
		Entry: 200, StopLoss: 210, Setup: "test",
	}
	m.OnSignal(short)
	for _, p := range m.OpenPositions() {
		if p.Symbol == "ETHUSDT" && p.TakeProfit != 180 {
			t.Errorf("short take profit: expected entry - 2x risk = 180, got %v", p.TakeProfit)
		}
	}
}

func TestConcurrentSignalsOnePosition(t *testing.T) {
	m, _ := testManager(Config{Balance: 10000, RiskPercent: 1, AutoTrade: true}, newFakePrices())

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.OnSignal(longSignal("BTCUSDT", 100, 95))
		}(i)
	}
	wg.Wait()

	if got := len(m.OpenPositions()); got != 1 {
		t.Fatalf("expected exactly one open position under concurrent signals, got %d", got)
	}
	var rejected int
	for _, err := range errs {
		if errors.Is(err, ErrPositionExists) {
			rejected++
		}
	}
	if rejected != n-1 {
		t.Errorf("expected %d rejections, got %d", n-1, rejected)
	}
}

func TestDirectionCorrectExits(t *testing.T) {
	prices := newFakePrices()
	m, journal := testManager(Config{Balance: 10000, RiskPercent: 1, AutoTrade: true}, prices)

	m.OnSignal(patterns.Signal{
		Symbol: "BTCUSDT", Direction: patterns.Long,
		Entry: 100, StopLoss: 95, TakeProfit: 110, Setup: "test",
	})

	// Price between stop and target: nothing closes
	prices.set("BTCUSDT", 105)
	m.PollExitConditions()
	if len(m.OpenPositions()) != 1 {
		t.Fatal("position closed while price was between stop and target")
	}

	// Long target triggers only on price >= target
	prices.set("BTCUSDT", 110)
	m.PollExitConditions()
	if len(m.OpenPositions()) != 0 {
		t.Fatal("long position should close at the target")
	}
	journal.mu.Lock()
	closedTrade := journal.trades[0]
	journal.mu.Unlock()
	if closedTrade.CloseReason != "take_profit" {
		t.Errorf("close reason: expected take_profit, got %s", closedTrade.CloseReason)
	}
	if closedTrade.RealizedPnL != 200 {
		t.Errorf("pnl: expected (110-100)*20 = 200, got %v", closedTrade.RealizedPnL)
	}
	if closedTrade.RMultiple != 2 {
		t.Errorf("r multiple: expected 2, got %v", closedTrade.RMultiple)
	}

	// Short stop triggers on price >= stop
	m.OnSignal(patterns.Signal{
		Symbol: "BTCUSDT", Direction: patterns.Short,
		Entry: 100, StopLoss: 105, TakeProfit: 90, Setup: "test",
	})
	prices.set("BTCUSDT", 106)
	m.PollExitConditions()
	if len(m.OpenPositions()) != 0 {
		t.Fatal("short position should close at the stop")
	}
	journal.mu.Lock()
	shortTrade := journal.trades[1]
	journal.mu.Unlock()
	if shortTrade.CloseReason != "stop_loss" {
		t.Errorf("close reason: expected stop_loss, got %s", shortTrade.CloseReason)
	}
	if shortTrade.RealizedPnL >= 0 {
		t.Errorf("stopped short should lose, pnl %v", shortTrade.RealizedPnL)
	}
}

func TestProposalLifecycle(t *testing.T) {
	m, _ := testManager(Config{Balance: 10000, RiskPercent: 1}, newFakePrices())

	if err := m.OnSignal(longSignal("BTCUSDT", 100, 95)); err != nil {
		t.Fatalf("OnSignal failed: %v", err)
	}
	if len(m.OpenPositions()) != 0 {
		t.Fatal("manual mode must not open positions directly")
	}
	props := m.PendingProposals()
	if len(props) != 1 {
		t.Fatalf("expected one pending proposal, got %d", len(props))
	}

	// A second signal for the same symbol is rejected while one is pending
	if err := m.OnSignal(longSignal("BTCUSDT", 101, 96)); !errors.Is(err, ErrPositionExists) {
		t.Errorf("expected ErrPositionExists for duplicate proposal, got %v", err)
	}

	pos, err := m.Confirm(props[0].ID)
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if pos.Symbol != "BTCUSDT" || pos.Status != StatusOpen {
		t.Errorf("confirmed position wrong: %+v", pos)
	}
	if len(m.PendingProposals()) != 0 {
		t.Error("confirmed proposal must leave the pending set")
	}

	// Confirming again fails
	if _, err := m.Confirm(props[0].ID); !errors.Is(err, ErrUnknownProposal) {
		t.Errorf("expected ErrUnknownProposal on double confirm, got %v", err)
	}
}

func TestRejectProposal(t *testing.T) {
	m, _ := testManager(Config{Balance: 10000, RiskPercent: 1}, newFakePrices())

	m.OnSignal(longSignal("BTCUSDT", 100, 95))
	props := m.PendingProposals()
	if err := m.Reject(props[0].ID); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if len(m.PendingProposals()) != 0 {
		t.Error("rejected proposal must leave the pending set")
	}

	// Symbol is free again after rejection
	if err := m.OnSignal(longSignal("BTCUSDT", 100, 95)); err != nil {
		t.Errorf("symbol should accept signals after rejection, got %v", err)
	}
}

func TestProposalExpiry(t *testing.T) {
	m, _ := testManager(Config{
		Balance: 10000, RiskPercent: 1, ProposalTTL: time.Millisecond,
	}, newFakePrices())

	m.OnSignal(longSignal("BTCUSDT", 100, 95))
	time.Sleep(5 * time.Millisecond)
	m.PollExitConditions()

	if len(m.PendingProposals()) != 0 {
		t.Error("stale proposal should be garbage-collected")
	}
}

func TestCloseAll(t *testing.T) {
	prices := newFakePrices()
	m, journal := testManager(Config{Balance: 10000, RiskPercent: 1, AutoTrade: true}, prices)

	m.OnSignal(longSignal("BTCUSDT", 100, 95))
	m.OnSignal(longSignal("ETHUSDT", 200, 190))
	prices.set("BTCUSDT", 103)

	m.CloseAll("shutdown")

	if len(m.OpenPositions()) != 0 {
		t.Fatal("CloseAll must close everything")
	}
	journal.mu.Lock()
	defer journal.mu.Unlock()
	if len(journal.trades) != 2 {
		t.Fatalf("expected 2 journaled trades, got %d", len(journal.trades))
	}
	for _, trade := range journal.trades {
		if trade.CloseReason != "shutdown" {
			t.Errorf("close reason: expected shutdown, got %s", trade.CloseReason)
		}
		// ETHUSDT had no price: closed at entry with zero pnl
		if trade.Symbol == "ETHUSDT" && trade.RealizedPnL != 0 {
			t.Errorf("no-price close should realize zero pnl, got %v", trade.RealizedPnL)
		}
	}
}

func TestSetRiskParam(t *testing.T) {
	m, _ := testManager(Config{Balance: 10000, RiskPercent: 1, AutoTrade: true}, newFakePrices())

	if err := m.SetRiskParam("risk_percent", 2); err != nil {
		t.Fatalf("valid update rejected: %v", err)
	}
	m.OnSignal(longSignal("BTCUSDT", 100, 95))
	if pos := m.OpenPositions()[0]; pos.RiskAmount != 200 {
		t.Errorf("risk amount after update: expected 200, got %v", pos.RiskAmount)
	}

	if err := m.SetRiskParam("risk_percent", 150); !errors.Is(err, ErrInvalidRiskValue) {
		t.Errorf("expected ErrInvalidRiskValue for 150%%, got %v", err)
	}
	if err := m.SetRiskParam("leverage", 10); !errors.Is(err, ErrUnknownRiskKey) {
		t.Errorf("expected ErrUnknownRiskKey, got %v", err)
	}
}

func TestPerformanceSummary(t *testing.T) {
	prices := newFakePrices()
	m, _ := testManager(Config{Balance: 10000, RiskPercent: 1, AutoTrade: true}, prices)

	m.OnSignal(patterns.Signal{
		Symbol: "BTCUSDT", Direction: patterns.Long,
		Entry: 100, StopLoss: 95, TakeProfit: 110, Setup: "test",
	})
	prices.set("BTCUSDT", 110)
	m.PollExitConditions()

	s, err := m.PerformanceSummary(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PerformanceSummary failed: %v", err)
	}
	if s.Trades != 1 || s.Wins != 1 || s.WinRate != 100 {
		t.Errorf("summary wrong: %+v", s)
	}
	if s.NetPnL != 200 {
		t.Errorf("net pnl: expected 200, got %v", s.NetPnL)
	}
}
