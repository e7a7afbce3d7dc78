package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"levels-trading-bot/config"
	"levels-trading-bot/internal/binance"
	"levels-trading-bot/internal/events"
	"levels-trading-bot/internal/market"
	"levels-trading-bot/internal/patterns"
	"levels-trading-bot/internal/trend"
	"levels-trading-bot/internal/volumeprofile"
)

type fakePositions struct {
	mu      sync.Mutex
	signals []patterns.Signal
	polls   int
}

func (f *fakePositions) OnSignal(sig patterns.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	return nil
}

func (f *fakePositions) PollExitConditions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
}

func (f *fakePositions) allSignals() []patterns.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]patterns.Signal, len(f.signals))
	copy(out, f.signals)
	return out
}

type alwaysSignal struct{}

func (alwaysSignal) Name() string { return "always" }

func (alwaysSignal) Check(ctx patterns.Context) *patterns.Signal {
	return &patterns.Signal{
		Symbol:    ctx.Symbol,
		Direction: patterns.Long,
		Entry:     ctx.Candle1m.Close,
		StopLoss:  ctx.Candle1m.Close - 1,
		Setup:     "always",
		Time:      ctx.Candle1m.CloseTime(),
	}
}

func testDeps(t *testing.T, registry *patterns.Registry, positions Positions) symbolDeps {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("loading timezone: %v", err)
	}

	return symbolDeps{
		loc:         loc,
		historyDays: 5,
		levelDays:   3,
		candleLimit: 10000,
		history:     binance.NewMockClient(100),
		streams: func(_ string, handler binance.CandleHandler) binance.LiveSource {
			return binance.NewMockStream(handler)
		},
		profiles:   volumeprofile.NewEngine(volumeprofile.DefaultConfig()),
		classifier: trend.NewClassifier(trend.DefaultConfig()),
		registry:   registry,
		positions:  positions,
		bus:        events.NewBus(),
	}
}

func TestSymbolMonitorInitialize(t *testing.T) {
	deps := testDeps(t, patterns.NewRegistry(), nil)
	sm := newSymbolMonitor("BTCUSDT", deps)

	if err := sm.initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	state := sm.state()
	if state.LastPrice <= 0 {
		t.Errorf("expected a positive last price, got %v", state.LastPrice)
	}
	if len(state.Levels) == 0 {
		t.Error("expected key levels after initialization")
	}
	if state.Trend.Label == "" {
		t.Error("expected a trend classification after initialization")
	}

	if sm.oneMin.Len() == 0 || sm.fiveMin.Len() == 0 || sm.thirtyMin.Len() == 0 {
		t.Errorf("all stores should be seeded, got 1m=%d 5m=%d 30m=%d",
			sm.oneMin.Len(), sm.fiveMin.Len(), sm.thirtyMin.Len())
	}

	// the trailing partial window is left for live synthesis
	last5m, _ := sm.fiveMin.Last()
	last1m, _ := sm.oneMin.Last()
	if last5m.OpenTime.Add(market.Timeframe5m.Duration()).After(last1m.CloseTime()) {
		t.Errorf("seeded 5m store holds an incomplete window starting %v", last5m.OpenTime)
	}
}

func TestHandleCandleRoutesSignal(t *testing.T) {
	positions := &fakePositions{}
	deps := testDeps(t, patterns.NewRegistry(alwaysSignal{}), positions)
	sm := newSymbolMonitor("BTCUSDT", deps)

	var generated []events.Event
	var mu sync.Mutex
	deps.bus.Subscribe(events.EventSignalGenerated, func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		generated = append(generated, e)
	})

	sm.handleCandle(market.Candle{
		Symbol:    "BTCUSDT",
		Timeframe: market.Timeframe1m,
		OpenTime:  time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		Open:      100, High: 101, Low: 99, Close: 100.5,
		Volume: 50, TakerBuyVolume: 25,
	})

	sigs := positions.allSignals()
	if len(sigs) != 1 {
		t.Fatalf("expected 1 signal routed to positions, got %d", len(sigs))
	}
	if sigs[0].Entry != 100.5 || sigs[0].Direction != patterns.Long {
		t.Errorf("unexpected signal %+v", sigs[0])
	}

	if price, ok := sm.price(); !ok || price != 100.5 {
		t.Errorf("last price: expected 100.5, got %v ok=%v", price, ok)
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(generated)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 1 published signal event, got %d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamDeliveryThroughMonitor(t *testing.T) {
	positions := &fakePositions{}
	deps := testDeps(t, patterns.NewRegistry(alwaysSignal{}), positions)
	sm := newSymbolMonitor("ETHUSDT", deps)

	if err := sm.start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer sm.stop()

	stream, ok := sm.stream.(*binance.MockStream)
	if !ok {
		t.Fatal("expected a mock stream")
	}
	stream.Emit(market.Candle{
		Symbol:    "ETHUSDT",
		Timeframe: market.Timeframe1m,
		OpenTime:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Open:      10, High: 11, Low: 9, Close: 10.5, Volume: 5,
	})

	if len(positions.allSignals()) != 1 {
		t.Fatalf("expected the emitted candle to reach the detector, got %d signals", len(positions.allSignals()))
	}
}

func TestConcurrentAddSymbolStartsOneStream(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	cfg.BinanceConfig.MockMode = true
	cfg.MonitorConfig.HistoryDays = 4

	m, err := NewManager(cfg, events.NewBus())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Stop()

	var streamStarts int32
	m.streams = func(_ string, handler binance.CandleHandler) binance.LiveSource {
		atomic.AddInt32(&streamStarts, 1)
		return binance.NewMockStream(handler)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.AddSymbol(context.Background(), "BTCUSDT"); err != nil {
				t.Errorf("AddSymbol failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&streamStarts); n != 1 {
		t.Errorf("concurrent adds of one symbol must build exactly one stream, got %d", n)
	}
	if len(m.SymbolStates()) != 1 {
		t.Errorf("expected one monitor, got %d", len(m.SymbolStates()))
	}
}

func TestManagerAddRemoveSymbol(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	cfg.BinanceConfig.MockMode = true
	cfg.MonitorConfig.Symbols = []string{"BTCUSDT"}
	cfg.MonitorConfig.HistoryDays = 4

	bus := events.NewBus()
	m, err := NewManager(cfg, bus)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	m.AttachPositions(&fakePositions{})
	defer m.Stop()

	ctx := context.Background()
	if err := m.AddSymbol(ctx, "BTCUSDT"); err != nil {
		t.Fatalf("AddSymbol failed: %v", err)
	}
	if err := m.AddSymbol(ctx, "BTCUSDT"); err != nil {
		t.Errorf("AddSymbol should be idempotent, got %v", err)
	}

	states := m.SymbolStates()
	if len(states) != 1 || states[0].Symbol != "BTCUSDT" {
		t.Fatalf("expected one BTCUSDT state, got %+v", states)
	}

	if price, ok := m.LastPrice("BTCUSDT"); !ok || price <= 0 {
		t.Errorf("LastPrice: expected a positive price, got %v ok=%v", price, ok)
	}
	if _, ok := m.LastPrice("DOGEUSDT"); ok {
		t.Error("LastPrice should miss for unmonitored symbols")
	}

	if err := m.RemoveSymbol("BTCUSDT"); err != nil {
		t.Fatalf("RemoveSymbol failed: %v", err)
	}
	if err := m.RemoveSymbol("BTCUSDT"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("expected ErrUnknownSymbol, got %v", err)
	}
	if len(m.SymbolStates()) != 0 {
		t.Error("expected no states after removal")
	}
}
