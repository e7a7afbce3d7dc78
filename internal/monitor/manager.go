package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"levels-trading-bot/config"
	"levels-trading-bot/internal/binance"
	"levels-trading-bot/internal/events"
	"levels-trading-bot/internal/logging"
	"levels-trading-bot/internal/market"
	"levels-trading-bot/internal/patterns"
	"levels-trading-bot/internal/trend"
	"levels-trading-bot/internal/volumeprofile"
)

// ErrUnknownSymbol means the symbol is not currently monitored
var ErrUnknownSymbol = errors.New("symbol is not monitored")

// Positions receives detector signals and drives exit polling. Implemented
// by position.Manager; an interface here so the dependency only points one
// way.
type Positions interface {
	OnSignal(sig patterns.Signal) error
	PollExitConditions()
}

// StreamFactory builds a live candle source for one symbol
type StreamFactory func(symbol string, handler binance.CandleHandler) binance.LiveSource

// Manager runs one SymbolMonitor per symbol plus the shared loops: exit
// polling and the trading-day rollover re-initialization. It is the
// position manager's price source.
type Manager struct {
	cfg       *config.Config
	loc       *time.Location
	bus       *events.Bus
	history   binance.HistoricalSource
	streams   StreamFactory
	positions Positions
	log       *logging.Logger

	mu       sync.RWMutex
	monitors map[string]*SymbolMonitor
	adding   map[string]bool

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a manager from config. In mock mode both the
// historical source and the live streams are simulated.
func NewManager(cfg *config.Config, bus *events.Bus) (*Manager, error) {
	loc, err := time.LoadLocation(cfg.MonitorConfig.DayTimezone)
	if err != nil {
		return nil, fmt.Errorf("loading day timezone: %w", err)
	}

	m := &Manager{
		cfg:      cfg,
		loc:      loc,
		bus:      bus,
		monitors: make(map[string]*SymbolMonitor),
		adding:   make(map[string]bool),
		log:      logging.WithComponent("monitor-manager"),
		stopChan: make(chan struct{}),
	}

	if cfg.BinanceConfig.MockMode {
		client := binance.NewMockClient(0)
		m.history = client
		m.streams = func(symbol string, handler binance.CandleHandler) binance.LiveSource {
			return newMockFeed(client, symbol, handler)
		}
	} else {
		m.history = binance.NewClient(cfg.BinanceConfig.BaseURL)
		reconnect := time.Duration(cfg.MonitorConfig.ReconnectSecs) * time.Second
		m.streams = func(symbol string, handler binance.CandleHandler) binance.LiveSource {
			return binance.NewKlineStream(cfg.BinanceConfig.WSBaseURL, symbol, reconnect, handler)
		}
	}
	return m, nil
}

// AttachPositions must be called before Start. Separate from the
// constructor because the position manager needs this manager as its price
// source first.
func (m *Manager) AttachPositions(p Positions) {
	m.positions = p
}

// Start initializes and starts a monitor for every configured symbol, then
// launches the exit-poll and day-rollover loops.
func (m *Manager) Start(ctx context.Context) error {
	for _, symbol := range m.cfg.MonitorConfig.Symbols {
		if err := m.AddSymbol(ctx, symbol); err != nil {
			return err
		}
	}

	m.wg.Add(2)
	go m.pollLoop()
	go m.rolloverLoop()
	return nil
}

// AddSymbol starts monitoring one symbol. Idempotent per symbol: the key is
// reserved before initialization, so a concurrent add of the same symbol
// cannot start a second stream.
func (m *Manager) AddSymbol(ctx context.Context, symbol string) error {
	m.mu.Lock()
	if _, exists := m.monitors[symbol]; exists || m.adding[symbol] {
		m.mu.Unlock()
		return nil
	}
	m.adding[symbol] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.adding, symbol)
		m.mu.Unlock()
	}()

	sm := newSymbolMonitor(symbol, symbolDeps{
		loc:         m.loc,
		historyDays: m.cfg.MonitorConfig.HistoryDays,
		levelDays:   m.cfg.MonitorConfig.LevelDays,
		candleLimit: m.cfg.MonitorConfig.CandleWindow,
		history:     m.history,
		streams:     m.streams,
		profiles: volumeprofile.NewEngine(volumeprofile.Config{
			BinSize:          m.cfg.ProfileConfig.BinSize,
			ValueAreaPercent: m.cfg.ProfileConfig.ValueAreaPercent,
		}),
		classifier: trend.NewClassifier(trend.Config{
			MinDays:          m.cfg.TrendConfig.MinDays,
			SlopeWindow:      m.cfg.TrendConfig.SlopeWindow,
			BullishThreshold: m.cfg.TrendConfig.BullishThreshold,
			BearishThreshold: m.cfg.TrendConfig.BearishThreshold,
		}),
		registry: patterns.NewRegistry(
			patterns.NewBreakRetest(),
			patterns.NewSweepConfluence(),
			patterns.NewLevelReversal(),
		),
		positions: m.positions,
		bus:       m.bus,
	})

	if err := sm.initialize(ctx); err != nil {
		return err
	}
	if err := sm.start(); err != nil {
		return fmt.Errorf("starting %s stream: %w", symbol, err)
	}

	m.mu.Lock()
	m.monitors[symbol] = sm
	m.mu.Unlock()

	m.log.Info("symbol monitor started", "symbol", symbol)
	m.bus.Publish(events.Event{Type: events.EventMonitorStarted, Symbol: symbol})
	return nil
}

// RemoveSymbol stops monitoring one symbol
func (m *Manager) RemoveSymbol(symbol string) error {
	m.mu.Lock()
	sm, ok := m.monitors[symbol]
	if ok {
		delete(m.monitors, symbol)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	sm.stop()

	m.log.Info("symbol monitor stopped", "symbol", symbol)
	m.bus.Publish(events.Event{Type: events.EventMonitorStopped, Symbol: symbol})
	return nil
}

// SymbolStates snapshots every monitored symbol, sorted by symbol
func (m *Manager) SymbolStates() []SymbolState {
	m.mu.RLock()
	states := make([]SymbolState, 0, len(m.monitors))
	for _, sm := range m.monitors {
		states = append(states, sm.state())
	}
	m.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool { return states[i].Symbol < states[j].Symbol })
	return states
}

// LastPrice returns the latest close for a monitored symbol
func (m *Manager) LastPrice(symbol string) (float64, bool) {
	m.mu.RLock()
	sm, ok := m.monitors[symbol]
	m.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return sm.price()
}

// Stop stops the shared loops and every symbol monitor
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()

	m.mu.Lock()
	monitors := make([]*SymbolMonitor, 0, len(m.monitors))
	for _, sm := range m.monitors {
		monitors = append(monitors, sm)
	}
	m.monitors = make(map[string]*SymbolMonitor)
	m.mu.Unlock()

	for _, sm := range monitors {
		sm.stop()
	}
	m.log.Info("monitor manager stopped")
}

func (m *Manager) pollLoop() {
	defer m.wg.Done()

	interval := time.Duration(m.cfg.RiskConfig.PollIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			if m.positions != nil {
				m.positions.PollExitConditions()
			}
		}
	}
}

// rolloverLoop re-initializes every symbol at local midnight so each new
// trading day gets fresh levels from the day that just completed.
func (m *Manager) rolloverLoop() {
	defer m.wg.Done()

	for {
		now := time.Now().In(m.loc)
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, m.loc).AddDate(0, 0, 1)
		timer := time.NewTimer(time.Until(next))

		select {
		case <-m.stopChan:
			timer.Stop()
			return
		case <-timer.C:
		}

		m.mu.RLock()
		monitors := make([]*SymbolMonitor, 0, len(m.monitors))
		for _, sm := range m.monitors {
			monitors = append(monitors, sm)
		}
		m.mu.RUnlock()

		m.log.Info("trading day rollover, re-initializing symbols", "count", len(monitors))
		for _, sm := range monitors {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			if err := sm.initialize(ctx); err != nil {
				m.log.Error("rollover re-initialization failed", "symbol", sm.symbol, "error", err)
			}
			cancel()
		}
	}
}

// mockFeed simulates the live stream in mock mode: every minute it asks the
// mock client for the candle that just closed and emits it.
type mockFeed struct {
	client  *binance.MockClient
	symbol  string
	handler binance.CandleHandler
	stream  *binance.MockStream

	stopChan chan struct{}
	stopOnce sync.Once
}

func newMockFeed(client *binance.MockClient, symbol string, handler binance.CandleHandler) *mockFeed {
	f := &mockFeed{
		client:   client,
		symbol:   symbol,
		handler:  handler,
		stopChan: make(chan struct{}),
	}
	f.stream = binance.NewMockStream(handler)
	return f
}

func (f *mockFeed) Start() error {
	if err := f.stream.Start(); err != nil {
		return err
	}
	go f.loop()
	return nil
}

func (f *mockFeed) Stop() {
	f.stopOnce.Do(func() { close(f.stopChan) })
	f.stream.Stop()
}

func (f *mockFeed) loop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopChan:
			return
		case tick := <-ticker.C:
			end := tick.UTC().Truncate(time.Minute)
			candles, err := f.client.FetchCandles(context.Background(), f.symbol,
				market.Timeframe1m, end.Add(-time.Minute), end)
			if err != nil || len(candles) == 0 {
				continue
			}
			f.stream.Emit(candles[len(candles)-1])
		}
	}
}
