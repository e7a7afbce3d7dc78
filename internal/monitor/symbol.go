package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"levels-trading-bot/internal/binance"
	"levels-trading-bot/internal/events"
	"levels-trading-bot/internal/levels"
	"levels-trading-bot/internal/logging"
	"levels-trading-bot/internal/market"
	"levels-trading-bot/internal/patterns"
	"levels-trading-bot/internal/position"
	"levels-trading-bot/internal/trend"
	"levels-trading-bot/internal/volumeprofile"
)

// ErrInsufficientHistory means the historical fetch returned too little data
// to derive levels and a trend for the symbol.
var ErrInsufficientHistory = errors.New("insufficient candle history")

// SymbolState is a read-only snapshot of one monitored symbol
type SymbolState struct {
	Symbol    string
	LastPrice float64
	Trend     trend.Result
	Levels    []levels.KeyLevel
	UpdatedAt time.Time
}

// SymbolMonitor owns everything for one symbol: the candle stores, the level
// tracker, the trend classification and the pattern detectors. All candle
// processing happens on the stream goroutine; the published state is guarded
// by its own mutex.
type SymbolMonitor struct {
	symbol      string
	loc         *time.Location
	historyDays int
	history     binance.HistoricalSource
	stream      binance.LiveSource
	oneMin      *market.Store
	fiveMin     *market.Store
	thirtyMin   *market.Store
	agg         *market.Aggregator
	tracker     *levels.Tracker
	classifier  *trend.Classifier
	profiles    *volumeprofile.Engine
	registry    *patterns.Registry
	positions   Positions
	bus         *events.Bus
	log         *logging.Logger

	mu        sync.RWMutex
	lastPrice float64
	trend     trend.Result
	updatedAt time.Time

	// set by the aggregator callback within one handleCandle call,
	// only ever touched on the stream goroutine
	synth5m  *market.Candle
	synth30m *market.Candle
}

type symbolDeps struct {
	loc         *time.Location
	historyDays int
	levelDays   int
	candleLimit int
	history     binance.HistoricalSource
	streams     StreamFactory
	profiles    *volumeprofile.Engine
	classifier  *trend.Classifier
	registry    *patterns.Registry
	positions   Positions
	bus         *events.Bus
}

func newSymbolMonitor(symbol string, deps symbolDeps) *SymbolMonitor {
	m := &SymbolMonitor{
		symbol:      symbol,
		loc:         deps.loc,
		historyDays: deps.historyDays,
		history:     deps.history,
		oneMin:      market.NewStore(symbol, market.Timeframe1m, deps.candleLimit),
		fiveMin:     market.NewStore(symbol, market.Timeframe5m, deps.candleLimit),
		thirtyMin:   market.NewStore(symbol, market.Timeframe30m, deps.candleLimit),
		tracker:     levels.NewTracker(symbol, deps.loc, deps.profiles, deps.levelDays),
		classifier:  deps.classifier,
		profiles:    deps.profiles,
		registry:    deps.registry,
		positions:   deps.positions,
		bus:         deps.bus,
		log:         logging.WithComponent("monitor").WithField("symbol", symbol),
	}
	m.agg = market.NewAggregator(m.oneMin, m.fiveMin, m.thirtyMin, m.onSynthesized)
	m.stream = deps.streams(symbol, m.handleCandle)
	return m
}

// initialize fetches history, seeds the stores, rebuilds key levels and
// classifies the trend. Called at startup and again at every trading-day
// rollover; level statuses survive the rebuild.
func (m *SymbolMonitor) initialize(ctx context.Context) error {
	end := time.Now().UTC().Truncate(time.Minute)
	start := end.AddDate(0, 0, -m.historyDays)

	candles, err := m.history.FetchCandles(ctx, m.symbol, market.Timeframe1m, start, end)
	if err != nil {
		return fmt.Errorf("fetching %s history: %w", m.symbol, err)
	}
	if len(candles) == 0 {
		return fmt.Errorf("%w: %s returned no candles", ErrInsufficientHistory, m.symbol)
	}

	m.oneMin.Replace(candles)
	lastClose := candles[len(candles)-1].CloseTime()
	m.fiveMin.Replace(completedWindows(market.Resample(candles, market.Timeframe5m), market.Timeframe5m, lastClose))
	m.thirtyMin.Replace(completedWindows(market.Resample(candles, market.Timeframe30m), market.Timeframe30m, lastClose))

	m.tracker.Rebuild(candles)
	m.refreshTrend(candles)

	m.mu.Lock()
	m.lastPrice = candles[len(candles)-1].Close
	m.updatedAt = lastClose
	m.mu.Unlock()

	m.log.Info("symbol initialized", "candles", len(candles),
		"levels", len(m.tracker.Levels()), "trend", string(m.trendLabel()))
	return nil
}

// start begins live processing. initialize must have succeeded first.
func (m *SymbolMonitor) start() error {
	return m.stream.Start()
}

func (m *SymbolMonitor) stop() {
	m.stream.Stop()
}

// handleCandle processes one closed 1m candle end to end: store and
// synthesize, mark level touches, then run the detectors.
func (m *SymbolMonitor) handleCandle(c market.Candle) {
	m.synth5m, m.synth30m = nil, nil
	m.agg.OnCandleClosed(c)

	touched := m.tracker.MarkTouches(c)
	for _, lvl := range touched {
		m.log.Info("key level touched", "level", lvl.ID, "price", lvl.Price,
			"touches", lvl.TouchCount)
		m.bus.Publish(events.Event{Type: events.EventLevelTouched, Symbol: m.symbol, Data: lvl})
	}

	m.mu.Lock()
	m.lastPrice = c.Close
	m.updatedAt = c.CloseTime()
	label := m.trend.Label
	m.mu.Unlock()

	sig, detector := m.registry.Check(patterns.Context{
		Symbol:    m.symbol,
		Candle1m:  c,
		Candle5m:  m.synth5m,
		Candle30m: m.synth30m,
		Levels:    m.tracker.Levels(),
		Trend:     label,
	})
	if sig == nil {
		return
	}

	m.log.Info("signal generated", "detector", detector, "direction", string(sig.Direction),
		"entry", sig.Entry, "stop", sig.StopLoss)
	m.bus.Publish(events.Event{Type: events.EventSignalGenerated, Symbol: m.symbol, Data: *sig})

	if sig.LevelID != "" {
		if err := m.tracker.MarkEvaluated(sig.LevelID); err != nil {
			m.log.Warn("could not mark level evaluated", "level", sig.LevelID, "error", err)
		}
	}

	if m.positions == nil {
		return
	}
	if err := m.positions.OnSignal(*sig); err != nil {
		if errors.Is(err, position.ErrPositionExists) {
			m.log.Debug("signal skipped", "symbol", m.symbol, "reason", "position already open")
		} else {
			m.log.Error("signal handling failed", "symbol", m.symbol, "error", err)
		}
	}
}

func (m *SymbolMonitor) onSynthesized(c market.Candle) {
	candle := c
	switch c.Timeframe {
	case market.Timeframe5m:
		m.synth5m = &candle
	case market.Timeframe30m:
		m.synth30m = &candle
	}
}

// refreshTrend reclassifies the daily bias from 1m history
func (m *SymbolMonitor) refreshTrend(candles []market.Candle) {
	daily := trend.DailyCandles(candles, m.loc)

	var weekly *volumeprofile.Profile
	weekAgo := time.Now().UTC().AddDate(0, 0, -7)
	var weekCandles []market.Candle
	for _, c := range candles {
		if !c.OpenTime.Before(weekAgo) {
			weekCandles = append(weekCandles, c)
		}
	}
	if p, ok := m.profiles.Compute(weekCandles); ok {
		weekly = &p
	}

	last := candles[len(candles)-1]
	dayStart := dayStartIn(last.OpenTime, m.loc)
	var intraday []market.Candle
	for _, c := range candles {
		if !c.OpenTime.Before(dayStart) {
			intraday = append(intraday, c)
		}
	}

	result := m.classifier.Classify(trend.Input{
		Daily:         daily,
		Intraday:      intraday,
		WeeklyProfile: weekly,
		LastPrice:     last.Close,
	})

	m.mu.Lock()
	m.trend = result
	m.mu.Unlock()

	m.log.Info("trend updated", "label", string(result.Label), "score", result.Score)
	m.bus.Publish(events.Event{Type: events.EventTrendUpdated, Symbol: m.symbol, Data: result})
}

// state snapshots the monitor for external consumers
func (m *SymbolMonitor) state() SymbolState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return SymbolState{
		Symbol:    m.symbol,
		LastPrice: m.lastPrice,
		Trend:     m.trend,
		Levels:    m.tracker.Levels(),
		UpdatedAt: m.updatedAt,
	}
}

func (m *SymbolMonitor) price() (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastPrice, m.lastPrice > 0
}

func (m *SymbolMonitor) trendLabel() trend.Label {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trend.Label
}

// completedWindows drops a trailing window that has not closed yet, so live
// synthesis can append it whole later.
func completedWindows(resampled []market.Candle, tf market.Timeframe, lastClose time.Time) []market.Candle {
	if len(resampled) == 0 {
		return resampled
	}
	last := resampled[len(resampled)-1]
	if lastClose.Before(last.OpenTime.Add(tf.Duration())) {
		return resampled[:len(resampled)-1]
	}
	return resampled
}

func dayStartIn(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
