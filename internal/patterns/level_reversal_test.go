package patterns

import (
	"testing"
	"time"

	"levels-trading-bot/internal/levels"
	"levels-trading-bot/internal/market"
	"levels-trading-bot/internal/trend"
)

func reversalCtx(c5 market.Candle, lvl levels.KeyLevel, label trend.Label) Context {
	return Context{
		Symbol:   "BTCUSDT",
		Candle1m: c5,
		Candle5m: &c5,
		Levels:   []levels.KeyLevel{lvl},
		Trend:    label,
	}
}

func TestLevelReversalLongAtSupport(t *testing.T) {
	d := NewLevelReversal()

	// Bullish pin bar at a touched VAL: tiny body, long lower wick
	// rejecting the level.
	pin := market.Candle{
		Symbol: "BTCUSDT", Timeframe: market.Timeframe5m,
		OpenTime: time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC),
		Open:     101.5, High: 102, Low: 99, Close: 101.7,
	}
	lvl := levels.KeyLevel{
		ID: "BTCUSDT:VAL:2024-02-29", Type: levels.TypeVAL,
		Price: 100, Status: levels.Touched, TouchCount: 2,
	}

	sig := d.Check(reversalCtx(pin, lvl, trend.Bullish))
	if sig == nil {
		t.Fatal("expected a long signal at the touched support")
	}
	if sig.Direction != Long {
		t.Errorf("direction: expected Long, got %s", sig.Direction)
	}
	if sig.Entry != 101.7 {
		t.Errorf("entry: expected the pin bar close 101.7, got %v", sig.Entry)
	}
	if sig.StopLoss != 99 {
		t.Errorf("stop: expected beyond the pin bar low 99, got %v", sig.StopLoss)
	}
	if sig.LevelID != lvl.ID {
		t.Errorf("signal should name the consumed level, got %q", sig.LevelID)
	}
}

func TestLevelReversalTrendGate(t *testing.T) {
	d := NewLevelReversal()
	pin := market.Candle{
		Symbol: "BTCUSDT", Timeframe: market.Timeframe5m,
		OpenTime: time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC),
		Open:     101.5, High: 102, Low: 99, Close: 101.7,
	}
	lvl := levels.KeyLevel{
		ID: "BTCUSDT:VAL:2024-02-29", Type: levels.TypeVAL,
		Price: 100, Status: levels.Touched,
	}

	// A support is not actionable in a bearish or sideways trend
	if sig := d.Check(reversalCtx(pin, lvl, trend.Bearish)); sig != nil {
		t.Error("support must not signal long in a bearish trend")
	}
	if sig := d.Check(reversalCtx(pin, lvl, trend.Sideways)); sig != nil {
		t.Error("support must not signal in a sideways trend")
	}
}

func TestLevelReversalRequiresTouchedLevel(t *testing.T) {
	d := NewLevelReversal()
	pin := market.Candle{
		Symbol: "BTCUSDT", Timeframe: market.Timeframe5m,
		OpenTime: time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC),
		Open:     101.5, High: 102, Low: 99, Close: 101.7,
	}

	for _, status := range []levels.Status{levels.Untouched, levels.Evaluated} {
		lvl := levels.KeyLevel{
			ID: "x", Type: levels.TypeVAL, Price: 100, Status: status,
		}
		if sig := d.Check(reversalCtx(pin, lvl, trend.Bullish)); sig != nil {
			t.Errorf("level with status %s must not be eligible", status)
		}
	}
}

func TestLevelReversalRejectsWeakCandle(t *testing.T) {
	d := NewLevelReversal()
	lvl := levels.KeyLevel{
		ID: "x", Type: levels.TypeVAL, Price: 100, Status: levels.Touched,
	}

	// Full-bodied candle through the level: no rejection wick
	fat := market.Candle{
		Symbol: "BTCUSDT", Timeframe: market.Timeframe5m,
		OpenTime: time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC),
		Open:     102, High: 102, Low: 99, Close: 99.2,
	}
	if sig := d.Check(reversalCtx(fat, lvl, trend.Bullish)); sig != nil {
		t.Error("a full-bodied candle is not a reversal candle")
	}
}

func TestSessionFor(t *testing.T) {
	cases := []struct {
		hour int
		want Session
	}{
		{2, SessionAsian},
		{7, SessionAsian},
		{8, SessionLondon},
		{15, SessionLondon},
		{16, SessionNewYork},
		{22, SessionNewYork},
		{23, SessionAfterHours},
		{0, SessionAfterHours},
	}
	for _, c := range cases {
		ts := time.Date(2024, 3, 1, c.hour, 30, 0, 0, time.UTC)
		if got := SessionFor(ts); got != c.want {
			t.Errorf("hour %d: expected %s, got %s", c.hour, c.want, got)
		}
	}
}

type stubDetector struct {
	name string
	sig  *Signal
}

func (s *stubDetector) Name() string          { return s.name }
func (s *stubDetector) Check(Context) *Signal { return s.sig }

func TestRegistryFirstSignalWins(t *testing.T) {
	first := &stubDetector{name: "first"}
	second := &stubDetector{name: "second", sig: &Signal{Setup: "second"}}
	third := &stubDetector{name: "third", sig: &Signal{Setup: "third"}}

	r := NewRegistry(first, second, third)
	sig, name := r.Check(Context{})
	if sig == nil || sig.Setup != "second" || name != "second" {
		t.Errorf("expected the first non-empty result (second), got %v from %q", sig, name)
	}

	empty := NewRegistry(first)
	if sig, _ := empty.Check(Context{}); sig != nil {
		t.Error("expected no signal from an all-quiet registry")
	}
}
