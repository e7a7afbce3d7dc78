package levels

import (
	"testing"
	"time"

	"levels-trading-bot/internal/market"
	"levels-trading-bot/internal/volumeprofile"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("loading timezone: %v", err)
	}
	return NewTracker("BTCUSDT", loc, volumeprofile.NewEngine(volumeprofile.DefaultConfig()), 4)
}

func dayCandles(t *testing.T, day time.Time, low, high, volume float64, n int) []market.Candle {
	t.Helper()
	candles := make([]market.Candle, n)
	span := (high - low) / float64(n)
	for i := 0; i < n; i++ {
		l := low + float64(i)*span
		candles[i] = market.Candle{
			Symbol:    "BTCUSDT",
			Timeframe: market.Timeframe1m,
			OpenTime:  day.Add(time.Duration(i) * time.Minute),
			Open:      l,
			High:      l + span,
			Low:       l,
			Close:     l + span,
			Volume:    volume,
		}
	}
	return candles
}

func TestRebuildSkipsFormingDay(t *testing.T) {
	tr := newTestTracker(t)
	loc := tr.loc

	day1 := time.Date(2024, 3, 1, 9, 0, 0, 0, loc)
	day2 := time.Date(2024, 3, 2, 9, 0, 0, 0, loc)

	var candles []market.Candle
	candles = append(candles, dayCandles(t, day1, 30000, 30500, 10, 20)...)
	candles = append(candles, dayCandles(t, day2, 30600, 30900, 10, 20)...)
	tr.Rebuild(candles)

	all := tr.Levels()
	if len(all) != 5 {
		t.Fatalf("expected 5 levels from one completed day, got %d", len(all))
	}
	for _, lvl := range all {
		if lvl.Day.Month() != 3 || lvl.Day.Day() != 1 {
			t.Errorf("level %s derived from the still-forming day", lvl.ID)
		}
	}
}

func TestTouchTransition(t *testing.T) {
	tr := newTestTracker(t)
	loc := tr.loc

	day1 := time.Date(2024, 3, 1, 9, 0, 0, 0, loc)
	day2 := time.Date(2024, 3, 2, 9, 0, 0, 0, loc)

	// Day 1 trades 30000-30500, day 2 opens well above so everything
	// starts untouched.
	var candles []market.Candle
	candles = append(candles, dayCandles(t, day1, 30000, 30500, 10, 20)...)
	candles = append(candles, dayCandles(t, day2, 30800, 30900, 10, 5)...)
	tr.Rebuild(candles)

	if got := len(tr.Untouched()); got != 5 {
		t.Fatalf("expected all 5 levels untouched, got %d", got)
	}

	// A candle sweeping down through the prior-day high at 30500
	touched := tr.MarkTouches(market.Candle{
		Symbol:    "BTCUSDT",
		Timeframe: market.Timeframe1m,
		OpenTime:  day2.Add(time.Hour),
		Open:      30600, High: 30650, Low: 30450, Close: 30480,
		Volume: 5,
	})

	var sawHigh bool
	for _, lvl := range touched {
		if lvl.Type == TypeSessionHigh {
			sawHigh = true
			if lvl.Price != 30500 {
				t.Errorf("prior-day high: expected 30500, got %v", lvl.Price)
			}
			if lvl.Status != Touched {
				t.Errorf("expected Touched after contact, got %s", lvl.Status)
			}
			if lvl.TouchCount != 1 {
				t.Errorf("expected touch count 1, got %d", lvl.TouchCount)
			}
		}
	}
	if !sawHigh {
		t.Fatal("candle through 30500 did not touch the prior-day high")
	}

	// Second touch increments the count but status stays Touched
	tr.MarkTouches(market.Candle{
		Symbol:    "BTCUSDT",
		OpenTime:  day2.Add(2 * time.Hour),
		Open:      30520, High: 30550, Low: 30490, Close: 30510,
		Timeframe: market.Timeframe1m,
	})
	for _, lvl := range tr.Levels() {
		if lvl.Type == TypeSessionHigh && lvl.TouchCount != 2 {
			t.Errorf("expected touch count 2 after second contact, got %d", lvl.TouchCount)
		}
	}
}

func TestMarkEvaluatedRemovesEligibility(t *testing.T) {
	tr := newTestTracker(t)
	loc := tr.loc

	day1 := time.Date(2024, 3, 1, 9, 0, 0, 0, loc)
	day2 := time.Date(2024, 3, 2, 9, 0, 0, 0, loc)
	var candles []market.Candle
	candles = append(candles, dayCandles(t, day1, 30000, 30500, 10, 20)...)
	candles = append(candles, dayCandles(t, day2, 30800, 30900, 10, 5)...)
	tr.Rebuild(candles)

	all := tr.Levels()
	if err := tr.MarkEvaluated(all[0].ID); err != nil {
		t.Fatalf("MarkEvaluated failed: %v", err)
	}
	if got := len(tr.Eligible()); got != 4 {
		t.Errorf("expected 4 eligible levels after evaluation, got %d", got)
	}
	if err := tr.MarkEvaluated("BTCUSDT:POC:1999-01-01"); err == nil {
		t.Error("expected error for unknown level id")
	}
}

func TestEvaluatedSurvivesRebuild(t *testing.T) {
	tr := newTestTracker(t)
	loc := tr.loc

	day1 := time.Date(2024, 3, 1, 9, 0, 0, 0, loc)
	day2 := time.Date(2024, 3, 2, 9, 0, 0, 0, loc)
	var candles []market.Candle
	candles = append(candles, dayCandles(t, day1, 30000, 30500, 10, 20)...)
	candles = append(candles, dayCandles(t, day2, 30800, 30900, 10, 5)...)
	tr.Rebuild(candles)

	id := tr.Levels()[0].ID
	tr.MarkEvaluated(id)

	tr.Rebuild(candles)
	for _, lvl := range tr.Levels() {
		if lvl.ID == id && lvl.Status != Evaluated {
			t.Errorf("Evaluated status lost across rebuild for %s", id)
		}
	}
}

func TestPriorDayHighLow(t *testing.T) {
	tr := newTestTracker(t)
	loc := tr.loc

	day1 := time.Date(2024, 3, 1, 9, 0, 0, 0, loc)
	day2 := time.Date(2024, 3, 2, 9, 0, 0, 0, loc)
	day3 := time.Date(2024, 3, 3, 9, 0, 0, 0, loc)
	var candles []market.Candle
	candles = append(candles, dayCandles(t, day1, 30000, 30500, 10, 20)...)
	candles = append(candles, dayCandles(t, day2, 30400, 31000, 10, 20)...)
	candles = append(candles, dayCandles(t, day3, 30900, 31100, 10, 5)...)
	tr.Rebuild(candles)

	high, low, ok := tr.PriorDayHighLow()
	if !ok {
		t.Fatal("expected prior-day high/low")
	}
	if high.Price != 31000 {
		t.Errorf("prior-day high: expected 31000 (day 2), got %v", high.Price)
	}
	if low.Price != 30400 {
		t.Errorf("prior-day low: expected 30400 (day 2), got %v", low.Price)
	}
}
