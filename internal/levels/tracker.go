package levels

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"levels-trading-bot/internal/logging"
	"levels-trading-bot/internal/market"
	"levels-trading-bot/internal/volumeprofile"
)

// ErrUnknownLevel is returned when an operation names a level the tracker
// does not hold.
var ErrUnknownLevel = fmt.Errorf("unknown key level")

// Tracker derives key levels from completed trading days and tracks their
// touch lifecycle. Days are bounded by midnight in the configured timezone.
type Tracker struct {
	mu       sync.RWMutex
	symbol   string
	loc      *time.Location
	engine   *volumeprofile.Engine
	maxDays  int
	levels   map[string]*KeyLevel
	ordered  []string // level IDs, oldest day first
	log      *logging.Logger
	lastSeen time.Time
}

// NewTracker creates a tracker for one symbol. maxDays caps how many
// completed days contribute levels; older levels are pruned on Rebuild.
func NewTracker(symbol string, loc *time.Location, engine *volumeprofile.Engine, maxDays int) *Tracker {
	if maxDays <= 0 {
		maxDays = 4
	}
	return &Tracker{
		symbol:  symbol,
		loc:     loc,
		engine:  engine,
		maxDays: maxDays,
		levels:  make(map[string]*KeyLevel),
		log:     logging.WithComponent("levels").WithField("symbol", symbol),
	}
}

// dayOf returns midnight of the trading day containing t
func (tr *Tracker) dayOf(t time.Time) time.Time {
	local := t.In(tr.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tr.loc)
}

// Rebuild replaces all levels from a 1m candle history. Levels are derived
// from every completed day except the newest (still-forming) one, then
// touches are replayed from all candles after each level's day. Statuses of
// levels that already existed are preserved so Evaluated never resets.
func (tr *Tracker) Rebuild(candles []market.Candle) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if len(candles) == 0 {
		return
	}

	byDay := make(map[time.Time][]market.Candle)
	var days []time.Time
	for _, c := range candles {
		day := tr.dayOf(c.OpenTime)
		if _, seen := byDay[day]; !seen {
			days = append(days, day)
		}
		byDay[day] = append(byDay[day], c)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	tr.lastSeen = days[len(days)-1]

	// The newest day is still forming and never contributes levels
	completed := days[:len(days)-1]
	if len(completed) > tr.maxDays {
		completed = completed[len(completed)-tr.maxDays:]
	}

	prev := tr.levels
	tr.levels = make(map[string]*KeyLevel)
	tr.ordered = tr.ordered[:0]

	for _, day := range completed {
		profile, ok := tr.engine.Compute(byDay[day])
		if !ok {
			continue
		}
		for _, lt := range []struct {
			t LevelType
			p float64
		}{
			{TypeVAH, profile.VAH},
			{TypeVAL, profile.VAL},
			{TypeSessionHigh, profile.High},
			{TypeSessionLow, profile.Low},
			{TypePOC, profile.POC},
		} {
			id := levelID(tr.symbol, lt.t, day)
			lvl := &KeyLevel{
				ID:     id,
				Symbol: tr.symbol,
				Type:   lt.t,
				Price:  lt.p,
				Day:    day,
				Status: Untouched,
			}
			if old, ok := prev[id]; ok && old.Status == Evaluated {
				lvl.Status = Evaluated
			}
			tr.levels[id] = lvl
			tr.ordered = append(tr.ordered, id)
		}
	}

	// Replay touches from everything that traded after each level's day
	for _, c := range candles {
		tr.markTouchesLocked(c)
	}

	tr.log.Debug("levels rebuilt", "levels", len(tr.levels), "days", len(completed))
}

// MarkTouches applies one closed candle to every level from an earlier day
// and returns the levels it touched. A touch is the candle's range containing
// the level price. Evaluated levels keep counting touches but never change
// status.
func (tr *Tracker) MarkTouches(c market.Candle) []KeyLevel {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.markTouchesLocked(c)
}

func (tr *Tracker) markTouchesLocked(c market.Candle) []KeyLevel {
	candleDay := tr.dayOf(c.OpenTime)
	if candleDay.After(tr.lastSeen) {
		tr.lastSeen = candleDay
	}

	var touched []KeyLevel
	for _, id := range tr.ordered {
		lvl := tr.levels[id]
		if !candleDay.After(lvl.Day) {
			continue
		}
		if !c.Contains(lvl.Price) {
			continue
		}
		lvl.TouchCount++
		lvl.LastTouch = c.OpenTime
		if lvl.FirstTouch.IsZero() {
			lvl.FirstTouch = c.OpenTime
		}
		if lvl.Status == Untouched {
			lvl.Status = Touched
		}
		touched = append(touched, *lvl)
	}
	return touched
}

// MarkEvaluated transitions a level to Evaluated, removing it from detector
// eligibility. Already-Evaluated levels are a no-op.
func (tr *Tracker) MarkEvaluated(id string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	lvl, ok := tr.levels[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLevel, id)
	}
	lvl.Status = Evaluated
	return nil
}

// Levels returns a snapshot of all tracked levels, oldest day first
func (tr *Tracker) Levels() []KeyLevel {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	out := make([]KeyLevel, 0, len(tr.ordered))
	for _, id := range tr.ordered {
		out = append(out, *tr.levels[id])
	}
	return out
}

// Eligible returns levels that have not been Evaluated
func (tr *Tracker) Eligible() []KeyLevel {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	out := make([]KeyLevel, 0, len(tr.ordered))
	for _, id := range tr.ordered {
		if lvl := tr.levels[id]; lvl.Status != Evaluated {
			out = append(out, *lvl)
		}
	}
	return out
}

// Untouched returns levels no candle has reached yet
func (tr *Tracker) Untouched() []KeyLevel {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	out := make([]KeyLevel, 0, len(tr.ordered))
	for _, id := range tr.ordered {
		if lvl := tr.levels[id]; lvl.Status == Untouched {
			out = append(out, *lvl)
		}
	}
	return out
}

// PriorDayHighLow returns the session high and low of the most recent
// completed day.
func (tr *Tracker) PriorDayHighLow() (high, low KeyLevel, ok bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	var latest time.Time
	for _, lvl := range tr.levels {
		if lvl.Day.After(latest) {
			latest = lvl.Day
		}
	}
	if latest.IsZero() {
		return KeyLevel{}, KeyLevel{}, false
	}

	h, hasHigh := tr.levels[levelID(tr.symbol, TypeSessionHigh, latest)]
	l, hasLow := tr.levels[levelID(tr.symbol, TypeSessionLow, latest)]
	if !hasHigh || !hasLow {
		return KeyLevel{}, KeyLevel{}, false
	}
	return *h, *l, true
}
