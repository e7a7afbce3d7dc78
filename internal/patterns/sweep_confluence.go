package patterns

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"levels-trading-bot/internal/market"
)

type poiState int

const (
	poiVirgin poiState = iota
	poiTouched
)

// poi is a point of interest from a confluence candle
type poi struct {
	direction Direction
	state     poiState
	entry     float64
	stop      float64
	reasons   []string
	found     time.Time
}

// SweepConfluence finds 5m candles where a liquidity sweep coincides with a
// structure break and/or an order block in the same direction (at least 2 of
// the 3). The confluence candle becomes a POI; when a later 1m candle returns
// to the POI and then closes in its direction, a signal fires. Each POI emits
// at most once.
type SweepConfluence struct {
	swingLookback int
	windowSize    int

	window5m []market.Candle
	pois     []*poi
}

// NewSweepConfluence creates the detector with the standard 5-candle swing
// lookback.
func NewSweepConfluence() *SweepConfluence {
	return &SweepConfluence{
		swingLookback: 5,
		windowSize:    120,
	}
}

func (d *SweepConfluence) Name() string { return "SweepConfluence" }

// Check discovers POIs on 5m closes and arms/confirms them on 1m closes
func (d *SweepConfluence) Check(ctx Context) *Signal {
	if ctx.Candle5m != nil {
		d.window5m = append(d.window5m, *ctx.Candle5m)
		if len(d.window5m) > d.windowSize {
			d.window5m = d.window5m[len(d.window5m)-d.windowSize:]
		}
		d.discoverPOI()
	}

	d.markTouches(ctx.Candle1m)
	return d.confirmEntry(ctx.Candle1m)
}

// swingHighsLows returns the last confirmed swing high and low strictly
// before the newest candle. A swing is a local extremum over a centered
// lookback window, so the last swingLookback candles cannot confirm one yet.
func (d *SweepConfluence) swingHighsLows() (lastHigh, lastLow float64, hasHigh, hasLow bool) {
	lb := d.swingLookback
	// exclude the two newest candles so the sweep candle compares against
	// structure that existed before it
	limit := len(d.window5m) - 2
	for i := lb; i < limit-lb; i++ {
		isHigh, isLow := true, true
		for j := i - lb; j <= i+lb; j++ {
			if d.window5m[j].High > d.window5m[i].High {
				isHigh = false
			}
			if d.window5m[j].Low < d.window5m[i].Low {
				isLow = false
			}
		}
		if isHigh {
			lastHigh, hasHigh = d.window5m[i].High, true
		}
		if isLow {
			lastLow, hasLow = d.window5m[i].Low, true
		}
	}
	return lastHigh, lastLow, hasHigh, hasLow
}

// discoverPOI scores the newest 5m candle for sweep/BOS/order-block
// confluence.
func (d *SweepConfluence) discoverPOI() {
	if len(d.window5m) < 2*d.swingLookback+3 {
		return
	}
	cur := d.window5m[len(d.window5m)-1]
	prev := d.window5m[len(d.window5m)-2]
	lastHigh, lastLow, hasHigh, hasLow := d.swingHighsLows()

	var dir Direction
	switch {
	case hasHigh && cur.High > lastHigh && cur.Close < lastHigh:
		dir = Short
	case hasLow && cur.Low < lastLow && cur.Close > lastLow:
		dir = Long
	default:
		return
	}

	reasons := map[string]bool{"Liquidity Sweep": true}

	// structure break: a close beyond the opposite swing
	if dir == Long && hasHigh && cur.Close > lastHigh {
		reasons["BOS"] = true
	}
	if dir == Short && hasLow && cur.Close < lastLow {
		reasons["BOS"] = true
	}

	// order block: opposite-colored candle immediately before a strong move
	if dir == Long && cur.Close > prev.High && prev.Open > prev.Close {
		reasons["OB"] = true
	}
	if dir == Short && cur.Close < prev.Low && prev.Open < prev.Close {
		reasons["OB"] = true
	}

	if len(reasons) < 2 {
		return
	}

	entry, stop := cur.Low, cur.High
	if dir == Long {
		entry, stop = cur.High, cur.Low
	}
	for _, p := range d.pois {
		if p.entry == entry {
			return
		}
	}

	names := make([]string, 0, len(reasons))
	for r := range reasons {
		names = append(names, r)
	}
	sort.Strings(names)

	d.pois = append(d.pois, &poi{
		direction: dir,
		state:     poiVirgin,
		entry:     entry,
		stop:      stop,
		reasons:   names,
		found:     cur.OpenTime,
	})
}

// markTouches arms virgin POIs whose entry price the candle reached
func (d *SweepConfluence) markTouches(c market.Candle) {
	for _, p := range d.pois {
		if p.state != poiVirgin || !c.OpenTime.After(p.found) {
			continue
		}
		touched := (p.direction == Long && c.Low <= p.entry) ||
			(p.direction == Short && c.High >= p.entry)
		if touched {
			p.state = poiTouched
		}
	}
}

// confirmEntry fires on the first candle that closes in a touched POI's
// direction, then discards the POI.
func (d *SweepConfluence) confirmEntry(c market.Candle) *Signal {
	for i, p := range d.pois {
		if p.state != poiTouched {
			continue
		}
		confirmed := (p.direction == Long && c.Close > c.Open) ||
			(p.direction == Short && c.Close < c.Open)
		if !confirmed {
			continue
		}
		if c.Close == p.stop {
			continue
		}

		d.pois = append(d.pois[:i], d.pois[i+1:]...)
		return &Signal{
			Symbol:    c.Symbol,
			Direction: p.direction,
			Entry:     c.Close,
			StopLoss:  p.stop,
			Setup:     fmt.Sprintf("POI 5m: %s", strings.Join(p.reasons, " + ")),
			Reasons: []string{
				fmt.Sprintf("confluence: %s", strings.Join(p.reasons, " + ")),
				fmt.Sprintf("price returned to POI at %.2f", p.entry),
				"confirmation candle closed in the POI direction",
			},
			Session: SessionFor(c.CloseTime()),
			Time:    c.CloseTime(),
		}
	}
	return nil
}
