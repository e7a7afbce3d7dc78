package patterns

import (
	"fmt"

	"levels-trading-bot/internal/levels"
	"levels-trading-bot/internal/market"
)

// break-retest pipeline states
type breakState int

const (
	breakDetected breakState = iota
	imbalanceFound
)

type fvgZone struct {
	low  float64
	high float64
}

type breakSetup struct {
	direction Direction
	state     breakState
	level     levels.KeyLevel
	fvg       fvgZone
}

// BreakRetest watches 30m candles for a false break of a key level, then a
// same-direction imbalance (3-candle gap) anchored near the broken level,
// then a pullback into the gap with fading opposing order flow. One pipeline
// runs per broken level.
type BreakRetest struct {
	anchorTolerance float64 // max FVG distance from the level, fraction of price
	deltaFraction   float64 // opposing delta must stay within this fraction of volume
	stopBuffer      float64 // stop offset beyond the far FVG edge

	recent30 []market.Candle
	pending  []*breakSetup
}

// NewBreakRetest creates the detector with the standard tolerances
func NewBreakRetest() *BreakRetest {
	return &BreakRetest{
		anchorTolerance: 0.005,
		deltaFraction:   0.1,
		stopBuffer:      0.0005,
	}
}

func (d *BreakRetest) Name() string { return "BreakRetest" }

// Check advances the pipeline on each closed 30m candle
func (d *BreakRetest) Check(ctx Context) *Signal {
	if ctx.Candle30m == nil {
		return nil
	}
	c := *ctx.Candle30m

	d.recent30 = append(d.recent30, c)
	if len(d.recent30) > 5 {
		d.recent30 = d.recent30[len(d.recent30)-5:]
	}

	d.checkBreak(c, ctx.Levels)
	d.checkImbalance()
	return d.checkPullback(c)
}

// checkBreak starts a pipeline when a candle crosses a level but closes back
// on the original side. Levels that already produced a signal are skipped, so
// a consumed level can never seed a second pipeline.
func (d *BreakRetest) checkBreak(c market.Candle, keyLevels []levels.KeyLevel) {
	for _, lvl := range keyLevels {
		if lvl.Status == levels.Evaluated || d.hasSetupFor(lvl.ID) {
			continue
		}

		supportSide := lvl.Type == levels.TypeVAL || lvl.Type == levels.TypeSessionLow || lvl.Type == levels.TypePOC
		resistanceSide := lvl.Type == levels.TypeVAH || lvl.Type == levels.TypeSessionHigh || lvl.Type == levels.TypePOC

		if supportSide && c.High > lvl.Price && c.Close < lvl.Price {
			d.pending = append(d.pending, &breakSetup{direction: Short, state: breakDetected, level: lvl})
		}
		if resistanceSide && c.Low < lvl.Price && c.Close > lvl.Price {
			d.pending = append(d.pending, &breakSetup{direction: Long, state: breakDetected, level: lvl})
		}
	}
}

func (d *BreakRetest) hasSetupFor(levelID string) bool {
	for _, s := range d.pending {
		if s.level.ID == levelID {
			return true
		}
	}
	return false
}

// checkImbalance looks for a 3-candle gap in the setup's direction anchored
// within the tolerance of the broken level.
func (d *BreakRetest) checkImbalance() {
	if len(d.recent30) < 3 {
		return
	}
	c1 := d.recent30[len(d.recent30)-3]
	c3 := d.recent30[len(d.recent30)-1]

	for _, s := range d.pending {
		if s.state != breakDetected {
			continue
		}
		anchor := s.level.Price * d.anchorTolerance

		if s.direction == Short && c1.Low > c3.High {
			zone := fvgZone{low: c3.High, high: c1.Low}
			if abs(zone.high-s.level.Price) < anchor {
				s.fvg = zone
				s.state = imbalanceFound
			}
		}
		if s.direction == Long && c3.Low > c1.High {
			zone := fvgZone{low: c1.High, high: c3.Low}
			if abs(zone.low-s.level.Price) < anchor {
				s.fvg = zone
				s.state = imbalanceFound
			}
		}
	}
}

// checkPullback completes a pipeline when price returns into the gap and the
// opposing side's delta has faded.
func (d *BreakRetest) checkPullback(c market.Candle) *Signal {
	for i, s := range d.pending {
		if s.state != imbalanceFound {
			continue
		}

		if s.direction == Short && c.High >= s.fvg.low {
			if c.Delta() < c.Volume*d.deltaFraction {
				d.pending = append(d.pending[:i], d.pending[i+1:]...)
				return d.signal(s, c, s.fvg.high*(1+d.stopBuffer))
			}
		}
		if s.direction == Long && c.Low <= s.fvg.high {
			if c.Delta() > -c.Volume*d.deltaFraction {
				d.pending = append(d.pending[:i], d.pending[i+1:]...)
				return d.signal(s, c, s.fvg.low*(1-d.stopBuffer))
			}
		}
	}
	return nil
}

func (d *BreakRetest) signal(s *breakSetup, c market.Candle, stop float64) *Signal {
	return &Signal{
		Symbol:    c.Symbol,
		Direction: s.direction,
		Entry:     c.Close,
		StopLoss:  stop,
		Setup:     d.Name(),
		Reasons: []string{
			fmt.Sprintf("false break of %s at %.2f", s.level.Type, s.level.Price),
			fmt.Sprintf("imbalance zone %.2f-%.2f anchored at the level", s.fvg.low, s.fvg.high),
			"pullback into the zone with fading opposing delta",
		},
		Session: SessionFor(c.CloseTime()),
		Time:    c.CloseTime(),
		LevelID: s.level.ID,
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
