package patterns

import (
	"fmt"

	"levels-trading-bot/internal/levels"
	"levels-trading-bot/internal/market"
	"levels-trading-bot/internal/trend"
)

// LevelReversal waits for a Touched key level whose side agrees with the
// daily trend, then a reversal candle (pin bar) on the 5m timeframe at that
// level. Supports only fire in an uptrend, resistances only in a downtrend.
// The consumed level is reported through the signal's LevelID so it can be
// retired.
type LevelReversal struct {
	bodyFraction float64 // max body as a fraction of range
	wickRatio    float64 // rejection wick must exceed this multiple of the body
}

// NewLevelReversal creates the detector with the standard pin-bar ratios
func NewLevelReversal() *LevelReversal {
	return &LevelReversal{
		bodyFraction: 1.0 / 3.0,
		wickRatio:    2.0,
	}
}

func (d *LevelReversal) Name() string { return "LevelReversal" }

// Check evaluates touched levels on each closed 5m candle
func (d *LevelReversal) Check(ctx Context) *Signal {
	if ctx.Candle5m == nil {
		return nil
	}
	c := *ctx.Candle5m

	for _, lvl := range ctx.Levels {
		if lvl.Status != levels.Touched {
			continue
		}
		dir, ok := d.tradeDirection(lvl, ctx.Trend)
		if !ok {
			continue
		}
		if !c.Contains(lvl.Price) {
			continue
		}
		if !d.isPinBar(c, dir) {
			continue
		}

		stop := c.High
		if dir == Long {
			stop = c.Low
		}
		return &Signal{
			Symbol:    c.Symbol,
			Direction: dir,
			Entry:     c.Close,
			StopLoss:  stop,
			Setup:     d.Name(),
			Reasons: []string{
				fmt.Sprintf("5m reversal candle in the trend direction (%s)", ctx.Trend),
				fmt.Sprintf("at key level %s (%.2f)", lvl.Type, lvl.Price),
				fmt.Sprintf("test %d of this level", lvl.TouchCount),
			},
			Session: SessionFor(c.CloseTime()),
			Time:    c.CloseTime(),
			LevelID: lvl.ID,
		}
	}
	return nil
}

// tradeDirection gates levels by side: supports are only actionable with a
// bullish daily trend, resistances only with a bearish one. The POC trades
// both ways.
func (d *LevelReversal) tradeDirection(lvl levels.KeyLevel, label trend.Label) (Direction, bool) {
	switch label {
	case trend.Bullish:
		if lvl.Type == levels.TypeVAL || lvl.Type == levels.TypeSessionLow || lvl.Type == levels.TypePOC {
			return Long, true
		}
	case trend.Bearish:
		if lvl.Type == levels.TypeVAH || lvl.Type == levels.TypeSessionHigh || lvl.Type == levels.TypePOC {
			return Short, true
		}
	}
	return "", false
}

// isPinBar checks for a small body with a long rejection wick on the adverse
// side.
func (d *LevelReversal) isPinBar(c market.Candle, dir Direction) bool {
	r := c.Range()
	if r == 0 {
		return false
	}
	body := c.Body()
	if body >= r*d.bodyFraction {
		return false
	}
	if dir == Long {
		return c.LowerWick() > body*d.wickRatio
	}
	return c.UpperWick() > body*d.wickRatio
}
