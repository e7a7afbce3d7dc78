package market

import (
	"levels-trading-bot/internal/logging"
)

// Aggregator ingests closed 1m candles for one symbol and synthesizes 5m and
// 30m candles when the corresponding wall-clock boundary passes. Synthesized
// candles are appended to their stores and handed to the callback.
type Aggregator struct {
	oneMin    *Store
	fiveMin   *Store
	thirtyMin *Store
	onSynth   func(Candle)
	log       *logging.Logger
}

// NewAggregator wires an aggregator over the three stores. onSynth may be
// nil; when set it fires once per synthesized candle, after the append.
func NewAggregator(oneMin, fiveMin, thirtyMin *Store, onSynth func(Candle)) *Aggregator {
	return &Aggregator{
		oneMin:    oneMin,
		fiveMin:   fiveMin,
		thirtyMin: thirtyMin,
		onSynth:   onSynth,
		log:       logging.WithComponent("aggregator"),
	}
}

// OnCandleClosed processes one closed 1m candle. Out-of-order candles are
// dropped and logged, never propagated.
func (a *Aggregator) OnCandleClosed(c Candle) {
	if err := a.oneMin.Append(c); err != nil {
		a.log.Warn("dropping out-of-order candle",
			"symbol", c.Symbol, "open_time", c.OpenTime, "error", err)
		return
	}

	closeTime := c.CloseTime()
	if closeTime.Minute()%5 == 0 {
		a.synthesize(a.fiveMin, Timeframe5m)
	}
	if closeTime.Minute()%30 == 0 {
		a.synthesize(a.thirtyMin, Timeframe30m)
	}
}

func (a *Aggregator) synthesize(dst *Store, tf Timeframe) {
	last, ok := a.oneMin.Last()
	if !ok {
		return
	}

	winStart := last.OpenTime.Truncate(tf.Duration())
	window := a.oneMin.Between(winStart, winStart.Add(tf.Duration()))
	if len(window) == 0 {
		return
	}

	synth := Candle{
		Symbol:    last.Symbol,
		Timeframe: tf,
		OpenTime:  winStart,
		Open:      window[0].Open,
		High:      window[0].High,
		Low:       window[0].Low,
		Close:     window[len(window)-1].Close,
	}
	for _, c := range window {
		if c.High > synth.High {
			synth.High = c.High
		}
		if c.Low < synth.Low {
			synth.Low = c.Low
		}
		synth.Volume += c.Volume
		synth.TakerBuyVolume += c.TakerBuyVolume
	}

	if err := dst.Append(synth); err != nil {
		a.log.Warn("dropping out-of-order synthesized candle",
			"symbol", synth.Symbol, "timeframe", tf, "error", err)
		return
	}
	if a.onSynth != nil {
		a.onSynth(synth)
	}
}
