package market

// Resample groups 1m candles into the target timeframe by wall-clock
// alignment. Input must be sorted by open time. The trailing partial window
// is included; callers that only want completed windows drop the last candle.
func Resample(candles []Candle, tf Timeframe) []Candle {
	if len(candles) == 0 {
		return nil
	}

	var out []Candle
	for _, c := range candles {
		winStart := c.OpenTime.Truncate(tf.Duration())
		if len(out) == 0 || !out[len(out)-1].OpenTime.Equal(winStart) {
			out = append(out, Candle{
				Symbol:         c.Symbol,
				Timeframe:      tf,
				OpenTime:       winStart,
				Open:           c.Open,
				High:           c.High,
				Low:            c.Low,
				Close:          c.Close,
				Volume:         c.Volume,
				TakerBuyVolume: c.TakerBuyVolume,
			})
			continue
		}

		cur := &out[len(out)-1]
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
		cur.TakerBuyVolume += c.TakerBuyVolume
	}
	return out
}
