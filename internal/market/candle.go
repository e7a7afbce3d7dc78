package market

import "time"

// Timeframe identifies a candle interval
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe30m Timeframe = "30m"
	Timeframe1d  Timeframe = "1d"
)

// Duration returns the wall-clock span of one candle of this timeframe
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe30m:
		return 30 * time.Minute
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Candle is a closed OHLCV candle. TakerBuyVolume is the portion of Volume
// bought at the ask; Delta is derived from it.
type Candle struct {
	Symbol         string    `json:"symbol"`
	Timeframe      Timeframe `json:"timeframe"`
	OpenTime       time.Time `json:"open_time"`
	Open           float64   `json:"open"`
	High           float64   `json:"high"`
	Low            float64   `json:"low"`
	Close          float64   `json:"close"`
	Volume         float64   `json:"volume"`
	TakerBuyVolume float64   `json:"taker_buy_volume"`
}

// Delta is taker buy volume minus taker sell volume
func (c Candle) Delta() float64 {
	return 2*c.TakerBuyVolume - c.Volume
}

// Range is the high-low span
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// Body is the absolute open-close distance
func (c Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// UpperWick is the distance from the body top to the high
func (c Candle) UpperWick() float64 {
	top := c.Open
	if c.Close > top {
		top = c.Close
	}
	return c.High - top
}

// LowerWick is the distance from the low to the body bottom
func (c Candle) LowerWick() float64 {
	bottom := c.Open
	if c.Close < bottom {
		bottom = c.Close
	}
	return bottom - c.Low
}

// IsBullish reports whether the candle closed above its open
func (c Candle) IsBullish() bool {
	return c.Close > c.Open
}

// Contains reports whether price falls inside the candle's high-low range
func (c Candle) Contains(price float64) bool {
	return price >= c.Low && price <= c.High
}

// CloseTime is the instant the candle closed
func (c Candle) CloseTime() time.Time {
	return c.OpenTime.Add(c.Timeframe.Duration())
}
