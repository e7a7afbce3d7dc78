package volumeprofile

import (
	"math"
	"sort"

	"levels-trading-bot/internal/market"
)

// Config holds the profile tunables. The value-area percentage and bin size
// are deliberately configurable rather than constants.
type Config struct {
	BinSize          float64
	ValueAreaPercent float64
}

// DefaultConfig returns the standard 68% value area over 0.5-wide bins
func DefaultConfig() Config {
	return Config{BinSize: 0.5, ValueAreaPercent: 0.68}
}

// Profile is the volume profile of one candle set
type Profile struct {
	POC  float64 // price of the highest-volume bin (bin midpoint)
	VAH  float64 // value area high
	VAL  float64 // value area low
	High float64 // session high
	Low  float64 // session low
}

// Engine computes fixed-bin volume profiles
type Engine struct {
	cfg Config
}

// NewEngine creates an engine; zero or invalid config fields fall back to
// defaults.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.BinSize <= 0 {
		cfg.BinSize = def.BinSize
	}
	if cfg.ValueAreaPercent <= 0 || cfg.ValueAreaPercent > 1 {
		cfg.ValueAreaPercent = def.ValueAreaPercent
	}
	return &Engine{cfg: cfg}
}

// Compute builds the profile for a candle set. Returns ok=false when there
// are no candles or no volume lands in any bin.
func (e *Engine) Compute(candles []market.Candle) (Profile, bool) {
	if len(candles) == 0 {
		return Profile{}, false
	}

	low := candles[0].Low
	high := candles[0].High
	for _, c := range candles[1:] {
		if c.Low < low {
			low = c.Low
		}
		if c.High > high {
			high = c.High
		}
	}

	binSize := e.cfg.BinSize
	minP := math.Floor(low/binSize) * binSize
	maxP := math.Ceil(high/binSize) * binSize
	if minP == maxP {
		maxP += binSize
	}

	// Bin i covers [bins[i], bins[i]+binSize)
	n := int(math.Round((maxP - minP) / binSize))
	if n <= 0 {
		return Profile{}, false
	}
	bins := make([]float64, n)
	for i := range bins {
		bins[i] = minP + float64(i)*binSize
	}
	volumes := make([]float64, n)

	for _, c := range candles {
		if c.Volume == 0 {
			continue
		}
		if c.High <= c.Low {
			// Zero-range candle: all volume lands in the bin holding its price
			volumes[binFor(bins, c.Low)] += c.Volume
			continue
		}
		startIdx := sort.SearchFloat64s(bins, c.Low)
		endIdx := sort.SearchFloat64s(bins, c.High)
		if startIdx >= endIdx {
			// Candle sits inside a single bin
			if startIdx > 0 && startIdx < len(volumes) {
				volumes[startIdx-1] += c.Volume
			}
			continue
		}
		perBin := c.Volume / float64(endIdx-startIdx)
		for i := startIdx; i < endIdx; i++ {
			volumes[i] += perBin
		}
	}

	var total float64
	pocIdx := 0
	for i, v := range volumes {
		total += v
		if v > volumes[pocIdx] {
			pocIdx = i
		}
	}
	if total == 0 {
		return Profile{}, false
	}

	poc := bins[pocIdx] + binSize/2
	target := total * e.cfg.ValueAreaPercent

	// Greedy expansion out from the POC, preferring the upper side on ties
	included := volumes[pocIdx]
	upIdx, downIdx := pocIdx+1, pocIdx-1
	for included < target {
		atTop := upIdx >= len(volumes)
		atBottom := downIdx < 0
		if atTop && atBottom {
			break
		}
		upVol, downVol := -1.0, -1.0
		if !atTop {
			upVol = volumes[upIdx]
		}
		if !atBottom {
			downVol = volumes[downIdx]
		}
		if upVol >= downVol {
			included += upVol
			upIdx++
		} else {
			included += downVol
			downIdx--
		}
	}

	val := bins[0]
	if downIdx+1 < len(bins) {
		val = bins[downIdx+1] + binSize/2
	}
	vah := bins[len(bins)-1]
	if upIdx-1 >= 0 {
		vah = bins[upIdx-1] + binSize/2
	}

	return Profile{POC: poc, VAH: vah, VAL: val, High: high, Low: low}, true
}

// binFor returns the index of the bin whose [start, start+binSize) interval
// contains price. The histogram always spans every candle price, so the
// result is clamped only at the top edge.
func binFor(bins []float64, price float64) int {
	idx := sort.SearchFloat64s(bins, price)
	if idx >= len(bins) || bins[idx] > price {
		idx--
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}
