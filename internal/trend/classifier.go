package trend

import (
	"fmt"
	"sort"
	"time"

	"levels-trading-bot/internal/market"
	"levels-trading-bot/internal/volumeprofile"
)

// Label is the coarse daily bias
type Label string

const (
	Bullish          Label = "BULLISH"
	Bearish          Label = "BEARISH"
	Sideways         Label = "SIDEWAYS"
	InsufficientData Label = "INSUFFICIENT_DATA"
)

// Config holds classifier weights and thresholds
type Config struct {
	MinDays          int
	SlopeWindow      int
	BullishThreshold float64
	BearishThreshold float64
}

// DefaultConfig returns the standard weights and thresholds
func DefaultConfig() Config {
	return Config{
		MinDays:          3,
		SlopeWindow:      30,
		BullishThreshold: 1.5,
		BearishThreshold: -1.5,
	}
}

// Component weights for the composite score
const (
	weightPriceAction   = 1.5
	weightValueArea     = 1.5
	weightLinReg        = 1.0
	weightCVD           = 0.5
	strongSlope         = 0.0005
	weakSlope           = 0.0001
	priceActionLookback = 3
)

// Input carries everything one classification needs. WeeklyProfile and
// LastPrice are optional; when absent the value-area component scores zero.
type Input struct {
	Daily         []market.Candle // completed daily candles, oldest first
	Intraday      []market.Candle // current day's candles
	WeeklyProfile *volumeprofile.Profile
	LastPrice     float64
}

// Result is one classification with its composite score and rationale
type Result struct {
	Label     Label
	Score     float64
	Rationale []string
}

// Classifier produces a weighted composite daily bias
type Classifier struct {
	cfg Config
}

// NewClassifier creates a classifier; zero config fields fall back to
// defaults.
func NewClassifier(cfg Config) *Classifier {
	def := DefaultConfig()
	if cfg.MinDays <= 0 {
		cfg.MinDays = def.MinDays
	}
	if cfg.SlopeWindow <= 1 {
		cfg.SlopeWindow = def.SlopeWindow
	}
	if cfg.BullishThreshold == 0 {
		cfg.BullishThreshold = def.BullishThreshold
	}
	if cfg.BearishThreshold == 0 {
		cfg.BearishThreshold = def.BearishThreshold
	}
	return &Classifier{cfg: cfg}
}

// Classify sums the weighted component scores into a label. Too little
// daily history yields InsufficientData rather than a guess.
func (c *Classifier) Classify(in Input) Result {
	if len(in.Daily) < c.cfg.MinDays {
		return Result{
			Label: InsufficientData,
			Rationale: []string{fmt.Sprintf(
				"only %d completed days of history, need %d", len(in.Daily), c.cfg.MinDays)},
		}
	}

	var total float64
	var rationale []string

	paScore, paWhy := priceActionScore(in.Daily)
	total += paScore * weightPriceAction
	rationale = append(rationale, fmt.Sprintf("price action: %s (%+.1f)", paWhy, paScore*weightPriceAction))

	vaScore, vaWhy := valueAreaScore(in.WeeklyProfile, in.LastPrice)
	total += vaScore * weightValueArea
	rationale = append(rationale, fmt.Sprintf("weekly value area: %s (%+.1f)", vaWhy, vaScore*weightValueArea))

	lrScore, lrWhy := c.linRegScore(in.Daily)
	total += lrScore * weightLinReg
	rationale = append(rationale, fmt.Sprintf("regression slope: %s (%+.1f)", lrWhy, lrScore*weightLinReg))

	cvdScore, cvdWhy := cvdScore(in.Intraday)
	total += cvdScore * weightCVD
	rationale = append(rationale, fmt.Sprintf("order flow: %s (%+.1f)", cvdWhy, cvdScore*weightCVD))

	label := Sideways
	if total >= c.cfg.BullishThreshold {
		label = Bullish
	} else if total <= c.cfg.BearishThreshold {
		label = Bearish
	}
	rationale = append(rationale, fmt.Sprintf("total score %.2f -> %s", total, label))

	return Result{Label: label, Score: total, Rationale: rationale}
}

// priceActionScore compares consecutive completed days over a short
// lookback: higher high and higher low scores +1, lower high and lower low
// scores -1, inside/outside days score 0.
func priceActionScore(daily []market.Candle) (float64, string) {
	if len(daily) > priceActionLookback {
		daily = daily[len(daily)-priceActionLookback:]
	}
	if len(daily) < 2 {
		return 0, "not enough daily structure"
	}

	var score float64
	for i := 1; i < len(daily); i++ {
		prev, cur := daily[i-1], daily[i]
		hh := cur.High > prev.High
		hl := cur.Low > prev.Low
		ll := cur.Low < prev.Low
		lh := cur.High < prev.High
		switch {
		case hh && hl:
			score++
		case ll && lh:
			score--
		}
	}

	switch {
	case score > 0:
		return score, "higher highs and higher lows"
	case score < 0:
		return score, "lower highs and lower lows"
	default:
		return 0, "mixed daily structure"
	}
}

// cvdScore is the sign of the cumulative volume delta over the current day
func cvdScore(intraday []market.Candle) (float64, string) {
	var cvd float64
	for _, c := range intraday {
		cvd += c.Delta()
	}
	switch {
	case cvd > 0:
		return 1, fmt.Sprintf("buy pressure, CVD %.0f", cvd)
	case cvd < 0:
		return -1, fmt.Sprintf("sell pressure, CVD %.0f", cvd)
	default:
		return 0, "flat order flow"
	}
}

// valueAreaScore checks whether price trades outside the prior week's value
// area.
func valueAreaScore(weekly *volumeprofile.Profile, lastPrice float64) (float64, string) {
	if weekly == nil || lastPrice == 0 || weekly.VAH == 0 || weekly.VAL == 0 {
		return 0, "no weekly profile"
	}
	if lastPrice > weekly.VAH {
		return 1, fmt.Sprintf("price above weekly VAH %.2f", weekly.VAH)
	}
	if lastPrice < weekly.VAL {
		return -1, fmt.Sprintf("price below weekly VAL %.2f", weekly.VAL)
	}
	return 0, "price inside weekly value area"
}

// linRegScore fits a least-squares line through the last SlopeWindow daily
// closes and scores the slope normalized by mean price.
func (c *Classifier) linRegScore(daily []market.Candle) (float64, string) {
	window := c.cfg.SlopeWindow
	if len(daily) < window {
		window = len(daily)
	}
	if window < 2 {
		return 0, "not enough closes for a slope"
	}
	closes := make([]float64, window)
	for i, candle := range daily[len(daily)-window:] {
		closes[i] = candle.Close
	}

	n := float64(len(closes))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range closes {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, "degenerate slope"
	}
	slope := (n*sumXY - sumX*sumY) / denom
	mean := sumY / n
	if mean == 0 {
		return 0, "degenerate slope"
	}
	normalized := slope / mean

	switch {
	case normalized > strongSlope:
		return 2, "strongly positive slope"
	case normalized > weakSlope:
		return 1, "positive slope"
	case normalized < -strongSlope:
		return -2, "strongly negative slope"
	case normalized < -weakSlope:
		return -1, "negative slope"
	default:
		return 0, "flat slope"
	}
}

// DailyCandles aggregates 1m candles into one candle per trading day in loc,
// oldest first. The newest (still-forming) day is excluded.
func DailyCandles(candles []market.Candle, loc *time.Location) []market.Candle {
	if len(candles) == 0 {
		return nil
	}

	byDay := make(map[time.Time]*market.Candle)
	var days []time.Time
	for _, c := range candles {
		local := c.OpenTime.In(loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		agg, ok := byDay[day]
		if !ok {
			dc := c
			dc.Timeframe = market.Timeframe1d
			dc.OpenTime = day
			byDay[day] = &dc
			days = append(days, day)
			continue
		}
		if c.High > agg.High {
			agg.High = c.High
		}
		if c.Low < agg.Low {
			agg.Low = c.Low
		}
		agg.Close = c.Close
		agg.Volume += c.Volume
		agg.TakerBuyVolume += c.TakerBuyVolume
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	out := make([]market.Candle, 0, len(days))
	for _, d := range days[:len(days)-1] {
		out = append(out, *byDay[d])
	}
	return out
}
