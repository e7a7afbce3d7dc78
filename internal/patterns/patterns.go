package patterns

import (
	"time"

	"levels-trading-bot/internal/levels"
	"levels-trading-bot/internal/market"
	"levels-trading-bot/internal/trend"
)

// Direction of a trade signal
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Session is a coarse trading-session label derived from the UTC hour
type Session string

const (
	SessionAsian      Session = "Asian Session"
	SessionLondon     Session = "London Session"
	SessionNewYork    Session = "New York Session"
	SessionAfterHours Session = "After Hours"
)

// SessionFor returns the trading session containing t
func SessionFor(t time.Time) Session {
	hour := t.UTC().Hour()
	switch {
	case hour >= 1 && hour < 8:
		return SessionAsian
	case hour >= 8 && hour < 16:
		return SessionLondon
	case hour >= 16 && hour < 23:
		return SessionNewYork
	default:
		return SessionAfterHours
	}
}

// Signal is one actionable trade idea. TakeProfit may be zero, in which case
// the position manager computes a default target from the risk distance.
// LevelID names the key level the signal consumed, if any.
type Signal struct {
	Symbol     string
	Direction  Direction
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Setup      string
	Reasons    []string
	Session    Session
	Time       time.Time
	LevelID    string
}

// Context is the market view handed to every detector on each closed 1m
// candle. Candle5m/Candle30m are set only when that timeframe just closed.
type Context struct {
	Symbol    string
	Candle1m  market.Candle
	Candle5m  *market.Candle
	Candle30m *market.Candle
	Levels    []levels.KeyLevel
	Trend     trend.Label
}

// Detector is one pattern state machine. Check returns nil when there is no
// signal; it must tolerate any input without panicking.
type Detector interface {
	Name() string
	Check(ctx Context) *Signal
}

// Registry invokes detectors in registration order and takes the first
// signal. Ordering is deliberate: shorter-horizon detectors go first.
type Registry struct {
	detectors []Detector
}

// NewRegistry creates a registry over the given detectors, in order
func NewRegistry(detectors ...Detector) *Registry {
	return &Registry{detectors: detectors}
}

// Check runs the detectors in order and returns the first signal along with
// the emitting detector's name.
func (r *Registry) Check(ctx Context) (*Signal, string) {
	for _, d := range r.detectors {
		if sig := d.Check(ctx); sig != nil {
			return sig, d.Name()
		}
	}
	return nil, ""
}

// Detectors returns the registered detector names in order
func (r *Registry) Detectors() []string {
	names := make([]string, len(r.detectors))
	for i, d := range r.detectors {
		names[i] = d.Name()
	}
	return names
}
