package levels

import (
	"fmt"
	"time"
)

// LevelType identifies what a key level is derived from
type LevelType string

const (
	TypePOC         LevelType = "POC"
	TypeVAH         LevelType = "VAH"
	TypeVAL         LevelType = "VAL"
	TypeSessionHigh LevelType = "HIGH"
	TypeSessionLow  LevelType = "LOW"
)

// Status is the lifecycle state of a key level. Transitions are monotonic:
// Untouched -> Touched -> Evaluated.
type Status int

const (
	Untouched Status = iota
	Touched
	Evaluated
)

func (s Status) String() string {
	switch s {
	case Untouched:
		return "untouched"
	case Touched:
		return "touched"
	case Evaluated:
		return "evaluated"
	default:
		return "unknown"
	}
}

// KeyLevel is one derived price level from a completed trading day
type KeyLevel struct {
	ID         string
	Symbol     string
	Type       LevelType
	Price      float64
	Day        time.Time // midnight of the trading day, in the tracker's timezone
	Status     Status
	TouchCount int
	FirstTouch time.Time
	LastTouch  time.Time
}

func levelID(symbol string, t LevelType, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s", symbol, t, day.Format("2006-01-02"))
}
