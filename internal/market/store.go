package market

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOutOfOrderCandle is returned when an appended candle does not advance
// the stored window's open time.
var ErrOutOfOrderCandle = errors.New("candle open time not after last stored candle")

// Store is a bounded append-only candle window for one symbol and timeframe.
// When the window is full the oldest candle is evicted.
type Store struct {
	mu        sync.RWMutex
	symbol    string
	timeframe Timeframe
	maxSize   int
	candles   []Candle
}

// NewStore creates a store holding at most maxSize candles
func NewStore(symbol string, timeframe Timeframe, maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Store{
		symbol:    symbol,
		timeframe: timeframe,
		maxSize:   maxSize,
		candles:   make([]Candle, 0, maxSize),
	}
}

// Append adds a closed candle. Candles must arrive in strictly increasing
// open-time order; anything else is dropped with ErrOutOfOrderCandle.
func (s *Store) Append(c Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.candles); n > 0 && !c.OpenTime.After(s.candles[n-1].OpenTime) {
		return fmt.Errorf("%w: %s %s at %s", ErrOutOfOrderCandle, s.symbol, s.timeframe, c.OpenTime.UTC().Format(time.RFC3339))
	}

	s.candles = append(s.candles, c)
	if len(s.candles) > s.maxSize {
		s.candles = s.candles[len(s.candles)-s.maxSize:]
	}
	return nil
}

// Replace swaps the entire window, keeping only the newest maxSize candles.
// Used on (re)initialization from a historical fetch.
func (s *Store) Replace(candles []Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(candles) > s.maxSize {
		candles = candles[len(candles)-s.maxSize:]
	}
	s.candles = make([]Candle, len(candles))
	copy(s.candles, candles)
}

// Last returns the most recent candle
func (s *Store) Last() (Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.candles) == 0 {
		return Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// LastN returns up to n most recent candles, oldest first
func (s *Store) LastN(n int) []Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n > len(s.candles) {
		n = len(s.candles)
	}
	out := make([]Candle, n)
	copy(out, s.candles[len(s.candles)-n:])
	return out
}

// All returns a copy of the full window, oldest first
func (s *Store) All() []Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// Since returns a copy of all candles with OpenTime at or after t
func (s *Store) Since(t time.Time) []Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := len(s.candles)
	for i, c := range s.candles {
		if !c.OpenTime.Before(t) {
			idx = i
			break
		}
	}
	out := make([]Candle, len(s.candles)-idx)
	copy(out, s.candles[idx:])
	return out
}

// Between returns candles with OpenTime in [start, end)
func (s *Store) Between(start, end time.Time) []Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Candle, 0)
	for _, c := range s.candles {
		if !c.OpenTime.Before(start) && c.OpenTime.Before(end) {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of stored candles
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candles)
}

// Symbol returns the store's symbol
func (s *Store) Symbol() string { return s.symbol }

// Timeframe returns the store's timeframe
func (s *Store) Timeframe() Timeframe { return s.timeframe }
