package binance

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"levels-trading-bot/internal/market"
)

// MockClient is a HistoricalSource producing deterministic synthetic candles.
// Used in mock mode and in tests.
type MockClient struct {
	BasePrice float64
}

// NewMockClient creates a mock source anchored around basePrice
func NewMockClient(basePrice float64) *MockClient {
	if basePrice <= 0 {
		basePrice = 50000
	}
	return &MockClient{BasePrice: basePrice}
}

// FetchCandles generates a slow sine-wave walk over [start, end)
func (m *MockClient) FetchCandles(_ context.Context, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Candle, error) {
	step := tf.Duration()
	if step <= 0 {
		step = time.Minute
	}

	rng := rand.New(rand.NewSource(start.UnixNano() ^ int64(len(symbol))))
	var candles []market.Candle
	for t := start; t.Before(end); t = t.Add(step) {
		phase := float64(t.Unix()) / 7200.0
		mid := m.BasePrice * (1 + 0.01*math.Sin(phase))
		spread := m.BasePrice * 0.001

		open := mid + (rng.Float64()-0.5)*spread
		close_ := mid + (rng.Float64()-0.5)*spread
		high := math.Max(open, close_) + rng.Float64()*spread
		low := math.Min(open, close_) - rng.Float64()*spread
		volume := 50 + rng.Float64()*100

		candles = append(candles, market.Candle{
			Symbol:         symbol,
			Timeframe:      tf,
			OpenTime:       t,
			Open:           open,
			High:           high,
			Low:            low,
			Close:          close_,
			Volume:         volume,
			TakerBuyVolume: volume * (0.4 + rng.Float64()*0.2),
		})
	}
	return candles, nil
}

// MockStream is a LiveSource fed by tests or the mock-mode ticker
type MockStream struct {
	handler CandleHandler

	mu      sync.Mutex
	running bool
}

// NewMockStream creates a stream that delivers whatever Emit is given
func NewMockStream(handler CandleHandler) *MockStream {
	return &MockStream{handler: handler}
}

// Start marks the stream running
func (m *MockStream) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	return nil
}

// Stop marks the stream stopped
func (m *MockStream) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
}

// Emit delivers a candle to the handler if the stream is running
func (m *MockStream) Emit(c market.Candle) {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if running && m.handler != nil {
		m.handler(c)
	}
}
