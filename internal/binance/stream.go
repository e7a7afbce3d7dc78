package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"levels-trading-bot/internal/logging"
	"levels-trading-bot/internal/market"
)

// CandleHandler receives closed candles from a live stream
type CandleHandler func(market.Candle)

// LiveSource delivers closed 1m candles for one symbol until stopped
type LiveSource interface {
	Start() error
	Stop()
}

// KlineStream subscribes to a symbol's 1m kline websocket stream and invokes
// the handler for every candle that closes. It reconnects on any read error
// until Stop is called.
type KlineStream struct {
	wsBaseURL string
	symbol    string
	handler   CandleHandler
	reconnect time.Duration
	log       *logging.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	stopChan chan struct{}
	running  bool
}

// NewKlineStream creates a stream for one symbol's 1m klines
func NewKlineStream(wsBaseURL, symbol string, reconnect time.Duration, handler CandleHandler) *KlineStream {
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}
	return &KlineStream{
		wsBaseURL: wsBaseURL,
		symbol:    symbol,
		handler:   handler,
		reconnect: reconnect,
		log:       logging.WithComponent("kline-stream").WithField("symbol", symbol),
	}
}

// Start connects and begins delivering closed candles on a background
// goroutine. The first connection attempt is synchronous so callers learn
// about bad endpoints immediately.
func (s *KlineStream) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("kline stream for %s already running", s.symbol)
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	if err := s.connect(); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	go s.readLoop()
	return nil
}

// Stop closes the connection and ends the read loop
func (s *KlineStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.log.Info("kline stream stopped")
}

func (s *KlineStream) connect() error {
	streamURL := fmt.Sprintf("%s/ws/%s@kline_1m", s.wsBaseURL, strings.ToLower(s.symbol))

	conn, _, err := websocket.DefaultDialer.Dial(streamURL, nil)
	if err != nil {
		return fmt.Errorf("connecting kline stream for %s: %w", s.symbol, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.log.Info("kline stream connected")
	return nil
}

func (s *KlineStream) readLoop() {
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if conn == nil {
			if !s.reconnectWithBackoff() {
				return
			}
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
			}
			s.log.Warn("kline stream read error, reconnecting", "error", err)
			conn.Close()
			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
			continue
		}

		s.handleMessage(message)
	}
}

func (s *KlineStream) reconnectWithBackoff() bool {
	select {
	case <-s.stopChan:
		return false
	case <-time.After(s.reconnect):
	}
	if err := s.connect(); err != nil {
		s.log.Warn("kline stream reconnect failed", "error", err)
	}
	return true
}

type klineEvent struct {
	EventType string `json:"e"`
	Kline     struct {
		StartTime      int64  `json:"t"`
		Symbol         string `json:"s"`
		Interval       string `json:"i"`
		Open           string `json:"o"`
		Close          string `json:"c"`
		High           string `json:"h"`
		Low            string `json:"l"`
		Volume         string `json:"v"`
		TakerBuyVolume string `json:"V"`
		IsClosed       bool   `json:"x"`
	} `json:"k"`
}

func (s *KlineStream) handleMessage(message []byte) {
	var event klineEvent
	if err := json.Unmarshal(message, &event); err != nil {
		s.log.Warn("failed to parse kline event", "error", err)
		return
	}
	if event.EventType != "kline" || !event.Kline.IsClosed {
		return
	}

	k := event.Kline
	open, err1 := strconv.ParseFloat(k.Open, 64)
	high, err2 := strconv.ParseFloat(k.High, 64)
	low, err3 := strconv.ParseFloat(k.Low, 64)
	close_, err4 := strconv.ParseFloat(k.Close, 64)
	volume, err5 := strconv.ParseFloat(k.Volume, 64)
	takerBuy, err6 := strconv.ParseFloat(k.TakerBuyVolume, 64)
	for _, err := range []error{err1, err2, err3, err4, err5, err6} {
		if err != nil {
			s.log.Warn("failed to parse kline fields", "error", err)
			return
		}
	}

	s.handler(market.Candle{
		Symbol:         k.Symbol,
		Timeframe:      market.Timeframe(k.Interval),
		OpenTime:       time.UnixMilli(k.StartTime).UTC(),
		Open:           open,
		High:           high,
		Low:            low,
		Close:          close_,
		Volume:         volume,
		TakerBuyVolume: takerBuy,
	})
}
