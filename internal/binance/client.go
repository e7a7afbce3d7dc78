package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"levels-trading-bot/internal/logging"
	"levels-trading-bot/internal/market"
)

const maxKlinesPerRequest = 1500

// HistoricalSource fetches closed candles for a time range
type HistoricalSource interface {
	FetchCandles(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Candle, error)
}

// Client is a Binance USD-M futures REST client. Market data endpoints only,
// no signing.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logging.Logger
}

// NewClient creates a REST client against the given base URL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: logging.WithComponent("binance"),
	}
}

// FetchCandles returns all closed candles in [start, end), paginating the
// klines endpoint as needed.
func (c *Client) FetchCandles(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Candle, error) {
	var all []market.Candle
	cursor := start

	for cursor.Before(end) {
		batch, err := c.fetchKlines(ctx, symbol, tf, cursor, end)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		last := batch[len(batch)-1]
		next := last.OpenTime.Add(tf.Duration())
		if !next.After(cursor) {
			break
		}
		cursor = next
		if len(batch) < maxKlinesPerRequest {
			break
		}
	}

	c.log.Debug("fetched historical candles",
		"symbol", symbol, "timeframe", string(tf), "count", len(all))
	return all, nil
}

func (c *Client) fetchKlines(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", string(tf))
	params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("endTime", strconv.FormatInt(end.UnixMilli()-1, 10))
	params.Set("limit", strconv.Itoa(maxKlinesPerRequest))

	endpoint := fmt.Sprintf("%s/fapi/v1/klines?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building klines request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("klines request for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading klines response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("klines request for %s: status %d: %s", symbol, resp.StatusCode, string(body))
	}

	// Each kline is a mixed-type array:
	// [openTime, open, high, low, close, volume, closeTime, quoteVolume,
	//  trades, takerBuyBase, takerBuyQuote, ignore]
	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing klines response: %w", err)
	}

	candles := make([]market.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 11 {
			continue
		}
		candle, err := parseKline(symbol, tf, k)
		if err != nil {
			return nil, fmt.Errorf("parsing kline for %s: %w", symbol, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseKline(symbol string, tf market.Timeframe, k []interface{}) (market.Candle, error) {
	openMs, ok := k[0].(float64)
	if !ok {
		return market.Candle{}, fmt.Errorf("unexpected open time type %T", k[0])
	}

	fields := make([]float64, 0, 5)
	for _, idx := range []int{1, 2, 3, 4, 5} {
		s, ok := k[idx].(string)
		if !ok {
			return market.Candle{}, fmt.Errorf("unexpected field type %T at index %d", k[idx], idx)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return market.Candle{}, err
		}
		fields = append(fields, v)
	}

	takerBuy := 0.0
	if s, ok := k[9].(string); ok {
		takerBuy, _ = strconv.ParseFloat(s, 64)
	}

	return market.Candle{
		Symbol:         symbol,
		Timeframe:      tf,
		OpenTime:       time.UnixMilli(int64(openMs)).UTC(),
		Open:           fields[0],
		High:           fields[1],
		Low:            fields[2],
		Close:          fields[3],
		Volume:         fields[4],
		TakerBuyVolume: takerBuy,
	}, nil
}
