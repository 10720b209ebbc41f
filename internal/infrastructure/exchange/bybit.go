package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_backtest/internal/domain"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/linear"

	klinePageLimit = 1000
)

// BybitSource downloads historical klines over REST and can follow live
// klines over websocket. Both paths feed a domain.CandleRepository; the
// backtest engine itself never talks to an exchange.
type BybitSource struct {
	baseURL string
	wsURL   string
	client  *http.Client
	log     *zap.Logger

	mu     sync.Mutex
	wsConn *websocket.Conn
}

func NewBybitSource(baseURL, wsURL string, log *zap.Logger) *BybitSource {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	if wsURL == "" {
		wsURL = BybitWSURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BybitSource{
		baseURL: baseURL,
		wsURL:   wsURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// --- REST ---

// GetKlines fetches one page of klines, ascending in time, starting at from.
// interval is a bybit V5 kline interval ("1", "60", "D", ...).
func (b *BybitSource) GetKlines(ctx context.Context, symbol, interval string, from time.Time, limit int) ([]*domain.Candle, error) {
	path := fmt.Sprintf("/v5/market/kline?category=linear&symbol=%s&interval=%s&start=%d&limit=%d",
		symbol, interval, from.UnixMilli(), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("bybit API error: %s", string(body))
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	if result.RetCode != 0 {
		return nil, fmt.Errorf("bybit kline error %d: %s", result.RetCode, result.RetMsg)
	}

	var candles []*domain.Candle
	for _, raw := range result.Result.List {
		// Format: [startTime, open, high, low, close, volume, turnover]
		if len(raw) < 6 {
			continue
		}
		c, err := parseKline(raw[0], raw[1], raw[2], raw[3], raw[4], raw[5])
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	// Bybit returns newest first; the engine wants ascending time.
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Time.Before(candles[j].Time)
	})
	return candles, nil
}

// SyncCandles pages through history from from to to and stores every page
// under the given resolution (seconds per bar).
func (b *BybitSource) SyncCandles(ctx context.Context, repo domain.CandleRepository, symbol, interval string, resolution int, from, to time.Time) (int, error) {
	total := 0
	cursor := from
	for cursor.Before(to) {
		candles, err := b.GetKlines(ctx, symbol, interval, cursor, klinePageLimit)
		if err != nil {
			return total, err
		}
		if len(candles) == 0 {
			break
		}
		page := candles[:0]
		for _, c := range candles {
			if !c.Time.Before(to) {
				break
			}
			page = append(page, c)
		}
		if len(page) == 0 {
			break
		}
		if err := repo.SaveCandles(ctx, symbol, resolution, page); err != nil {
			return total, err
		}
		total += len(page)
		next := page[len(page)-1].Time.Add(time.Duration(resolution) * time.Second)
		if !next.After(cursor) {
			break
		}
		cursor = next
		b.log.Info("candles synced",
			zap.String("symbol", symbol),
			zap.Int("count", total),
			zap.Time("cursor", cursor))
	}
	return total, nil
}

// --- WebSocket ---

// FollowKlines subscribes to live klines and stores each confirmed bar. It
// blocks until the connection drops or ctx is done.
func (b *BybitSource) FollowKlines(ctx context.Context, repo domain.CandleRepository, symbol, interval string, resolution int) error {
	b.mu.Lock()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.wsURL, nil)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.wsConn = conn
	b.mu.Unlock()
	defer conn.Close()

	sub := map[string]interface{}{
		"op":   "subscribe",
		"args": []string{fmt.Sprintf("kline.%s.%s", interval, symbol)},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		var event struct {
			Topic string `json:"topic"`
			Data  []struct {
				Start   int64  `json:"start"`
				Open    string `json:"open"`
				High    string `json:"high"`
				Low     string `json:"low"`
				Close   string `json:"close"`
				Volume  string `json:"volume"`
				Confirm bool   `json:"confirm"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			b.log.Warn("ws unmarshal error", zap.Error(err))
			continue
		}
		if event.Topic == "" {
			continue // subscription acks, pings
		}

		for _, k := range event.Data {
			if !k.Confirm {
				continue // only closed bars enter the store
			}
			c, err := parseKline(strconv.FormatInt(k.Start, 10), k.Open, k.High, k.Low, k.Close, k.Volume)
			if err != nil {
				b.log.Warn("ws kline parse error", zap.Error(err))
				continue
			}
			if err := repo.SaveCandles(ctx, symbol, resolution, []*domain.Candle{c}); err != nil {
				return err
			}
			b.log.Debug("live candle stored",
				zap.String("symbol", symbol),
				zap.Time("time", c.Time))
		}
	}
}

func parseKline(start, open, high, low, closePrice, volume string) (*domain.Candle, error) {
	ms, err := strconv.ParseInt(start, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad kline start %q", start)
	}
	c := &domain.Candle{Time: time.UnixMilli(ms).UTC()}
	fields := []struct {
		dst   *decimal.Decimal
		value string
	}{
		{&c.Open, open},
		{&c.High, high},
		{&c.Low, low},
		{&c.Close, closePrice},
		{&c.Volume, volume},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.value)
		if err != nil {
			return nil, fmt.Errorf("bad kline value %q", f.value)
		}
		*f.dst = d
	}
	return c, nil
}
