// Package provider fetches market data from the Bybit v5 REST API.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"breakout-radar/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const (
	defaultBaseURL = "https://api.bybit.com"
	categoryLinear = "linear"

	retCodeOK        = 0
	retCodeRateLimit = 10006
)

// ErrRateLimited marks a provider rate-limit response. Callers skip the
// affected symbol for the current tick instead of failing the cycle.
var ErrRateLimited = errors.New("provider rate limited")

var intervalCodes = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
	"1d": "D", "1w": "W",
}

type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

type klineResult struct {
	Symbol string     `json:"symbol"`
	List   [][]string `json:"list"`
}

type tickerResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"list"`
}

type BybitProvider struct {
	httpClient *http.Client
	baseURL    string
	category   string
	tracer     trace.Tracer
}

func NewBybitProvider(tracer trace.Tracer, baseURL string) *BybitProvider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &BybitProvider{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		category:   categoryLinear,
		tracer:     tracer,
	}
}

// GetCandles fetches up to limit OHLCV bars for symbol/interval, oldest
// first.
func (p *BybitProvider) GetCandles(ctx context.Context, symbol, interval string, limit int) (*domain.CandleSeries, error) {
	ctx, span := p.tracer.Start(ctx, "bybit.get-candles")
	defer span.End()

	code, ok := intervalCodes[interval]
	if !ok {
		return nil, fmt.Errorf("unsupported interval: %s", interval)
	}
	if limit <= 0 {
		limit = 200
	}

	params := url.Values{}
	params.Set("category", p.category)
	params.Set("symbol", symbol)
	params.Set("interval", code)
	params.Set("limit", strconv.Itoa(limit))

	body, err := p.get(ctx, "/v5/market/kline", params)
	if err != nil {
		return nil, err
	}

	var result klineResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode kline result: %w", err)
	}

	candles := make([]domain.Candle, 0, len(result.List))
	for _, row := range result.List {
		candle, err := parseKlineRow(symbol, interval, row)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	// Bybit returns newest first; the engine wants strictly ascending time.
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].OpenTime.Before(candles[j].OpenTime)
	})

	return &domain.CandleSeries{Symbol: symbol, Interval: interval, Candles: candles}, nil
}

// GetLivePrice returns the last traded price for symbol, best-effort.
func (p *BybitProvider) GetLivePrice(ctx context.Context, symbol string) (float64, error) {
	ctx, span := p.tracer.Start(ctx, "bybit.get-live-price")
	defer span.End()

	params := url.Values{}
	params.Set("category", p.category)
	params.Set("symbol", symbol)

	body, err := p.get(ctx, "/v5/market/tickers", params)
	if err != nil {
		return 0, err
	}

	var result tickerResult
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, fmt.Errorf("decode ticker result: %w", err)
	}
	if len(result.List) == 0 {
		return 0, fmt.Errorf("no ticker for %s", symbol)
	}
	price, err := strconv.ParseFloat(result.List[0].LastPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("parse last price: %w", err)
	}
	return price, nil
}

func (p *BybitProvider) get(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	apiURL := p.baseURL + endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bybit returned status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if apiResp.RetCode == retCodeRateLimit {
		return nil, ErrRateLimited
	}
	if apiResp.RetCode != retCodeOK {
		return nil, fmt.Errorf("bybit error %d: %s", apiResp.RetCode, apiResp.RetMsg)
	}
	return apiResp.Result, nil
}

func parseKlineRow(symbol, interval string, row []string) (domain.Candle, error) {
	if len(row) < 6 {
		return domain.Candle{}, fmt.Errorf("short kline row: %d fields", len(row))
	}
	ms, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parse kline start time: %w", err)
	}
	values := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		v, err := strconv.ParseFloat(row[i], 64)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("parse kline field %d: %w", i, err)
		}
		values[i-1] = v
	}
	return domain.Candle{
		Symbol:   symbol,
		Interval: interval,
		OpenTime: time.UnixMilli(ms).UTC(),
		Open:     values[0],
		High:     values[1],
		Low:      values[2],
		Close:    values[3],
		Volume:   values[4],
	}, nil
}
