package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"TradeRAG/internal/modules/ai/domain/market"
	"TradeRAG/pkg/zlog"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 4 << 20

type Config struct {
	SpotBaseURL       string
	FuturesBaseURL    string
	UserAgent         string
	Timeout           time.Duration
	RetryMax          int
	RequestsPerSecond float64
	Burst             int
	KlineInterval     string
	KlineLimit        int
	DepthLimit        int
	TradeLimit        int
	ForceOrderLimit   int
	LongShortPeriod   string
}

// Fetcher 并发拉取单个交易对的全部行情子接口。
// 除限流器与 HTTP 客户端外不持有可变状态，可被多个 goroutine 同时调用。
type Fetcher struct {
	cfg     Config
	client  *retryablehttp.Client
	limiter *rate.Limiter
}

func NewFetcher(cfg Config) (*Fetcher, error) {
	if strings.TrimSpace(cfg.SpotBaseURL) == "" || strings.TrimSpace(cfg.FuturesBaseURL) == "" {
		return nil, fmt.Errorf("exchange base url is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "TradeRAG/1.0"
	}
	if cfg.KlineInterval == "" {
		cfg.KlineInterval = "1h"
	}
	if cfg.KlineLimit <= 0 {
		cfg.KlineLimit = 24
	}
	if cfg.DepthLimit <= 0 {
		cfg.DepthLimit = 5
	}
	if cfg.TradeLimit <= 0 {
		cfg.TradeLimit = 50
	}
	if cfg.ForceOrderLimit <= 0 {
		cfg.ForceOrderLimit = 20
	}
	if cfg.LongShortPeriod == "" {
		cfg.LongShortPeriod = "5m"
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Fetcher{cfg: cfg, client: newRetryableHTTPClient(cfg.RetryMax, cfg.Timeout), limiter: limiter}, nil
}

func newRetryableHTTPClient(retryMax int, timeout time.Duration) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retryMax
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = timeout
	c.Logger = retryLogger{}
	c.Backoff = retryablehttp.DefaultBackoff
	c.CheckRetry = retryPolicy
	// 非 2xx 由调用方转为带标签的错误，这里直接把最后一次响应交回
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return c
}

func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	// 4xx（含 418/429 封禁）不重试，避免加重限流
	if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return false, nil
	}
	shouldRetry, _ := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	return shouldRetry, nil
}

// Fetch 每个子接口一个 goroutine，各自独立超时；全部结束后按 market.Endpoints 顺序返回。
// 单个子接口失败只体现在对应 SubResult.Err 上，不影响其它子接口和调用方。
func (f *Fetcher) Fetch(ctx context.Context, symbol string) []market.SubResult {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	results := make([]market.SubResult, len(market.Endpoints))

	var wg sync.WaitGroup
	for i, ep := range market.Endpoints {
		wg.Add(1)
		go func(i int, ep market.Endpoint) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = market.SubResult{Endpoint: ep, Err: &market.EndpointError{Symbol: symbol, Endpoint: ep, Err: fmt.Errorf("panic: %v", r)}}
				}
			}()
			payload, err := f.fetchOne(ctx, symbol, ep)
			if err != nil {
				results[i] = market.SubResult{Endpoint: ep, Err: &market.EndpointError{Symbol: symbol, Endpoint: ep, Err: err}}
				return
			}
			results[i] = market.SubResult{Endpoint: ep, Payload: payload}
		}(i, ep)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			zlog.Debug("market endpoint failed", zap.String("symbol", symbol), zap.String("endpoint", string(r.Endpoint)), zap.Error(r.Err))
		}
	}
	if failed > 0 {
		zlog.Warn("market fetch partial failure", zap.String("symbol", symbol), zap.Int("failed", failed), zap.Int("total", len(results)))
	}
	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, symbol string, ep market.Endpoint) (market.Payload, error) {
	reqURL, err := f.endpointURL(symbol, ep)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := f.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	return decodePayload(ep, f.cfg.KlineInterval, body)
}

func (f *Fetcher) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d %s", market.ErrUnexpectedStatus, resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func (f *Fetcher) endpointURL(symbol string, ep market.Endpoint) (string, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	var base, path string
	switch ep {
	case market.EndpointTicker24h:
		base, path = f.cfg.SpotBaseURL, "/api/v3/ticker/24hr"
	case market.EndpointDepth:
		base, path = f.cfg.SpotBaseURL, "/api/v3/depth"
		q.Set("limit", strconv.Itoa(f.cfg.DepthLimit))
	case market.EndpointTrades:
		base, path = f.cfg.SpotBaseURL, "/api/v3/trades"
		q.Set("limit", strconv.Itoa(f.cfg.TradeLimit))
	case market.EndpointKlines:
		base, path = f.cfg.SpotBaseURL, "/api/v3/klines"
		q.Set("interval", f.cfg.KlineInterval)
		q.Set("limit", strconv.Itoa(f.cfg.KlineLimit))
	case market.EndpointOpenInterest:
		base, path = f.cfg.FuturesBaseURL, "/fapi/v1/openInterest"
	case market.EndpointForceOrders:
		base, path = f.cfg.FuturesBaseURL, "/fapi/v1/allForceOrders"
		q.Set("limit", strconv.Itoa(f.cfg.ForceOrderLimit))
	case market.EndpointLongShortRatio:
		base, path = f.cfg.FuturesBaseURL, "/futures/data/topLongShortAccountRatio"
		q.Set("period", f.cfg.LongShortPeriod)
		q.Set("limit", "1")
	default:
		return "", fmt.Errorf("unknown endpoint %q", ep)
	}
	return strings.TrimRight(base, "/") + path + "?" + q.Encode(), nil
}

func decodePayload(ep market.Endpoint, interval string, body []byte) (market.Payload, error) {
	switch ep {
	case market.EndpointTicker24h:
		var t market.Ticker24h
		if err := json.Unmarshal(body, &t); err != nil {
			return nil, fmt.Errorf("decode ticker: %w", err)
		}
		if t.LastPrice == "" {
			return nil, fmt.Errorf("decode ticker: missing lastPrice")
		}
		return t, nil
	case market.EndpointDepth:
		var d market.Depth
		if err := json.Unmarshal(body, &d); err != nil {
			return nil, fmt.Errorf("decode depth: %w", err)
		}
		return d, nil
	case market.EndpointTrades:
		var ts market.Trades
		if err := json.Unmarshal(body, &ts); err != nil {
			return nil, fmt.Errorf("decode trades: %w", err)
		}
		return ts, nil
	case market.EndpointKlines:
		rows, err := parseKlines(body)
		if err != nil {
			return nil, fmt.Errorf("decode klines: %w", err)
		}
		return market.Klines{Interval: interval, Rows: rows}, nil
	case market.EndpointOpenInterest:
		var oi market.OpenInterest
		if err := json.Unmarshal(body, &oi); err != nil {
			return nil, fmt.Errorf("decode open interest: %w", err)
		}
		if oi.OpenInterest == "" {
			return nil, fmt.Errorf("decode open interest: missing openInterest")
		}
		return oi, nil
	case market.EndpointForceOrders:
		var fo market.ForceOrders
		if err := json.Unmarshal(body, &fo); err != nil {
			return nil, fmt.Errorf("decode force orders: %w", err)
		}
		return fo, nil
	case market.EndpointLongShortRatio:
		var ls market.LongShortRatios
		if err := json.Unmarshal(body, &ls); err != nil {
			return nil, fmt.Errorf("decode long/short ratio: %w", err)
		}
		return ls, nil
	default:
		return nil, fmt.Errorf("unknown endpoint %q", ep)
	}
}

// parseKlines 解析 [[openTime, "open", "high", "low", "close", "volume", closeTime, ...], ...]
func parseKlines(body []byte) ([]market.Kline, error) {
	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	rows := make([]market.Kline, 0, len(raw))
	for i, r := range raw {
		if len(r) < 5 {
			return nil, fmt.Errorf("row %d has %d columns", i, len(r))
		}
		k := market.Kline{
			OpenTime: rawInt64(r[0]),
			Open:     rawString(r[1]),
			High:     rawString(r[2]),
			Low:      rawString(r[3]),
			Close:    rawString(r[4]),
		}
		if len(r) > 5 {
			k.Volume = rawString(r[5])
		}
		if len(r) > 6 {
			k.CloseTime = rawInt64(r[6])
		}
		rows = append(rows, k)
	}
	return rows, nil
}

func rawString(m json.RawMessage) string {
	var s string
	if err := json.Unmarshal(m, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(m, &n); err == nil {
		return n.String()
	}
	return ""
}

func rawInt64(m json.RawMessage) int64 {
	var n int64
	if err := json.Unmarshal(m, &n); err == nil {
		return n
	}
	s := rawString(m)
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// retryLogger 把 retryablehttp 的日志转到 zlog
type retryLogger struct{}

func (retryLogger) Error(msg string, kv ...interface{}) { zlog.Warn(msg, zap.Any("kv", kv)) }
func (retryLogger) Info(msg string, kv ...interface{})  { zlog.Debug(msg, zap.Any("kv", kv)) }
func (retryLogger) Debug(msg string, kv ...interface{}) { zlog.Debug(msg, zap.Any("kv", kv)) }
func (retryLogger) Warn(msg string, kv ...interface{})  { zlog.Warn(msg, zap.Any("kv", kv)) }
