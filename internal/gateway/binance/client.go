package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"kgrid/internal/market"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Client 基于 go-binance SDK 封装现货行情接口，带客户端限速。
type Client struct {
	cfg     Config
	api     *binance.Client
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	api := binance.NewClient("", "")
	api.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	api.HTTPClient = httpClient
	return &Client{
		cfg:     final,
		api:     api,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(final.RequestsPerSecond), final.Burst),
	}, nil
}

// MinTime 交易所可查历史的最早毫秒时间戳。
func (c *Client) MinTime() int64 { return c.cfg.MinTime }

// MaxRowsPerCall 单次 K 线请求的行数上限。
func (c *Client) MaxRowsPerCall() int { return c.cfg.MaxRows }

// GetCandles fetches klines with open time in [begin, end] (ms, endTime
// inclusive per Binance semantics), at most limit rows.
func (c *Client) GetCandles(ctx context.Context, symbol string, g market.Granularity, begin, end int64, limit int) ([]market.Candle, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if !g.IsValid() {
		return nil, fmt.Errorf("invalid granularity")
	}
	if limit <= 0 || limit > c.cfg.MaxRows {
		limit = c.cfg.MaxRows
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	svc := c.api.NewKlinesService().
		Symbol(symbol).
		Interval(g.Name).
		Limit(limit)
	if begin > 0 {
		svc = svc.StartTime(begin)
	}
	if end > 0 {
		svc = svc.EndTime(end)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", symbol, g.Name, err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, convertKline(kl))
	}
	return out, nil
}

// GetPrice returns the latest traded price for symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return decimal.Zero, fmt.Errorf("symbol is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance price %s: %w", symbol, err)
	}
	if len(prices) == 0 || prices[0] == nil {
		return decimal.Zero, fmt.Errorf("binance price %s: empty response", symbol)
	}
	p, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance price %s: bad value %q", symbol, prices[0].Price)
	}
	return p, nil
}
