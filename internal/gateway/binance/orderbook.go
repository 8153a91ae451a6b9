package binance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Level 订单簿一档，价格与数量保留精确小数。
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

type OrderBook struct {
	Symbol       string  `json:"symbol"`
	LastUpdateID int64   `json:"last_update_id"`
	Bids         []Level `json:"bids"`
	Asks         []Level `json:"asks"`
}

// GetOrderBook 直接走 REST /api/v3/depth。SDK 的 depth 响应会把价格转成
// 字符串二维数组，这里用 gjson 按位取值，避免中间结构体。
func (c *Client) GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if depth <= 0 {
		depth = 100
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	u, err := url.Parse(c.cfg.RESTBaseURL)
	if err != nil {
		return nil, err
	}
	u.Path = "/api/v3/depth"
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("limit", strconv.Itoa(depth))
	u.RawQuery = q.Encode()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance depth %s: %w", symbol, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("binance depth %s: status %d", symbol, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("binance depth %s: invalid json", symbol)
	}
	parsed := gjson.ParseBytes(body)
	book := &OrderBook{
		Symbol:       symbol,
		LastUpdateID: parsed.Get("lastUpdateId").Int(),
		Bids:         parseLevels(parsed.Get("bids")),
		Asks:         parseLevels(parsed.Get("asks")),
	}
	return book, nil
}

func parseLevels(arr gjson.Result) []Level {
	var out []Level
	arr.ForEach(func(_, entry gjson.Result) bool {
		raw := entry.Array()
		if len(raw) < 2 {
			return true
		}
		price, err1 := decimal.NewFromString(raw[0].String())
		qty, err2 := decimal.NewFromString(raw[1].String())
		if err1 != nil || err2 != nil {
			return true
		}
		out = append(out, Level{Price: price, Quantity: qty})
		return true
	})
	return out
}
