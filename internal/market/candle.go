package market

// Candle 表示一根 K 线。时间为毫秒 Unix 时间戳，Binance 约定
// CloseTime = OpenTime + span - 1ms。
//
// Valid=false 的占位蜡烛只携带 OpenTime/CloseTime（用于标记已知缺口），
// 价格字段一律为零，消费方必须先判断 Valid 再读取 OHLC。
type Candle struct {
	OpenTime      int64   `json:"open_time"`
	CloseTime     int64   `json:"close_time"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	Volume        float64 `json:"volume"`
	QuoteVolume   float64 `json:"quote_volume"`
	TakerBuyBase  float64 `json:"taker_buy_base"`
	TakerBuyQuote float64 `json:"taker_buy_quote"`
	Trades        int64   `json:"trades"`
	Valid         bool    `json:"valid"`
}

// NewPlaceholder returns an invalid candle that only marks the slot bounds.
func NewPlaceholder(openTime, closeTime int64) Candle {
	return Candle{OpenTime: openTime, CloseTime: closeTime}
}

// WellFormed reports whether the candle spans exactly one step of g.
// For month granularities the span is checked against the calendar month
// containing OpenTime, not against a fixed duration.
func (c Candle) WellFormed(g Granularity) bool {
	if c.CloseTime <= c.OpenTime {
		return false
	}
	if g.IsMonth() {
		if !sameUTCMonth(c.OpenTime, c.CloseTime) {
			return false
		}
		return c.CloseTime-c.OpenTime == g.SpanMsAt(c.OpenTime)-1
	}
	return c.CloseTime-c.OpenTime == g.SpanMs()-1
}
