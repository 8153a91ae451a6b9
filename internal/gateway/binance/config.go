package binance

import (
	"strings"
	"time"
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string

	// Binance 现货 REST 权重限制较紧，默认配一个保守的客户端限速。
	RequestsPerSecond float64
	Burst             int

	// MaxRows 单次 /klines 调用的行数上限。
	MaxRows int
	// MinTime 交易所最早可查数据的毫秒时间戳。
	MinTime int64
}

// binanceGenesisMs 是 Binance 现货开始提供行情的时刻（2017-08-17 UTC）。
const binanceGenesisMs int64 = 1502928000000

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://api.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	if out.RequestsPerSecond <= 0 {
		out.RequestsPerSecond = 10
	}
	if out.Burst <= 0 {
		out.Burst = 20
	}
	if out.MaxRows <= 0 {
		out.MaxRows = 1000
	}
	if out.MinTime <= 0 {
		out.MinTime = binanceGenesisMs
	}
	return out
}
