package binance

import (
	"strconv"

	"kgrid/internal/market"

	"github.com/adshao/go-binance/v2"
)

func convertKline(kl *binance.Kline) market.Candle {
	return market.Candle{
		OpenTime:      kl.OpenTime,
		CloseTime:     kl.CloseTime,
		Open:          parseFloat(kl.Open),
		High:          parseFloat(kl.High),
		Low:           parseFloat(kl.Low),
		Close:         parseFloat(kl.Close),
		Volume:        parseFloat(kl.Volume),
		QuoteVolume:   parseFloat(kl.QuoteAssetVolume),
		TakerBuyBase:  parseFloat(kl.TakerBuyBaseAssetVolume),
		TakerBuyQuote: parseFloat(kl.TakerBuyQuoteAssetVolume),
		Trades:        kl.TradeNum,
		Valid:         true,
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
