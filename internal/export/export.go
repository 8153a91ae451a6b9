package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"kgrid/internal/market"

	"github.com/parquet-go/parquet-go"
)

// Exporter 把一段网格数据落成离线分析用的文件。
type Exporter interface {
	Save(candles []market.Candle, path string) error
	Extension() string
}

// New returns the exporter for format ("parquet", "csv", "json"),
// nil when the format is unknown.
func New(format string) Exporter {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "parquet":
		return ParquetExporter{}
	case "csv":
		return CSVExporter{}
	case "json":
		return JSONExporter{}
	default:
		return nil
	}
}

// row 是 parquet 落盘用的扁平结构。占位蜡烛同样导出，Valid 列区分。
type row struct {
	OpenTime      int64   `parquet:"open_time"`
	CloseTime     int64   `parquet:"close_time"`
	Open          float64 `parquet:"open"`
	High          float64 `parquet:"high"`
	Low           float64 `parquet:"low"`
	Close         float64 `parquet:"close"`
	Volume        float64 `parquet:"volume"`
	QuoteVolume   float64 `parquet:"quote_volume"`
	TakerBuyBase  float64 `parquet:"taker_buy_base"`
	TakerBuyQuote float64 `parquet:"taker_buy_quote"`
	Trades        int64   `parquet:"trades"`
	Valid         bool    `parquet:"valid"`
}

type ParquetExporter struct{}

func (ParquetExporter) Extension() string { return "parquet" }

func (ParquetExporter) Save(candles []market.Candle, path string) error {
	rows := make([]row, len(candles))
	for i, c := range candles {
		rows[i] = row{
			OpenTime: c.OpenTime, CloseTime: c.CloseTime,
			Open: c.Open, High: c.High, Low: c.Low, Close: c.Close,
			Volume: c.Volume, QuoteVolume: c.QuoteVolume,
			TakerBuyBase: c.TakerBuyBase, TakerBuyQuote: c.TakerBuyQuote,
			Trades: c.Trades, Valid: c.Valid,
		}
	}
	return parquet.WriteFile(path, rows)
}

type JSONExporter struct{}

func (JSONExporter) Extension() string { return "json" }

func (JSONExporter) Save(candles []market.Candle, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(candles)
}

type CSVExporter struct{}

func (CSVExporter) Extension() string { return "csv" }

var csvHeader = []string{
	"open_time", "close_time", "open", "high", "low", "close",
	"volume", "quote_volume", "taker_buy_base", "taker_buy_quote",
	"trades", "valid",
}

func (CSVExporter) Save(candles []market.Candle, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, c := range candles {
		rec := []string{
			strconv.FormatInt(c.OpenTime, 10),
			strconv.FormatInt(c.CloseTime, 10),
			formatFloat(c.Open),
			formatFloat(c.High),
			formatFloat(c.Low),
			formatFloat(c.Close),
			formatFloat(c.Volume),
			formatFloat(c.QuoteVolume),
			formatFloat(c.TakerBuyBase),
			formatFloat(c.TakerBuyQuote),
			strconv.FormatInt(c.Trades, 10),
			strconv.FormatBool(c.Valid),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
