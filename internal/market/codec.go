package market

import (
	"encoding/binary"
	"fmt"
	"math"
)

// CandleWireSize 是单条记录的定长字节数：2 个 int64 时间、8 个 float64
// 价格/量、1 个 int64 成交笔数、1 字节 Valid 标志。
const CandleWireSize = 2*8 + 8*8 + 8 + 1

// EncodeCandle appends the fixed little-endian layout of c to dst.
// 字段顺序与宽度是持久化格式的一部分，改动即破坏旧快照。
func EncodeCandle(dst []byte, c Candle) []byte {
	var buf [CandleWireSize]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(c.OpenTime))
	binary.LittleEndian.PutUint64(buf[8:], uint64(c.CloseTime))
	binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(c.Open))
	binary.LittleEndian.PutUint64(buf[24:], math.Float64bits(c.High))
	binary.LittleEndian.PutUint64(buf[32:], math.Float64bits(c.Low))
	binary.LittleEndian.PutUint64(buf[40:], math.Float64bits(c.Close))
	binary.LittleEndian.PutUint64(buf[48:], math.Float64bits(c.Volume))
	binary.LittleEndian.PutUint64(buf[56:], math.Float64bits(c.QuoteVolume))
	binary.LittleEndian.PutUint64(buf[64:], math.Float64bits(c.TakerBuyBase))
	binary.LittleEndian.PutUint64(buf[72:], math.Float64bits(c.TakerBuyQuote))
	binary.LittleEndian.PutUint64(buf[80:], uint64(c.Trades))
	if c.Valid {
		buf[88] = 1
	}
	return append(dst, buf[:]...)
}

// DecodeCandle reads one record from src.
func DecodeCandle(src []byte) (Candle, error) {
	if len(src) < CandleWireSize {
		return Candle{}, fmt.Errorf("candle record truncated: %d bytes", len(src))
	}
	c := Candle{
		OpenTime:      int64(binary.LittleEndian.Uint64(src[0:])),
		CloseTime:     int64(binary.LittleEndian.Uint64(src[8:])),
		Open:          math.Float64frombits(binary.LittleEndian.Uint64(src[16:])),
		High:          math.Float64frombits(binary.LittleEndian.Uint64(src[24:])),
		Low:           math.Float64frombits(binary.LittleEndian.Uint64(src[32:])),
		Close:         math.Float64frombits(binary.LittleEndian.Uint64(src[40:])),
		Volume:        math.Float64frombits(binary.LittleEndian.Uint64(src[48:])),
		QuoteVolume:   math.Float64frombits(binary.LittleEndian.Uint64(src[56:])),
		TakerBuyBase:  math.Float64frombits(binary.LittleEndian.Uint64(src[64:])),
		TakerBuyQuote: math.Float64frombits(binary.LittleEndian.Uint64(src[72:])),
		Trades:        int64(binary.LittleEndian.Uint64(src[80:])),
		Valid:         src[88] == 1,
	}
	if c.CloseTime <= c.OpenTime {
		return Candle{}, fmt.Errorf("candle record invalid: close %d <= open %d", c.CloseTime, c.OpenTime)
	}
	return c, nil
}

// EncodeCandles packs a whole slice into one buffer.
func EncodeCandles(candles []Candle) []byte {
	out := make([]byte, 0, len(candles)*CandleWireSize)
	for _, c := range candles {
		out = EncodeCandle(out, c)
	}
	return out
}

// DecodeCandles unpacks a buffer written by EncodeCandles.
func DecodeCandles(src []byte) ([]Candle, error) {
	if len(src)%CandleWireSize != 0 {
		return nil, fmt.Errorf("candle buffer size %d not a multiple of %d", len(src), CandleWireSize)
	}
	out := make([]Candle, 0, len(src)/CandleWireSize)
	for off := 0; off < len(src); off += CandleWireSize {
		c, err := DecodeCandle(src[off:])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", off/CandleWireSize, err)
		}
		out = append(out, c)
	}
	return out, nil
}
