package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandleCodecRoundTrip(t *testing.T) {
	in := []Candle{
		{
			OpenTime: 1704067200000, CloseTime: 1704070799999,
			Open: 42000.5, High: 42100.25, Low: 41900, Close: 42050.125,
			Volume: 123.456, QuoteVolume: 5_190_000.75,
			TakerBuyBase: 61.5, TakerBuyQuote: 2_590_001.5,
			Trades: 9876, Valid: true,
		},
		NewPlaceholder(1704070800000, 1704074399999),
	}
	packed := EncodeCandles(in)
	require.Len(t, packed, 2*CandleWireSize)

	out, err := DecodeCandles(packed)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeCandlesRejectsBadInput(t *testing.T) {
	_, err := DecodeCandles(make([]byte, CandleWireSize-1))
	assert.Error(t, err)

	// A zeroed record has close <= open.
	_, err = DecodeCandles(make([]byte, CandleWireSize))
	assert.Error(t, err)
}

func TestIntervalPredicates(t *testing.T) {
	assert.True(t, (Interval{}).IsOpenBoth())

	left := OpenLeftInterval(100)
	assert.True(t, left.IsOpenLeft())
	assert.False(t, left.IsOpenRight())
	require.NotNil(t, left.End)
	assert.Equal(t, int64(100), *left.End)

	closed := ClosedInterval(1, 2)
	assert.False(t, closed.IsOpenLeft())
	assert.False(t, closed.IsOpenRight())

	clone := left.Clone()
	*clone.End = 999
	assert.Equal(t, int64(100), *left.End)
}
