package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGranularity(t *testing.T) {
	g := ParseGranularity("1h")
	require.True(t, g.IsValid())
	assert.Equal(t, int64(3600), g.Seconds)
	assert.False(t, g.IsMonth())

	m := ParseGranularity("1M")
	require.True(t, m.IsValid())
	assert.True(t, m.IsMonth())

	assert.Equal(t, Invalid, ParseGranularity(""))
	assert.Equal(t, Invalid, ParseGranularity("2q"))
	assert.Equal(t, Invalid, ParseGranularity("0m"))
}

func TestGranularityEncodeDecodeRoundTrip(t *testing.T) {
	for _, g := range SupportedGranularities() {
		got := Decode(g.Encode())
		assert.Equal(t, g, got, "round trip for %s", g.Name)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []string{
		"",
		"garbage",
		"_",
		"1h_",
		"_MzYwMA",
		"1h_!!!not-base64!!!",
		"1h_LTM2MDA", // -3600, negative seconds
	}
	for _, in := range cases {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, Invalid, Decode(in))
		})
	}
}

func TestMonthSpanFollowsCalendar(t *testing.T) {
	m := ParseGranularity("1M")
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	assert.Equal(t, int64(31*24*3600*1000), m.SpanMsAt(jan))
	// 2024 is a leap year.
	assert.Equal(t, int64(29*24*3600*1000), m.SpanMsAt(feb))

	assert.Equal(t, feb, m.NextOpenMs(jan))
	assert.Equal(t, jan, m.AddSteps(feb, -1))

	dec23 := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, dec23, m.AddSteps(feb, -2))
}

func TestCandleWellFormed(t *testing.T) {
	h := ParseGranularity("1h")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	good := Candle{OpenTime: base, CloseTime: base + 3600_000 - 1, Valid: true}
	assert.True(t, good.WellFormed(h))

	short := Candle{OpenTime: base, CloseTime: base + 1800_000 - 1}
	assert.False(t, short.WellFormed(h))

	inverted := Candle{OpenTime: base, CloseTime: base - 1}
	assert.False(t, inverted.WellFormed(h))

	m := ParseGranularity("1M")
	jan := Candle{OpenTime: base, CloseTime: base + int64(31*24*3600*1000) - 1}
	assert.True(t, jan.WellFormed(m))
	// Crosses into February: not one calendar month.
	crossing := Candle{OpenTime: base, CloseTime: base + int64(32*24*3600*1000) - 1}
	assert.False(t, crossing.WellFormed(m))
}
