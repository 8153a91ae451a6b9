package series

import (
	"testing"
	"time"

	"kgrid/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFillGapsInsertsPlaceholders(t *testing.T) {
	all := hourlies(jan1, 5)
	// Hours 0,1,3,4 of the day; hour 2 missing.
	raw := []market.Candle{all[0], all[1], all[3], all[4]}

	out := FillGaps(raw, hour1)
	require.Len(t, out, 5)

	assert.Equal(t, all[0], out[0])
	assert.Equal(t, all[1], out[1])
	assert.Equal(t, all[3], out[3])
	assert.Equal(t, all[4], out[4])

	ph := out[2]
	assert.False(t, ph.Valid)
	assert.Equal(t, jan1+2*hourMs, ph.OpenTime)
	assert.Equal(t, jan1+3*hourMs-1, ph.CloseTime)
	assert.Zero(t, ph.Close)
}

func TestFillGapsIdempotent(t *testing.T) {
	all := hourlies(jan1, 8)
	raw := []market.Candle{all[0], all[2], all[3], all[7]}

	once := FillGaps(raw, hour1)
	twice := FillGaps(once, hour1)
	assert.Equal(t, once, twice)
}

func TestFillGapsDropsStrays(t *testing.T) {
	all := hourlies(jan1, 4)
	// A malformed candle (wrong span) in front and behind.
	bad := market.Candle{OpenTime: jan1 - 30*60_000, CloseTime: jan1 - 1, Valid: true}
	raw := append([]market.Candle{bad}, all...)
	raw = append(raw, market.Candle{OpenTime: jan1 + 4*hourMs, CloseTime: jan1 + 4*hourMs + 1})

	out := FillGaps(raw, hour1)
	assert.Equal(t, all, out)
}

func TestFillGapsNoUsableData(t *testing.T) {
	assert.Nil(t, FillGaps(nil, hour1))

	junk := []market.Candle{
		{OpenTime: jan1, CloseTime: jan1 + 10},
		{OpenTime: jan1 + 20, CloseTime: jan1 + 25},
	}
	assert.Nil(t, FillGaps(junk, hour1))
}

func TestFillGapsMonthGranularity(t *testing.T) {
	m := market.ParseGranularity("1M")
	mk := func(year int, month time.Month) market.Candle {
		open := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
		next := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
		return market.Candle{OpenTime: open, CloseTime: next - 1, Close: 50_000, Valid: true}
	}
	// January and March 2024; February missing.
	raw := []market.Candle{mk(2024, time.January), mk(2024, time.March)}

	out := FillGaps(raw, m)
	require.Len(t, out, 3)
	ph := out[1]
	assert.False(t, ph.Valid)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), ph.OpenTime)
	// Placeholder spans the true calendar February (29 days in 2024).
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()-1, ph.CloseTime)
}

func TestFillGapsDropsMisalignedBlock(t *testing.T) {
	all := hourlies(jan1, 4)
	// Second block shifted off the stride grid by 10 minutes.
	shifted := market.Candle{
		OpenTime:  jan1 + 2*hourMs + 10*60_000,
		CloseTime: jan1 + 3*hourMs + 10*60_000 - 1,
		Valid:     true,
	}
	raw := []market.Candle{all[0], all[1], shifted}

	out := FillGaps(raw, hour1)
	assert.Equal(t, []market.Candle{all[0], all[1]}, out)
}
