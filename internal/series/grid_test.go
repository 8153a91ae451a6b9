package series

import (
	"testing"
	"time"

	"kgrid/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hourMs int64 = 3600_000

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

var hour1 = market.ParseGranularity("1h")

// hourlies builds n contiguous valid hourly candles starting at t0.
func hourlies(t0 int64, n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		open := t0 + int64(i)*hourMs
		out[i] = market.Candle{
			OpenTime:  open,
			CloseTime: open + hourMs - 1,
			Open:      100, High: 110, Low: 90,
			Close:  100 + float64(i),
			Volume: 1, Trades: 10, Valid: true,
		}
	}
	return out
}

func TestGridAppendAndRetrieve(t *testing.T) {
	gr := NewGrid("BTCUSDT", hour1)

	n, err := gr.Append(hourlies(jan1, 24))
	require.NoError(t, err)
	assert.Equal(t, 24, n)
	require.True(t, gr.CheckChronologicalIntegrity())

	slice, gap := gr.RetrieveRobust(jan1, jan1+24*hourMs)
	require.NotNil(t, slice)
	assert.Len(t, slice, 24)
	assert.False(t, gap.IsOpenLeft())
	assert.False(t, gap.IsOpenRight())

	// Sub-range.
	slice, _ = gr.RetrieveRobust(jan1+2*hourMs, jan1+5*hourMs)
	require.Len(t, slice, 3)
	assert.Equal(t, jan1+2*hourMs, slice[0].OpenTime)
}

func TestGridRetrieveGapShapes(t *testing.T) {
	gr := NewGrid("BTCUSDT", hour1)

	t.Run("cold cache is open on both sides", func(t *testing.T) {
		slice, gap := gr.RetrieveRobust(jan1, jan1+hourMs)
		assert.Nil(t, slice)
		assert.True(t, gap.IsOpenBoth())
	})

	_, err := gr.Append(hourlies(jan1, 24))
	require.NoError(t, err)

	t.Run("missing head is open left, bounded by oldest cached", func(t *testing.T) {
		slice, gap := gr.RetrieveRobust(jan1-5*hourMs, jan1+2*hourMs)
		assert.Nil(t, slice)
		assert.True(t, gap.IsOpenLeft())
		require.NotNil(t, gap.End)
		assert.Equal(t, jan1, *gap.End)
	})

	t.Run("missing tail is open right, starting after newest cached", func(t *testing.T) {
		slice, gap := gr.RetrieveRobust(jan1+20*hourMs, jan1+30*hourMs)
		assert.Nil(t, slice)
		assert.True(t, gap.IsOpenRight())
		require.NotNil(t, gap.Begin)
		assert.Equal(t, jan1+24*hourMs, *gap.Begin)
	})
}

func TestGridRetrieveMonotonic(t *testing.T) {
	gr := NewGrid("BTCUSDT", hour1)
	_, err := gr.Append(hourlies(jan1, 6))
	require.NoError(t, err)

	query := func() ([]market.Candle, market.Interval) {
		return gr.RetrieveRobust(jan1, jan1+12*hourMs)
	}
	slice, _ := query()
	assert.Nil(t, slice)

	// Enlarging the cached range can only improve the answer.
	_, err = gr.Append(hourlies(jan1+6*hourMs, 6))
	require.NoError(t, err)
	slice, _ = query()
	require.NotNil(t, slice)
	assert.Len(t, slice, 12)
}

func TestGridAppendFrontBackAndOverlap(t *testing.T) {
	gr := NewGrid("BTCUSDT", hour1)
	_, err := gr.Append(hourlies(jan1+10*hourMs, 10))
	require.NoError(t, err)

	// Front extension.
	n, err := gr.Append(hourlies(jan1, 10))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	// Back extension with overlap: covered slots are skipped.
	n, err = gr.Append(hourlies(jan1+15*hourMs, 10))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.Equal(t, 25, gr.Len())
	assert.True(t, gr.CheckChronologicalIntegrity())

	// Fully covered block is an idempotent no-op.
	n, err = gr.Append(hourlies(jan1+3*hourMs, 4))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGridAppendRejectsHoles(t *testing.T) {
	gr := NewGrid("BTCUSDT", hour1)
	_, err := gr.Append(hourlies(jan1, 5))
	require.NoError(t, err)

	// Disconnected in the future: would leave a hole.
	_, err = gr.Append(hourlies(jan1+10*hourMs, 2))
	require.ErrorIs(t, err, ErrSplitSeries)

	// Disconnected in the past.
	_, err = gr.Append(hourlies(jan1-10*hourMs, 2))
	require.ErrorIs(t, err, ErrSplitSeries)

	// The block itself must be contiguous.
	block := hourlies(jan1+5*hourMs, 1)
	block = append(block, hourlies(jan1+7*hourMs, 1)...)
	_, err = gr.Append(block)
	require.Error(t, err)

	assert.Equal(t, 5, gr.Len())
}

func TestGridZeroTimePoint(t *testing.T) {
	gr := NewGrid("BTCUSDT", hour1)
	_, err := gr.Append(hourlies(jan1, 24))
	require.NoError(t, err)

	gr.SetZeroTimePoint(jan1)
	z, ok := gr.ZeroTimePoint()
	require.True(t, ok)
	assert.Equal(t, jan1, z)

	// Never moves forward.
	gr.SetZeroTimePoint(jan1 + hourMs)
	z, _ = gr.ZeroTimePoint()
	assert.Equal(t, jan1, z)

	// Appending before the zero time point is a no-op.
	n, err := gr.Append(hourlies(jan1-5*hourMs, 5))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Queries reaching before the zero point are satisfied by cache alone.
	slice, _ := gr.RetrieveRobust(jan1-100*hourMs, jan1+4*hourMs)
	require.NotNil(t, slice)
	assert.Len(t, slice, 4)
}

func TestGridFindNearest(t *testing.T) {
	gr := NewGrid("BTCUSDT", hour1)
	_, err := gr.Append(hourlies(jan1, 3))
	require.NoError(t, err)

	assert.Equal(t, -1, gr.FindNearest(jan1-1))
	assert.Equal(t, -1, gr.FindNearest(jan1+3*hourMs))

	assert.Equal(t, 0, gr.FindNearest(jan1))
	assert.Equal(t, 0, gr.FindNearest(jan1+10))
	// Past the midpoint of bucket 0 it snaps to bucket 1's boundary.
	assert.Equal(t, 1, gr.FindNearest(jan1+hourMs-10))
	assert.Equal(t, 1, gr.FindNearest(jan1+hourMs+10))
	// Last bucket has no right neighbour to snap to.
	assert.Equal(t, 2, gr.FindNearest(jan1+3*hourMs-1))
}
