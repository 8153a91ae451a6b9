package series

import (
	"os"
	"path/filepath"
	"testing"

	"kgrid/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	src := NewCache()
	gr := src.GetOrCreate("BTCUSDT", hour1)
	_, err := gr.Append(hourlies(jan1, 48))
	require.NoError(t, err)
	gr.SetZeroTimePoint(jan1)

	day := market.ParseGranularity("1d")
	gr2 := src.GetOrCreate("ETHUSDT", day)
	daily := []market.Candle{
		{OpenTime: jan1, CloseTime: jan1 + 24*hourMs - 1, Close: 2200, Valid: true},
		market.NewPlaceholder(jan1+24*hourMs, jan1+48*hourMs-1),
	}
	_, err = gr2.Append(daily)
	require.NoError(t, err)

	var saved int64
	require.NoError(t, src.Save(dir, func(cum int64) { saved = cum }))
	assert.Positive(t, saved)

	dst := NewCache()
	var loaded int64
	require.NoError(t, dst.Load(dir, func(cum int64) { loaded = cum }))
	assert.Equal(t, saved, loaded)

	got, ok := dst.Lookup("BTCUSDT", hour1)
	require.True(t, ok)
	assert.Equal(t, gr.Snapshot(), got.Snapshot())
	z, ok := got.ZeroTimePoint()
	require.True(t, ok)
	assert.Equal(t, jan1, z)

	got2, ok := dst.Lookup("ETHUSDT", day)
	require.True(t, ok)
	assert.Equal(t, daily, got2.Snapshot())
	_, ok = got2.ZeroTimePoint()
	assert.False(t, ok)
}

func TestCacheLoadSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()

	src := NewCache()
	gr := src.GetOrCreate("BTCUSDT", hour1)
	_, err := gr.Append(hourlies(jan1, 4))
	require.NoError(t, err)
	require.NoError(t, src.Save(dir, nil))

	// 三种坏文件：乱名字、坏头、坏内容。
	require.NoError(t, os.WriteFile(filepath.Join(dir, "noise.kg"), []byte("junk"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ETHUSDT@1h_MzYwMA.kg"), []byte("kgrid/99 zero=-\nAAAA\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "XRPUSDT@1h_MzYwMA.kg"), []byte("kgrid/1 zero=-\n!!!\n"), 0o644))

	dst := NewCache()
	require.NoError(t, dst.Load(dir, nil))

	_, ok := dst.Lookup("BTCUSDT", hour1)
	assert.True(t, ok)
	_, ok = dst.Lookup("ETHUSDT", hour1)
	assert.False(t, ok)
	_, ok = dst.Lookup("XRPUSDT", hour1)
	assert.False(t, ok)
}

func TestCacheLoadMissingFolderIsCold(t *testing.T) {
	c := NewCache()
	require.NoError(t, c.Load(filepath.Join(t.TempDir(), "nope"), nil))
	assert.Empty(t, c.Grids())
}

func TestCacheGetOrCreateStableIdentity(t *testing.T) {
	c := NewCache()
	a := c.GetOrCreate("BTCUSDT", hour1)
	b := c.GetOrCreate("BTCUSDT", hour1)
	assert.Same(t, a, b)

	other := c.GetOrCreate("BTCUSDT", market.ParseGranularity("1d"))
	assert.NotSame(t, a, other)
}
