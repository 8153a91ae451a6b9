package series

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"kgrid/internal/market"
)

// ErrSplitSeries 表示一次 append 会在网格中间制造空洞或落在既有数据
// 内部。网格必须保持无缝，这属于调用方的编程错误，立即失败。
var ErrSplitSeries = errors.New("append would split the series")

// Grid 持有单个 (symbol, granularity) 的连续 K 线序列。
// 不变量：相邻两根蜡烛满足 close[i]+1ms == open[i+1]，占位蜡烛同样
// 占满一个完整步长，所以序列在毫秒级无缝。网格只收已收盘的蜡烛，
// 正在形成的那根由上层按需现取，绝不落进来。
//
// 所有读写都经过内部读写锁；同一 symbol+granularity 的并发修改在此
// 串行化，不同 Grid 之间互不竞争。
type Grid struct {
	mu      sync.RWMutex
	symbol  string
	gran    market.Granularity
	candles []market.Candle

	// zeroTime 一旦设置，表示该品种历史的真实起点；再早的数据
	// 不存在，之前的查询不应再触发远端请求。
	zeroTime *int64
}

func NewGrid(symbol string, g market.Granularity) *Grid {
	return &Grid{symbol: symbol, gran: g}
}

func (gr *Grid) Symbol() string                  { return gr.symbol }
func (gr *Grid) Granularity() market.Granularity { return gr.gran }

func (gr *Grid) Len() int {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	return len(gr.candles)
}

// Bounds returns the covered range [firstOpen, lastClose]. ok=false when empty.
func (gr *Grid) Bounds() (begin, end int64, ok bool) {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	if len(gr.candles) == 0 {
		return 0, 0, false
	}
	return gr.candles[0].OpenTime, gr.candles[len(gr.candles)-1].CloseTime, true
}

// ZeroTimePoint returns the confirmed start of history, if known.
func (gr *Grid) ZeroTimePoint() (int64, bool) {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	if gr.zeroTime == nil {
		return 0, false
	}
	return *gr.zeroTime, true
}

// SetZeroTimePoint 幂等；已设置时只允许向更早方向修正，绝不前移。
func (gr *Grid) SetZeroTimePoint(t int64) {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	if gr.zeroTime == nil || t < *gr.zeroTime {
		v := t
		gr.zeroTime = &v
	}
}

// RetrieveRobust answers a range query [begin, end).
//
// On full coverage it returns the matching slice plus a closed interval
// (diagnostic only). On a partial hit or miss it returns a nil slice and
// an interval describing the uncovered sub-range, open on whichever side
// the grid cannot bound: a cold grid yields an open-both interval, a grid
// covering only the tail yields an open-left interval ending at the oldest
// cached open time. Callers drive fetch planning off this exact shape.
func (gr *Grid) RetrieveRobust(begin, end int64) ([]market.Candle, market.Interval) {
	gr.mu.RLock()
	defer gr.mu.RUnlock()

	if len(gr.candles) == 0 {
		return nil, market.Interval{}
	}
	if gr.zeroTime != nil && begin < *gr.zeroTime {
		// 历史起点之前没有数据可取，查询收缩到起点。
		begin = *gr.zeroTime
	}
	firstOpen := gr.candles[0].OpenTime
	lastClose := gr.candles[len(gr.candles)-1].CloseTime
	if begin >= end {
		return []market.Candle{}, market.ClosedInterval(begin, begin)
	}
	if begin >= firstOpen && end <= lastClose+1 {
		return gr.sliceLocked(begin, end), market.ClosedInterval(begin, end)
	}
	if begin < firstOpen {
		// 头部缺失优先补历史；右侧即便同样缺失也先不报告。
		return nil, market.OpenLeftInterval(firstOpen)
	}
	return nil, market.OpenRightInterval(lastClose + 1)
}

// RetrieveOverlap returns whatever part of [begin, end) the grid has,
// possibly empty. Used for the glitch fallback where a partial answer
// beats failing the query.
func (gr *Grid) RetrieveOverlap(begin, end int64) []market.Candle {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	if len(gr.candles) == 0 {
		return nil
	}
	return gr.sliceLocked(begin, end)
}

func (gr *Grid) sliceLocked(begin, end int64) []market.Candle {
	// lo: 第一根 close >= begin；hi: 第一根 open >= end。
	lo := sort.Search(len(gr.candles), func(i int) bool {
		return gr.candles[i].CloseTime >= begin
	})
	hi := sort.Search(len(gr.candles), func(i int) bool {
		return gr.candles[i].OpenTime >= end
	})
	if lo >= hi {
		return []market.Candle{}
	}
	out := make([]market.Candle, hi-lo)
	copy(out, gr.candles[lo:hi])
	return out
}

// FindNearest locates the candle containing ts, snapping to the nearer
// neighbour when ts sits past the bucket midpoint. Returns -1 outside the
// covered range.
func (gr *Grid) FindNearest(ts int64) int {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	n := len(gr.candles)
	if n == 0 || ts < gr.candles[0].OpenTime || ts > gr.candles[n-1].CloseTime {
		return -1
	}
	i := sort.Search(n, func(k int) bool { return gr.candles[k].CloseTime >= ts })
	if i+1 < n {
		dLeft := ts - gr.candles[i].OpenTime
		dRight := gr.candles[i+1].OpenTime - ts
		if dRight < dLeft {
			return i + 1
		}
	}
	return i
}

// CandleAt returns a copy of the candle at index i from FindNearest.
func (gr *Grid) CandleAt(i int) (market.Candle, bool) {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	if i < 0 || i >= len(gr.candles) {
		return market.Candle{}, false
	}
	return gr.candles[i], true
}

// Append merges an ordered, internally contiguous block of candles.
// Extending at the front or back is allowed and entries already covered
// by the grid are skipped, which makes replayed merges idempotent.
// A block that would leave a hole fails with ErrSplitSeries.
//
// Returns the number of candles actually added. Entries older than a set
// zero time point are dropped: history before it does not exist.
func (gr *Grid) Append(block []market.Candle) (int, error) {
	if len(block) == 0 {
		return 0, nil
	}
	for i := 1; i < len(block); i++ {
		if block[i-1].CloseTime+1 != block[i].OpenTime {
			return 0, fmt.Errorf("append block not contiguous at index %d: close=%d next open=%d",
				i-1, block[i-1].CloseTime, block[i].OpenTime)
		}
	}

	gr.mu.Lock()
	defer gr.mu.Unlock()

	if gr.zeroTime != nil {
		for len(block) > 0 && block[0].OpenTime < *gr.zeroTime {
			block = block[1:]
		}
		if len(block) == 0 {
			return 0, nil
		}
	}

	if len(gr.candles) == 0 {
		gr.candles = append([]market.Candle(nil), block...)
		return len(block), nil
	}

	firstOpen := gr.candles[0].OpenTime
	lastOpen := gr.candles[len(gr.candles)-1].OpenTime
	lastClose := gr.candles[len(gr.candles)-1].CloseTime

	var pre, post []market.Candle
	for _, c := range block {
		switch {
		case c.OpenTime < firstOpen:
			pre = append(pre, c)
		case c.OpenTime > lastOpen:
			post = append(post, c)
		}
		// 已覆盖的槽位直接忽略，保证合并幂等。
	}
	if len(pre) == 0 && len(post) == 0 {
		return 0, nil
	}
	if len(pre) > 0 && pre[len(pre)-1].CloseTime+1 != firstOpen {
		return 0, fmt.Errorf("%w: front block ends at %d, grid starts at %d",
			ErrSplitSeries, pre[len(pre)-1].CloseTime, firstOpen)
	}
	if len(post) > 0 && post[0].OpenTime != lastClose+1 {
		return 0, fmt.Errorf("%w: back block starts at %d, grid ends at %d",
			ErrSplitSeries, post[0].OpenTime, lastClose)
	}

	merged := make([]market.Candle, 0, len(pre)+len(gr.candles)+len(post))
	merged = append(merged, pre...)
	merged = append(merged, gr.candles...)
	merged = append(merged, post...)
	gr.candles = merged
	return len(pre) + len(post), nil
}

// CheckChronologicalIntegrity verifies the seamlessness invariant over the
// whole series. Run as a post-condition after bulk backfill; a violation
// means the authoritative series is corrupt.
func (gr *Grid) CheckChronologicalIntegrity() bool {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	for i := 1; i < len(gr.candles); i++ {
		if gr.candles[i-1].CloseTime+1 != gr.candles[i].OpenTime {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of the whole series for persistence.
func (gr *Grid) Snapshot() []market.Candle {
	gr.mu.RLock()
	defer gr.mu.RUnlock()
	out := make([]market.Candle, len(gr.candles))
	copy(out, gr.candles)
	return out
}

// restore installs a loaded series wholesale. Only used by cache loading.
func (gr *Grid) restore(candles []market.Candle, zeroTime *int64) {
	gr.mu.Lock()
	defer gr.mu.Unlock()
	gr.candles = candles
	gr.zeroTime = zeroTime
}
