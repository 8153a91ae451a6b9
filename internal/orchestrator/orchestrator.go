package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kgrid/internal/logger"
	"kgrid/internal/market"
	"kgrid/internal/series"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// freshnessGraceMs：收盘后这段时间内的数据远端经常还没定型，查询右端
// 一律收缩到 now 之前这个距离。
const freshnessGraceMs int64 = 10_000

// maxFetchRounds 单次查询允许的远端抓取轮数。比单次行数上限更宽的
// 查询靠多轮收敛，轮数只防止在异常行情下空转。
const maxFetchRounds = 8

// ErrIntegrity 表示批量回填之后时序完整性校验失败。这说明远端数据
// 或本地逻辑已经把权威序列写坏，必须向上硬报错，不允许吞掉。
var ErrIntegrity = errors.New("chronological integrity violation")

// Client 是远端交易所的抽象。实现方失败时返回 error（等价于
// success=false），调用方自行决定重试或上抛。
type Client interface {
	GetCandles(ctx context.Context, symbol string, g market.Granularity, begin, end int64, limit int) ([]market.Candle, error)
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	MinTime() int64
	MaxRowsPerCall() int
}

// Orchestrator 协调缓存探测、抓取规划、缺口修复与合并。
// 除 Grid 内容外不持有任何查询状态。
type Orchestrator struct {
	cache  *series.Cache
	client Client
	sf     singleflight.Group
	now    func() int64
}

func New(cache *series.Cache, client Client) *Orchestrator {
	return &Orchestrator{
		cache:  cache,
		client: client,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

// Options controls a single Retrieve call.
type Options struct {
	// EnsureLatest re-fetches the newest candle when it is still forming.
	EnsureLatest bool
}

// Cache exposes the underlying cache for persistence and inspection.
func (o *Orchestrator) Cache() *series.Cache { return o.cache }

// Price proxies the latest-price lookup to the remote client.
func (o *Orchestrator) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return o.client.GetPrice(ctx, symbol)
}

// Retrieve answers a range query [begin, end) for one symbol+granularity,
// fetching from the remote exchange only what the grid cannot prove it has.
//
// 返回的切片可能短于请求区间：远端在窗口内确实没有数据时按已有数据
// 兜底（见 glitch 处理），调用方据此自行判断覆盖情况。
func (o *Orchestrator) Retrieve(ctx context.Context, symbol string, g market.Granularity, begin, end int64, opts Options) ([]market.Candle, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if !g.IsValid() {
		return nil, fmt.Errorf("invalid granularity")
	}
	now := o.now()
	reqEnd := end
	if begin < o.client.MinTime() {
		begin = o.client.MinTime()
	}
	if ceil := now - freshnessGraceMs; end > ceil {
		end = ceil
	}
	if begin >= end {
		return []market.Candle{}, nil
	}

	grid := o.cache.GetOrCreate(symbol, g)
	// 收口处统一补最新蜡烛：命中和兜底两条路都可能停在正在形成的
	// 槽位之前，EnsureLatest 对两者同样生效。
	answer := func(slice []market.Candle) []market.Candle {
		if opts.EnsureLatest {
			if refreshed := o.refreshLatest(ctx, symbol, g, slice, reqEnd, now); refreshed != nil {
				return refreshed
			}
		}
		return slice
	}
	for round := 0; round < maxFetchRounds; round++ {
		slice, gap := grid.RetrieveRobust(begin, end)
		if slice != nil {
			return answer(slice), nil
		}
		plan, ok := planFetch(gap, g, begin, end, now, o.client.MinTime(), o.client.MaxRowsPerCall())
		if !ok {
			break
		}
		progressed, err := o.fetchAndMerge(ctx, grid, symbol, g, gap, plan, now)
		if err != nil {
			return nil, err
		}
		if !progressed {
			break
		}
	}
	// 走到这里说明远端给不出完整区间，按网格已有部分兜底。
	return answer(grid.RetrieveOverlap(begin, end)), nil
}

type fetchPlan struct {
	begin int64 // inclusive open-time lower bound
	end   int64 // inclusive open-time upper bound (Binance endTime semantics)
	limit int
}

// planFetch decides the smallest remote window that makes progress on gap.
func planFetch(gap market.Interval, g market.Granularity, qBegin, qEnd, now, minTime int64, maxRows int) (fetchPlan, bool) {
	ceil := now - freshnessGraceMs
	plan := fetchPlan{limit: maxRows}
	switch {
	case gap.IsOpenBoth():
		// 冷缓存：以查询中点为锚，把单次行数额度对半分给过去和未来。
		mid := qBegin + (qEnd-qBegin)/2
		half := maxRows / 2
		plan.begin = g.AddSteps(mid, -half)
		plan.end = g.AddSteps(mid, half)
	case gap.IsOpenLeft():
		plan.end = *gap.End - 1
		plan.begin = g.AddSteps(*gap.End, -(maxRows - 1))
	default:
		// RetrieveRobust 对未命中只报告单侧开放的缺口，剩下的只有右开。
		plan.begin = *gap.Begin
		plan.end = g.AddSteps(*gap.Begin, maxRows-1)
	}
	if plan.begin < minTime {
		plan.begin = minTime
	}
	if plan.end > ceil {
		plan.end = ceil
	}
	if plan.begin >= plan.end {
		return fetchPlan{}, false
	}
	if g.NextOpenMs(plan.begin)-1 >= now {
		// 窗口里最早的槽位都还没收盘，远端不可能给出任何已收盘数据，
		// 这一次抓取注定落空。
		return fetchPlan{}, false
	}
	return plan, true
}

// fetchAndMerge runs the remote call, gap repair and grid merge for one
// planned window. Concurrent identical queries collapse onto a single
// in-flight fetch per (symbol, granularity); the fetch and the repair run
// outside any grid lock, only the final merge serialises.
func (o *Orchestrator) fetchAndMerge(ctx context.Context, grid *series.Grid, symbol string, g market.Granularity, gap market.Interval, plan fetchPlan, now int64) (bool, error) {
	beforeLen := grid.Len()
	_, zeroBefore := grid.ZeroTimePoint()
	key := symbol + "@" + g.Encode()
	_, err, _ := o.sf.Do(key, func() (any, error) {
		raw, err := o.client.GetCandles(ctx, symbol, g, plan.begin, plan.end, plan.limit)
		if err != nil {
			return nil, err
		}
		raw = dropUnclosed(raw, now)
		repaired := series.FillGaps(raw, g)
		if len(repaired) <= 1 {
			if !gap.IsOpenLeft() {
				// 已知的上游抽风：窗口理应有数据却近乎为空。
				// 不报错，外层用网格已有数据兜底。
				logger.Warnf("[orchestrator] %s %s 窗口 [%d,%d] 近乎为空，按缓存兜底",
					symbol, g.Name, plan.begin, plan.end)
				return nil, nil
			}
			// 向过去延伸时拿不到数据 = 历史到头了。
			if fb, _, ok := grid.Bounds(); ok {
				grid.SetZeroTimePoint(fb)
			}
			return nil, nil
		}
		if gap.IsOpenLeft() && !gap.IsOpenBoth() {
			// 修复结果可能够不到网格头部（上游在边界处也有洞），
			// 用占位蜡烛垫到衔接点，否则拼不上。
			repaired = padTail(repaired, g, *gap.End)
		}
		if !gap.IsOpenLeft() && gap.Begin != nil {
			repaired = padHead(repaired, g, *gap.Begin)
		}
		if _, err := grid.Append(repaired); err != nil {
			return nil, fmt.Errorf("merging fetched block: %w", err)
		}
		// 远端明确没有更早的数据：要么窗口已压到交易所下限，要么
		// 返回的最早一根晚于请求起点。
		if gap.IsOpenLeft() {
			earliest := repaired[0].OpenTime
			if plan.begin <= o.client.MinTime() || earliest >= g.AddSteps(plan.begin, 2) {
				grid.SetZeroTimePoint(earliest)
			}
		}
		return nil, nil
	})
	if err != nil {
		return false, err
	}
	_, zeroAfter := grid.ZeroTimePoint()
	return grid.Len() != beforeLen || (zeroAfter && !zeroBefore), nil
}

// refreshLatest issues one small fetch for the bucket that is still
// forming when the answer stops right before it and the request actually
// reaches into it. The forming candle rides along in the returned slice
// but is never merged into the grid: its close price is provisional, and
// a cached copy would go stale the moment it is written. Failure to
// refresh is not an error, the closed slice is still a correct answer.
func (o *Orchestrator) refreshLatest(ctx context.Context, symbol string, g market.Granularity, slice []market.Candle, reqEnd, now int64) []market.Candle {
	if len(slice) == 0 {
		return nil
	}
	formingOpen := slice[len(slice)-1].CloseTime + 1
	if reqEnd <= formingOpen {
		// 请求区间根本够不到下一个槽位，别送多余的数据。
		return nil
	}
	if now < formingOpen || now >= g.NextOpenMs(formingOpen) {
		return nil
	}
	raw, err := o.client.GetCandles(ctx, symbol, g, formingOpen, now, 1)
	if err != nil {
		logger.Debugf("[orchestrator] 刷新最新蜡烛失败 %s %s: %v", symbol, g.Name, err)
		return nil
	}
	if len(raw) == 0 || raw[0].OpenTime != formingOpen {
		return nil
	}
	return append(slice, raw[0])
}

// dropUnclosed trims trailing candles whose close time is still in the
// future: the exchange reports the forming kline with its final bounds
// but provisional prices.
func dropUnclosed(raw []market.Candle, now int64) []market.Candle {
	for len(raw) > 0 && raw[len(raw)-1].CloseTime >= now {
		raw = raw[:len(raw)-1]
	}
	return raw
}

// padTail extends repaired with placeholders until it reaches stitchOpen.
func padTail(repaired []market.Candle, g market.Granularity, stitchOpen int64) []market.Candle {
	for {
		next := repaired[len(repaired)-1].CloseTime + 1
		if next >= stitchOpen {
			return repaired
		}
		repaired = append(repaired, market.NewPlaceholder(next, g.NextOpenMs(next)-1))
	}
}

// padHead prepends placeholders from stitchBegin up to the repaired block.
func padHead(repaired []market.Candle, g market.Granularity, stitchBegin int64) []market.Candle {
	if repaired[0].OpenTime <= stitchBegin {
		return repaired
	}
	var pre []market.Candle
	cursor := stitchBegin
	for cursor < repaired[0].OpenTime {
		next := g.NextOpenMs(cursor)
		if next > repaired[0].OpenTime {
			// 对不上步长网格，放弃垫头，让合并自行失败并暴露问题。
			return repaired
		}
		pre = append(pre, market.NewPlaceholder(cursor, next-1))
		cursor = next
	}
	return append(pre, repaired...)
}
