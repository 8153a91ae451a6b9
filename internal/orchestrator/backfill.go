package orchestrator

import (
	"context"
	"fmt"

	"kgrid/internal/logger"
	"kgrid/internal/market"
	"kgrid/internal/series"

	"golang.org/x/sync/errgroup"
)

// Progress 在每个回填步骤之后被调用一次，报告该周期网格当前覆盖的
// 区间和累计处理的字节数。可为 nil。
type Progress func(g market.Granularity, gridBegin, gridEnd, cumulativeBytes int64)

// Backfill 把一个品种的历史从当前时刻一路回填到交易所的最早数据
// （read-out）。各周期相互独立，用有限并发并行拉取。
//
// 回填结束后对每个网格做时序完整性校验，失败即整体报错——那意味着
// 远端数据不一致或本地逻辑有错，绝不能悄悄放过。
func (o *Orchestrator) Backfill(ctx context.Context, symbol string, grans []market.Granularity, concurrency int, progress Progress) error {
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if len(grans) == 0 {
		grans = market.SupportedGranularities()
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for _, g := range grans {
		g := g
		if !g.IsValid() {
			return fmt.Errorf("invalid granularity in backfill set")
		}
		eg.Go(func() error {
			return o.backfillOne(ctx, symbol, g, progress)
		})
	}
	return eg.Wait()
}

func (o *Orchestrator) backfillOne(ctx context.Context, symbol string, g market.Granularity, progress Progress) error {
	grid := o.cache.GetOrCreate(symbol, g)
	maxRows := o.client.MaxRowsPerCall()
	minTime := o.client.MinTime()
	var cum int64

	// 网格里已有数据时从其头部继续，而不是从 now 重来。
	cursor := o.now() - freshnessGraceMs
	if fb, _, ok := grid.Bounds(); ok {
		cursor = fb
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, ok := grid.ZeroTimePoint(); ok {
			break
		}
		windowBegin := g.AddSteps(cursor, -(maxRows - 1))
		if windowBegin < minTime {
			windowBegin = minTime
		}
		if windowBegin >= cursor {
			grid.SetZeroTimePoint(cursor)
			break
		}
		raw, err := o.client.GetCandles(ctx, symbol, g, windowBegin, cursor-1, maxRows)
		if err != nil {
			return fmt.Errorf("backfill %s %s: %w", symbol, g.Name, err)
		}
		raw = dropUnclosed(raw, o.now())
		repaired := series.FillGaps(raw, g)
		if len(repaired) == 0 {
			// 这个窗口里远端什么都没有：历史到头。
			if fb, _, ok := grid.Bounds(); ok {
				grid.SetZeroTimePoint(fb)
			}
			break
		}
		if _, _, ok := grid.Bounds(); ok {
			repaired = padTail(repaired, g, cursor)
		}
		if _, err := grid.Append(repaired); err != nil {
			return fmt.Errorf("backfill %s %s: %w", symbol, g.Name, err)
		}
		cum += int64(len(raw)) * market.CandleWireSize
		gb, ge, _ := grid.Bounds()
		if progress != nil {
			progress(g, gb, ge, cum)
		}
		next := repaired[0].OpenTime
		if next >= cursor || windowBegin <= minTime {
			// 游标不再前进，或窗口已压到交易所下限：确认历史起点。
			grid.SetZeroTimePoint(next)
			break
		}
		cursor = next
	}

	if !grid.CheckChronologicalIntegrity() {
		return fmt.Errorf("%w: %s %s", ErrIntegrity, symbol, g.Name)
	}
	gb, ge, _ := grid.Bounds()
	logger.Infof("[backfill] %s %s 完成，覆盖 [%d, %d]，共 %d 根", symbol, g.Name, gb, ge, grid.Len())
	return nil
}
