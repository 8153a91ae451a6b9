package series

import (
	"kgrid/internal/market"
)

// FillGaps 把一段可能不规整的原始抓取结果修复成等步长序列。
//
// 交易所对冷门品种会跳过没有成交的时段，返回的 K 线之间因此可能有洞，
// 个别行情还会给出跨度错误的脏数据。本函数：
//  1. 扫描出所有「格式正确且与前一根无缝衔接」的极大连续块；
//  2. 丢弃首块之前、末块之后的零散脏数据；
//  3. 块与块之间按标准步长合成占位蜡烛（月线按日历月步进）；
//  4. 有效块原样拷贝进输出。
//
// 没有任何有效块时返回空——调用方将其当作「无可用数据」处理，而不是
// 错误。对自身输出再跑一遍结果不变（占位蜡烛时间上同样无缝）。
func FillGaps(raw []market.Candle, g market.Granularity) []market.Candle {
	blocks := splitBlocks(raw, g)
	if len(blocks) == 0 {
		return nil
	}

	out := make([]market.Candle, 0, estimateLen(blocks))
	out = append(out, blocks[0]...)
	for _, block := range blocks[1:] {
		nextOpen := block[0].OpenTime
		cursor := g.NextOpenMs(out[len(out)-1].OpenTime)
		overshoot := false
		for cursor < nextOpen {
			step := g.NextOpenMs(cursor)
			if step > nextOpen {
				// 该块没有落在步长网格上，整块丢弃。
				overshoot = true
				break
			}
			out = append(out, market.NewPlaceholder(cursor, step-1))
			cursor = step
		}
		if overshoot || cursor != nextOpen {
			continue
		}
		out = append(out, block...)
	}
	return out
}

// splitBlocks returns the maximal runs of well-formed, stride-adjacent
// candles in their original order.
func splitBlocks(raw []market.Candle, g market.Granularity) [][]market.Candle {
	var blocks [][]market.Candle
	var cur []market.Candle
	for _, c := range raw {
		if !c.WellFormed(g) {
			if len(cur) > 0 {
				blocks = append(blocks, cur)
				cur = nil
			}
			continue
		}
		if len(cur) > 0 && cur[len(cur)-1].CloseTime+1 != c.OpenTime {
			blocks = append(blocks, cur)
			cur = nil
		}
		cur = append(cur, c)
	}
	if len(cur) > 0 {
		blocks = append(blocks, cur)
	}
	return blocks
}

func estimateLen(blocks [][]market.Candle) int {
	n := 0
	for _, b := range blocks {
		n += len(b)
	}
	return n
}
