package series

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"kgrid/internal/logger"
	"kgrid/internal/market"
)

// 快照格式：首行 "kgrid/1 zero=<ms|->"，其后是打包蜡烛数组的 base64。
// 版本不符或内容损坏的文件按「该 key 不存在」处理，冷缓存即可恢复。
const snapshotVersion = "kgrid/1"

const snapshotExt = ".kg"

// ProgressFunc 报告累计处理的字节数。多年多品种的缓存动辄上百兆，
// 保存/加载需要可见的进度。
type ProgressFunc func(cumulativeBytes int64)

// Save writes every populated grid to folder, one file per key.
func (c *Cache) Save(folder string, progress ProgressFunc) error {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("creating cache folder: %w", err)
	}
	var cum int64
	for _, gr := range c.Grids() {
		candles := gr.Snapshot()
		if len(candles) == 0 {
			continue
		}
		zero := "-"
		if z, ok := gr.ZeroTimePoint(); ok {
			zero = strconv.FormatInt(z, 10)
		}
		packed := market.EncodeCandles(candles)
		body := snapshotVersion + " zero=" + zero + "\n" +
			base64.StdEncoding.EncodeToString(packed) + "\n"
		name := gridKey(gr.Symbol(), gr.Granularity()) + snapshotExt
		path := filepath.Join(folder, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		cum += int64(len(body))
		if progress != nil {
			progress(cum)
		}
	}
	return nil
}

// Load reconstructs the catalogue from folder. A corrupt or
// version-mismatched file only costs its own key, never the whole load.
func (c *Cache) Load(folder string, progress ProgressFunc) error {
	entries, err := os.ReadDir(folder)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading cache folder: %w", err)
	}
	var cum int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotExt) {
			continue
		}
		key := strings.TrimSuffix(entry.Name(), snapshotExt)
		symbol, gran, ok := parseGridKey(key)
		if !ok {
			logger.Warnf("[cache] 跳过无法识别的快照文件: %s", entry.Name())
			continue
		}
		raw, err := os.ReadFile(filepath.Join(folder, entry.Name()))
		if err != nil {
			logger.Warnf("[cache] 读取 %s 失败: %v", entry.Name(), err)
			continue
		}
		gr, err := decodeSnapshot(symbol, gran, raw)
		if err != nil {
			logger.Warnf("[cache] 快照 %s 损坏，按冷缓存处理: %v", entry.Name(), err)
			continue
		}
		c.install(key, gr)
		cum += int64(len(raw))
		if progress != nil {
			progress(cum)
		}
	}
	return nil
}

func parseGridKey(key string) (symbol string, g market.Granularity, ok bool) {
	idx := strings.Index(key, "@")
	if idx <= 0 {
		return "", market.Invalid, false
	}
	symbol = key[:idx]
	g = market.Decode(key[idx+1:])
	if !g.IsValid() {
		return "", market.Invalid, false
	}
	return symbol, g, true
}

func decodeSnapshot(symbol string, g market.Granularity, raw []byte) (*Grid, error) {
	text := string(raw)
	nl := strings.IndexByte(text, '\n')
	if nl < 0 {
		return nil, fmt.Errorf("missing header")
	}
	header := strings.TrimSpace(text[:nl])
	fields := strings.Fields(header)
	if len(fields) != 2 || fields[0] != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot header %q", header)
	}
	var zeroTime *int64
	zeroField := strings.TrimPrefix(fields[1], "zero=")
	if zeroField == fields[1] {
		return nil, fmt.Errorf("malformed header %q", header)
	}
	if zeroField != "-" {
		z, err := strconv.ParseInt(zeroField, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed zero time %q", zeroField)
		}
		zeroTime = &z
	}
	packed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text[nl+1:]))
	if err != nil {
		return nil, fmt.Errorf("decoding body: %w", err)
	}
	candles, err := market.DecodeCandles(packed)
	if err != nil {
		return nil, err
	}
	gr := NewGrid(symbol, g)
	gr.restore(candles, zeroTime)
	if !gr.CheckChronologicalIntegrity() {
		return nil, fmt.Errorf("snapshot violates chronological integrity")
	}
	return gr, nil
}
