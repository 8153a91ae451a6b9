package series

import (
	"sort"
	"sync"

	"kgrid/internal/market"
)

// Cache 拥有全部 Grid 的目录（symbol × granularity → Grid）。
//
// 粗粒度锁只保护目录的结构性变更（新建 Grid），绝不跨网络调用持有；
// 各 Grid 的数据读写由其自身的锁负责，不同品种的并发查询互不争用。
type Cache struct {
	mu    sync.Mutex
	grids map[string]*Grid
}

func NewCache() *Cache {
	return &Cache{grids: make(map[string]*Grid)}
}

func gridKey(symbol string, g market.Granularity) string {
	return symbol + "@" + g.Encode()
}

// GetOrCreate returns the grid for (symbol, g), creating it lazily.
// The returned pointer stays valid for the cache lifetime; entries are
// never removed during normal operation.
func (c *Cache) GetOrCreate(symbol string, g market.Granularity) *Grid {
	key := gridKey(symbol, g)
	c.mu.Lock()
	defer c.mu.Unlock()
	if gr, ok := c.grids[key]; ok {
		return gr
	}
	gr := NewGrid(symbol, g)
	c.grids[key] = gr
	return gr
}

// Lookup returns an existing grid without creating one.
func (c *Cache) Lookup(symbol string, g market.Granularity) (*Grid, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gr, ok := c.grids[gridKey(symbol, g)]
	return gr, ok
}

// Grids returns a stable-ordered snapshot of all grids.
func (c *Cache) Grids() []*Grid {
	c.mu.Lock()
	keys := make([]string, 0, len(c.grids))
	for k := range c.grids {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Grid, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.grids[k])
	}
	c.mu.Unlock()
	return out
}

func (c *Cache) install(key string, gr *Grid) {
	c.mu.Lock()
	c.grids[key] = gr
	c.mu.Unlock()
}
