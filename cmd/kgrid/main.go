package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"kgrid/internal/config"
	"kgrid/internal/export"
	"kgrid/internal/gateway/binance"
	"kgrid/internal/journal"
	"kgrid/internal/logger"
	"kgrid/internal/market"
	"kgrid/internal/orchestrator"
	"kgrid/internal/series"
	httpapi "kgrid/internal/transport/http"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "kgrid",
		Usage: "k-line time-series cache and retrieval service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "configs/config.yaml",
				Usage:   "path to YAML config",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			backfillCommand(),
			runsCommand(),
			exportCommand(),
			priceCommand(),
			initConfigCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

type runtimeDeps struct {
	cfg    *config.Config
	cache  *series.Cache
	client *binance.Client
	orch   *orchestrator.Orchestrator
}

func buildDeps(c *cli.Context) (*runtimeDeps, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.App.LogLevel)

	client, err := binance.New(binance.Config{
		RESTBaseURL:       cfg.Binance.RESTBaseURL,
		HTTPTimeout:       time.Duration(cfg.Binance.TimeoutSeconds) * time.Second,
		ProxyEnabled:      cfg.Binance.ProxyEnabled,
		RESTProxyURL:      cfg.Binance.ProxyURL,
		RequestsPerSecond: cfg.Binance.RequestsPerSecond,
		Burst:             cfg.Binance.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("building binance client: %w", err)
	}

	cache := series.NewCache()
	if cfg.Cache.LoadOnStart {
		start := time.Now()
		var total int64
		err := cache.Load(cfg.Cache.Dir, func(cum int64) { total = cum })
		if err != nil {
			return nil, fmt.Errorf("loading cache: %w", err)
		}
		logger.Infof("[cache] 加载完成：%d 个网格，%d 字节，耗时 %s",
			len(cache.Grids()), total, time.Since(start).Round(time.Millisecond))
	}

	return &runtimeDeps{
		cfg:    cfg,
		cache:  cache,
		client: client,
		orch:   orchestrator.New(cache, client),
	}, nil
}

func (d *runtimeDeps) saveCache() {
	if !d.cfg.Cache.SaveOnShutdown {
		return
	}
	var total int64
	if err := d.cache.Save(d.cfg.Cache.Dir, func(cum int64) { total = cum }); err != nil {
		logger.Errorf("[cache] 保存失败: %v", err)
		return
	}
	logger.Infof("[cache] 已保存 %d 字节到 %s", total, d.cfg.Cache.Dir)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP range-query API",
		Action: func(c *cli.Context) error {
			deps, err := buildDeps(c)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stopWatch := make(chan struct{})
			defer close(stopWatch)
			if err := config.Watch(c.String("config"), stopWatch); err != nil {
				logger.Warnf("[config] 无法监听配置文件: %v", err)
			}

			if mins := deps.cfg.Cache.AutosaveMinutes; mins > 0 {
				go autosave(ctx, deps, time.Duration(mins)*time.Minute)
			}

			srv, err := httpapi.NewServer(httpapi.ServerConfig{
				Addr:  deps.cfg.Server.Addr,
				Orch:  deps.orch,
				Depth: deps.client,
			})
			if err != nil {
				return err
			}
			err = srv.Run(ctx)
			deps.saveCache()
			return err
		},
	}
}

func autosave(ctx context.Context, deps *runtimeDeps, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := deps.cache.Save(deps.cfg.Cache.Dir, nil); err != nil {
				logger.Warnf("[cache] 自动保存失败: %v", err)
			}
		}
	}
}

func backfillCommand() *cli.Command {
	return &cli.Command{
		Name:  "backfill",
		Usage: "read out full history for configured symbols",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "symbol", Usage: "override configured symbols"},
		},
		Action: func(c *cli.Context) error {
			deps, err := buildDeps(c)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var jr *journal.Journal
			if deps.cfg.Journal.Enabled {
				jr, err = journal.Open(deps.cfg.Journal.Path)
				if err != nil {
					logger.Warnf("[journal] 打开失败，本次不记录: %v", err)
					jr = nil
				}
			}

			symbols := c.StringSlice("symbol")
			if len(symbols) == 0 {
				symbols = deps.cfg.Cache.Symbols
			}
			grans := deps.cfg.Granularities()
			for _, symbol := range symbols {
				if err := backfillSymbol(ctx, deps, jr, symbol, grans); err != nil {
					deps.saveCache()
					return err
				}
			}
			deps.saveCache()
			return nil
		},
	}
}

func backfillSymbol(ctx context.Context, deps *runtimeDeps, jr *journal.Journal, symbol string, grans []market.Granularity) error {
	var runID string
	if jr != nil {
		id, err := jr.StartRun(symbol)
		if err != nil {
			logger.Warnf("[journal] 无法开始记录 %s: %v", symbol, err)
		} else {
			runID = id
		}
	}
	progress := func(g market.Granularity, gridBegin, gridEnd, cum int64) {
		logger.Infof("[backfill] %s %s 覆盖 [%s, %s] 累计 %d 字节",
			symbol, g.Name,
			time.UnixMilli(gridBegin).UTC().Format(time.RFC3339),
			time.UnixMilli(gridEnd).UTC().Format(time.RFC3339),
			cum)
		if jr != nil && runID != "" {
			if err := jr.RecordStep(runID, g, gridBegin, gridEnd, cum); err != nil {
				logger.Debugf("[journal] 记录步骤失败: %v", err)
			}
		}
	}
	err := deps.orch.Backfill(ctx, symbol, grans, deps.cfg.Backfill.Concurrency, progress)
	if jr != nil && runID != "" {
		if ferr := jr.FinishRun(runID, err); ferr != nil {
			logger.Debugf("[journal] 收尾失败: %v", ferr)
		}
	}
	return err
}

func runsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "list recent backfill runs from the journal",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("journal 未启用")
			}
			jr, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return err
			}
			runs, err := jr.RecentRuns(c.Int("limit"))
			if err != nil {
				return err
			}
			for _, r := range runs {
				finished := "-"
				if r.FinishedAt != nil {
					finished = r.FinishedAt.Format(time.RFC3339)
				}
				fmt.Printf("%s  %-10s %-8s %s -> %s", r.ID, r.Symbol, r.Status,
					r.StartedAt.Format(time.RFC3339), finished)
				if r.Error != "" {
					fmt.Printf("  (%s)", r.Error)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "dump a cached range to parquet/csv/json",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "symbol", Required: true},
			&cli.StringFlag{Name: "interval", Required: true},
			&cli.Int64Flag{Name: "start", Usage: "begin (ms, inclusive)"},
			&cli.Int64Flag{Name: "end", Usage: "end (ms, exclusive)"},
			&cli.StringFlag{Name: "format", Value: "parquet"},
			&cli.StringFlag{Name: "out", Usage: "output path (default derived)"},
		},
		Action: func(c *cli.Context) error {
			deps, err := buildDeps(c)
			if err != nil {
				return err
			}
			g := market.ParseGranularity(c.String("interval"))
			if !g.IsValid() {
				return fmt.Errorf("未知周期: %s", c.String("interval"))
			}
			exp := export.New(c.String("format"))
			if exp == nil {
				return fmt.Errorf("不支持的导出格式: %s", c.String("format"))
			}
			symbol := c.String("symbol")
			grid, ok := deps.cache.Lookup(symbol, g)
			if !ok {
				return fmt.Errorf("缓存中没有 %s %s，请先 backfill", symbol, g.Name)
			}
			begin, end := c.Int64("start"), c.Int64("end")
			var candles []market.Candle
			if begin == 0 && end == 0 {
				candles = grid.Snapshot()
			} else {
				candles = grid.RetrieveOverlap(begin, end)
			}
			if len(candles) == 0 {
				return fmt.Errorf("区间内没有数据")
			}
			out := c.String("out")
			if out == "" {
				out = filepath.Join(".", fmt.Sprintf("%s_%s.%s", symbol, g.Name, exp.Extension()))
			}
			if err := exp.Save(candles, out); err != nil {
				return err
			}
			logger.Infof("[export] %d 根已写入 %s", len(candles), out)
			return nil
		},
	}
}

func priceCommand() *cli.Command {
	return &cli.Command{
		Name:  "price",
		Usage: "print the latest traded price",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "symbol", Required: true},
		},
		Action: func(c *cli.Context) error {
			deps, err := buildDeps(c)
			if err != nil {
				return err
			}
			p, err := deps.orch.Price(c.Context, c.String("symbol"))
			if err != nil {
				return err
			}
			fmt.Println(p.String())
			return nil
		},
	}
}

func initConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "init-config",
		Usage: "write a default config file",
		Action: func(c *cli.Context) error {
			path := c.String("config")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s 已存在，拒绝覆盖", path)
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			logger.Infof("[config] 默认配置已写入 %s", path)
			return nil
		},
	}
}
