package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"kgrid/internal/logger"
	"kgrid/internal/market"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

type CacheConfig struct {
	Dir             string   `mapstructure:"dir" yaml:"dir"`
	AutosaveMinutes int      `mapstructure:"autosave_minutes" yaml:"autosave_minutes"`
	Symbols         []string `mapstructure:"symbols" yaml:"symbols"`
	Granularities   []string `mapstructure:"granularities" yaml:"granularities"`
	LoadOnStart     bool     `mapstructure:"load_on_start" yaml:"load_on_start"`
	SaveOnShutdown  bool     `mapstructure:"save_on_shutdown" yaml:"save_on_shutdown"`
}

type BinanceConfig struct {
	RESTBaseURL       string  `mapstructure:"rest_base_url" yaml:"rest_base_url"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	ProxyEnabled      bool    `mapstructure:"proxy_enabled" yaml:"proxy_enabled"`
	ProxyURL          string  `mapstructure:"proxy_url" yaml:"proxy_url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type BackfillConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

type Config struct {
	App      AppConfig      `mapstructure:"app" yaml:"app"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Binance  BinanceConfig  `mapstructure:"binance" yaml:"binance"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Journal  JournalConfig  `mapstructure:"journal" yaml:"journal"`
	Backfill BackfillConfig `mapstructure:"backfill" yaml:"backfill"`
}

func Default() Config {
	return Config{
		App: AppConfig{LogLevel: "info"},
		Cache: CacheConfig{
			Dir:             "data/cache",
			AutosaveMinutes: 10,
			Symbols:         []string{"BTCUSDT"},
			Granularities:   []string{"1m", "1h", "1d", "1M"},
			LoadOnStart:     true,
			SaveOnShutdown:  true,
		},
		Binance: BinanceConfig{
			RESTBaseURL:       "https://api.binance.com",
			TimeoutSeconds:    15,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Server:   ServerConfig{Addr: ":8642"},
		Journal:  JournalConfig{Enabled: true, Path: "data/journal.db"},
		Backfill: BackfillConfig{Concurrency: 2},
	}
}

// Load reads the YAML config at path, layered over defaults.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	cfg := Default()
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if len(cfg.Cache.Symbols) == 0 {
		return fmt.Errorf("cache.symbols 不能为空")
	}
	for _, name := range cfg.Cache.Granularities {
		if g := market.ParseGranularity(name); !g.IsValid() {
			return fmt.Errorf("未知周期: %s", name)
		}
	}
	if cfg.Backfill.Concurrency < 0 {
		return fmt.Errorf("backfill.concurrency 不能为负")
	}
	if cfg.Binance.TimeoutSeconds < 0 {
		return fmt.Errorf("binance.timeout_seconds 不能为负")
	}
	return nil
}

// Granularities resolves the configured granularity names.
func (c *Config) Granularities() []market.Granularity {
	out := make([]market.Granularity, 0, len(c.Cache.Granularities))
	for _, name := range c.Cache.Granularities {
		if g := market.ParseGranularity(name); g.IsValid() {
			out = append(out, g)
		}
	}
	return out
}

// WriteDefault writes a commented-free default config for bootstrapping.
func WriteDefault(path string) error {
	cfg := Default()
	raw, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, raw, 0o644)
}

// Watch re-applies the log level when the config file changes on disk.
// Other fields deliberately require a restart.
func Watch(path string, stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}
	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					logger.Warnf("[config] 重新加载失败: %v", err)
					continue
				}
				logger.SetLevel(cfg.App.LogLevel)
				logger.Infof("[config] 日志级别已更新为 %s", cfg.App.LogLevel)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnf("[config] watcher 错误: %v", err)
			}
		}
	}()
	return nil
}
