package config

import (
	"fmt"
	"strings"

	"papertrade/internal/market"
	"papertrade/internal/pkg/symbol"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取 YAML 配置，补全默认值并做一致性校验。
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
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回不依赖配置文件的可运行默认配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.App.Env) == "" {
		c.App.Env = "dev"
	}
	if strings.TrimSpace(c.App.LogLevel) == "" {
		c.App.LogLevel = "info"
	}
	if strings.TrimSpace(c.App.HTTPAddr) == "" {
		c.App.HTTPAddr = ":8080"
	}
	if strings.TrimSpace(c.Market.Symbol) == "" {
		c.Market.Symbol = "BTC/USDT"
	}
	if strings.TrimSpace(c.Market.Interval) == "" {
		c.Market.Interval = "1m"
	}
	if c.Market.HistoryLimit <= 0 {
		c.Market.HistoryLimit = 500
	}
	if c.Market.MaxCached <= 0 {
		c.Market.MaxCached = 1000
	}
	if c.Trading.DefaultLeverage <= 0 {
		c.Trading.DefaultLeverage = 10
	}
	if c.Trading.MaxLeverage <= 0 {
		c.Trading.MaxLeverage = 125
	}
	if c.Trading.MaxFillsShown <= 0 {
		c.Trading.MaxFillsShown = 50
	}
}

func validate(c *Config) error {
	if !symbol.IsValid(c.Market.Symbol) {
		return fmt.Errorf("market.symbol 不合法: %q", c.Market.Symbol)
	}
	if market.NormalizeInterval(c.Market.Interval) == "" {
		return fmt.Errorf("market.interval 不合法: %q", c.Market.Interval)
	}
	if c.Market.HistoryLimit > 1000 {
		return fmt.Errorf("market.history_limit 超出上限 1000: %d", c.Market.HistoryLimit)
	}
	if c.Trading.DefaultLeverage > c.Trading.MaxLeverage {
		return fmt.Errorf("trading.default_leverage (%d) 不能大于 max_leverage (%d)",
			c.Trading.DefaultLeverage, c.Trading.MaxLeverage)
	}
	return nil
}
