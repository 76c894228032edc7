package config

// Config 是 papertrade 的主配置载体。
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Market  MarketConfig  `mapstructure:"market"`
	Binance BinanceConfig `mapstructure:"binance"`
	Trading TradingConfig `mapstructure:"trading"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
	HTTPAddr string `mapstructure:"http_addr"`
}

// MarketConfig 控制启动时的选择与序列容量。
type MarketConfig struct {
	Symbol        string `mapstructure:"symbol"`
	Interval      string `mapstructure:"interval"`
	HistoryLimit  int    `mapstructure:"history_limit"`
	MaxCached     int    `mapstructure:"max_cached"`
	WatchlistPath string `mapstructure:"watchlist_path"`
}

type BinanceConfig struct {
	RESTBaseURL        string `mapstructure:"rest_base_url"`
	HTTPTimeoutSeconds int    `mapstructure:"http_timeout_seconds"`
	ProxyEnabled       bool   `mapstructure:"proxy_enabled"`
	RESTProxyURL       string `mapstructure:"rest_proxy_url"`
	WSProxyURL         string `mapstructure:"ws_proxy_url"`
}

// TradingConfig 控制模拟下单面板的默认值与上限。
type TradingConfig struct {
	DefaultLeverage int `mapstructure:"default_leverage"`
	MaxLeverage     int `mapstructure:"max_leverage"`
	MaxFillsShown   int `mapstructure:"max_fills_shown"`
}
