package app

import (
	"context"
	"fmt"
	"time"

	ptcfg "papertrade/internal/config"
	"papertrade/internal/gateway/binance"
	"papertrade/internal/market"
	"papertrade/internal/trading"
	apihttp "papertrade/internal/transport/http/api"
)

// AppBuilder 装配全部依赖：数据源 → 序列 → 同步器 → 账本 → HTTP/WS。
// sourceFn 可被测试替换成内存数据源。
type AppBuilder struct {
	cfg      *ptcfg.Config
	sourceFn func(*ptcfg.Config) (market.Source, error)
}

type AppBuilderOption func(*AppBuilder)

// WithSource 替换行情数据源构造（测试用）。
func WithSource(fn func(*ptcfg.Config) (market.Source, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.sourceFn = fn
		}
	}
}

func NewAppBuilder(cfg *ptcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:      cfg,
		sourceFn: buildBinanceSource,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildBinanceSource(cfg *ptcfg.Config) (market.Source, error) {
	return binance.New(binance.Config{
		RESTBaseURL:  cfg.Binance.RESTBaseURL,
		HTTPTimeout:  time.Duration(cfg.Binance.HTTPTimeoutSeconds) * time.Second,
		ProxyEnabled: cfg.Binance.ProxyEnabled,
		RESTProxyURL: cfg.Binance.RESTProxyURL,
		WSProxyURL:   cfg.Binance.WSProxyURL,
	})
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	source, err := b.sourceFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("构建行情数据源失败: %w", err)
	}

	series := market.NewSeries(cfg.Market.MaxCached)
	watchlist := ptcfg.NewWatchlistLoader(cfg.Market.WatchlistPath)

	a := &App{
		cfg:       cfg,
		source:    source,
		series:    series,
		watchlist: watchlist,
	}
	// 回调通过 a 间接引用 hub，构建期 hub 尚为 nil 也安全
	a.ledger = trading.NewLedger(series.LatestClose,
		trading.WithMaxLeverage(cfg.Trading.MaxLeverage),
		trading.WithMaxFillsShown(cfg.Trading.MaxFillsShown),
		trading.WithChangeHandler(func(state trading.LedgerState) {
			if a.hub != nil {
				a.hub.Broadcast("trading", state)
			}
		}),
	)
	a.sync = market.NewSynchronizer(source, series, cfg.Market.HistoryLimit,
		market.WithFeedHandler(a.onFeedEvent))
	a.hub = apihttp.NewHub(a, apihttp.WithHello(a.helloMessages))

	server, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:      cfg.App.HTTPAddr,
		Series:    series,
		Sync:      a.sync,
		Ledger:    a.ledger,
		Watchlist: watchlist,
		Trading:   cfg.Trading,
		Hub:       a.hub,
	})
	if err != nil {
		return nil, fmt.Errorf("构建 HTTP server 失败: %w", err)
	}
	a.server = server
	return a, nil
}
