package app

import (
	"context"
	"errors"
	"fmt"

	ptcfg "papertrade/internal/config"
	"papertrade/internal/logger"
	"papertrade/internal/market"
	"papertrade/internal/trading"
	apihttp "papertrade/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→装配依赖→启动 HTTP/WS 与行情同步。
type App struct {
	cfg       *ptcfg.Config
	source    market.Source
	series    *market.Series
	sync      *market.Synchronizer
	ledger    *trading.Ledger
	watchlist *ptcfg.WatchlistLoader
	hub       *apihttp.Hub
	server    *apihttp.Server
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *ptcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return NewAppBuilder(cfg).Build(context.Background())
}

// Run 启动 HTTP 服务并对启动配置中的交易对发起首次同步，阻塞到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	a.sync.SetContext(ctx)
	a.watchlist.OnSwap(func(wl ptcfg.Watchlist) {
		a.hub.Broadcast("watchlist", wl)
	})
	a.watchlist.Watch()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		// 首次同步失败不终止进程：页面可用，用户可手动重连或换交易对
		if err := a.sync.Select(ctx, a.cfg.Market.Symbol, a.cfg.Market.Interval); err != nil {
			logger.Warnf("[app] 初始行情同步失败: %v", err)
		}
		<-ctx.Done()
		a.sync.Close()
		a.hub.Close()
		return nil
	})

	logger.Infof("[app] papertrade 已启动: http=%s symbol=%s interval=%s",
		a.cfg.App.HTTPAddr, a.cfg.Market.Symbol, a.cfg.Market.Interval)
	return group.Wait()
}

// Hub 暴露底层连接中枢（测试用）。
func (a *App) Hub() *apihttp.Hub { return a.hub }

// Synchronizer 暴露行情同步器（测试用）。
func (a *App) Synchronizer() *market.Synchronizer { return a.sync }

// Ledger 暴露模拟账本（测试用）。
func (a *App) Ledger() *trading.Ledger { return a.ledger }

// onFeedEvent 把同步器事件翻译成 WebSocket 广播。
func (a *App) onFeedEvent(evt market.FeedEvent) {
	if a.hub == nil {
		return
	}
	switch evt.Type {
	case market.FeedEventCandle:
		a.hub.Broadcast("candle", evt.Candle)
		// 行情变动会改变未实现盈亏，持仓时顺带推一次账本
		if a.ledger.OpenCount() > 0 {
			a.hub.Broadcast("trading", a.ledger.State())
		}
	case market.FeedEventPrice:
		a.hub.Broadcast("price", evt.Price)
	case market.FeedEventStatus:
		a.hub.Broadcast("status", evt.Status)
	}
}

// helloMessages 组装新 WebSocket 连接的初始快照帧。
func (a *App) helloMessages() []apihttp.OutMessage {
	msgs := []apihttp.OutMessage{
		{Type: "status", Data: a.sync.Status()},
		{Type: "trading", Data: a.ledger.State()},
	}
	if sum, ok := a.series.Summary(); ok {
		msgs = append(msgs, apihttp.OutMessage{Type: "price", Data: sum})
	}
	return msgs
}

// --- apihttp.IntentHandler ---

func (a *App) PlaceOrder(req trading.OpenRequest) error {
	if req.Leverage <= 0 {
		req.Leverage = a.cfg.Trading.DefaultLeverage
	}
	_, err := a.ledger.Open(req)
	return err
}

func (a *App) ClosePosition(id string) error {
	err := a.ledger.Close(id)
	if errors.Is(err, trading.ErrNotFound) {
		// 重复点击平仓按无害 no-op 处理
		return nil
	}
	return err
}

func (a *App) CloseAll() int {
	return a.ledger.CloseAll()
}

func (a *App) SelectPair(ctx context.Context, symbol, interval string) error {
	if err := a.sync.Select(ctx, symbol, interval); err != nil {
		return err
	}
	sym, iv := a.sync.Selection()
	a.hub.Broadcast("selection", map[string]string{"symbol": sym, "interval": iv})
	return nil
}

func (a *App) Reconnect(ctx context.Context) error {
	return a.sync.Reconnect(ctx)
}
