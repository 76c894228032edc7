package market

import "context"

// CandleEvent 是行情源推送的单条 K 线更新（进行中或刚收盘的 bar）。
type CandleEvent struct {
	Symbol   string
	Interval string
	Final    bool
	Candle   Candle
}

// SubscribeOptions 控制订阅行为与连接回调。
type SubscribeOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

// SourceStats 汇总行情源的连接层计数。
type SourceStats struct {
	Disconnects     int
	SubscribeErrors int
	LastError       string
}

// Source 抽象一个 (symbol, interval) 行情源：一次性的历史快照拉取，
// 加一条持续的 K 线推送流。
//
// Subscribe 返回的 channel 在连接断开或 ctx 取消后关闭；实现不做
// 自动重连，由调用方显式重新订阅。
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	Subscribe(ctx context.Context, symbol, interval string, opts SubscribeOptions) (<-chan CandleEvent, error)

	Stats() SourceStats

	Close() error
}
