package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"papertrade/internal/logger"
	"papertrade/internal/pkg/symbol"
)

// FeedEventType 标识推给展示层的事件种类。
type FeedEventType string

const (
	FeedEventCandle FeedEventType = "candle"
	FeedEventPrice  FeedEventType = "price"
	FeedEventStatus FeedEventType = "status"
)

// CandleUpdate 携带一根完整的 bar 以及本次是替换还是新增。
type CandleUpdate struct {
	Candle   Candle `json:"candle"`
	Replaced bool   `json:"replaced"`
}

// StatusUpdate 描述行情连接状态的变化。
type StatusUpdate struct {
	Connected bool   `json:"connected"`
	Reason    string `json:"reason,omitempty"`
}

// FeedEvent 是同步器对外的统一事件载体，按产生顺序逐条投递。
type FeedEvent struct {
	Type     FeedEventType `json:"type"`
	Symbol   string        `json:"symbol"`
	Interval string        `json:"interval"`
	Candle   *CandleUpdate `json:"candle,omitempty"`
	Price    *PriceSummary `json:"price,omitempty"`
	Status   *StatusUpdate `json:"status,omitempty"`
}

// SyncStatus 是 Status() 返回的瞬时快照。
type SyncStatus struct {
	Symbol    string      `json:"symbol"`
	Interval  string      `json:"interval"`
	Connected bool        `json:"connected"`
	Bars      int         `json:"bars"`
	Stats     SourceStats `json:"stats"`
}

// Synchronizer 负责把一次有界的历史快照和一条无界的实时流合成
// 同一份一致的 K 线序列。
//
// 协议：切换选择时先取消旧订阅，拉取新快照整体替换 Series，快照
// 落地之后才建立新订阅，因此不存在实时更新"早于历史"而被丢的窗口。
// 快照拉取期间若选择再次变化，过期的结果在落地前被丢弃。
// 连接断开不自动重试，由调用方显式 Reconnect（重连同样先快照后订阅，
// 保证断线期间的缺口被快照覆盖）。
type Synchronizer struct {
	source  Source
	series  *Series
	limit   int
	onEvent func(FeedEvent)

	baseCtx context.Context

	mu     sync.Mutex // 串行化 Select/Reconnect
	cancel context.CancelFunc

	epoch atomic.Uint64

	stateMu   sync.RWMutex
	symbolSel string // 展示格式，如 BTC/USDT
	interval  string
	connected bool
}

// SynchronizerOption 定制同步器行为。
type SynchronizerOption func(*Synchronizer)

// WithFeedHandler 注册事件回调；事件按序单协程投递。
func WithFeedHandler(handler func(FeedEvent)) SynchronizerOption {
	return func(s *Synchronizer) { s.onEvent = handler }
}

// NewSynchronizer 构建同步器。limit 为每次快照拉取的根数。
func NewSynchronizer(src Source, series *Series, limit int, opts ...SynchronizerOption) *Synchronizer {
	if limit <= 0 {
		limit = 500
	}
	s := &Synchronizer{
		source:  src,
		series:  series,
		limit:   limit,
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SetContext 设置订阅生命周期挂靠的根 ctx（应用启动时调用一次）。
func (s *Synchronizer) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

// Select 切换到新的 (symbol, interval)：取消旧订阅 → 拉快照 → 落地 → 再订阅。
// symbol 接受 "BTC/USDT" 或 "BTCUSDT" 写法。
func (s *Synchronizer) Select(ctx context.Context, sym, interval string) error {
	display := symbol.Normalize(sym)
	iv := NormalizeInterval(interval)
	if display == "" || iv == "" {
		return fmt.Errorf("%w: %q %q", ErrInvalidSelection, sym, interval)
	}
	return s.run(ctx, display, iv)
}

// Reconnect 对当前选择重跑一遍快照+订阅流程。
func (s *Synchronizer) Reconnect(ctx context.Context) error {
	s.stateMu.RLock()
	display, iv := s.symbolSel, s.interval
	s.stateMu.RUnlock()
	if display == "" || iv == "" {
		return ErrNoSelection
	}
	return s.run(ctx, display, iv)
}

func (s *Synchronizer) run(ctx context.Context, display, iv string) error {
	s.mu.Lock()
	my := s.epoch.Add(1)
	if s.cancel != nil {
		s.cancel() // 立即停掉旧订阅与可能还在途的旧快照
	}
	runCtx, cancel := context.WithCancel(s.baseCtx)
	s.cancel = cancel
	s.setState(display, iv, false)
	s.mu.Unlock()

	exch := symbol.ToExchange(display)
	bars, err := s.source.FetchHistory(runCtx, exch, iv, s.limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	if my != s.epoch.Load() {
		// 选择已经变了，过期结果直接丢弃
		logger.Debugf("[sync] 丢弃过期快照 %s %s", display, iv)
		return nil
	}
	if err != nil {
		// 不能让旧序列冒充新选择的数据
		s.series.Clear()
		s.emitStatus(my, false, err.Error())
		return fmt.Errorf("fetch history %s %s: %w", display, iv, err)
	}
	if err := s.series.LoadSnapshot(bars); err != nil {
		// 空历史：图表留白，最新价保持未设置
		s.series.Clear()
		s.emitStatus(my, false, "empty history")
		return fmt.Errorf("load snapshot %s %s: %w", display, iv, err)
	}
	if sum, ok := s.series.Summary(); ok {
		s.emit(FeedEvent{Type: FeedEventPrice, Symbol: display, Interval: iv, Price: &sum})
	}

	events, err := s.source.Subscribe(runCtx, exch, iv, SubscribeOptions{
		OnConnect: func() {
			s.markConnected(my, true, "")
		},
		OnDisconnect: func(cause error) {
			reason := ""
			if cause != nil {
				reason = cause.Error()
			}
			s.markConnected(my, false, reason)
		},
	})
	if err != nil {
		s.emitStatus(my, false, err.Error())
		return fmt.Errorf("subscribe %s %s: %w", display, iv, err)
	}
	go s.consume(runCtx, my, display, iv, events)
	logger.Infof("[sync] %s %s 加载 %d 根历史并已订阅", display, iv, s.series.Len())
	return nil
}

// consume 是该序列唯一的写入协程。
func (s *Synchronizer) consume(ctx context.Context, my uint64, display, iv string, events <-chan CandleEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				// 数据源断开且不自动重连，等待显式 Reconnect
				s.markConnected(my, false, "stream closed")
				return
			}
			s.apply(my, display, iv, evt)
		}
	}
}

func (s *Synchronizer) apply(my uint64, display, iv string, evt CandleEvent) {
	if my != s.epoch.Load() {
		return
	}
	// 校验事件确实属于当前选择，串台的消息直接丢掉
	if evt.Interval != iv || symbol.Normalize(evt.Symbol) != display {
		logger.Debugf("[sync] 丢弃串台消息 %s %s（当前 %s %s）", evt.Symbol, evt.Interval, display, iv)
		return
	}
	replaced, err := s.series.ApplyLiveBar(evt.Candle)
	if err != nil {
		if errors.Is(err, ErrOutOfOrderBar) {
			logger.Warnf("[sync] 乱序 bar 已丢弃 %s %s: %v", display, iv, err)
			return
		}
		logger.Warnf("[sync] 写入 %s %s 失败: %v", display, iv, err)
		return
	}
	s.emit(FeedEvent{
		Type: FeedEventCandle, Symbol: display, Interval: iv,
		Candle: &CandleUpdate{Candle: evt.Candle, Replaced: replaced},
	})
	if sum, ok := s.series.Summary(); ok {
		s.emit(FeedEvent{Type: FeedEventPrice, Symbol: display, Interval: iv, Price: &sum})
	}
}

// Status 返回当前选择与连接状态。
func (s *Synchronizer) Status() SyncStatus {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	st := SyncStatus{
		Symbol:    s.symbolSel,
		Interval:  s.interval,
		Connected: s.connected,
		Bars:      s.series.Len(),
	}
	if s.source != nil {
		st.Stats = s.source.Stats()
	}
	return st
}

// Selection 返回当前 (symbol, interval)。
func (s *Synchronizer) Selection() (string, string) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.symbolSel, s.interval
}

// Close 停掉当前订阅并关闭底层数据源。
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.epoch.Add(1)
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	if s.source != nil {
		if err := s.source.Close(); err != nil {
			logger.Warnf("[sync] source close error: %v", err)
		}
	}
}

func (s *Synchronizer) setState(display, iv string, connected bool) {
	s.stateMu.Lock()
	s.symbolSel = display
	s.interval = iv
	s.connected = connected
	s.stateMu.Unlock()
}

func (s *Synchronizer) markConnected(my uint64, connected bool, reason string) {
	if my != s.epoch.Load() {
		return
	}
	s.stateMu.Lock()
	changed := s.connected != connected
	s.connected = connected
	display, iv := s.symbolSel, s.interval
	s.stateMu.Unlock()
	if !changed {
		return
	}
	if connected {
		logger.Infof("[sync] %s %s 行情连接建立", display, iv)
	} else {
		logger.Warnf("[sync] %s %s 行情连接断开: %s", display, iv, reason)
	}
	s.emit(FeedEvent{
		Type: FeedEventStatus, Symbol: display, Interval: iv,
		Status: &StatusUpdate{Connected: connected, Reason: reason},
	})
}

func (s *Synchronizer) emitStatus(my uint64, connected bool, reason string) {
	if my != s.epoch.Load() {
		return
	}
	s.stateMu.RLock()
	display, iv := s.symbolSel, s.interval
	s.stateMu.RUnlock()
	s.emit(FeedEvent{
		Type: FeedEventStatus, Symbol: display, Interval: iv,
		Status: &StatusUpdate{Connected: connected, Reason: reason},
	})
}

func (s *Synchronizer) emit(evt FeedEvent) {
	if s.onEvent != nil {
		s.onEvent(evt)
	}
}
