package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource 是可编排的行情源：快照按 (symbol, interval) 预置，
// 实时流通过 push/closeStream 手工驱动。
type fakeSource struct {
	mu          sync.Mutex
	history     map[string][]Candle
	historyGate chan struct{} // 非 nil 时 FetchHistory 阻塞等待放行
	fetches     []string
	events      chan CandleEvent
	onDisc      func(error)
	subscribes  int
}

func newFakeSource() *fakeSource {
	return &fakeSource{history: map[string][]Candle{}}
}

func (f *fakeSource) setHistory(symbol, interval string, bars []Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[symbol+"@"+interval] = bars
}

func (f *fakeSource) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	f.mu.Lock()
	gate := f.historyGate
	f.fetches = append(f.fetches, symbol+"@"+interval)
	bars := f.history[symbol+"@"+interval]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return bars, nil
}

func (f *fakeSource) Subscribe(ctx context.Context, symbol, interval string, opts SubscribeOptions) (<-chan CandleEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	f.events = make(chan CandleEvent, 16)
	f.onDisc = opts.OnDisconnect
	if opts.OnConnect != nil {
		opts.OnConnect()
	}
	return f.events, nil
}

func (f *fakeSource) push(evt CandleEvent) {
	f.mu.Lock()
	ch := f.events
	f.mu.Unlock()
	ch <- evt
}

func (f *fakeSource) closeStream(cause error) {
	f.mu.Lock()
	ch := f.events
	onDisc := f.onDisc
	f.events = nil
	f.mu.Unlock()
	if onDisc != nil {
		onDisc(cause)
	}
	if ch != nil {
		close(ch)
	}
}

func (f *fakeSource) Stats() SourceStats { return SourceStats{} }
func (f *fakeSource) Close() error       { return nil }

type eventSink struct {
	mu     sync.Mutex
	events []FeedEvent
}

func (s *eventSink) record(evt FeedEvent) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

func (s *eventSink) snapshot() []FeedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FeedEvent, len(s.events))
	copy(out, s.events)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSynchronizerSelectLoadsSnapshotThenSubscribes(t *testing.T) {
	src := newFakeSource()
	src.setHistory("BTCUSDT", "1m", []Candle{bar(100, 10), bar(200, 11), bar(300, 12)})
	series := NewSeries(100)
	sink := &eventSink{}
	sync := NewSynchronizer(src, series, 500, WithFeedHandler(sink.record))
	defer sync.Close()

	require.NoError(t, sync.Select(context.Background(), "BTC/USDT", "1m"))
	assert.Equal(t, 3, series.Len())
	last, _ := series.LatestClose()
	assert.Equal(t, 12.0, last)
	assert.Equal(t, 1, src.subscribes)

	// 实时替换进行中的 bar
	src.push(CandleEvent{Symbol: "BTCUSDT", Interval: "1m", Candle: bar(300, 12.5)})
	waitFor(t, func() bool {
		c, _ := series.LatestClose()
		return c == 12.5
	})
	assert.Equal(t, 3, series.Len())

	// 新 bar 追加
	src.push(CandleEvent{Symbol: "BTCUSDT", Interval: "1m", Candle: bar(400, 13)})
	waitFor(t, func() bool { return series.Len() == 4 })

	evts := sink.snapshot()
	var candles, prices int
	for _, e := range evts {
		switch e.Type {
		case FeedEventCandle:
			candles++
		case FeedEventPrice:
			prices++
		}
	}
	assert.Equal(t, 2, candles)
	assert.GreaterOrEqual(t, prices, 3) // 快照一次 + 每根实时 bar 一次
}

func TestSynchronizerRejectsInvalidSelection(t *testing.T) {
	sync := NewSynchronizer(newFakeSource(), NewSeries(10), 10)
	err := sync.Select(context.Background(), "", "1m")
	assert.ErrorIs(t, err, ErrInvalidSelection)
	err = sync.Select(context.Background(), "BTC/USDT", "lol")
	assert.ErrorIs(t, err, ErrInvalidSelection)
}

func TestSynchronizerEmptyHistory(t *testing.T) {
	src := newFakeSource()
	src.setHistory("BTCUSDT", "1m", nil)
	series := NewSeries(10)
	sync := NewSynchronizer(src, series, 10)
	defer sync.Close()

	err := sync.Select(context.Background(), "BTC/USDT", "1m")
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
	assert.Equal(t, 0, series.Len())
	_, ok := series.LatestClose()
	assert.False(t, ok)
}

func TestSynchronizerDropsMismatchedEvents(t *testing.T) {
	src := newFakeSource()
	src.setHistory("BTCUSDT", "1m", []Candle{bar(100, 10)})
	series := NewSeries(10)
	sync := NewSynchronizer(src, series, 10)
	defer sync.Close()

	require.NoError(t, sync.Select(context.Background(), "BTC/USDT", "1m"))

	// 串台消息不落地
	src.push(CandleEvent{Symbol: "ETHUSDT", Interval: "1m", Candle: bar(200, 99)})
	src.push(CandleEvent{Symbol: "BTCUSDT", Interval: "5m", Candle: bar(200, 98)})
	src.push(CandleEvent{Symbol: "BTCUSDT", Interval: "1m", Candle: bar(200, 11)})
	waitFor(t, func() bool { return series.Len() == 2 })
	last, _ := series.LatestClose()
	assert.Equal(t, 11.0, last)
}

func TestSynchronizerStaleSnapshotDiscarded(t *testing.T) {
	src := newFakeSource()
	src.setHistory("BTCUSDT", "1m", []Candle{bar(100, 10)})
	src.setHistory("BTCUSDT", "5m", []Candle{bar(100, 20)})
	series := NewSeries(10)
	sync := NewSynchronizer(src, series, 10)
	defer sync.Close()

	gate := make(chan struct{})
	src.mu.Lock()
	src.historyGate = gate
	src.mu.Unlock()

	// 第一次选择阻塞在快照拉取上
	firstDone := make(chan error, 1)
	go func() { firstDone <- sync.Select(context.Background(), "BTC/USDT", "1m") }()
	waitFor(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.fetches) == 1
	})

	// 第二次选择取代第一次
	src.mu.Lock()
	src.historyGate = nil
	src.mu.Unlock()
	require.NoError(t, sync.Select(context.Background(), "BTC/USDT", "5m"))
	close(gate)
	require.NoError(t, <-firstDone) // 过期结果被丢弃，不算错误

	last, ok := series.LatestClose()
	require.True(t, ok)
	assert.Equal(t, 20.0, last)
	_, iv := sync.Selection()
	assert.Equal(t, "5m", iv)
}

func TestSynchronizerDisconnectIsTerminalUntilReconnect(t *testing.T) {
	src := newFakeSource()
	src.setHistory("BTCUSDT", "1m", []Candle{bar(100, 10)})
	series := NewSeries(10)
	sync := NewSynchronizer(src, series, 10)
	defer sync.Close()

	require.NoError(t, sync.Select(context.Background(), "BTC/USDT", "1m"))
	waitFor(t, func() bool { return sync.Status().Connected })

	src.closeStream(assert.AnError)
	waitFor(t, func() bool { return !sync.Status().Connected })
	assert.Equal(t, 1, src.subscribes) // 不自动重连

	require.NoError(t, sync.Reconnect(context.Background()))
	waitFor(t, func() bool { return sync.Status().Connected })
	assert.Equal(t, 2, src.subscribes)
}

func TestSynchronizerReconnectWithoutSelection(t *testing.T) {
	sync := NewSynchronizer(newFakeSource(), NewSeries(10), 10)
	err := sync.Reconnect(context.Background())
	assert.ErrorIs(t, err, ErrNoSelection)
}
