package app

import (
	"context"
	"testing"

	ptcfg "papertrade/internal/config"
	"papertrade/internal/market"
	"papertrade/internal/trading"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tradingOpen(side string, size float64, lev int) trading.OpenRequest {
	return trading.OpenRequest{Side: trading.Side(side), Size: size, Leverage: lev}
}

type memSource struct {
	history []market.Candle
}

func (s *memSource) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	out := make([]market.Candle, len(s.history))
	copy(out, s.history)
	return out, nil
}

func (s *memSource) Subscribe(ctx context.Context, symbol, interval string, opts market.SubscribeOptions) (<-chan market.CandleEvent, error) {
	ch := make(chan market.CandleEvent)
	if opts.OnConnect != nil {
		opts.OnConnect()
	}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (s *memSource) Stats() market.SourceStats { return market.SourceStats{} }

func (s *memSource) Close() error { return nil }

func buildTestApp(t *testing.T) *App {
	t.Helper()
	src := &memSource{history: []market.Candle{
		{OpenTime: 100_000, Open: 99, High: 102, Low: 98, Close: 100, Volume: 5},
		{OpenTime: 160_000, Open: 100, High: 106, Low: 99, Close: 105, Volume: 7},
	}}
	a, err := NewAppBuilder(ptcfg.Default(), WithSource(func(*ptcfg.Config) (market.Source, error) {
		return src, nil
	})).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		a.sync.Close()
		a.hub.Close()
	})
	return a
}

func TestBuildWiresDependencies(t *testing.T) {
	a := buildTestApp(t)
	require.NotNil(t, a.Hub())
	require.NotNil(t, a.Synchronizer())
	require.NotNil(t, a.Ledger())
	require.NotNil(t, a.server)
}

func TestSelectPairLoadsHistory(t *testing.T) {
	a := buildTestApp(t)
	require.NoError(t, a.SelectPair(context.Background(), "BTC/USDT", "1m"))
	assert.Equal(t, 2, a.series.Len())

	sym, iv := a.sync.Selection()
	assert.Equal(t, "BTC/USDT", sym)
	assert.Equal(t, "1m", iv)
}

func TestPlaceOrderAppliesDefaultLeverage(t *testing.T) {
	a := buildTestApp(t)
	require.NoError(t, a.SelectPair(context.Background(), "BTC/USDT", "1m"))

	require.NoError(t, a.PlaceOrder(tradingOpen("long", 100, 0)))
	state := a.ledger.State()
	require.Len(t, state.Positions, 1)
	assert.Equal(t, a.cfg.Trading.DefaultLeverage, state.Positions[0].Leverage)
	assert.InDelta(t, 105.0, state.Positions[0].EntryPrice, 1e-9)
}

func TestClosePositionUnknownIDIsNoop(t *testing.T) {
	a := buildTestApp(t)
	assert.NoError(t, a.ClosePosition("does-not-exist"))
	assert.Equal(t, 0, a.ledger.FillCount())
}

func TestCloseAllReportsCount(t *testing.T) {
	a := buildTestApp(t)
	require.NoError(t, a.SelectPair(context.Background(), "BTC/USDT", "1m"))
	require.NoError(t, a.PlaceOrder(tradingOpen("long", 100, 5)))
	require.NoError(t, a.PlaceOrder(tradingOpen("short", 50, 3)))

	assert.Equal(t, 2, a.CloseAll())
	assert.Equal(t, 0, a.ledger.OpenCount())
}

func TestHelloMessagesIncludeSnapshot(t *testing.T) {
	a := buildTestApp(t)
	require.NoError(t, a.SelectPair(context.Background(), "BTC/USDT", "1m"))

	msgs := a.helloMessages()
	types := make([]string, len(msgs))
	for i, m := range msgs {
		types[i] = m.Type
	}
	assert.Contains(t, types, "status")
	assert.Contains(t, types, "trading")
	assert.Contains(t, types, "price")
}
