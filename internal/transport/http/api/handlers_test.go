package apihttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"papertrade/internal/config"
	"papertrade/internal/market"
	"papertrade/internal/trading"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSource 提供固定的历史快照与一条保持打开的推送流。
type stubSource struct {
	history []market.Candle
}

func (s *stubSource) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	out := make([]market.Candle, len(s.history))
	copy(out, s.history)
	return out, nil
}

func (s *stubSource) Subscribe(ctx context.Context, symbol, interval string, opts market.SubscribeOptions) (<-chan market.CandleEvent, error) {
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

func (s *stubSource) Stats() market.SourceStats { return market.SourceStats{} }

func (s *stubSource) Close() error { return nil }

func testCandle(openSec int64, close float64) market.Candle {
	return market.Candle{
		OpenTime:  openSec * 1000,
		CloseTime: openSec*1000 + 59_999,
		Open:      close - 1,
		High:      close + 2,
		Low:       close - 2,
		Close:     close,
		Volume:    10,
	}
}

type testEnv struct {
	router http.Handler
	series *market.Series
	sync   *market.Synchronizer
	ledger *trading.Ledger
}

func newTestEnv(t *testing.T, selectPair bool) *testEnv {
	t.Helper()
	src := &stubSource{history: []market.Candle{
		testCandle(100, 101),
		testCandle(160, 103),
		testCandle(220, 105),
	}}
	series := market.NewSeries(1000)
	sync := market.NewSynchronizer(src, series, 500)
	t.Cleanup(sync.Close)
	ledger := trading.NewLedger(series.LatestClose, trading.WithMaxLeverage(125))

	srv, err := NewServer(ServerConfig{
		Addr:    ":0",
		Series:  series,
		Sync:    sync,
		Ledger:  ledger,
		Trading: config.TradingConfig{DefaultLeverage: 10, MaxLeverage: 125},
	})
	require.NoError(t, err)

	if selectPair {
		require.NoError(t, sync.Select(context.Background(), "BTC/USDT", "1m"))
	}
	return &testEnv{router: srv.Router(), series: series, sync: sync, ledger: ledger}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestKlinesAfterSelect(t *testing.T) {
	env := newTestEnv(t, true)
	rec := env.do(t, http.MethodGet, "/api/market/klines", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Symbol   string              `json:"symbol"`
		Interval string              `json:"interval"`
		Candles  []market.ChartPoint `json:"candles"`
		Price    market.PriceSummary `json:"price"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "BTC/USDT", body.Symbol)
	assert.Equal(t, "1m", body.Interval)
	require.Len(t, body.Candles, 3)
	assert.Equal(t, int64(220), body.Candles[2].Time)
	assert.InDelta(t, 105.0, body.Price.Last, 1e-9)
}

func TestKlinesBeforeSelect(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/api/market/klines", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Candles []market.ChartPoint `json:"candles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Candles)
}

func TestSelectEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodPost, "/api/market/select", `{"symbol":"ETHUSDT","interval":"5m"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ETH/USDT")
	assert.Equal(t, 3, env.series.Len())
}

func TestSelectRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodPost, "/api/market/select", `{"symbol":"BTC/USDT","interval":"2m"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/market/select", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReconnectWithoutSelection(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodPost, "/api/market/reconnect", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, true)
	rec := env.do(t, http.MethodGet, "/api/market/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st market.SyncStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "BTC/USDT", st.Symbol)
	assert.Equal(t, 3, st.Bars)
}

func TestWatchlistFallsBackToDefault(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/api/market/watchlist", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "BTC/USDT")
	assert.Contains(t, rec.Body.String(), "1m")
}

func TestOrderLifecycle(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/api/trading/orders", `{"side":"long","size":100,"leverage":10}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var created struct {
		Position trading.Position `json:"position"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Position.ID)
	assert.InDelta(t, 105.0, created.Position.EntryPrice, 1e-9)

	closePath := fmt.Sprintf("/api/trading/positions/%s/close", created.Position.ID)
	rec = env.do(t, http.MethodPost, closePath, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"closed":true`)

	// 重复平仓是无害 no-op
	rec = env.do(t, http.MethodPost, closePath, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"closed":false`)
	assert.Equal(t, 2, env.ledger.FillCount())
}

func TestOrderDefaultsLeverage(t *testing.T) {
	env := newTestEnv(t, true)
	rec := env.do(t, http.MethodPost, "/api/trading/orders", `{"side":"short","size":50}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var created struct {
		Position trading.Position `json:"position"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, 10, created.Position.Leverage)
}

func TestOrderRejectedWithoutPrice(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodPost, "/api/trading/orders", `{"side":"long","size":100}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCloseAllEmptyIsNoop(t *testing.T) {
	env := newTestEnv(t, true)
	rec := env.do(t, http.MethodPost, "/api/trading/close-all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"closed":0`)
	assert.Equal(t, 0, env.ledger.FillCount())
}

func TestTradingStateEndpoint(t *testing.T) {
	env := newTestEnv(t, true)
	_ = env.do(t, http.MethodPost, "/api/trading/orders", `{"side":"long","size":100,"leverage":5}`)

	rec := env.do(t, http.MethodGet, "/api/trading/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		State           trading.LedgerState `json:"state"`
		DefaultLeverage int                 `json:"default_leverage"`
		MaxLeverage     int                 `json:"max_leverage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.State.Positions, 1)
	assert.Equal(t, 10, body.DefaultLeverage)
	assert.Equal(t, 125, body.MaxLeverage)
}

func TestChartSnapshotWithoutData(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/chart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "no candle data")
}

func TestChartSnapshotRendersPage(t *testing.T) {
	env := newTestEnv(t, true)
	rec := env.do(t, http.MethodGet, "/chart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "echarts")
}

func TestIndicatorsEndpoint(t *testing.T) {
	env := newTestEnv(t, true)
	rec := env.do(t, http.MethodGet, "/api/market/indicators", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ema_fast")

	empty := newTestEnv(t, false)
	rec = empty.do(t, http.MethodGet, "/api/market/indicators", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
