package indicator

import (
	"math"
	"testing"

	"papertrade/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		price := 100 + 5*math.Sin(float64(i)/7)
		out[i] = market.Candle{
			OpenTime: int64(i) * 60_000,
			Open:     price - 0.2,
			High:     price + 0.5,
			Low:      price - 0.5,
			Close:    price,
			Volume:   10,
		}
	}
	return out
}

func TestComputeEmptyInput(t *testing.T) {
	_, err := Compute("BTC/USDT", "1m", nil, Settings{})
	assert.Error(t, err)
}

func TestComputeReport(t *testing.T) {
	rep, err := Compute("BTC/USDT", "1m", syntheticCandles(200), Settings{})
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", rep.Symbol)
	assert.Equal(t, 200, rep.Count)

	for _, key := range []string{"ema_fast", "ema_slow", "rsi", "macd"} {
		v, ok := rep.Values[key]
		require.True(t, ok, key)
		assert.False(t, math.IsNaN(v.Latest), key)
	}

	rsi := rep.Values["rsi"]
	assert.GreaterOrEqual(t, rsi.Latest, 0.0)
	assert.LessOrEqual(t, rsi.Latest, 100.0)
	assert.Contains(t, []string{"neutral", "overbought", "oversold"}, rsi.State)
}

func TestTrimLeadingZeros(t *testing.T) {
	out := trimLeadingZeros([]float64{0, 0, 1.5, 0, 2})
	assert.Equal(t, []float64{1.5, 0, 2}, out)
}

func TestSanitizeSeries(t *testing.T) {
	out := sanitizeSeries([]float64{1.23456, math.NaN(), math.Inf(1), 2})
	assert.Equal(t, []float64{1.2346, 2}, out)
}
