package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"papertrade/internal/market"
)

// Settings 描述指标计算参数；零值字段取默认。
type Settings struct {
	EMAFast    int     `json:"ema_fast,omitempty"`
	EMASlow    int     `json:"ema_slow,omitempty"`
	RSIPeriod  int     `json:"rsi_period,omitempty"`
	Oversold   float64 `json:"oversold,omitempty"`
	Overbought float64 `json:"overbought,omitempty"`
}

// Value 保存单个指标的最新值、序列与状态标签。
type Value struct {
	Latest float64   `json:"latest"`
	Series []float64 `json:"series,omitempty"`
	State  string    `json:"state,omitempty"`
	Note   string    `json:"note,omitempty"`
}

// Report 汇总当前序列的指标输出，供侧栏展示。
type Report struct {
	Symbol   string           `json:"symbol"`
	Interval string           `json:"interval"`
	Count    int              `json:"count"`
	Values   map[string]Value `json:"values"`
}

// Compute 在一份 K 线快照上计算 EMA/RSI/MACD。
func Compute(symbol, interval string, candles []market.Candle, cfg Settings) (Report, error) {
	rep := Report{
		Symbol:   symbol,
		Interval: interval,
		Count:    len(candles),
		Values:   make(map[string]Value),
	}
	if len(candles) == 0 {
		return rep, fmt.Errorf("no candles")
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	lastClose := closes[len(closes)-1]

	if cfg.EMAFast <= 0 {
		cfg.EMAFast = 21
	}
	if cfg.EMASlow <= 0 {
		cfg.EMASlow = 50
	}
	emaFast := trimLeadingZeros(sanitizeSeries(safeEMA(closes, cfg.EMAFast)))
	emaSlow := trimLeadingZeros(sanitizeSeries(safeEMA(closes, cfg.EMASlow)))
	rep.Values["ema_fast"] = Value{
		Latest: lastValid(emaFast),
		Series: emaFast,
		State:  relativeState(lastClose, lastValid(emaFast)),
		Note:   fmt.Sprintf("EMA%d vs price", cfg.EMAFast),
	}
	rep.Values["ema_slow"] = Value{
		Latest: lastValid(emaSlow),
		Series: emaSlow,
		State:  relativeState(lastClose, lastValid(emaSlow)),
		Note:   fmt.Sprintf("EMA%d vs price", cfg.EMASlow),
	}

	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = 14
	}
	if cfg.Overbought == 0 {
		cfg.Overbought = 70
	}
	if cfg.Oversold == 0 {
		cfg.Oversold = 30
	}
	var rsiSeries []float64
	if len(closes) > cfg.RSIPeriod {
		rsiSeries = sanitizeSeries(talib.Rsi(closes, cfg.RSIPeriod))
	}
	rsiVal := lastValid(rsiSeries)
	rsiState := "neutral"
	switch {
	case rsiVal >= cfg.Overbought:
		rsiState = "overbought"
	case rsiVal <= cfg.Oversold:
		rsiState = "oversold"
	}
	rep.Values["rsi"] = Value{
		Latest: rsiVal,
		Series: rsiSeries,
		State:  rsiState,
		Note:   fmt.Sprintf("period=%d thresholds=%.1f/%.1f", cfg.RSIPeriod, cfg.Oversold, cfg.Overbought),
	}

	// MACD(12,26,9) 需要足够的预热长度，样本不足时跳过
	if len(closes) >= 35 {
		macd, signal, hist := talib.Macd(closes, 12, 26, 9)
		histSeries := sanitizeSeries(hist)
		macdState := "flat"
		switch {
		case lastValid(histSeries) > 0:
			macdState = "bullish"
		case lastValid(histSeries) < 0:
			macdState = "bearish"
		}
		rep.Values["macd"] = Value{
			Latest: lastValid(sanitizeSeries(macd)),
			Series: histSeries,
			State:  macdState,
			Note:   fmt.Sprintf("signal=%.4f", lastValid(sanitizeSeries(signal))),
		}
	}

	return rep, nil
}

// safeEMA guards talib.Ema, which indexes past the end when the
// series is shorter than the period.
func safeEMA(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nil
	}
	return talib.Ema(closes, period)
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, round4(v))
	}
	return out
}

// trimLeadingZeros drops TALib's zero-seeded warmup values so plots start
// when enough candles exist.
func trimLeadingZeros(series []float64) []float64 {
	start := 0
	for start < len(series) && math.Abs(series[start]) <= 1e-9 {
		start++
	}
	return series[start:]
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}

func relativeState(price, ref float64) string {
	if ref == 0 {
		return "unknown"
	}
	switch {
	case price > ref*1.002:
		return "above"
	case price < ref*0.998:
		return "below"
	default:
		return "touch"
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
