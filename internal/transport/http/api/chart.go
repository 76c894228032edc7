package apihttp

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"papertrade/internal/analysis/indicator"
	"papertrade/internal/logger"
	"papertrade/internal/market"

	"github.com/gin-gonic/gin"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEmaFast       = "#3b82f6"
	colorEmaSlow       = "#f472b6"

	chartWidthPx   = 1400
	klineHeightPx  = 560
	volumeHeightPx = 240
)

// chartSnapshot 把当前序列渲染成静态 ECharts 页面（K 线 + EMA 叠加 + 成交量）。
// 这是主界面之外的"分享快照"入口，不走 WebSocket。
func (h *handlers) chartSnapshot(c *gin.Context) {
	candles := h.series.Snapshot()
	if len(candles) == 0 {
		c.String(http.StatusOK, "no candle data yet, select a pair first")
		return
	}
	sym, iv := h.sync.Selection()
	rep, err := indicator.Compute(sym, iv, candles, indicator.Settings{})
	if err != nil {
		rep = indicator.Report{Values: map[string]indicator.Value{}}
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = fmt.Sprintf("%s %s", sym, iv)

	xAxis := buildXAxis(candles)
	page.AddCharts(
		buildKlineChart(sym, iv, xAxis, candles, rep, h.series),
		buildVolumeChart(iv, xAxis, candles),
	)

	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := page.Render(c.Writer); err != nil {
		logger.Warnf("[chart] 渲染快照失败: %v", err)
	}
}

func buildKlineChart(sym, iv string, xAxis []string, candles []market.Candle, rep indicator.Report, series *market.Series) *charts.Kline {
	minPrice, maxPrice := priceBounds(candles)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}

	subtitle := ""
	if sum, ok := series.Summary(); ok {
		subtitle = fmt.Sprintf("最新 %.4f | 区间涨跌 %+.2f%%", sum.Last, sum.ChangePct)
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", klineHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s", sym, iv),
			Subtitle:      subtitle,
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round4(minPrice - padding),
			Max:       round4(maxPrice + padding),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	data := make([]opts.KlineData, 0, len(candles))
	for _, cdl := range candles {
		data = append(data, opts.KlineData{Value: [4]float64{cdl.Open, cdl.Close, cdl.Low, cdl.High}})
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", data)

	ema := buildEMALine(candles, rep)
	ema.SetXAxis(xAxis)
	kline.Overlap(ema)
	return kline
}

func buildEMALine(candles []market.Candle, rep indicator.Report) *charts.Line {
	line := charts.NewLine()
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	fast := rep.Values["ema_fast"]
	slow := rep.Values["ema_slow"]
	line.AddSeries(legendLabel(fast.Note, "EMA Fast"), toLineData(fast.Series, len(candles)),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEmaFast, Width: 2}))
	line.AddSeries(legendLabel(slow.Note, "EMA Slow"), toLineData(slow.Series, len(candles)),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEmaSlow, Width: 2}))
	return line
}

func buildVolumeChart(iv string, xAxis []string, candles []market.Candle) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", volumeHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Volume %s", iv), Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			SplitNumber: 6,
			AxisLabel:   &opts.AxisLabel{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	vols := make([]opts.BarData, len(candles))
	for i, cdl := range candles {
		color := colorBear
		if cdl.Bullish() {
			color = colorBull
		}
		vols[i] = opts.BarData{
			Value: cdl.Volume,
			ItemStyle: &opts.ItemStyle{
				Color:   color,
				Opacity: opts.Float(0.6),
			},
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("Volume", vols)
	return bar
}

func buildXAxis(candles []market.Candle) []string {
	x := make([]string, len(candles))
	for i, c := range candles {
		x[i] = time.UnixMilli(c.OpenTime).UTC().Format("01-02 15:04")
	}
	return x
}

// toLineData 把指标序列右对齐到 K 线长度，前导补空值；序列比 K 线长时取尾部。
func toLineData(series []float64, n int) []opts.LineData {
	out := make([]opts.LineData, n)
	offset := n - len(series)
	for i := 0; i < n; i++ {
		j := i - offset
		if j < 0 || series[j] == 0 {
			out[i] = opts.LineData{Value: "-"}
			continue
		}
		out[i] = opts.LineData{Value: round4(series[j])}
	}
	return out
}

func legendLabel(note, fallback string) string {
	if fields := strings.Fields(note); len(fields) > 0 {
		return fields[0]
	}
	return fallback
}

func priceBounds(candles []market.Candle) (min, max float64) {
	min, max = math.Inf(1), math.Inf(-1)
	for _, c := range candles {
		if c.Low < min {
			min = c.Low
		}
		if c.High > max {
			max = c.High
		}
	}
	if math.IsInf(min, 1) {
		min, max = 0, 0
	}
	return min, max
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
