package market

// Candle 表示单根 K 线。OpenTime/CloseTime 为毫秒时间戳，OpenTime 是序列内的唯一键。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// ChartTime returns the bar open time in whole seconds, the unit
// charting frontends key their series by.
func (c Candle) ChartTime() int64 {
	return c.OpenTime / 1000
}

// Bullish reports whether the bar closed at or above its open.
func (c Candle) Bullish() bool {
	return c.Close >= c.Open
}

// ChartPoint 是喂给前端图表的精简形态（秒级时间戳）。
type ChartPoint struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// ToChartPoint converts a candle into its frontend representation.
func (c Candle) ToChartPoint() ChartPoint {
	return ChartPoint{
		Time:   c.ChartTime(),
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: c.Volume,
	}
}

// ToChartPoints converts a series snapshot in one pass.
func ToChartPoints(candles []Candle) []ChartPoint {
	out := make([]ChartPoint, len(candles))
	for i, c := range candles {
		out[i] = c.ToChartPoint()
	}
	return out
}
