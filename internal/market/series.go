package market

import (
	"fmt"
	"sync"
)

// PriceSummary 是页头展示的最新价与相对首根开盘价的涨跌。
type PriceSummary struct {
	Last      float64 `json:"last"`
	ChangeAbs float64 `json:"change_abs"`
	ChangePct float64 `json:"change_pct"`
}

// Series 持有当前 (symbol, interval) 的 K 线序列。
//
// 写入只来自 Feed Synchronizer 的单一消费协程；读取（图表快照、
// 最新价）可以与写入任意交错。序列内 OpenTime 严格递增，唯一的
// 例外是最后一根未收盘的 K 线允许原地替换。
type Series struct {
	mu      sync.RWMutex
	candles []Candle
	max     int
}

// NewSeries 创建空序列；max 为保留的最大根数（超出时裁掉最旧的）。
func NewSeries(max int) *Series {
	if max <= 0 {
		max = 1000
	}
	return &Series{max: max}
}

// LoadSnapshot 用一次历史快照整体替换序列内容。
// 快照由数据源保证按时间升序，这里不再排序。空快照返回 ErrInvalidSnapshot。
func (s *Series) LoadSnapshot(bars []Candle) error {
	if len(bars) == 0 {
		return ErrInvalidSnapshot
	}
	dst := make([]Candle, len(bars))
	copy(dst, bars)
	if len(dst) > s.max {
		dst = dst[len(dst)-s.max:]
	}
	s.mu.Lock()
	s.candles = dst
	s.mu.Unlock()
	return nil
}

// ApplyLiveBar 合并一条实时 K 线更新：与最后一根同 OpenTime 则原地替换
// （未收盘的 K 线还在累积成交），更晚则追加。早于最后一根返回 ErrOutOfOrderBar。
// 返回值 replaced 告知调用方本次是替换还是新增。
func (s *Series) ApplyLiveBar(bar Candle) (replaced bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.candles)
	if n > 0 {
		last := s.candles[n-1].OpenTime
		switch {
		case bar.OpenTime == last:
			s.candles[n-1] = bar
			return true, nil
		case bar.OpenTime < last:
			return false, fmt.Errorf("%w: bar %d < last %d", ErrOutOfOrderBar, bar.OpenTime, last)
		}
	}
	s.candles = append(s.candles, bar)
	if len(s.candles) > s.max {
		s.candles = s.candles[len(s.candles)-s.max:]
	}
	return false, nil
}

// LatestClose 返回最后一根的收盘价；序列为空时 ok 为 false。
func (s *Series) LatestClose() (price float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.candles) == 0 {
		return 0, false
	}
	return s.candles[len(s.candles)-1].Close, true
}

// Summary 基于首根开盘价计算涨跌（对应页头的 change 数字）。
func (s *Series) Summary() (PriceSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.candles) == 0 {
		return PriceSummary{}, false
	}
	last := s.candles[len(s.candles)-1].Close
	first := s.candles[0].Open
	sum := PriceSummary{Last: last, ChangeAbs: last - first}
	if first != 0 {
		sum.ChangePct = sum.ChangeAbs / first * 100
	}
	return sum, true
}

// Snapshot 返回序列内容的拷贝。
func (s *Series) Snapshot() []Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// Len 返回当前根数。
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candles)
}

// Clear 清空序列（切换 symbol/interval 拉取新快照前调用）。
func (s *Series) Clear() {
	s.mu.Lock()
	s.candles = nil
	s.mu.Unlock()
}
