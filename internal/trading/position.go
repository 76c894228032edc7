package trading

import "time"

// Side 是仓位方向。
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether s is one of the two tradable sides.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// directionSign is +1 for long exposure, -1 for short.
func (s Side) directionSign() int64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// 成交记录里除了开仓方向，还有两个合成标记。
const (
	FillClose = "CLOSE" // 单仓位平仓
	FillFlat  = "FLAT"  // 一键全平
)

// Position 是一笔模拟杠杆仓位。StopLoss/TakeProfit 仅作为元数据保存，
// 价格触及时不会自动平仓。
type Position struct {
	ID         string    `json:"id"`
	Side       Side      `json:"side"`
	Size       float64   `json:"size"`
	Leverage   int       `json:"leverage"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Fill 是一条只追加的成交流水，Side 为仓位方向或 CLOSE/FLAT 标记。
type Fill struct {
	Time  time.Time `json:"time"`
	Side  string    `json:"side"`
	Size  float64   `json:"size"`
	Price float64   `json:"price"`
}

// PositionView 是带实时盈亏的仓位展示形态。
type PositionView struct {
	Position
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// LedgerState 是推给展示层的账本快照：稳定顺序的持仓 + 新在前的成交。
type LedgerState struct {
	Positions []PositionView `json:"positions"`
	Fills     []Fill         `json:"fills"`
}

// OpenRequest 携带下单面板的全部输入。
type OpenRequest struct {
	Side       Side    `json:"side"`
	Size       float64 `json:"size"`
	Leverage   int     `json:"leverage"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
}
