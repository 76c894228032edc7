package trading

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"papertrade/internal/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidOrder 表示下单输入不合法（金额非正/非有限，或还没有行情价）。
	ErrInvalidOrder = errors.New("invalid order")

	// ErrNotFound 表示平仓目标不存在。调用方应当按无害 no-op 处理
	// （连点两次平仓不应报错到用户）。
	ErrNotFound = errors.New("position not found")
)

// PriceFunc 报告当前最新收盘价；行情未就绪时 ok 为 false。
type PriceFunc func() (price float64, ok bool)

// Ledger 维护模拟持仓与只追加的成交流水。
//
// 变更只来自用户意图（开仓/平仓/全平），由互斥锁串行化；
// 未实现盈亏是 (仓位, 最新价) 的纯函数，每次读取现算，从不缓存。
type Ledger struct {
	mu        sync.Mutex
	positions []Position
	fills     []Fill

	price       PriceFunc
	maxLeverage int
	maxFills    int
	now         func() time.Time
	onChange    func(LedgerState)
}

// LedgerOption 定制账本行为。
type LedgerOption func(*Ledger)

// WithMaxLeverage 限制允许的最大杠杆（默认 125）。
func WithMaxLeverage(max int) LedgerOption {
	return func(l *Ledger) {
		if max > 0 {
			l.maxLeverage = max
		}
	}
}

// WithMaxFillsShown 限制快照里返回的成交条数（默认 50，流水本身不截断）。
func WithMaxFillsShown(max int) LedgerOption {
	return func(l *Ledger) {
		if max > 0 {
			l.maxFills = max
		}
	}
}

// WithChangeHandler 注册账本变更回调，在每次成功变更后携带新快照调用。
func WithChangeHandler(handler func(LedgerState)) LedgerOption {
	return func(l *Ledger) { l.onChange = handler }
}

// WithClock 替换时间源（测试用）。
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger 创建空账本；price 通常接到 Series.LatestClose。
func NewLedger(price PriceFunc, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		price:       price,
		maxLeverage: 125,
		maxFills:    50,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Open 以当前最新价开一笔模拟仓位并记录对应成交。
func (l *Ledger) Open(req OpenRequest) (Position, error) {
	if !req.Side.Valid() {
		return Position{}, fmt.Errorf("%w: side %q", ErrInvalidOrder, req.Side)
	}
	if req.Size <= 0 || math.IsNaN(req.Size) || math.IsInf(req.Size, 0) {
		return Position{}, fmt.Errorf("%w: size must be a positive finite number", ErrInvalidOrder)
	}
	entry, ok := l.latestPrice()
	if !ok {
		return Position{}, fmt.Errorf("%w: no price data yet", ErrInvalidOrder)
	}
	lev := req.Leverage
	if lev < 1 {
		lev = 1
	}
	if lev > l.maxLeverage {
		lev = l.maxLeverage
	}

	l.mu.Lock()
	pos := Position{
		ID:         uuid.NewString(),
		Side:       req.Side,
		Size:       req.Size,
		Leverage:   lev,
		EntryPrice: entry,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenedAt:   l.now(),
	}
	l.positions = append(l.positions, pos)
	l.fills = append(l.fills, Fill{
		Time:  pos.OpenedAt,
		Side:  string(pos.Side),
		Size:  pos.Size,
		Price: entry,
	})
	state := l.stateLocked()
	l.mu.Unlock()

	logger.Infof("[ledger] 开仓 %s %s size=%.4f lev=%dx entry=%.2f", pos.ID[:8], pos.Side, pos.Size, pos.Leverage, entry)
	l.notify(state)
	return pos, nil
}

// Close 按当前最新价平掉指定仓位。目标不存在时返回 ErrNotFound，
// 不追加成交（两次快速点击只会落一条 CLOSE 流水）。
func (l *Ledger) Close(id string) error {
	l.mu.Lock()
	idx := -1
	for i, p := range l.positions {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	pos := l.positions[idx]
	l.positions = append(l.positions[:idx], l.positions[idx+1:]...)
	price, ok := l.latestPrice()
	if !ok {
		// 切换序列导致行情暂不可用时退回开仓价记账
		price = pos.EntryPrice
	}
	l.fills = append(l.fills, Fill{
		Time:  l.now(),
		Side:  FillClose,
		Size:  pos.Size,
		Price: price,
	})
	state := l.stateLocked()
	l.mu.Unlock()

	logger.Infof("[ledger] 平仓 %s @ %.2f", id[:8], price)
	l.notify(state)
	return nil
}

// CloseAll 平掉全部仓位并记一条 FLAT 标记（size 0）。空账本是 no-op，不产生流水。
func (l *Ledger) CloseAll() int {
	l.mu.Lock()
	n := len(l.positions)
	if n == 0 {
		l.mu.Unlock()
		return 0
	}
	l.positions = nil
	price, _ := l.latestPrice()
	l.fills = append(l.fills, Fill{
		Time:  l.now(),
		Side:  FillFlat,
		Size:  0,
		Price: price,
	})
	state := l.stateLocked()
	l.mu.Unlock()

	logger.Infof("[ledger] 全部平仓（%d 笔）@ %.2f", n, price)
	l.notify(state)
	return n
}

// UnrealizedPnL 计算仓位的未实现盈亏：
//
//	size × leverage × dir × (last − entry) / entry
//
// 行情未就绪时返回 0。纯读操作，可与行情更新任意并发。
func (l *Ledger) UnrealizedPnL(p Position) float64 {
	last, ok := l.latestPrice()
	if !ok {
		return 0
	}
	return unrealizedPnL(p, last)
}

// unrealizedPnL 用 decimal 计算，避免 float 链式运算的精度噪声。
func unrealizedPnL(p Position, last float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	entry := decimal.NewFromFloat(p.EntryPrice)
	change := decimal.NewFromFloat(last).Sub(entry)
	notional := decimal.NewFromFloat(p.Size).Mul(decimal.NewFromInt(int64(p.Leverage)))
	dir := decimal.NewFromInt(p.Side.directionSign())
	out, _ := notional.Mul(dir).Mul(change).Div(entry).Float64()
	return out
}

// State 返回带实时盈亏的账本快照。
func (l *Ledger) State() LedgerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked()
}

// stateLocked 在持锁状态下组装快照。持仓保持开仓顺序；成交新在前，
// 截断到展示上限。
func (l *Ledger) stateLocked() LedgerState {
	last, priced := l.latestPrice()
	views := make([]PositionView, len(l.positions))
	for i, p := range l.positions {
		views[i] = PositionView{Position: p}
		if priced {
			views[i].UnrealizedPnL = unrealizedPnL(p, last)
		}
	}
	n := len(l.fills)
	limit := n
	if limit > l.maxFills {
		limit = l.maxFills
	}
	fills := make([]Fill, 0, limit)
	for i := n - 1; i >= 0 && len(fills) < limit; i-- {
		fills = append(fills, l.fills[i])
	}
	return LedgerState{Positions: views, Fills: fills}
}

// OpenCount 返回当前持仓数。
func (l *Ledger) OpenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

// FillCount 返回累计成交条数（未截断）。
func (l *Ledger) FillCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fills)
}

func (l *Ledger) latestPrice() (float64, bool) {
	if l.price == nil {
		return 0, false
	}
	return l.price()
}

func (l *Ledger) notify(state LedgerState) {
	if l.onChange != nil {
		l.onChange(state)
	}
}
