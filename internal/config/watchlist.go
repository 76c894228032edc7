package config

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"papertrade/internal/logger"
	"papertrade/internal/market"
	"papertrade/internal/pkg/symbol"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Watchlist 是工具栏可选的交易对与周期。
type Watchlist struct {
	Symbols   []string `yaml:"symbols" json:"symbols"`
	Intervals []string `yaml:"intervals" json:"intervals"`
}

// DefaultWatchlist 是没有配置文件时的内置候选。
func DefaultWatchlist() Watchlist {
	return Watchlist{
		Symbols:   []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "BNB/USDT"},
		Intervals: []string{"1m", "5m", "15m", "1h", "4h", "1d"},
	}
}

func (w Watchlist) normalized() (Watchlist, error) {
	out := Watchlist{
		Symbols: symbol.NormalizeList(w.Symbols),
	}
	for _, iv := range w.Intervals {
		norm := market.NormalizeInterval(iv)
		if norm == "" {
			return Watchlist{}, fmt.Errorf("watchlist interval 不合法: %q", iv)
		}
		out.Intervals = append(out.Intervals, norm)
	}
	if len(out.Symbols) == 0 {
		return Watchlist{}, fmt.Errorf("watchlist 没有可用 symbol")
	}
	if len(out.Intervals) == 0 {
		return Watchlist{}, fmt.Errorf("watchlist 没有可用 interval")
	}
	return out, nil
}

// Contains 判断 (symbol, interval) 是否在候选集合内。
func (w Watchlist) Contains(sym, interval string) bool {
	normSym := symbol.Normalize(sym)
	normIv := market.NormalizeInterval(interval)
	var symOK, ivOK bool
	for _, s := range w.Symbols {
		if s == normSym {
			symOK = true
			break
		}
	}
	for _, iv := range w.Intervals {
		if iv == normIv {
			ivOK = true
			break
		}
	}
	return symOK && ivOK
}

func readWatchlistFile(path string) (Watchlist, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Watchlist{}, fmt.Errorf("read watchlist failed: %w", err)
	}
	var w Watchlist
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&w); err != nil {
		return Watchlist{}, fmt.Errorf("parse watchlist failed: %w", err)
	}
	return w.normalized()
}

// WatchlistLoader 持有当前 watchlist 快照并监听文件变化热加载。
// 解析失败时保留上一份可用内容。
type WatchlistLoader struct {
	mu      sync.RWMutex
	path    string
	current Watchlist
	onSwap  func(Watchlist)
	watcher *viper.Viper
}

// NewWatchlistLoader 读取初始内容；path 为空或文件缺失时退回内置默认，不视为错误。
func NewWatchlistLoader(path string) *WatchlistLoader {
	loader := &WatchlistLoader{path: path, current: DefaultWatchlist()}
	if path == "" {
		return loader
	}
	initial, err := readWatchlistFile(path)
	if err != nil {
		logger.Warnf("[watchlist] 读取 %s 失败，使用内置默认: %v", path, err)
		return loader
	}
	loader.current = initial
	return loader
}

// OnSwap 注册热加载成功后的回调。
func (l *WatchlistLoader) OnSwap(fn func(Watchlist)) {
	l.mu.Lock()
	l.onSwap = fn
	l.mu.Unlock()
}

// Watch 开始监听文件变化。没有文件路径时是 no-op。
func (l *WatchlistLoader) Watch() {
	if l.path == "" {
		return
	}
	v := viper.New()
	v.SetConfigFile(l.path)
	v.OnConfigChange(func(evt fsnotify.Event) {
		next, err := readWatchlistFile(l.path)
		if err != nil {
			logger.Errorf("[watchlist] 热加载失败 (%s)，沿用旧内容: %v", evt.Name, err)
			return
		}
		l.mu.Lock()
		l.current = next
		fn := l.onSwap
		l.mu.Unlock()
		logger.Infof("[watchlist] 已热加载：%d symbols / %d intervals", len(next.Symbols), len(next.Intervals))
		if fn != nil {
			fn(next)
		}
	})
	v.WatchConfig()
	l.mu.Lock()
	l.watcher = v
	l.mu.Unlock()
}

// Snapshot 返回当前 watchlist 的拷贝。
func (l *WatchlistLoader) Snapshot() Watchlist {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := Watchlist{
		Symbols:   append([]string(nil), l.current.Symbols...),
		Intervals: append([]string(nil), l.current.Intervals...),
	}
	return out
}
