package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"papertrade/internal/logger"
	"papertrade/internal/market"

	gobinance "github.com/adshao/go-binance/v2"
)

// 现货 /api/v3/klines 单次最多 1000 根
const maxHistoryLimit = 1000

// Source 基于 go-binance SDK 的现货实现 market.Source。
//
// 一个 Source 同一时刻只维护一条 K 线订阅；再次 Subscribe 会先掐掉
// 上一条。连接断开不在这里重试：done 信号触发 OnDisconnect 并关闭
// 事件 channel，由上层决定何时重连。
type Source struct {
	cfg    Config
	client *gobinance.Client

	mu          sync.Mutex
	klineCancel context.CancelFunc

	statsMu sync.Mutex
	stats   market.SourceStats
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := gobinance.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	if final.ProxyEnabled {
		wsProxy := final.WSProxyURL
		if wsProxy == "" {
			wsProxy = final.RESTProxyURL
		}
		if wsProxy != "" {
			gobinance.SetWsProxyUrl(wsProxy)
		}
	}
	return &Source{cfg: final, client: client}, nil
}

func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	svc := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return out, nil
}

func (s *Source) Subscribe(ctx context.Context, symbol, interval string, opts market.SubscribeOptions) (<-chan market.CandleEvent, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	interval = strings.ToLower(strings.TrimSpace(interval))
	if symbol == "" || interval == "" {
		return nil, fmt.Errorf("symbol and interval are required for subscription")
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 512
	}
	out := make(chan market.CandleEvent, buffer)
	subCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.klineCancel != nil {
		s.klineCancel()
	}
	s.klineCancel = cancel
	s.mu.Unlock()

	var errMu sync.Mutex
	var lastErr error
	handler := func(event *gobinance.WsKlineEvent) {
		ce, ok := convertKlineEvent(event)
		if !ok {
			// 非 kline 或残缺消息：按条丢弃，连接保持
			return
		}
		select {
		case <-subCtx.Done():
		case out <- ce:
		default:
			logger.Warnf("[binance] kline channel full, drop %s %s", ce.Symbol, ce.Interval)
		}
	}
	errHandler := func(err error) {
		if err == nil {
			return
		}
		errMu.Lock()
		lastErr = err
		errMu.Unlock()
		logger.Warnf("[binance] ws error %s@%s: %v", symbol, interval, err)
	}

	doneC, stopC, err := gobinance.WsKlineServe(symbol, interval, handler, errHandler)
	if err != nil {
		cancel()
		s.recordSubscribeError(err)
		return nil, err
	}
	if opts.OnConnect != nil {
		opts.OnConnect()
	}

	go func() {
		defer close(out)
		select {
		case <-subCtx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
		}
		errMu.Lock()
		cause := lastErr
		errMu.Unlock()
		s.recordDisconnect(cause)
		if opts.OnDisconnect != nil {
			opts.OnDisconnect(cause)
		}
	}()
	return out, nil
}

func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.klineCancel != nil {
		s.klineCancel()
		s.klineCancel = nil
	}
	return nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func convertKlineEvent(ev *gobinance.WsKlineEvent) (market.CandleEvent, bool) {
	if ev == nil {
		return market.CandleEvent{}, false
	}
	symbol := strings.ToUpper(strings.TrimSpace(ev.Symbol))
	interval := strings.ToLower(strings.TrimSpace(ev.Kline.Interval))
	if symbol == "" || interval == "" || ev.Kline.StartTime <= 0 {
		return market.CandleEvent{}, false
	}
	return market.CandleEvent{
		Symbol:   symbol,
		Interval: interval,
		Final:    ev.Kline.IsFinal,
		Candle: market.Candle{
			OpenTime:  ev.Kline.StartTime,
			CloseTime: ev.Kline.EndTime,
			Open:      parseFloat(ev.Kline.Open),
			High:      parseFloat(ev.Kline.High),
			Low:       parseFloat(ev.Kline.Low),
			Close:     parseFloat(ev.Kline.Close),
			Volume:    parseFloat(ev.Kline.Volume),
			Trades:    ev.Kline.TradeNum,
		},
	}, true
}

func (s *Source) recordSubscribeError(err error) {
	if err == nil {
		return
	}
	s.statsMu.Lock()
	s.stats.SubscribeErrors++
	s.stats.LastError = err.Error()
	s.statsMu.Unlock()
}

func (s *Source) recordDisconnect(err error) {
	s.statsMu.Lock()
	s.stats.Disconnects++
	if err != nil && err.Error() != "" {
		s.stats.LastError = err.Error()
	}
	s.statsMu.Unlock()
}
