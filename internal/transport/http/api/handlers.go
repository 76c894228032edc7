package apihttp

import (
	"errors"
	"net/http"

	"papertrade/internal/analysis/indicator"
	"papertrade/internal/config"
	"papertrade/internal/market"
	"papertrade/internal/trading"

	"github.com/gin-gonic/gin"
)

type handlers struct {
	series    *market.Series
	sync      *market.Synchronizer
	ledger    *trading.Ledger
	watchlist *config.WatchlistLoader
	trading   config.TradingConfig
}

func (h *handlers) register(g *gin.RouterGroup) {
	mkt := g.Group("/market")
	{
		mkt.GET("/klines", h.klines)
		mkt.GET("/status", h.status)
		mkt.GET("/watchlist", h.watchlistSnapshot)
		mkt.GET("/indicators", h.indicators)
		mkt.POST("/select", h.selectPair)
		mkt.POST("/reconnect", h.reconnect)
	}
	trd := g.Group("/trading")
	{
		trd.GET("/state", h.tradingState)
		trd.POST("/orders", h.placeOrder)
		trd.POST("/positions/:id/close", h.closePosition)
		trd.POST("/close-all", h.closeAll)
	}
}

func (h *handlers) klines(c *gin.Context) {
	sym, iv := h.sync.Selection()
	resp := gin.H{
		"symbol":   sym,
		"interval": iv,
		"candles":  market.ToChartPoints(h.series.Snapshot()),
	}
	if sum, ok := h.series.Summary(); ok {
		resp["price"] = sum
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.sync.Status())
}

func (h *handlers) watchlistSnapshot(c *gin.Context) {
	if h.watchlist == nil {
		c.JSON(http.StatusOK, config.DefaultWatchlist())
		return
	}
	c.JSON(http.StatusOK, h.watchlist.Snapshot())
}

func (h *handlers) indicators(c *gin.Context) {
	sym, iv := h.sync.Selection()
	rep, err := indicator.Compute(sym, iv, h.series.Snapshot(), indicator.Settings{})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no candle data yet"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

type selectRequest struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

func (h *handlers) selectPair(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.sync.Select(c.Request.Context(), req.Symbol, req.Interval); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, market.ErrInvalidSelection) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	sym, iv := h.sync.Selection()
	c.JSON(http.StatusOK, gin.H{"symbol": sym, "interval": iv, "bars": h.series.Len()})
}

func (h *handlers) reconnect(c *gin.Context) {
	if err := h.sync.Reconnect(c.Request.Context()); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, market.ErrNoSelection) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.sync.Status())
}

func (h *handlers) tradingState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":            h.ledger.State(),
		"default_leverage": h.trading.DefaultLeverage,
		"max_leverage":     h.trading.MaxLeverage,
	})
}

func (h *handlers) placeOrder(c *gin.Context) {
	var req trading.OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Leverage <= 0 {
		req.Leverage = h.trading.DefaultLeverage
	}
	pos, err := h.ledger.Open(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": pos})
}

func (h *handlers) closePosition(c *gin.Context) {
	id := c.Param("id")
	if err := h.ledger.Close(id); err != nil {
		if errors.Is(err, trading.ErrNotFound) {
			// 重复平仓按无害 no-op 处理，不报错到用户
			c.JSON(http.StatusOK, gin.H{"closed": false})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

func (h *handlers) closeAll(c *gin.Context) {
	n := h.ledger.CloseAll()
	c.JSON(http.StatusOK, gin.H{"closed": n})
}
