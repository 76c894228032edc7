package apihttp

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"papertrade/internal/config"
	"papertrade/internal/logger"
	"papertrade/internal/market"
	"papertrade/internal/trading"
	webassets "papertrade/internal/transport/web"

	"github.com/gin-gonic/gin"
)

// Server 暴露图表页面、REST API 与 websocket 推送。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述 HTTP 服务的全部依赖。
type ServerConfig struct {
	Addr      string
	Series    *market.Series
	Sync      *market.Synchronizer
	Ledger    *trading.Ledger
	Watchlist *config.WatchlistLoader
	Trading   config.TradingConfig
	Hub       *Hub
}

// NewServer 构建 HTTP server（不启动）。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Series == nil || cfg.Sync == nil || cfg.Ledger == nil {
		return nil, errors.New("http server requires series, synchronizer and ledger")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	if err := serveStatic(router); err != nil {
		return nil, err
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handlers{
		series:    cfg.Series,
		sync:      cfg.Sync,
		ledger:    cfg.Ledger,
		watchlist: cfg.Watchlist,
		trading:   cfg.Trading,
	}
	h.register(router.Group("/api"))
	router.GET("/chart", h.chartSnapshot)

	if cfg.Hub != nil {
		router.GET("/ws", cfg.Hub.ServeWS)
	}

	return &Server{addr: cfg.Addr, router: router}, nil
}

func serveStatic(router *gin.Engine) error {
	sub, err := fs.Sub(webassets.Static, "static")
	if err != nil {
		return err
	}
	fileServer := http.FileServer(http.FS(sub))
	router.GET("/", func(c *gin.Context) {
		c.Request.URL.Path = "/index.html"
		fileServer.ServeHTTP(c.Writer, c.Request)
	})
	for _, asset := range []string{"/index.html", "/app.js", "/style.css"} {
		router.GET(asset, func(c *gin.Context) {
			fileServer.ServeHTTP(c.Writer, c.Request)
		})
	}
	return nil
}

// requestLogger 记录接口调用，便于追踪前端操作。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Router 暴露底层 gin 路由（测试用）。
func (s *Server) Router() http.Handler {
	return s.router
}

// Start 启动 HTTP 服务，直到 ctx 取消或出错。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[http] 服务启动于 %s", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
