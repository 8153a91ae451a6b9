package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"kgrid/internal/gateway/binance"
	"kgrid/internal/logger"
	"kgrid/internal/market"
	"kgrid/internal/orchestrator"

	"github.com/gin-gonic/gin"
)

// DepthProvider 是订单簿查询的窄接口，由 binance 网关实现。
type DepthProvider interface {
	GetOrderBook(ctx context.Context, symbol string, depth int) (*binance.OrderBook, error)
}

// Server 暴露范围查询的最小 HTTP 面：K 线、最新价、订单簿。
type Server struct {
	addr   string
	router *gin.Engine
	http   *http.Server
}

type ServerConfig struct {
	Addr  string
	Orch  *orchestrator.Orchestrator
	Depth DepthProvider
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orch == nil {
		return nil, errors.New("http server requires an orchestrator")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8642"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := router.Group("/api/v1")
	h := &handlers{orch: cfg.Orch, depth: cfg.Depth}
	api.GET("/klines", h.klines)
	api.GET("/price", h.price)
	if cfg.Depth != nil {
		api.GET("/depth", h.orderBook)
	}

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Run blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Infof("[http] listening on %s", s.addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

type handlers struct {
	orch  *orchestrator.Orchestrator
	depth DepthProvider
}

func (h *handlers) klines(c *gin.Context) {
	symbol := c.Query("symbol")
	g := market.ParseGranularity(c.Query("interval"))
	if symbol == "" || !g.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and a known interval are required"})
		return
	}
	begin, err1 := strconv.ParseInt(c.Query("start"), 10, 64)
	end, err2 := strconv.ParseInt(c.Query("end"), 10, 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start/end must be millisecond timestamps"})
		return
	}
	opts := orchestrator.Options{EnsureLatest: c.Query("ensure_latest") == "true"}
	candles, err := h.orch.Retrieve(c.Request.Context(), symbol, g, begin, end, opts)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":   symbol,
		"interval": g.Name,
		"count":    len(candles),
		"candles":  candles,
	})
}

func (h *handlers) price(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	price, err := h.orch.Price(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "price": price})
}

func (h *handlers) orderBook(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	depth, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	book, err := h.depth.GetOrderBook(c.Request.Context(), symbol, depth)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, book)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("[http] %s %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
