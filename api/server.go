package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"price_tracker/models"
	"price_tracker/storage"
)

// Server is the read-only HTTP surface consumed by the dashboard.
type Server struct {
	store  storage.Store
	router *gin.Engine
	http   *http.Server
}

func NewServer(addr string, store storage.Store) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		store:  store,
		router: router,
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in the background. It returns once the listener is running.
func (s *Server) Start() {
	go func() {
		log.Printf("HTTP API listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP API stopped: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	api := s.router.Group("/api")
	api.GET("/products", s.handleListProducts)
	api.GET("/products/:id", s.handleGetProduct)
	api.GET("/products/:id/history", s.handleHistory)
	api.GET("/runs/latest", s.handleLatestRun)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if _, err := s.store.CountProducts(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListProducts(c *gin.Context) {
	summaries, err := s.store.ListProductSummaries(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	if summaries == nil {
		summaries = []models.ProductSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"products": summaries})
}

func (s *Server) handleGetProduct(c *gin.Context) {
	product, ok := s.lookupProduct(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, product)
}

type historyStats struct {
	Latest *float64 `json:"latest"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	Avg    *float64 `json:"avg"`
	Count  int      `json:"count"`
}

type historyResponse struct {
	Product      *models.Product           `json:"product"`
	Observations []models.PriceObservation `json:"observations"`
	Stats        historyStats              `json:"stats"`
}

func (s *Server) handleHistory(c *gin.Context) {
	product, ok := s.lookupProduct(c)
	if !ok {
		return
	}

	history, err := s.store.PriceHistory(c.Request.Context(), product.ID)
	if err != nil {
		s.internalError(c, err)
		return
	}
	if history == nil {
		history = []models.PriceObservation{}
	}

	c.JSON(http.StatusOK, historyResponse{
		Product:      product,
		Observations: history,
		Stats:        summarize(history),
	})
}

func (s *Server) handleLatestRun(c *gin.Context) {
	run, err := s.store.LatestRun(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no runs yet"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) lookupProduct(c *gin.Context) (*models.Product, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return nil, false
	}

	product, err := s.store.GetProduct(c.Request.Context(), id)
	if err != nil {
		s.internalError(c, err)
		return nil, false
	}
	if product == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return nil, false
	}
	return product, true
}

func (s *Server) internalError(c *gin.Context, err error) {
	log.Printf("API %s %s: %v", c.Request.Method, c.FullPath(), err)
	status := http.StatusInternalServerError
	if errors.Is(err, storage.ErrPoolExhausted) {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": "internal error"})
}

// summarize expects history oldest first.
func summarize(history []models.PriceObservation) historyStats {
	stats := historyStats{Count: len(history)}
	if len(history) == 0 {
		return stats
	}

	latest := history[len(history)-1].Price
	lo, hi, sum := history[0].Price, history[0].Price, 0.0
	for _, obs := range history {
		if obs.Price < lo {
			lo = obs.Price
		}
		if obs.Price > hi {
			hi = obs.Price
		}
		sum += obs.Price
	}
	avg := sum / float64(len(history))

	stats.Latest = &latest
	stats.Min = &lo
	stats.Max = &hi
	stats.Avg = &avg
	return stats
}
