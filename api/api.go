package api

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"MarketDesk/internal/model"
	"MarketDesk/internal/service"
	"MarketDesk/internal/sim"
)

// This file is the entry point of the API package. The package is organized as:
// - api.go: handler struct, dependencies and routing (this file)
// - handler.go: HTTP request handlers
// - middleware.go: middleware functions
// - validator.go: request validation

const (
	DefaultTimeframe    = model.Timeframe1m
	ServiceVersion      = "1.0.0"
	ServiceName         = "marketdesk"
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
)

// MarketService is the surface the handlers need from the service layer.
type MarketService interface {
	Symbols() []model.Symbol
	Timeframes() []model.Timeframe
	Prices() []model.PricePoint
	Price(symbol model.Symbol) (model.PricePoint, error)
	Candles(symbol model.Symbol, tf model.Timeframe, limit int, includeCurrent bool) ([]model.Candle, error)
	CurrentCandle(symbol model.Symbol, tf model.Timeframe) (model.Candle, error)
	CandleCountdown(symbol model.Symbol, tf model.Timeframe) (service.Countdown, error)
	PlaceOrder(req sim.PlaceRequest) model.Order
	Order(id string) (model.Order, error)
	Orders() []model.Order
	Wallet() model.WalletSnapshot
	ActiveSymbol() model.Symbol
	SwitchSymbol(symbol model.Symbol) error
	Health() service.Health
}

// APIHandler handles HTTP requests using the Gin framework.
type APIHandler struct {
	market    MarketService
	validator *Validator
	logger    *slog.Logger
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(market MarketService, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{
		market:    market,
		validator: NewValidator(market.Symbols(), market.Timeframes()),
		logger:    logger,
	}
}

// StartServer starts the HTTP server.
func (h *APIHandler) StartServer(port int) error {
	router := h.SetupRoutes()
	return router.Run(":" + strconv.Itoa(port))
}

// SetupRoutes configures all API routes.
func (h *APIHandler) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(requestIDMiddleware())
	router.Use(ginLoggerMiddleware())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/health", h.HealthCheck)
	router.GET("/prices", h.GetPrices)
	router.GET("/prices/:symbol", h.GetPrice)
	router.GET("/candles", h.GetCandles)
	router.GET("/candles/current", h.GetCurrentCandle)
	router.GET("/countdown", h.GetCountdown)
	router.GET("/wallet", h.GetWallet)
	router.GET("/orders", h.GetOrders)
	router.GET("/orders/:id", h.GetOrder)
	router.POST("/orders", h.PlaceOrder)
	router.GET("/active", h.GetActiveSymbol)
	router.PUT("/active", h.SwitchActiveSymbol)

	return router
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
