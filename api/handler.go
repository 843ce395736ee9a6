package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"MarketDesk/internal/service"
)

// HealthCheck handles GET /health requests.
func (h *APIHandler) HealthCheck(c *gin.Context) {
	health := h.market.Health()
	c.JSON(http.StatusOK, gin.H{
		"status":         health.Status,
		"service":        ServiceName,
		"version":        ServiceVersion,
		"timestamp":      nowRFC3339(),
		"symbols":        health.Symbols,
		"pending_orders": health.PendingOrders,
	})
}

// GetPrices handles GET /prices requests.
func (h *APIHandler) GetPrices(c *gin.Context) {
	c.JSON(http.StatusOK, h.market.Prices())
}

// GetPrice handles GET /prices/:symbol requests.
func (h *APIHandler) GetPrice(c *gin.Context) {
	symbol, err := h.validator.ValidateSymbol(c.Param("symbol"))
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	point, err := h.market.Price(symbol)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, point)
}

// GetCandles handles GET /candles requests. The response holds the closed
// history oldest first; with current=true the open candle is appended.
func (h *APIHandler) GetCandles(c *gin.Context) {
	symbol, tf, limit, err := h.validator.ValidateCandlesRequest(
		c.Query("symbol"),
		c.DefaultQuery("timeframe", string(DefaultTimeframe)),
		c.Query("limit"),
	)
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	includeCurrent := c.DefaultQuery("current", "true") == "true"

	candles, err := h.market.Candles(symbol, tf, limit, includeCurrent)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, candles)
}

// GetCurrentCandle handles GET /candles/current requests.
func (h *APIHandler) GetCurrentCandle(c *gin.Context) {
	symbol, tf, err := h.validator.ValidateSeriesRequest(
		c.Query("symbol"),
		c.DefaultQuery("timeframe", string(DefaultTimeframe)),
	)
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	candle, err := h.market.CurrentCandle(symbol, tf)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	countdown, err := h.market.CandleCountdown(symbol, tf)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"candle":       candle,
		"remaining_ms": countdown.Remaining,
		"closes_at":    countdown.ClosesAt,
	})
}

// GetCountdown handles GET /countdown requests.
func (h *APIHandler) GetCountdown(c *gin.Context) {
	symbol, tf, err := h.validator.ValidateSeriesRequest(
		c.Query("symbol"),
		c.DefaultQuery("timeframe", string(DefaultTimeframe)),
	)
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	countdown, err := h.market.CandleCountdown(symbol, tf)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, countdown)
}

// GetWallet handles GET /wallet requests.
func (h *APIHandler) GetWallet(c *gin.Context) {
	c.JSON(http.StatusOK, h.market.Wallet())
}

// GetOrders handles GET /orders requests.
func (h *APIHandler) GetOrders(c *gin.Context) {
	c.JSON(http.StatusOK, h.market.Orders())
}

// GetOrder handles GET /orders/:id requests.
func (h *APIHandler) GetOrder(c *gin.Context) {
	order, err := h.market.Order(c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// PlaceOrder handles POST /orders requests. A rejected order is a successful
// placement; the rejection is reported in the order body, not the status code.
func (h *APIHandler) PlaceOrder(c *gin.Context) {
	var ticket OrderTicket
	if err := c.ShouldBindJSON(&ticket); err != nil {
		h.handleValidationError(c, err)
		return
	}

	req, err := h.validator.ValidateOrderTicket(ticket)
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.market.PlaceOrder(req))
}

// GetActiveSymbol handles GET /active requests.
func (h *APIHandler) GetActiveSymbol(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"symbol": h.market.ActiveSymbol()})
}

// SwitchActiveSymbol handles PUT /active requests.
func (h *APIHandler) SwitchActiveSymbol(c *gin.Context) {
	var body struct {
		Symbol string `json:"symbol"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		h.handleValidationError(c, err)
		return
	}

	symbol, err := h.validator.ValidateSymbol(body.Symbol)
	if err != nil {
		h.handleValidationError(c, err)
		return
	}
	if err := h.market.SwitchSymbol(symbol); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol})
}

// handleServiceError maps service errors to HTTP status codes.
func (h *APIHandler) handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUnknownSymbol), errors.Is(err, service.ErrUnknownTimeframe):
		h.handleError(c, err, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrOrderNotFound):
		h.handleError(c, err, http.StatusNotFound, err.Error())
	default:
		h.handleError(c, err, http.StatusServiceUnavailable, err.Error())
	}
}

// handleError logs the error and sends the HTTP response.
func (h *APIHandler) handleError(c *gin.Context, err error, statusCode int, userMessage string) {
	requestID := "unknown"
	if id, exists := c.Get(RequestIDContextKey); exists {
		if s, ok := id.(string); ok {
			requestID = s
		}
	}

	h.logger.Error("API error",
		slog.String("request_id", requestID),
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("error", err.Error()),
		slog.Int("status_code", statusCode),
	)

	c.JSON(statusCode, gin.H{
		"error":      userMessage,
		"request_id": requestID,
	})
}

func (h *APIHandler) handleValidationError(c *gin.Context, err error) {
	h.handleError(c, err, http.StatusBadRequest, err.Error())
}
