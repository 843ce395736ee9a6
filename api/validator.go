package api

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"MarketDesk/internal/model"
	"MarketDesk/internal/sim"
)

const maxCandleLimit = 1000

// OrderTicket is the request body of POST /orders.
type OrderTicket struct {
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Kind       string `json:"kind"`
	Quantity   string `json:"quantity"`
	LimitPrice string `json:"limit_price"`
}

// Validator sanitizes and validates request parameters before they reach the
// service layer.
type Validator struct {
	symbols     map[model.Symbol]struct{}
	timeframes  map[model.Timeframe]struct{}
	symbolRegex *regexp.Regexp
}

// NewValidator builds a validator for the configured symbols and timeframes.
func NewValidator(symbols []model.Symbol, timeframes []model.Timeframe) *Validator {
	symSet := make(map[model.Symbol]struct{}, len(symbols))
	for _, s := range symbols {
		symSet[s] = struct{}{}
	}
	tfSet := make(map[model.Timeframe]struct{}, len(timeframes))
	for _, tf := range timeframes {
		tfSet[tf] = struct{}{}
	}
	return &Validator{
		symbols:     symSet,
		timeframes:  tfSet,
		symbolRegex: regexp.MustCompile(`^[A-Z0-9]{5,12}$`),
	}
}

// ValidateSymbol sanitizes and checks a symbol parameter.
func (v *Validator) ValidateSymbol(raw string) (model.Symbol, error) {
	clean := strings.ToUpper(sanitizeInput(raw))
	if clean == "" {
		return "", errors.New("symbol parameter is required")
	}
	if !v.symbolRegex.MatchString(clean) {
		return "", errors.New("symbol must be 5-12 uppercase letters or digits")
	}
	sym := model.Symbol(clean)
	if _, ok := v.symbols[sym]; !ok {
		return "", fmt.Errorf("symbol %s is not tracked", sym)
	}
	return sym, nil
}

// ValidateTimeframe sanitizes and checks a timeframe parameter.
func (v *Validator) ValidateTimeframe(raw string) (model.Timeframe, error) {
	clean := sanitizeInput(raw)
	if clean == "" {
		return "", errors.New("timeframe parameter is required")
	}
	tf := model.Timeframe(clean)
	if _, ok := v.timeframes[tf]; !ok {
		return "", fmt.Errorf("invalid timeframe %q", clean)
	}
	return tf, nil
}

// ValidateSeriesRequest validates the (symbol, timeframe) pair.
func (v *Validator) ValidateSeriesRequest(symbol, timeframe string) (model.Symbol, model.Timeframe, error) {
	sym, err := v.ValidateSymbol(symbol)
	if err != nil {
		return "", "", err
	}
	tf, err := v.ValidateTimeframe(timeframe)
	if err != nil {
		return "", "", err
	}
	return sym, tf, nil
}

// ValidateCandlesRequest validates symbol, timeframe and limit.
func (v *Validator) ValidateCandlesRequest(symbol, timeframe, limitStr string) (model.Symbol, model.Timeframe, int, error) {
	sym, tf, err := v.ValidateSeriesRequest(symbol, timeframe)
	if err != nil {
		return "", "", 0, err
	}
	limit, err := validateLimit(limitStr)
	if err != nil {
		return "", "", 0, err
	}
	return sym, tf, limit, nil
}

// ValidateOrderTicket converts a ticket into a placement request. Quantity
// must be a positive decimal; limit orders additionally need a positive
// limit price.
func (v *Validator) ValidateOrderTicket(ticket OrderTicket) (sim.PlaceRequest, error) {
	sym, err := v.ValidateSymbol(ticket.Symbol)
	if err != nil {
		return sim.PlaceRequest{}, err
	}

	var side model.Side
	switch strings.ToUpper(sanitizeInput(ticket.Side)) {
	case string(model.SideBuy):
		side = model.SideBuy
	case string(model.SideSell):
		side = model.SideSell
	default:
		return sim.PlaceRequest{}, fmt.Errorf("side must be %s or %s", model.SideBuy, model.SideSell)
	}

	var kind model.Kind
	switch strings.ToUpper(sanitizeInput(ticket.Kind)) {
	case string(model.KindMarket):
		kind = model.KindMarket
	case string(model.KindLimit):
		kind = model.KindLimit
	default:
		return sim.PlaceRequest{}, fmt.Errorf("kind must be %s or %s", model.KindMarket, model.KindLimit)
	}

	quantity, err := decimal.NewFromString(sanitizeInput(ticket.Quantity))
	if err != nil {
		return sim.PlaceRequest{}, errors.New("quantity must be a decimal number")
	}

	var limitPrice decimal.Decimal
	if kind == model.KindLimit {
		limitPrice, err = decimal.NewFromString(sanitizeInput(ticket.LimitPrice))
		if err != nil {
			return sim.PlaceRequest{}, errors.New("limit_price must be a decimal number")
		}
	} else if sanitizeInput(ticket.LimitPrice) != "" {
		return sim.PlaceRequest{}, errors.New("limit_price is only valid for LIMIT orders")
	}

	return sim.PlaceRequest{
		Symbol:     sym,
		Side:       side,
		Kind:       kind,
		Quantity:   quantity,
		LimitPrice: limitPrice,
	}, nil
}

// validateLimit parses the candle limit parameter. Empty means no limit.
func validateLimit(limitStr string) (int, error) {
	if limitStr == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(sanitizeInput(limitStr))
	if err != nil {
		return 0, errors.New("limit must be a valid number")
	}
	if limit < 0 || limit > maxCandleLimit {
		return 0, fmt.Errorf("limit must be between 0 and %d (0 means no limit)", maxCandleLimit)
	}
	return limit, nil
}

// sanitizeInput trims whitespace, strips control characters and bounds the
// input length.
func sanitizeInput(input string) string {
	input = strings.TrimSpace(input)
	input = strings.Map(func(r rune) rune {
		if r < 32 {
			return -1
		}
		return r
	}, input)
	if len(input) > 100 {
		input = input[:100]
	}
	return input
}
