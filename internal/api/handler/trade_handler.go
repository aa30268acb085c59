package handler

import (
	"context"
	"net/http"

	"github.com/evetabi/predex/internal/amm"
	"github.com/evetabi/predex/internal/api/middleware"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeHandler serves AMM trades, limit orders, liquidity and claims.
type TradeHandler struct {
	tradeSvc     *service.TradeService
	orderSvc     *service.OrderService
	liquiditySvc *service.LiquidityService
	claimSvc     *service.ClaimService
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(
	tradeSvc *service.TradeService,
	orderSvc *service.OrderService,
	liquiditySvc *service.LiquidityService,
	claimSvc *service.ClaimService,
) *TradeHandler {
	return &TradeHandler{tradeSvc: tradeSvc, orderSvc: orderSvc, liquiditySvc: liquiditySvc, claimSvc: claimSvc}
}

type tradeBody struct {
	Outcome string          `json:"outcome" binding:"required"`
	Amount  decimal.Decimal `json:"amount"`
	MinOut  decimal.Decimal `json:"min_out"`
}

type orderBody struct {
	MarketID uuid.UUID       `json:"market_id" binding:"required"`
	Outcome  string          `json:"outcome"   binding:"required"`
	Side     domain.Side     `json:"side"      binding:"required"`
	Price    decimal.Decimal `json:"price"`
	Amount   decimal.Decimal `json:"amount"`
}

type amountBody struct {
	Amount decimal.Decimal `json:"amount"`
}

// Buy godoc
// POST /api/markets/:id/buy [JWT required]
func (h *TradeHandler) Buy(c *gin.Context) {
	h.trade(c, h.tradeSvc.Buy)
}

// Sell godoc
// POST /api/markets/:id/sell [JWT required]
func (h *TradeHandler) Sell(c *gin.Context) {
	h.trade(c, h.tradeSvc.Sell)
}

func (h *TradeHandler) trade(c *gin.Context, exec func(ctx context.Context, req domain.TradeRequest) (*service.TradeResult, error)) {
	id, ok := ParseID(c, "id")
	if !ok {
		return
	}
	var body tradeBody
	if !bindJSON(c, &body) {
		return
	}
	outcome, ok := parseOutcome(c, body.Outcome)
	if !ok {
		return
	}
	res, err := exec(c.Request.Context(), domain.TradeRequest{
		User:     middleware.GetCaller(c).Address,
		MarketID: id,
		Outcome:  outcome,
		Amount:   body.Amount,
		MinOut:   body.MinOut,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, res)
}

// PlaceOrder godoc
// POST /api/orders [JWT required]
func (h *TradeHandler) PlaceOrder(c *gin.Context) {
	var body orderBody
	if !bindJSON(c, &body) {
		return
	}
	outcome, ok := parseOutcome(c, body.Outcome)
	if !ok {
		return
	}
	res, err := h.orderSvc.PlaceLimitOrder(c.Request.Context(), domain.PlaceOrderRequest{
		User:     middleware.GetCaller(c).Address,
		MarketID: body.MarketID,
		Outcome:  outcome,
		Side:     body.Side,
		Price:    body.Price,
		Amount:   body.Amount,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, res)
}

// CancelOrder godoc
// DELETE /api/orders/:id [JWT required]
func (h *TradeHandler) CancelOrder(c *gin.Context) {
	id, ok := ParseID(c, "id")
	if !ok {
		return
	}
	order, err := h.orderSvc.CancelOrder(c.Request.Context(), middleware.GetCaller(c).Address, id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, order)
}

// AddLiquidity godoc
// POST /api/markets/:id/liquidity [JWT required]
func (h *TradeHandler) AddLiquidity(c *gin.Context) {
	h.liquidity(c, h.liquiditySvc.Add)
}

// RemoveLiquidity godoc
// DELETE /api/markets/:id/liquidity [JWT required]
func (h *TradeHandler) RemoveLiquidity(c *gin.Context) {
	h.liquidity(c, h.liquiditySvc.Remove)
}

func (h *TradeHandler) liquidity(c *gin.Context, exec func(ctx context.Context, req domain.LiquidityRequest) (*amm.LiquidityChange, error)) {
	id, ok := ParseID(c, "id")
	if !ok {
		return
	}
	var body amountBody
	if !bindJSON(c, &body) {
		return
	}
	change, err := exec(c.Request.Context(), domain.LiquidityRequest{
		User:     middleware.GetCaller(c).Address,
		MarketID: id,
		Amount:   body.Amount,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, change)
}

// Claim godoc
// POST /api/markets/:id/claim [JWT required]
func (h *TradeHandler) Claim(c *gin.Context) {
	id, ok := ParseID(c, "id")
	if !ok {
		return
	}
	res, err := h.claimSvc.Claim(c.Request.Context(), middleware.GetCaller(c).Address, id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, res)
}
