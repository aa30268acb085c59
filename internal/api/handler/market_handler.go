package handler

import (
	"net/http"
	"time"

	"github.com/evetabi/predex/internal/api/middleware"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/evetabi/predex/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// MarketHandler serves market query and creation endpoints.
type MarketHandler struct {
	marketSvc *service.MarketService
	tradeSvc  *service.TradeService
	orderSvc  *service.OrderService
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(marketSvc *service.MarketService, tradeSvc *service.TradeService, orderSvc *service.OrderService) *MarketHandler {
	return &MarketHandler{marketSvc: marketSvc, tradeSvc: tradeSvc, orderSvc: orderSvc}
}

// CreateMarketBody is the JSON body of a market creation request.
type CreateMarketBody struct {
	Kind             domain.MarketKind `json:"kind"      binding:"required"`
	Question         string            `json:"question"  binding:"required"`
	EndTime          time.Time         `json:"end_time"  binding:"required"`
	Liquidity        decimal.Decimal   `json:"liquidity"`
	FeeRate          decimal.Decimal   `json:"fee_rate"`
	Options          []string          `json:"options"`
	OracleSymbol     string            `json:"oracle_symbol"`
	OracleTarget     decimal.Decimal   `json:"oracle_target"`
	OracleComparator domain.Comparator `json:"oracle_comparator"`
	ContractAddress  string            `json:"contract_address"`
}

// Request converts the body into a domain request on behalf of caller.
func (b CreateMarketBody) Request(caller domain.Caller) domain.CreateMarketRequest {
	return domain.CreateMarketRequest{
		Caller:           caller,
		Kind:             b.Kind,
		Question:         b.Question,
		EndTime:          b.EndTime,
		Liquidity:        b.Liquidity,
		FeeRate:          b.FeeRate,
		Options:          b.Options,
		OracleSymbol:     b.OracleSymbol,
		OracleTarget:     b.OracleTarget,
		OracleComparator: b.OracleComparator,
		ContractAddress:  b.ContractAddress,
	}
}

// Create godoc
// POST /api/markets [JWT required]
func (h *MarketHandler) Create(c *gin.Context) {
	var body CreateMarketBody
	if !bindJSON(c, &body) {
		return
	}
	view, err := h.marketSvc.Create(c.Request.Context(), body.Request(middleware.GetCaller(c)))
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, view)
}

// GetByID godoc
// GET /api/markets/:id
func (h *MarketHandler) GetByID(c *gin.Context) {
	id, ok := ParseID(c, "id")
	if !ok {
		return
	}
	view, err := h.marketSvc.Get(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, view)
}

// ListMarkets godoc
// GET /api/markets?status=active&page=1&limit=20
func (h *MarketHandler) ListMarkets(c *gin.Context) {
	page, limit := parsePagination(c)
	views, err := h.marketSvc.List(c.Request.Context(), repository.MarketFilter{
		Status: domain.MarketStatus(c.Query("status")),
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondList(c, views, len(views), page, limit)
}

// OrderBook godoc
// GET /api/markets/:id/orderbook?outcome=YES
func (h *MarketHandler) OrderBook(c *gin.Context) {
	id, ok := ParseID(c, "id")
	if !ok {
		return
	}
	outcome, ok := parseOutcome(c, c.DefaultQuery("outcome", "YES"))
	if !ok {
		return
	}
	book, err := h.orderSvc.GetOrderBook(c.Request.Context(), id, outcome)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, book)
}

// Quote godoc
// GET /api/markets/:id/quote?outcome=YES&side=buy&amount=10
func (h *MarketHandler) Quote(c *gin.Context) {
	id, ok := ParseID(c, "id")
	if !ok {
		return
	}
	outcome, ok := parseOutcome(c, c.DefaultQuery("outcome", "YES"))
	if !ok {
		return
	}
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		RespondDomainError(c, domain.ErrInvalidAmount)
		return
	}
	side := domain.Side(c.DefaultQuery("side", string(domain.SideBuy)))

	quote, err := h.tradeSvc.Quote(c.Request.Context(), id, outcome, side, amount)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, quote)
}
