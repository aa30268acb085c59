package handler

import (
	"net/http"

	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/evetabi/predex/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RiskHandler serves /admin/risk endpoints: oracle prices and open exposure.
type RiskHandler struct {
	priceSvc  *service.PriceService
	marketSvc *service.MarketService
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(priceSvc *service.PriceService, marketSvc *service.MarketService) *RiskHandler {
	return &RiskHandler{priceSvc: priceSvc, marketSvc: marketSvc}
}

// exposure summarises one active market's pool.
type exposure struct {
	MarketID       uuid.UUID         `json:"market_id"`
	Question       string            `json:"question"`
	Kind           domain.MarketKind `json:"kind"`
	Prices         []decimal.Decimal `json:"prices"`
	NetDeposits    decimal.Decimal   `json:"net_deposits"`
	TotalLiquidity decimal.Decimal   `json:"total_liquidity"`
	FeesCollected  decimal.Decimal   `json:"fees_collected"`
	OracleSymbol   string            `json:"oracle_symbol,omitempty"`
}

// Exposure godoc
// GET /admin/risk/exposure
func (h *RiskHandler) Exposure(c *gin.Context) {
	views, err := h.marketSvc.List(c.Request.Context(), repository.MarketFilter{Status: domain.StatusActive, Limit: 100})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	out := make([]exposure, 0, len(views))
	for _, v := range views {
		out = append(out, exposure{
			MarketID:       v.ID,
			Question:       v.Question,
			Kind:           v.Kind,
			Prices:         v.Prices,
			NetDeposits:    v.NetDeposits(),
			TotalLiquidity: v.TotalLiquidity,
			FeesCollected:  v.FeesCollected,
			OracleSymbol:   v.OracleSymbol,
		})
	}
	respondSuccess(c, http.StatusOK, out)
}

// Price godoc
// GET /admin/risk/price/:symbol
func (h *RiskHandler) Price(c *gin.Context) {
	if h.priceSvc == nil {
		respondError(c, http.StatusServiceUnavailable, "ERR_UNAVAILABLE", domain.ErrPriceFeedUnavailable.Error())
		return
	}
	price, sources, err := h.priceSvc.GetWeightedPrice(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "ERR_UNAVAILABLE", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"symbol":  c.Param("symbol"),
		"price":   price,
		"sources": sources,
	})
}

// ExchangeStatus godoc
// GET /admin/risk/exchange-status
func (h *RiskHandler) ExchangeStatus(c *gin.Context) {
	if h.priceSvc == nil {
		respondSuccess(c, http.StatusOK, gin.H{})
		return
	}
	respondSuccess(c, http.StatusOK, h.priceSvc.ExchangeStatus())
}
