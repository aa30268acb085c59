package handler

import (
	"net/http"
	"time"

	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/service"
	"github.com/evetabi/predex/internal/ws"
	"github.com/gin-gonic/gin"
)

// DashboardHandler serves the /admin/dashboard endpoint.
type DashboardHandler struct {
	marketSvc  *service.MarketService
	archiveSvc *service.ArchiveService
	priceSvc   *service.PriceService
	hub        *ws.Hub
	cfg        *config.Config
}

// NewDashboardHandler creates a DashboardHandler.
func NewDashboardHandler(
	marketSvc *service.MarketService,
	archiveSvc *service.ArchiveService,
	priceSvc *service.PriceService,
	hub *ws.Hub,
	cfg *config.Config,
) *DashboardHandler {
	return &DashboardHandler{
		marketSvc:  marketSvc,
		archiveSvc: archiveSvc,
		priceSvc:   priceSvc,
		hub:        hub,
		cfg:        cfg,
	}
}

// Dashboard godoc
// GET /admin/dashboard
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	counts, err := h.marketSvc.CountByStatus(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}

	var connected int
	if h.hub != nil {
		connected = h.hub.ConnectedCount()
	}
	var exchanges map[string]bool
	if h.priceSvc != nil {
		exchanges = h.priceSvc.ExchangeStatus()
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"markets":          counts,
		"ws_connections":   connected,
		"exchanges":        exchanges,
		"archive_enabled":  h.archiveSvc.Enabled(),
		"default_fee_rate": h.cfg.Engine.DefaultFeeRate,
		"default_window":   h.cfg.Engine.DefaultWindow.String(),
		"max_challenges":   h.cfg.Engine.MaxChallenges,
		"server_time":      time.Now().UTC(),
	})
}
