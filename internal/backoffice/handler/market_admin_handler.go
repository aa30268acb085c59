package handler

import (
	"net/http"

	apihandler "github.com/evetabi/predex/internal/api/handler"
	"github.com/evetabi/predex/internal/api/middleware"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/evetabi/predex/internal/service"
	"github.com/gin-gonic/gin"
)

// MarketAdminHandler serves /admin/markets endpoints.
type MarketAdminHandler struct {
	marketSvc     *service.MarketService
	resolutionSvc *service.ResolutionService
	settlementSvc *service.SettlementService
	auditSvc      *service.AuditService
	archiveSvc    *service.ArchiveService
	accountSvc    *service.AccountService
}

// NewMarketAdminHandler creates a MarketAdminHandler.
func NewMarketAdminHandler(
	marketSvc *service.MarketService,
	resolutionSvc *service.ResolutionService,
	settlementSvc *service.SettlementService,
	auditSvc *service.AuditService,
	archiveSvc *service.ArchiveService,
	accountSvc *service.AccountService,
) *MarketAdminHandler {
	return &MarketAdminHandler{
		marketSvc:     marketSvc,
		resolutionSvc: resolutionSvc,
		settlementSvc: settlementSvc,
		auditSvc:      auditSvc,
		archiveSvc:    archiveSvc,
		accountSvc:    accountSvc,
	}
}

// List godoc
// GET /admin/markets?status=pending_resolution&page=1&limit=50
func (h *MarketAdminHandler) List(c *gin.Context) {
	page, limit := adminPagination(c)
	views, err := h.marketSvc.List(c.Request.Context(), repository.MarketFilter{
		Status: domain.MarketStatus(c.Query("status")),
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, views, len(views), page, limit)
}

// Detail godoc
// GET /admin/markets/:id
func (h *MarketAdminHandler) Detail(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	view, err := h.marketSvc.Get(ctx, id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	ledger, err := h.accountSvc.Ledger(ctx, id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"market": view,
		"ledger": ledger,
	})
}

// Create godoc
// POST /admin/markets
//
// The admin is the creator and funds the initial liquidity.
func (h *MarketAdminHandler) Create(c *gin.Context) {
	var body apihandler.CreateMarketBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	view, err := h.marketSvc.Create(c.Request.Context(), body.Request(middleware.GetCaller(c)))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, view)
}

// Cancel godoc
// POST /admin/markets/:id/cancel
func (h *MarketAdminHandler) Cancel(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.marketSvc.Cancel(c.Request.Context(), middleware.GetCaller(c), id); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"market_id": id, "status": domain.StatusCancelled})
}

// Settle godoc
// POST /admin/markets/:id/settle
//
// Runs one settlement batch; repeat until done is true.
func (h *MarketAdminHandler) Settle(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	n, done, err := h.settlementSvc.SettleMarket(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"market_id": id, "settled": n, "done": done})
}

// Audit godoc
// GET /admin/markets/:id/audit
func (h *MarketAdminHandler) Audit(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	report, err := h.auditSvc.VerifyConservation(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, report)
}

// ResolveByOracle godoc
// POST /admin/markets/:id/oracle
func (h *MarketAdminHandler) ResolveByOracle(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	m, err := h.resolutionSvc.ResolveByOracle(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, m)
}

// Archive godoc
// POST /admin/markets/:id/archive
//
// Answers 503 when no archive bucket is configured.
func (h *MarketAdminHandler) Archive(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	key, err := h.archiveSvc.ArchiveMarket(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"market_id": id, "key": key})
}
