package handler

import (
	"net/http"

	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/evetabi/predex/internal/service"
	"github.com/gin-gonic/gin"
)

// FinanceHandler serves /admin/finance endpoints: conservation reports and
// the payout ledger.
type FinanceHandler struct {
	marketSvc  *service.MarketService
	auditSvc   *service.AuditService
	accountSvc *service.AccountService
}

// NewFinanceHandler creates a FinanceHandler.
func NewFinanceHandler(marketSvc *service.MarketService, auditSvc *service.AuditService, accountSvc *service.AccountService) *FinanceHandler {
	return &FinanceHandler{marketSvc: marketSvc, auditSvc: auditSvc, accountSvc: accountSvc}
}

// Report godoc
// GET /admin/finance/report?page=1&limit=50
//
// Recomputes the conservation check for one page of resolved markets.
func (h *FinanceHandler) Report(c *gin.Context) {
	ctx := c.Request.Context()
	page, limit := adminPagination(c)
	views, err := h.marketSvc.List(ctx, repository.MarketFilter{
		Status: domain.StatusResolved,
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	reports := make([]*domain.ConservationReport, 0, len(views))
	violations := 0
	for _, v := range views {
		r, err := h.auditSvc.VerifyConservation(ctx, v.ID)
		if err != nil {
			respondDomainError(c, err)
			return
		}
		if !r.Holds {
			violations++
		}
		reports = append(reports, r)
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"reports":    reports,
		"violations": violations,
		"page":       page,
		"limit":      limit,
	})
}

// Ledger godoc
// GET /admin/finance/ledger/:id
func (h *FinanceHandler) Ledger(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	entries, err := h.accountSvc.Ledger(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, entries, len(entries), 1, len(entries))
}
