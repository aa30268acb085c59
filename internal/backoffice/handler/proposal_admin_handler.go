package handler

import (
	"net/http"
	"time"

	"github.com/evetabi/predex/internal/api/middleware"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ProposalAdminHandler serves /admin/proposals endpoints: admin proposals
// and finalization with an outcome override.
type ProposalAdminHandler struct {
	resolutionSvc *service.ResolutionService
}

// NewProposalAdminHandler creates a ProposalAdminHandler.
func NewProposalAdminHandler(resolutionSvc *service.ResolutionService) *ProposalAdminHandler {
	return &ProposalAdminHandler{resolutionSvc: resolutionSvc}
}

// Propose godoc
// POST /admin/proposals
func (h *ProposalAdminHandler) Propose(c *gin.Context) {
	var body struct {
		MarketID      uuid.UUID `json:"market_id" binding:"required"`
		Outcome       string    `json:"outcome"   binding:"required"`
		Evidence      string    `json:"evidence"`
		WindowSeconds int64     `json:"window_seconds"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	outcome, err := domain.ParseOutcome(body.Outcome)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	p, err := h.resolutionSvc.Propose(c.Request.Context(), domain.ProposeRequest{
		Caller:   middleware.GetCaller(c),
		MarketID: body.MarketID,
		Outcome:  outcome,
		Evidence: body.Evidence,
		Window:   time.Duration(body.WindowSeconds) * time.Second,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, p)
}

// Finalize godoc
// POST /admin/proposals/:id/finalize
//
// override_outcome replaces the proposed outcome of a challenged proposal.
func (h *ProposalAdminHandler) Finalize(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var body struct {
		Override string `json:"override_outcome" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	o, err := domain.ParseOutcome(body.Override)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	res, err := h.resolutionSvc.Finalize(c.Request.Context(), domain.FinalizeRequest{
		Caller:     middleware.GetCaller(c),
		ProposalID: id,
		Override:   &o,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, res)
}
