package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/evetabi/predex/internal/api/middleware"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ResolutionHandler serves the propose / challenge / finalize flow.
type ResolutionHandler struct {
	resolutionSvc *service.ResolutionService
}

// NewResolutionHandler creates a ResolutionHandler.
func NewResolutionHandler(resolutionSvc *service.ResolutionService) *ResolutionHandler {
	return &ResolutionHandler{resolutionSvc: resolutionSvc}
}

type proposeBody struct {
	MarketID      uuid.UUID `json:"market_id" binding:"required"`
	Outcome       string    `json:"outcome"   binding:"required"`
	Evidence      string    `json:"evidence"`
	WindowSeconds int64     `json:"window_seconds"`
}

type challengeBody struct {
	Reason string `json:"reason" binding:"required"`
}

type finalizeBody struct {
	Override string `json:"override_outcome"`
}

// Propose godoc
// POST /api/proposals [JWT required]
func (h *ResolutionHandler) Propose(c *gin.Context) {
	var body proposeBody
	if !bindJSON(c, &body) {
		return
	}
	outcome, ok := parseOutcome(c, body.Outcome)
	if !ok {
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
		RespondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, p)
}

// Get godoc
// GET /api/proposals/:id
func (h *ResolutionHandler) Get(c *gin.Context) {
	id, ok := ParseID(c, "id")
	if !ok {
		return
	}
	view, err := h.resolutionSvc.GetProposal(c.Request.Context(), id)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, view)
}

// Challenge godoc
// POST /api/proposals/:id/challenge [JWT required]
func (h *ResolutionHandler) Challenge(c *gin.Context) {
	id, ok := ParseID(c, "id")
	if !ok {
		return
	}
	var body challengeBody
	if !bindJSON(c, &body) {
		return
	}
	p, err := h.resolutionSvc.Challenge(c.Request.Context(), domain.ChallengeRequest{
		Caller:     middleware.GetCaller(c),
		ProposalID: id,
		Reason:     body.Reason,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, p)
}

// Finalize godoc
// POST /api/proposals/:id/finalize [JWT required]
//
// Anyone may finalize once the window has closed; override_outcome is
// accepted from admins on challenged proposals only.
func (h *ResolutionHandler) Finalize(c *gin.Context) {
	id, ok := ParseID(c, "id")
	if !ok {
		return
	}
	var body finalizeBody
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	req := domain.FinalizeRequest{Caller: middleware.GetCaller(c), ProposalID: id}
	if body.Override != "" {
		o, ok := parseOutcome(c, body.Override)
		if !ok {
			return
		}
		req.Override = &o
	}
	res, err := h.resolutionSvc.Finalize(c.Request.Context(), req)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, res)
}
