package handler

import (
	"net/http"
	"time"

	"github.com/evetabi/predex/internal/api/middleware"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/service"
	"github.com/gin-gonic/gin"
)

// UserHandler handles wallet login, account views and deposits.
type UserHandler struct {
	authSvc    *service.AuthService
	accountSvc *service.AccountService
	depositSvc *service.DepositService
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(authSvc *service.AuthService, accountSvc *service.AccountService, depositSvc *service.DepositService) *UserHandler {
	return &UserHandler{authSvc: authSvc, accountSvc: accountSvc, depositSvc: depositSvc}
}

// LoginMessage godoc
// GET /api/auth/message?address=0x...
//
// Returns the text the wallet must sign, stamped with the current time.
func (h *UserHandler) LoginMessage(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "address is required")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"message": service.LoginMessage(address, time.Now()),
	})
}

// Login godoc
// POST /api/auth/login
func (h *UserHandler) Login(c *gin.Context) {
	var req service.LoginRequest
	if !bindJSON(c, &req) {
		return
	}
	resp, err := h.authSvc.Login(req)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, resp)
}

// Refresh godoc
// POST /api/auth/refresh
func (h *UserHandler) Refresh(c *gin.Context) {
	var body struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if !bindJSON(c, &body) {
		return
	}

	access, refresh, err := h.authSvc.RefreshToken(body.RefreshToken)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "ERR_INVALID_TOKEN", domain.ErrTokenInvalid.Error())
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"access_token":  access,
		"refresh_token": refresh,
	})
}

// Balance godoc
// GET /api/me/balance [JWT required]
func (h *UserHandler) Balance(c *gin.Context) {
	b, err := h.accountSvc.Balance(c.Request.Context(), middleware.GetCaller(c).Address)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, b)
}

// Positions godoc
// GET /api/me/positions [JWT required]
func (h *UserHandler) Positions(c *gin.Context) {
	positions, err := h.accountSvc.Positions(c.Request.Context(), middleware.GetCaller(c).Address)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, positions)
}

// Deposit godoc
// POST /api/deposits [JWT required]
func (h *UserHandler) Deposit(c *gin.Context) {
	var body struct {
		TxHash string `json:"tx_hash" binding:"required"`
	}
	if !bindJSON(c, &body) {
		return
	}
	dep, err := h.depositSvc.Deposit(c.Request.Context(), domain.DepositRequest{
		User:   middleware.GetCaller(c).Address,
		TxHash: body.TxHash,
	})
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, dep)
}
