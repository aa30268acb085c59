package handler

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/service"
	"github.com/gin-gonic/gin"
)

// UserAdminHandler serves /admin/users endpoints.
type UserAdminHandler struct {
	accountSvc *service.AccountService
	depositSvc *service.DepositService
}

// NewUserAdminHandler creates a UserAdminHandler.
func NewUserAdminHandler(accountSvc *service.AccountService, depositSvc *service.DepositService) *UserAdminHandler {
	return &UserAdminHandler{accountSvc: accountSvc, depositSvc: depositSvc}
}

// parseAddress reads the :address path parameter.
func parseAddress(c *gin.Context) (string, bool) {
	addr := c.Param("address")
	if !common.IsHexAddress(addr) {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "invalid address")
		return "", false
	}
	return domain.NormalizeAddress(addr), true
}

// Detail godoc
// GET /admin/users/:address
func (h *UserAdminHandler) Detail(c *gin.Context) {
	addr, ok := parseAddress(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	balance, err := h.accountSvc.Balance(ctx, addr)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	positions, err := h.accountSvc.Positions(ctx, addr)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"balance":   balance,
		"positions": positions,
	})
}

// Deposit godoc
// POST /admin/users/:address/deposits
//
// Credits a transfer the user could not submit themselves. The transaction
// is verified on chain exactly as for a self-service deposit.
func (h *UserAdminHandler) Deposit(c *gin.Context) {
	addr, ok := parseAddress(c)
	if !ok {
		return
	}
	var body struct {
		TxHash string `json:"tx_hash" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	dep, err := h.depositSvc.Deposit(c.Request.Context(), domain.DepositRequest{User: addr, TxHash: body.TxHash})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, dep)
}
