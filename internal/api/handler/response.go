package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/evetabi/predex/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondList writes {"success": true, "data": items, "meta": {...}}.
func respondList(c *gin.Context, items interface{}, count, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"count": count,
			"page":  page,
			"limit": limit,
		},
	})
}

// RespondDomainError maps err onto a status and code by its domain kind.
// Errors outside the domain become a generic 500 and are attached to the
// gin context for the logger.
func RespondDomainError(c *gin.Context, err error) {
	status, code := statusOf(err)
	msg := domain.PublicMessage(err)
	if status == http.StatusInternalServerError || msg == "" {
		_ = c.Error(err)
		msg = "internal error"
	}
	respondError(c, status, code, msg)
}

func statusOf(err error) (int, string) {
	switch {
	case domain.IsAuthError(err):
		return http.StatusUnauthorized, "ERR_UNAUTHORIZED"
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "ERR_VALIDATION"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "ERR_NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "ERR_CONFLICT"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "ERR_FORBIDDEN"
	case errors.Is(err, domain.ErrInsufficientLiquidity):
		return http.StatusUnprocessableEntity, "ERR_INSUFFICIENT_LIQUIDITY"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "ERR_INSUFFICIENT_BALANCE"
	case errors.Is(err, domain.ErrInsufficientShares):
		return http.StatusUnprocessableEntity, "ERR_INSUFFICIENT_SHARES"
	case errors.Is(err, domain.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "ERR_UNAVAILABLE"
	}
	return http.StatusInternalServerError, "ERR_INTERNAL"
}

// ──────────────────────────────────────────────────────────────────────────────
// Request parsing
// ──────────────────────────────────────────────────────────────────────────────

// ParseID reads a uuid path parameter, answering 400 when it is malformed.
func ParseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

// bindJSON decodes the body into v, answering 400 on failure.
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return false
	}
	return true
}

// parseOutcome reads an outcome label, answering 400 when it is malformed.
func parseOutcome(c *gin.Context, s string) (domain.Outcome, bool) {
	o, err := domain.ParseOutcome(s)
	if err != nil {
		RespondDomainError(c, err)
		return 0, false
	}
	return o, true
}

// parsePagination reads page and limit query parameters with safe defaults.
func parsePagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return
}
