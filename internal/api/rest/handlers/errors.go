package handlers

import (
	"errors"
	"net/http"

	"github.com/Dhoini/Loyalty-microservice/internal/domain"
	"github.com/gin-gonic/gin"
)

// respondError отображает доменную ошибку в HTTP-статус и JSON-тело.
// Детали типизированных ошибок попадают в ответ, внутренние ошибки — нет.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "not_found"})
	case errors.Is(err, domain.ErrInsufficientBalance):
		var balErr *domain.InsufficientBalanceError
		body := gin.H{"error": err.Error(), "code": "insufficient_balance"}
		if errors.As(err, &balErr) {
			body["required"] = balErr.Required
			body["available"] = balErr.Available
		}
		c.JSON(http.StatusUnprocessableEntity, body)
	case errors.Is(err, domain.ErrRewardUnavailable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": "reward_unavailable"})
	case errors.Is(err, domain.ErrCustomerInactive):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": "customer_inactive"})
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_input"})
	case errors.Is(err, domain.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "duplicate"})
	case errors.Is(err, domain.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error(), "code": "rate_limited"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal"})
	}
}
