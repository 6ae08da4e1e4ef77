package handlers

import (
	"net/http"

	"github.com/Dhoini/Loyalty-microservice/internal/middleware"
	"github.com/Dhoini/Loyalty-microservice/internal/service"
	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// LedgerHandler обработчик операций со счетом клиента
type LedgerHandler struct {
	ledger service.LedgerService
	log    *logger.Logger
}

// NewLedgerHandler создает новый обработчик леджера
func NewLedgerHandler(ledger service.LedgerService, log *logger.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledger,
		log:    log,
	}
}

// EarnRequest тело запроса начисления баллов
type EarnRequest struct {
	Points      int64  `json:"points" binding:"required,gt=0"`
	Source      string `json:"source"`
	Description string `json:"description"`
	OrderRef    string `json:"order_ref"`
}

// RedeemRequest тело запроса списания баллов
type RedeemRequest struct {
	Points      int64  `json:"points" binding:"required,gt=0"`
	Source      string `json:"source"`
	Description string `json:"description"`
}

// AdjustRequest тело запроса корректировки баланса
type AdjustRequest struct {
	Delta  int64  `json:"delta" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// Earn начисляет баллы клиенту
func (h *LedgerHandler) Earn(c *gin.Context) {
	customerID, ok := h.customerID(c)
	if !ok {
		return
	}

	var req EarnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid earn request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_input"})
		return
	}

	source := req.Source
	if source == "" {
		source = "API"
	}
	var orderRef *string
	if req.OrderRef != "" {
		orderRef = &req.OrderRef
	}

	txn, err := h.ledger.Earn(c.Request.Context(), service.EarnInput{
		CustomerID:  customerID,
		Points:      req.Points,
		Source:      source,
		Description: req.Description,
		OrderRef:    orderRef,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, txn)
}

// Redeem списывает баллы клиента
func (h *LedgerHandler) Redeem(c *gin.Context) {
	customerID, ok := h.customerID(c)
	if !ok {
		return
	}

	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid redeem request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_input"})
		return
	}

	source := req.Source
	if source == "" {
		source = "API"
	}

	txn, err := h.ledger.Redeem(c.Request.Context(), service.RedeemInput{
		CustomerID:  customerID,
		Points:      req.Points,
		Source:      source,
		Description: req.Description,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, txn)
}

// Adjust применяет ручную корректировку баланса. Маршрут защищен токеном,
// субъект токена записывается в транзакцию как actor.
func (h *LedgerHandler) Adjust(c *gin.Context) {
	customerID, ok := h.customerID(c)
	if !ok {
		return
	}

	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid adjust request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_input"})
		return
	}

	actor := c.GetString(string(middleware.ContextActorKey))

	txn, err := h.ledger.Adjust(c.Request.Context(), service.AdjustInput{
		CustomerID: customerID,
		Delta:      req.Delta,
		Actor:      actor,
		Reason:     req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, txn)
}

// GetStatus возвращает агрегированное состояние счета клиента
func (h *LedgerHandler) GetStatus(c *gin.Context) {
	customerID, ok := h.customerID(c)
	if !ok {
		return
	}

	status, err := h.ledger.GetStatus(c.Request.Context(), customerID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// customerID разбирает параметр маршрута :customer_id
func (h *LedgerHandler) customerID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("customer_id"))
	if err != nil {
		h.log.Warn("Invalid customer ID format: %s", c.Param("customer_id"))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer ID format", "code": "invalid_input"})
		return uuid.Nil, false
	}
	return id, true
}
