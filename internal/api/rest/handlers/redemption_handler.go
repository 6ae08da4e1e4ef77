package handlers

import (
	"net/http"

	"github.com/Dhoini/Loyalty-microservice/internal/service"
	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RedemptionHandler обработчик обмена баллов на награды
type RedemptionHandler struct {
	redemptions service.RedemptionService
	log         *logger.Logger
}

// NewRedemptionHandler создает новый обработчик обменов
func NewRedemptionHandler(redemptions service.RedemptionService, log *logger.Logger) *RedemptionHandler {
	return &RedemptionHandler{
		redemptions: redemptions,
		log:         log,
	}
}

// RedeemRewardRequest тело запроса обмена награды
type RedeemRewardRequest struct {
	RewardID string `json:"reward_id" binding:"required,uuid"`
}

// RedeemReward обменивает баллы клиента на награду
func (h *RedemptionHandler) RedeemReward(c *gin.Context) {
	customerID, err := uuid.Parse(c.Param("customer_id"))
	if err != nil {
		h.log.Warn("Invalid customer ID format: %s", c.Param("customer_id"))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid customer ID format", "code": "invalid_input"})
		return
	}

	var req RedeemRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid redemption request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_input"})
		return
	}
	rewardID, err := uuid.Parse(req.RewardID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reward ID format", "code": "invalid_input"})
		return
	}

	redemption, err := h.redemptions.RedeemReward(c.Request.Context(), customerID, rewardID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, redemption)
}
