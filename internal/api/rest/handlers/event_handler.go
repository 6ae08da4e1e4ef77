package handlers

import (
	"context"
	"net/http"

	"github.com/Dhoini/Loyalty-microservice/internal/domain"
	"github.com/Dhoini/Loyalty-microservice/internal/service"
	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/Dhoini/Loyalty-microservice/pkg/req"
	"github.com/gin-gonic/gin"
)

// ShopLimiter ограничивает частоту приема событий по магазину.
// Ключ известен только после разбора конверта, поэтому лимит
// проверяется в обработчике, а не в middleware.
type ShopLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// EventHandler обработчик приема событий коммерс-платформы
type EventHandler struct {
	inbox   service.InboxService
	limiter ShopLimiter // может быть nil
	log     *logger.Logger
}

// NewEventHandler создает новый обработчик событий
func NewEventHandler(inbox service.InboxService, limiter ShopLimiter, log *logger.Logger) *EventHandler {
	return &EventHandler{
		inbox:   inbox,
		limiter: limiter,
		log:     log,
	}
}

// Ingest принимает событие во входящую очередь. Повторная доставка того же
// события подтверждается статусом 200 без создания новой записи.
func (h *EventHandler) Ingest(c *gin.Context) {
	envelope, err := req.Decode[domain.EventEnvelope](c.Request.Body)
	if err != nil {
		h.log.Warn("Malformed event envelope: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event envelope", "code": "invalid_input"})
		return
	}
	if err := req.IsValid(envelope); err != nil {
		h.log.Warn("Invalid event envelope: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_input"})
		return
	}

	if h.limiter != nil {
		allowed, limitErr := h.limiter.Allow(c.Request.Context(), "shop:"+envelope.ShopID)
		if limitErr != nil {
			h.log.Warnw("Rate limiter unavailable, allowing event", "error", limitErr)
		} else if !allowed {
			h.log.Warnw("Event ingestion rate limited", "shop_id", envelope.ShopID)
			respondError(c, domain.ErrRateLimited)
			return
		}
	}

	accepted, err := h.inbox.Ingest(c.Request.Context(), envelope)
	if err != nil {
		respondError(c, err)
		return
	}

	if !accepted {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
