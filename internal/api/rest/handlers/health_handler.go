package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthHandler проверка работоспособности сервиса и его зависимостей
type HealthHandler struct {
	pool *pgxpool.Pool // может быть nil
}

// NewHealthHandler создает обработчик health-проверки
func NewHealthHandler(pool *pgxpool.Pool) *HealthHandler {
	return &HealthHandler{pool: pool}
}

// Check отвечает 200, пока база данных доступна
func (h *HealthHandler) Check(c *gin.Context) {
	if h.pool != nil {
		if err := h.pool.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "DEGRADED",
				"error":  "database unreachable",
				"time":   time.Now().Format(time.RFC3339),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "OK",
		"time":   time.Now().Format(time.RFC3339),
	})
}
