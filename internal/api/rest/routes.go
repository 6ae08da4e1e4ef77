package rest

import (
	"github.com/Dhoini/Loyalty-microservice/internal/api/rest/handlers"
	"github.com/Dhoini/Loyalty-microservice/internal/config"
	"github.com/Dhoini/Loyalty-microservice/internal/middleware"
	"github.com/Dhoini/Loyalty-microservice/internal/service"
	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// RouterDeps зависимости маршрутизатора
type RouterDeps struct {
	Ledger      service.LedgerService
	Redemptions service.RedemptionService
	Inbox       service.InboxService
	Pool        *pgxpool.Pool
	RedisClient *redis.Client // может быть nil, лимитер тогда выключен
	Registry    *prometheus.Registry
	Config      *config.Config
	Log         *logger.Logger
}

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.RequestLogger(deps.Log))
	r.Use(gin.Recovery())

	// Лимитер: точка выкупа ограничивается по клиенту, прием событий по магазину
	var limiter *middleware.RateLimiter
	var shopLimiter handlers.ShopLimiter
	perCustomerLimit := gin.HandlerFunc(func(c *gin.Context) { c.Next() })
	if deps.Config.RateLimit.Enabled && deps.RedisClient != nil {
		limiter = middleware.NewRateLimiter(deps.RedisClient, deps.Config.RateLimit.RequestsPerMinute, deps.Log)
		shopLimiter = limiter
		perCustomerLimit = limiter.LimitByParam("customer_id")
	}

	// Prometheus метрики
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))

	healthHandler := handlers.NewHealthHandler(deps.Pool)
	ledgerHandler := handlers.NewLedgerHandler(deps.Ledger, deps.Log)
	redemptionHandler := handlers.NewRedemptionHandler(deps.Redemptions, deps.Log)
	eventHandler := handlers.NewEventHandler(deps.Inbox, shopLimiter, deps.Log)

	auth := middleware.NewJWTMiddleware(
		&middleware.DefaultTokenValidator{Secret: []byte(deps.Config.Auth.JWTSecret)},
		deps.Log,
	)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", healthHandler.Check)

		// Прием событий коммерс-платформы
		v1.POST("/events", eventHandler.Ingest)

		// Счета клиентов
		customers := v1.Group("/customers")
		{
			customers.GET("/:customer_id/status", ledgerHandler.GetStatus)
			customers.POST("/:customer_id/earn", ledgerHandler.Earn)
			customers.POST("/:customer_id/redeem", perCustomerLimit, ledgerHandler.Redeem)
			customers.POST("/:customer_id/redemptions", perCustomerLimit, redemptionHandler.RedeemReward)

			// корректировки только для операторов с admin-областью
			customers.POST("/:customer_id/adjust", auth.RequireAuth(middleware.ScopeAdmin), ledgerHandler.Adjust)
		}
	}

	return r
}
