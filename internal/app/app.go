package app

import (
	"context"
	"time"

	"github.com/Dhoini/Loyalty-microservice/internal/api/rest"
	"github.com/Dhoini/Loyalty-microservice/internal/config"
	"github.com/Dhoini/Loyalty-microservice/internal/kafka"
	"github.com/Dhoini/Loyalty-microservice/internal/metrics"
	"github.com/Dhoini/Loyalty-microservice/internal/repository"
	"github.com/Dhoini/Loyalty-microservice/internal/repository/postgres"
	"github.com/Dhoini/Loyalty-microservice/internal/service"
	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// App представляет собой контейнер для всех компонентов приложения
type App struct {
	Config *config.Config
	Logger *logger.Logger

	Pool  *pgxpool.Pool
	Cache *repository.RedisCacheRepository

	Producer kafka.Producer
	Consumer *kafka.Consumer

	Ledger      service.LedgerService
	Customers   service.CustomerService
	Tiers       service.TierService
	Redemptions service.RedemptionService
	Inbox       service.InboxService
	Reconciler  *service.ReconcilerService

	SystemMetrics metrics.SystemMetrics

	Server *rest.Server
}

// NewApp создает и инициализирует новый экземпляр приложения: подключение к
// базе, миграции, опциональные Redis и Kafka, репозитории, сервисы и HTTP сервер.
func NewApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	pool, err := postgres.Connect(ctx, cfg.Database.GetDSN(), log)
	if err != nil {
		return nil, err
	}

	if err := postgres.Migrate(cfg.Database.GetMigrateURL(), cfg.Database.MigrationsDir, log); err != nil {
		pool.Close()
		return nil, err
	}

	// Redis опционален: при ошибке подключения продолжаем без кэша и лимитера
	var cache *repository.RedisCacheRepository
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		cache, err = repository.NewRedisCacheRepository(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Warnw("Redis unavailable, continuing without cache", "error", err)
			cache = nil
		} else {
			redisClient = cache.Client()
		}
	}

	var statusCache service.StatusCache
	var tierCache service.TierCache
	if cache != nil {
		statusCache = cache
		tierCache = cache
	}

	// Kafka опционален: включается флагом конфигурации
	var producer kafka.Producer
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(cfg.Kafka.Brokers, log)
		if err != nil {
			log.Warnw("Kafka producer unavailable, continuing without event publishing", "error", err)
			producer = nil
		}
	}
	var publisher service.EventPublisher
	if producer != nil {
		publisher = producer
	}

	customerRepo := postgres.NewPostgresCustomerRepository(pool, log)
	ledgerRepo := postgres.NewPostgresLedgerRepository(pool, log)
	tierRepo := postgres.NewPostgresTierRepository(pool, log)
	redemptionRepo := postgres.NewPostgresRedemptionRepository(pool, log)
	inboxRepo := postgres.NewPostgresInboxRepository(pool, log)

	registry := prometheus.NewRegistry()
	loyaltyMetrics := metrics.NewLoyaltyMetrics(registry, log)
	systemMetrics := metrics.NewSystemMetrics(registry, pool, log)

	tierService := service.NewTierService(tierRepo, ledgerRepo, tierCache, log)
	ledgerService := service.NewLedgerService(ledgerRepo, customerRepo, tierService, statusCache, publisher, loyaltyMetrics, log)
	customerService := service.NewCustomerService(customerRepo, log)
	redemptionService := service.NewRedemptionService(redemptionRepo, nil, statusCache, loyaltyMetrics, log)
	inboxService := service.NewInboxService(inboxRepo, loyaltyMetrics, log)

	reconciler := service.NewReconcilerService(
		inboxRepo,
		ledgerService,
		customerService,
		tierService,
		service.ReconcilerConfig{
			PollInterval:    cfg.Reconciler.PollInterval,
			RetryInterval:   cfg.Reconciler.RetryInterval,
			RetryWindow:     cfg.Reconciler.RetryWindow,
			EventTimeout:    cfg.Reconciler.EventTimeout,
			BatchSize:       cfg.Reconciler.BatchSize,
			MaxRetries:      cfg.Reconciler.MaxRetries,
			PointsPerDollar: cfg.Loyalty.PointsPerDollar,
		},
		loyaltyMetrics,
		log,
	)

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		consumer, err = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroupID, inboxService, log)
		if err != nil {
			log.Warnw("Kafka consumer unavailable, events accepted over HTTP only", "error", err)
			consumer = nil
		}
	}

	router := rest.SetupRouter(rest.RouterDeps{
		Ledger:      ledgerService,
		Redemptions: redemptionService,
		Inbox:       inboxService,
		Pool:        pool,
		RedisClient: redisClient,
		Registry:    registry,
		Config:      cfg,
		Log:         log,
	})

	return &App{
		Config:        cfg,
		Logger:        log,
		Pool:          pool,
		Cache:         cache,
		Producer:      producer,
		Consumer:      consumer,
		Ledger:        ledgerService,
		Customers:     customerService,
		Tiers:         tierService,
		Redemptions:   redemptionService,
		Inbox:         inboxService,
		Reconciler:    reconciler,
		SystemMetrics: systemMetrics,
		Server:        rest.NewServer(router, cfg, log),
	}, nil
}

// Run запускает фоновые компоненты: HTTP сервер, реконсилятор,
// потребитель Kafka и сборщик системных метрик.
func (a *App) Run(ctx context.Context) {
	a.SystemMetrics.StartRecording(15 * time.Second)

	go a.Reconciler.Run(ctx)

	if a.Consumer != nil {
		go a.Consumer.Run(ctx)
	}

	go func() {
		if err := a.Server.Start(); err != nil {
			a.Logger.Errorw("HTTP server stopped with error", "error", err)
		}
	}()
}

// Shutdown останавливает компоненты в обратном порядке запуска
func (a *App) Shutdown(ctx context.Context) {
	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Errorw("Failed to shut down HTTP server gracefully", "error", err)
	}

	a.SystemMetrics.Stop()

	if a.Consumer != nil {
		if err := a.Consumer.Close(); err != nil {
			a.Logger.Errorw("Failed to close Kafka consumer", "error", err)
		}
	}
	if a.Producer != nil {
		if err := a.Producer.Close(); err != nil {
			a.Logger.Errorw("Failed to close Kafka producer", "error", err)
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Logger.Errorw("Failed to close Redis connection", "error", err)
		}
	}

	a.Pool.Close()
	a.Logger.Infow("Application stopped")
}
