package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Dhoini/Loyalty-microservice/internal/app"
	"github.com/Dhoini/Loyalty-microservice/internal/config"
	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := initLogger()

	log.Infow("Loyalty microservice starting up...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("Failed to load configuration", "error", err)
	}
	log.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	if cfg.Auth.JWTSecret == "" {
		log.Warnw("JWT secret is not set, admin endpoints will reject all tokens")
	}

	if os.Getenv("APP_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		log.Fatalw("Failed to initialize application", "error", err)
	}

	application.Run(ctx)
	log.Infow("Loyalty microservice is running", "port", cfg.Server.Port)

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("Shutdown signal received, stopping...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	application.Shutdown(shutdownCtx)
}

// initLogger инициализирует логгер до загрузки конфигурации; уровень
// уточняется из конфигурации сразу после Load
func initLogger() *logger.Logger {
	return logger.New(logger.ParseLevel(os.Getenv("LOG_LEVEL")))
}
