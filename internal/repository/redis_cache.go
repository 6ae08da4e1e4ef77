package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Loyalty-microservice/internal/domain"
	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Префиксы ключей для различных типов данных
	customerStatusKeyPrefix = "customer_status:"
	tierListKey             = "tiers:all"

	// TTL для кэша
	defaultCacheTTL = 5 * time.Minute
	tierCacheTTL    = 15 * time.Minute
)

// RedisCacheRepository read-through кеш статусов клиентов поверх Redis.
// Кеш best-effort: любая ошибка Redis логируется и не блокирует леджер.
type RedisCacheRepository struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisCacheRepository создает новый экземпляр Redis репозитория
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return &RedisCacheRepository{
		client: client,
		log:    log,
	}, nil
}

// Client возвращает нижележащий клиент Redis (используется лимитером)
func (r *RedisCacheRepository) Client() *redis.Client {
	return r.client
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

// GetCustomerStatus получает статус клиента из кеша; (nil, nil) при промахе
func (r *RedisCacheRepository) GetCustomerStatus(ctx context.Context, customerID uuid.UUID) (*domain.CustomerStatus, error) {
	key := fmt.Sprintf("%s%s", customerStatusKeyPrefix, customerID)

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.log.Debugw("Customer status not found in cache", "customer_id", customerID)
			return nil, nil
		}
		r.log.Errorw("Error getting customer status from Redis", "error", err, "customer_id", customerID)
		return nil, fmt.Errorf("failed to get customer status from cache: %w", err)
	}

	var status domain.CustomerStatus
	if err := json.Unmarshal(data, &status); err != nil {
		r.log.Errorw("Failed to unmarshal cached customer status", "error", err, "customer_id", customerID)
		return nil, fmt.Errorf("failed to unmarshal cached customer status: %w", err)
	}

	return &status, nil
}

// CacheCustomerStatus кеширует статус клиента
func (r *RedisCacheRepository) CacheCustomerStatus(ctx context.Context, status *domain.CustomerStatus) error {
	key := fmt.Sprintf("%s%s", customerStatusKeyPrefix, status.CustomerID)

	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal customer status: %w", err)
	}

	if err := r.client.Set(ctx, key, data, defaultCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache customer status in Redis", "error", err, "customer_id", status.CustomerID)
		return fmt.Errorf("failed to cache customer status: %w", err)
	}

	return nil
}

// InvalidateCustomerStatus удаляет статус клиента из кеша.
// Вызывается после каждой успешной операции, меняющей баланс.
func (r *RedisCacheRepository) InvalidateCustomerStatus(ctx context.Context, customerID uuid.UUID) error {
	key := fmt.Sprintf("%s%s", customerStatusKeyPrefix, customerID)

	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.log.Errorw("Failed to invalidate customer status cache", "error", err, "customer_id", customerID)
		return fmt.Errorf("failed to invalidate customer status cache: %w", err)
	}

	r.log.Debugw("Customer status cache invalidated", "customer_id", customerID)
	return nil
}

// GetTiers получает список уровней из кеша; (nil, nil) при промахе
func (r *RedisCacheRepository) GetTiers(ctx context.Context) ([]domain.Tier, error) {
	data, err := r.client.Get(ctx, tierListKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tiers from cache: %w", err)
	}

	var tiers []domain.Tier
	if err := json.Unmarshal(data, &tiers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached tiers: %w", err)
	}

	return tiers, nil
}

// CacheTiers кеширует список уровней (read-mostly данные)
func (r *RedisCacheRepository) CacheTiers(ctx context.Context, tiers []domain.Tier) error {
	data, err := json.Marshal(tiers)
	if err != nil {
		return fmt.Errorf("failed to marshal tiers: %w", err)
	}

	if err := r.client.Set(ctx, tierListKey, data, tierCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache tiers: %w", err)
	}

	return nil
}
