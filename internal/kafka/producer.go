package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Loyalty-microservice/internal/domain"
	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Топики исходящих событий лояльности
const (
	TopicTransactions = "loyalty.transactions"
	TopicTierChanges  = "loyalty.tier_changes"
)

// Producer интерфейс публикации событий лояльности в Kafka
type Producer interface {
	// PublishTransaction отправляет событие изменения баланса
	PublishTransaction(ctx context.Context, customer *domain.Customer, txn *domain.Transaction) error

	// PublishTierChange отправляет событие повышения уровня
	PublishTierChange(ctx context.Context, customerID uuid.UUID, tier *domain.Tier) error

	// Close закрывает соединение продюсера
	Close() error
}

// transactionEvent тело сообщения об изменении баланса
type transactionEvent struct {
	TransactionID string    `json:"transaction_id"`
	CustomerID    string    `json:"customer_id"`
	ShopID        string    `json:"shop_id"`
	Type          string    `json:"type"`
	Points        int64     `json:"points"`
	Balance       int64     `json:"balance"`
	Source        string    `json:"source"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// tierChangeEvent тело сообщения о повышении уровня
type tierChangeEvent struct {
	CustomerID string    `json:"customer_id"`
	TierID     string    `json:"tier_id"`
	TierName   string    `json:"tier_name"`
	TierLevel  int       `json:"tier_level"`
	OccurredAt time.Time `json:"occurred_at"`
}

// kafkaProducer реализует Producer поверх segmentio/kafka-go
type kafkaProducer struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewProducer создает и настраивает продюсер Kafka
func NewProducer(brokers []string, log *logger.Logger) (Producer, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers)

	return &kafkaProducer{
		writer: writer,
		log:    log,
	}, nil
}

// PublishTransaction отправляет событие изменения баланса.
// Ключ сообщения — ID клиента: все события одного клиента попадают в одну
// партицию и сохраняют порядок.
func (k *kafkaProducer) PublishTransaction(ctx context.Context, customer *domain.Customer, txn *domain.Transaction) error {
	event := transactionEvent{
		TransactionID: txn.ID.String(),
		CustomerID:    customer.ID.String(),
		ShopID:        customer.ShopID,
		Type:          string(txn.Type),
		Points:        txn.Points,
		Balance:       txn.BalanceAfter,
		Source:        txn.Source,
		OccurredAt:    txn.CreatedAt,
	}
	return k.publish(ctx, TopicTransactions, customer.ID.String(), event)
}

// PublishTierChange отправляет событие повышения уровня
func (k *kafkaProducer) PublishTierChange(ctx context.Context, customerID uuid.UUID, tier *domain.Tier) error {
	event := tierChangeEvent{
		CustomerID: customerID.String(),
		TierID:     tier.ID.String(),
		TierName:   tier.Name,
		TierLevel:  tier.Level,
		OccurredAt: time.Now().UTC(),
	}
	return k.publish(ctx, TopicTierChanges, customerID.String(), event)
}

// publish сериализует тело и пишет сообщение с таймаутом
func (k *kafkaProducer) publish(ctx context.Context, topic, key string, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		k.log.Errorw("Failed to marshal event for Kafka", "topic", topic, "key", key, "error", err)
		return fmt.Errorf("kafka: failed to marshal message data: %w", err)
	}

	message := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	}

	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(writeCtx, message); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			k.log.Errorw("Kafka write timeout exceeded", "topic", topic, "key", key, "error", err)
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		k.log.Errorw("Failed to write message to Kafka", "topic", topic, "key", key, "error", err)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	k.log.Debugw("Message published to Kafka", "topic", topic, "key", key)
	return nil
}

// Close закрывает Kafka Writer. Вызывается при graceful shutdown.
func (k *kafkaProducer) Close() error {
	k.log.Infow("Closing Kafka producer writer...")
	if err := k.writer.Close(); err != nil {
		k.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	k.log.Infow("Kafka producer writer closed")
	return nil
}
