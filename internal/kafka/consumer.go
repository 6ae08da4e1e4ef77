package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Dhoini/Loyalty-microservice/internal/domain"
	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/segmentio/kafka-go"
)

// TopicInboundEvents топик входящих событий коммерс-платформы
const TopicInboundEvents = "commerce.events"

// EventSink интерфейс приемника входящих событий
type EventSink interface {
	// Ingest сохраняет событие идемпотентно; false без ошибки означает дубликат
	Ingest(ctx context.Context, envelope domain.EventEnvelope) (bool, error)
}

// Consumer вычитывает события коммерс-платформы из Kafka и складывает их
// во входящую очередь. Вторая точка приема наряду с HTTP-эндпоинтом.
type Consumer struct {
	reader *kafka.Reader
	sink   EventSink
	log    *logger.Logger
}

// NewConsumer создает консьюмер входящих событий
func NewConsumer(brokers []string, groupID string, sink EventSink, log *logger.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create consumer")
		return nil, errors.New("kafka brokers are not configured")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          TopicInboundEvents,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // коммит только после записи во входящую очередь
		MaxWait:        time.Second,
	})

	log.Infow("Kafka consumer initialized", "brokers", brokers, "topic", TopicInboundEvents, "group", groupID)

	return &Consumer{
		reader: reader,
		sink:   sink,
		log:    log,
	}, nil
}

// Run читает сообщения до отмены контекста. Сообщение подтверждается только
// после сохранения события: при сбое записи оно будет доставлено повторно,
// дедупликацию обеспечивает входящая очередь.
func (c *Consumer) Run(ctx context.Context) {
	c.log.Info("Kafka consumer started")

	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.log.Info("Kafka consumer stopping")
				return
			}
			c.log.Errorw("Failed to fetch message from Kafka", "error", err)
			continue
		}

		c.handleMessage(ctx, message)
	}
}

// handleMessage разбирает конверт, сохраняет событие и подтверждает оффсет
func (c *Consumer) handleMessage(ctx context.Context, message kafka.Message) {
	var envelope domain.EventEnvelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		// нечитаемое сообщение пропускаем, повтор не поможет
		c.log.Errorw("Failed to unmarshal event envelope, skipping message",
			"topic", message.Topic,
			"offset", message.Offset,
			"error", err)
		c.commit(ctx, message)
		return
	}

	accepted, err := c.sink.Ingest(ctx, envelope)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			c.log.Errorw("Invalid event envelope, skipping message",
				"shop_id", envelope.ShopID,
				"external_event_id", envelope.ExternalEventID,
				"error", err)
			c.commit(ctx, message)
			return
		}
		// хранилище недоступно, оффсет не подтверждаем — сообщение придет снова
		c.log.Errorw("Failed to ingest event, message will be redelivered",
			"shop_id", envelope.ShopID,
			"external_event_id", envelope.ExternalEventID,
			"error", err)
		return
	}

	if !accepted {
		c.log.Debugw("Duplicate event from Kafka ignored",
			"shop_id", envelope.ShopID,
			"external_event_id", envelope.ExternalEventID)
	}
	c.commit(ctx, message)
}

func (c *Consumer) commit(ctx context.Context, message kafka.Message) {
	if err := c.reader.CommitMessages(ctx, message); err != nil {
		c.log.Errorw("Failed to commit Kafka offset", "offset", message.Offset, "error", err)
	}
}

// Close закрывает Kafka Reader
func (c *Consumer) Close() error {
	c.log.Infow("Closing Kafka consumer reader...")
	return c.reader.Close()
}
