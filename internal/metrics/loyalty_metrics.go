package metrics

import (
	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LoyaltyMetrics интерфейс для метрик программы лояльности
type LoyaltyMetrics interface {
	IncPointsEarned(source string, points int64)
	IncPointsRedeemed(points int64)
	IncPointsAdjusted()
	IncRedemption(status string)
	IncInboxEvent(kind string)
	IncInboxDuplicate()
	IncReconciled(result string)
	IncDeadLetter()
	ObserveBatchDuration(seconds float64)
}

type loyaltyMetrics struct {
	log             *logger.Logger
	pointsEarned    *prometheus.CounterVec
	pointsRedeemed  prometheus.Counter
	pointsAdjusted  prometheus.Counter
	redemptions     *prometheus.CounterVec
	inboxEvents     *prometheus.CounterVec
	inboxDuplicates prometheus.Counter
	reconciled      *prometheus.CounterVec
	deadLetters     prometheus.Counter
	batchDuration   prometheus.Histogram
}

// NewLoyaltyMetrics создает новые метрики лояльности
func NewLoyaltyMetrics(registry *prometheus.Registry, log *logger.Logger) LoyaltyMetrics {
	pointsEarned := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_points_earned_total",
			Help: "The total number of points earned by customers",
		},
		[]string{"source"},
	)

	pointsRedeemed := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_points_redeemed_total",
			Help: "The total number of points redeemed by customers",
		},
	)

	pointsAdjusted := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_adjustments_total",
			Help: "The total number of manual balance adjustments",
		},
	)

	redemptions := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_redemptions_total",
			Help: "The total number of reward redemptions by status",
		},
		[]string{"status"},
	)

	inboxEvents := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_inbox_events_total",
			Help: "The total number of accepted inbox events by kind",
		},
		[]string{"kind"},
	)

	inboxDuplicates := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_inbox_duplicates_total",
			Help: "The total number of duplicate events rejected by the inbox",
		},
	)

	reconciled := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_reconciled_events_total",
			Help: "The total number of reconciled inbox events by result",
		},
		[]string{"result"},
	)

	deadLetters := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_dead_letter_events_total",
			Help: "The total number of events that exhausted their retry budget",
		},
	)

	batchDuration := promauto.With(registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "loyalty_reconciler_batch_duration_seconds",
			Help:    "Reconciler batch processing duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	return &loyaltyMetrics{
		log:             log,
		pointsEarned:    pointsEarned,
		pointsRedeemed:  pointsRedeemed,
		pointsAdjusted:  pointsAdjusted,
		redemptions:     redemptions,
		inboxEvents:     inboxEvents,
		inboxDuplicates: inboxDuplicates,
		reconciled:      reconciled,
		deadLetters:     deadLetters,
		batchDuration:   batchDuration,
	}
}

// IncPointsEarned увеличивает счетчик начисленных баллов
func (m *loyaltyMetrics) IncPointsEarned(source string, points int64) {
	m.pointsEarned.WithLabelValues(source).Add(float64(points))
}

// IncPointsRedeemed увеличивает счетчик списанных баллов
func (m *loyaltyMetrics) IncPointsRedeemed(points int64) {
	m.pointsRedeemed.Add(float64(points))
}

// IncPointsAdjusted увеличивает счетчик ручных корректировок
func (m *loyaltyMetrics) IncPointsAdjusted() {
	m.pointsAdjusted.Inc()
}

// IncRedemption увеличивает счетчик обменов наград
func (m *loyaltyMetrics) IncRedemption(status string) {
	m.redemptions.WithLabelValues(status).Inc()
}

// IncInboxEvent увеличивает счетчик принятых событий
func (m *loyaltyMetrics) IncInboxEvent(kind string) {
	m.inboxEvents.WithLabelValues(kind).Inc()
}

// IncInboxDuplicate увеличивает счетчик отклоненных дубликатов
func (m *loyaltyMetrics) IncInboxDuplicate() {
	m.inboxDuplicates.Inc()
}

// IncReconciled увеличивает счетчик обработанных событий
func (m *loyaltyMetrics) IncReconciled(result string) {
	m.reconciled.WithLabelValues(result).Inc()
}

// IncDeadLetter увеличивает счетчик событий, исчерпавших бюджет повторов
func (m *loyaltyMetrics) IncDeadLetter() {
	m.deadLetters.Inc()
}

// ObserveBatchDuration записывает длительность обработки пачки
func (m *loyaltyMetrics) ObserveBatchDuration(seconds float64) {
	m.batchDuration.Observe(seconds)
}
