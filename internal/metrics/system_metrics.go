package metrics

import (
	"runtime"
	"time"

	"github.com/Dhoini/Loyalty-microservice/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SystemMetrics интерфейс для системных метрик процесса и пула соединений
type SystemMetrics interface {
	Record()
	StartRecording(interval time.Duration)
	Stop()
}

type systemMetrics struct {
	log         *logger.Logger
	pool        *pgxpool.Pool
	goroutines  prometheus.Gauge
	memoryAlloc prometheus.Gauge
	memoryGC    prometheus.Gauge
	poolTotal   prometheus.Gauge
	poolIdle    prometheus.Gauge
	poolWaiting prometheus.Gauge
	stopCh      chan struct{}
}

// NewSystemMetrics создает системные метрики. Пул может быть nil, тогда
// метрики соединений не записываются.
func NewSystemMetrics(registry *prometheus.Registry, pool *pgxpool.Pool, log *logger.Logger) SystemMetrics {
	goroutines := promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "system_goroutines",
			Help: "Current number of goroutines",
		},
	)

	memoryAlloc := promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "system_memory_alloc_bytes",
			Help: "Currently allocated memory in bytes",
		},
	)

	memoryGC := promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "system_memory_gc_total",
			Help: "Total number of garbage collections",
		},
	)

	poolTotal := promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_total_conns",
			Help: "Total connections in the database pool",
		},
	)

	poolIdle := promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_idle_conns",
			Help: "Idle connections in the database pool",
		},
	)

	poolWaiting := promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "db_pool_waiting_acquires",
			Help: "Acquire calls currently waiting for a connection",
		},
	)

	return &systemMetrics{
		log:         log,
		pool:        pool,
		goroutines:  goroutines,
		memoryAlloc: memoryAlloc,
		memoryGC:    memoryGC,
		poolTotal:   poolTotal,
		poolIdle:    poolIdle,
		poolWaiting: poolWaiting,
		stopCh:      make(chan struct{}),
	}
}

// Record записывает текущие значения всех системных метрик
func (m *systemMetrics) Record() {
	m.goroutines.Set(float64(runtime.NumGoroutine()))

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.memoryAlloc.Set(float64(memStats.Alloc))
	m.memoryGC.Set(float64(memStats.NumGC))

	if m.pool != nil {
		stat := m.pool.Stat()
		m.poolTotal.Set(float64(stat.TotalConns()))
		m.poolIdle.Set(float64(stat.IdleConns()))
		m.poolWaiting.Set(float64(stat.EmptyAcquireCount()))
	}
}

// StartRecording начинает запись метрик с заданным интервалом
func (m *systemMetrics) StartRecording(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.Record()
			case <-m.stopCh:
				return
			}
		}
	}()
	m.log.Info("System metrics recording started with interval %s", interval)
}

// Stop останавливает запись метрик
func (m *systemMetrics) Stop() {
	close(m.stopCh)
	m.log.Info("System metrics recording stopped")
}
