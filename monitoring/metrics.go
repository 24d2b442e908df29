package monitoring

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	waitingLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "admission_waiting_length",
			Help: "Current waiting list length per event",
		},
		[]string{"event_id"},
	)

	activeOffers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "admission_active_offers",
			Help: "Current number of live purchase offers per event",
		},
		[]string{"event_id"},
	)

	admissionOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_operations_total",
			Help: "Total admission operations by outcome",
		},
		[]string{"operation", "event_id", "status"},
	)

	promotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_promotions_total",
			Help: "Waiting entries promoted to offers",
		},
		[]string{"event_id"},
	)

	offersExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_offers_expired_total",
			Help: "Offers reclaimed after their TTL lapsed",
		},
		[]string{"event_id"},
	)

	offerHoldDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "admission_offer_hold_duration_seconds",
			Help:    "How long offers were held before purchase or expiry",
			Buckets: prometheus.ExponentialBuckets(1, 2, 11),
		},
		[]string{"event_id", "outcome"},
	)
)

// Monitor exposes admission metrics and periodically samples queue
// depths straight from Redis.
type Monitor struct {
	redis    *redis.Client
	stopChan chan struct{}
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	monitor := &Monitor{
		redis:    redisClient,
		stopChan: make(chan struct{}),
	}

	go monitor.collectLoop()

	return monitor
}

func (m *Monitor) collectLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.collectQueueDepths(context.Background())
		case <-m.stopChan:
			return
		}
	}
}

func (m *Monitor) collectQueueDepths(ctx context.Context) {
	waitingKeys, _ := m.redis.Keys(ctx, "admission:waiting:*").Result()
	for _, key := range waitingKeys {
		eventID := key[len("admission:waiting:"):]
		length, _ := m.redis.ZCard(ctx, key).Result()
		waitingLength.WithLabelValues(eventID).Set(float64(length))
	}

	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	offeredKeys, _ := m.redis.Keys(ctx, "admission:offered:*").Result()
	for _, key := range offeredKeys {
		eventID := key[len("admission:offered:"):]
		live, _ := m.redis.ZCount(ctx, key, "("+now, "+inf").Result()
		activeOffers.WithLabelValues(eventID).Set(float64(live))
	}
}

// Stop terminates the collection loop.
func (m *Monitor) Stop() {
	close(m.stopChan)
}

// TrackOperation records one admission operation outcome.
func (m *Monitor) TrackOperation(operation, eventID, status string) {
	admissionOperations.WithLabelValues(operation, eventID, status).Inc()
}

// TrackPromotion records a waiting entry being promoted to an offer.
func (m *Monitor) TrackPromotion(eventID string) {
	promotions.WithLabelValues(eventID).Inc()
}

// TrackOfferExpired records a reclaimed offer.
func (m *Monitor) TrackOfferExpired(eventID string) {
	offersExpired.WithLabelValues(eventID).Inc()
}

// TrackOfferHold records how long an offer was held and how it ended.
func (m *Monitor) TrackOfferHold(eventID, outcome string, duration time.Duration) {
	offerHoldDuration.WithLabelValues(eventID, outcome).Observe(duration.Seconds())
}
