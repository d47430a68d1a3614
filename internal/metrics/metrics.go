// Package metrics счётчики Prometheus для ledger, бонусов и уведомлений.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hermes"

// Metrics набор коллекторов сервиса.
type Metrics struct {
	txRetries     prometheus.Counter
	bonusOutcomes *prometheus.CounterVec
	purchases     *prometheus.CounterVec
	notifyFailed  *prometheus.CounterVec
	lookups       *prometheus.HistogramVec
	httpRequests  *prometheus.CounterVec
}

// New регистрирует коллекторы в reg. nil означает prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		txRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_retries_total",
			Help:      "Transactions retried after serialization conflict.",
		}),
		bonusOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bonus_outcomes_total",
			Help:      "Referral bonus link attempts by outcome.",
		}, []string{"partner", "outcome"}),
		purchases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_total",
			Help:      "Subscription purchases by result.",
		}, []string{"status"}),
		notifyFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Best-effort notifications that failed.",
		}, []string{"sink"}),
		lookups: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "partner_lookup_duration_seconds",
			Help:      "Partner referral list scan duration.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"partner", "found"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

// TxRetry хук повтора транзакции хранилища.
func (m *Metrics) TxRetry(int) {
	m.txRetries.Inc()
}

// BonusOutcome учитывает результат привязки UID.
func (m *Metrics) BonusOutcome(partner, outcome string) {
	m.bonusOutcomes.WithLabelValues(partner, outcome).Inc()
}

// Purchase учитывает результат покупки.
func (m *Metrics) Purchase(status string) {
	m.purchases.WithLabelValues(status).Inc()
}

// NotificationFailed учитывает неудачную отправку.
func (m *Metrics) NotificationFailed(sink string) {
	m.notifyFailed.WithLabelValues(sink).Inc()
}

// ObserveLookup учитывает длительность поиска реферала.
func (m *Metrics) ObserveLookup(partner string, found bool, d time.Duration) {
	m.lookups.WithLabelValues(partner, strconv.FormatBool(found)).Observe(d.Seconds())
}

// HTTPRequest учитывает обработанный запрос.
func (m *Metrics) HTTPRequest(route string, code int) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
