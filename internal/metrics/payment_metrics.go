package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics содержит метрики платёжного цикла заказов.
type PaymentMetrics struct {
	// Счётчики исходов checkout
	checkoutOutcomes *prometheus.CounterVec

	// Гистограммы времени обработки внешних запросов
	checkoutDuration prometheus.Histogram
	webhookDuration  prometheus.Histogram

	// Время от создания заказа до оплаты
	timeToPayment prometheus.Histogram
}

// NewPaymentMetrics создаёт новый экземпляр метрик платёжного цикла.
func NewPaymentMetrics() *PaymentMetrics {
	return newPaymentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newPaymentMetricsWithRegisterer(registerer prometheus.Registerer) *PaymentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PaymentMetrics{
		checkoutOutcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pedidos_checkout_outcomes_total",
			Help: "Total number of checkout attempts grouped by outcome",
		}, []string{"outcome"}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "pedidos_checkout_duration_seconds",
			Help:    "Duration of checkout requests in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		webhookDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "pedidos_webhook_duration_seconds",
			Help:    "Duration of webhook notification processing in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		timeToPayment: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "pedidos_time_to_payment_seconds",
			Help:    "Time from order creation to the approved payment in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),
	}
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordCheckout фиксирует исход и длительность одного checkout-запроса.
func (m *PaymentMetrics) RecordCheckout(outcome string, duration time.Duration) {
	m.checkoutOutcomes.WithLabelValues(outcome).Inc()
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordWebhook фиксирует длительность обработки webhook уведомления.
func (m *PaymentMetrics) RecordWebhook(duration time.Duration) {
	m.webhookDuration.Observe(duration.Seconds())
}

// RecordTimeToPayment фиксирует, сколько заказ ждал одобренного платежа.
func (m *PaymentMetrics) RecordTimeToPayment(createdAt, paidAt time.Time) {
	if createdAt.IsZero() || paidAt.IsZero() || paidAt.Before(createdAt) {
		return
	}
	m.timeToPayment.Observe(paidAt.Sub(createdAt).Seconds())
}
