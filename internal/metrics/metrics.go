package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PaymentsDispatched counts Send outcomes. processor is empty when no
	// service was available.
	PaymentsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_payments_total",
		Help: "Payments handled by the dispatcher, by processor and outcome",
	}, []string{"processor", "outcome"})

	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_attempt_duration_seconds",
		Help:    "Duration of a single POST to a payment processor",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"processor"})

	PaymentsRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_payments_requeued_total",
		Help: "Payments pushed back to the external queue after a failed dispatch",
	})

	PaymentsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_payments_dropped_total",
		Help: "Queue items dropped because they could not be decoded",
	})

	LedgerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_ledger_errors_total",
		Help: "Ledger inserts that failed after all retries",
	})

	// BatchSize tracks how many items each pull actually returned.
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_pull_batch_size",
		Help:    "Number of items returned per external queue pull",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200},
	})

	QueueBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_queue_backlog",
		Help: "Items waiting in the external queue",
	})

	BufferDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_buffer_depth",
		Help: "Items waiting in the internal buffer",
	})

	// ProcessorHealthy is 1 when the last health check reported the processor
	// as not failing.
	ProcessorHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatch_processor_healthy",
		Help: "Last known health of each payment processor (1 healthy, 0 failing)",
	}, []string{"processor"})

	ProcessorMinResponseTime = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatch_processor_min_response_time_ms",
		Help: "Last reported minResponseTime of each payment processor",
	}, []string{"processor"})

	// PreferredProcessor is 1 for the service new dispatches go to and 0 for
	// the other. Both are 0 when neither is available.
	PreferredProcessor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatch_processor_preferred",
		Help: "Processor currently preferred by the routing decision",
	}, []string{"processor"})
)
