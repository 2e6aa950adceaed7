package health

import (
	"context"
	"time"

	"github.com/JosineyJr/rdb25-dispatch/internal/metrics"
	"github.com/JosineyJr/rdb25-dispatch/pkg/backoff"
	"github.com/JosineyJr/rdb25-dispatch/pkg/payments"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// The processors rate-limit the health endpoint to one call every 5s.
const (
	DefaultInterval = 5100 * time.Millisecond
	DefaultTimeout  = 2 * time.Second
)

type Recorder interface {
	RecordHealth(service string, health payments.ServiceHealth) error
}

type Monitor struct {
	client   *fasthttp.Client
	urls     map[string]string
	recorder Recorder
	interval time.Duration
	timeout  time.Duration
	logger   *zerolog.Logger
}

func NewMonitor(
	client *fasthttp.Client,
	defaultURL, fallbackURL string,
	recorder Recorder,
	interval, timeout time.Duration,
	logger *zerolog.Logger,
) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Monitor{
		client: client,
		urls: map[string]string{
			payments.DefaultProcessor:  defaultURL,
			payments.FallbackProcessor: fallbackURL,
		},
		recorder: recorder,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Run checks both processors, then sleeps for the interval, until ctx is
// done. Cancellation is only observed between cycles; a started cycle always
// records both results.
func (m *Monitor) Run(ctx context.Context) {
	for ctx.Err() == nil {
		m.Check()
		if backoff.Sleep(ctx, m.interval) != nil {
			return
		}
	}
}

// Probe reads the current health of one processor.
func (m *Monitor) Probe(service string) payments.ServiceHealth {
	return GetHealthStatus(m.client, m.urls[service], m.timeout)
}

// Check runs one cycle: default first, then fallback.
func (m *Monitor) Check() {
	for _, service := range []string{payments.DefaultProcessor, payments.FallbackProcessor} {
		health := m.Probe(service)
		if err := m.recorder.RecordHealth(service, health); err != nil {
			m.logger.Error().Err(err).Str("service", service).Msg("Failed to record health")
			continue
		}

		healthy := 0.0
		if !health.Failing {
			healthy = 1
		}
		metrics.ProcessorHealthy.WithLabelValues(service).Set(healthy)
		metrics.ProcessorMinResponseTime.WithLabelValues(service).Set(float64(health.MinResponseTime))

		m.logger.Debug().
			Str("service", service).
			Bool("failing", health.Failing).
			Int("min_response_time", health.MinResponseTime).
			Msg("Health updated")
	}
}
