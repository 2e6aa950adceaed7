package routing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/JosineyJr/rdb25-dispatch/internal/metrics"
	"github.com/JosineyJr/rdb25-dispatch/pkg/payments"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

const ledgerDeadline = 10 * time.Second

type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	// OutcomeUnavailable means no service was healthy and nothing was sent.
	OutcomeUnavailable
	OutcomeRejected
	OutcomeTimeout
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "failed"
	}
}

// Result describes one Send. Service is the processor that accepted the
// payment on success, otherwise the last one attempted.
type Result struct {
	Outcome  Outcome
	Service  string
	Attempts int
	Recorded bool
}

func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeSucceeded
}

type HealthView interface {
	Preferred() string
	RecommendedTimeout(service string) time.Duration
	HealthOf(service string) (payments.ServiceHealth, bool)
}

type LedgerWriter interface {
	Insert(ctx context.Context, rec payments.PaymentRecord) error
}

// Endpoints are the processors' base URLs.
type Endpoints struct {
	Default  string
	Fallback string
}

func (e Endpoints) URL(service string) string {
	if service == payments.FallbackProcessor {
		return strings.TrimRight(e.Fallback, "/")
	}
	return strings.TrimRight(e.Default, "/")
}

// NewHTTPClient returns the client shared by dispatch and health checks.
// Per-call deadlines are set with DoTimeout.
func NewHTTPClient() *fasthttp.Client {
	return &fasthttp.Client{
		MaxConnsPerHost:               1024,
		MaxIdleConnDuration:           30 * time.Second,
		MaxConnWaitTimeout:            time.Second,
		NoDefaultUserAgentHeader:      true,
		DisableHeaderNamesNormalizing: true,
	}
}

type Dispatcher struct {
	client    *fasthttp.Client
	endpoints Endpoints
	decision  HealthView
	ledger    LedgerWriter
	logger    *zerolog.Logger
	now       func() time.Time

	ledgerAttempts int
	ledgerMinDelay time.Duration
	ledgerMaxDelay time.Duration
}

func NewDispatcher(
	client *fasthttp.Client,
	endpoints Endpoints,
	decision HealthView,
	ledger LedgerWriter,
	logger *zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		client:         client,
		endpoints:      endpoints,
		decision:       decision,
		ledger:         ledger,
		logger:         logger,
		now:            time.Now,
		ledgerAttempts: 5,
		ledgerMinDelay: 20 * time.Millisecond,
		ledgerMaxDelay: time.Second,
	}
}

// Send posts the payment to the preferred processor, falls back once to the
// other processor if it is known to be healthy, and records the payment in
// the ledger when either accepts it.
func (d *Dispatcher) Send(ctx context.Context, p payments.PaymentRequest) Result {
	preferred := d.decision.Preferred()
	if preferred == "" {
		metrics.PaymentsDispatched.WithLabelValues("", OutcomeUnavailable.String()).Inc()
		return Result{Outcome: OutcomeUnavailable}
	}

	res := Result{Service: preferred, Attempts: 1}
	sent, outcome := d.attempt(preferred, p)

	if outcome != OutcomeSucceeded && ctx.Err() == nil {
		other := payments.Other(preferred)
		if h, ok := d.decision.HealthOf(other); ok && !h.Failing {
			d.logger.Debug().
				Str("correlation_id", p.CorrelationID).
				Str("service", preferred).
				Str("outcome", outcome.String()).
				Msg("Dispatch failed, trying other processor")
			res.Service = other
			res.Attempts++
			sent, outcome = d.attempt(other, p)
		}
	}

	res.Outcome = outcome
	metrics.PaymentsDispatched.WithLabelValues(res.Service, outcome.String()).Inc()
	if outcome != OutcomeSucceeded {
		return res
	}

	res.Recorded = d.record(ctx, payments.PaymentRecord{
		CorrelationID: sent.CorrelationID,
		Amount:        sent.Amount,
		IsDefault:     res.Service == payments.DefaultProcessor,
		RequestedAt:   sent.RequestedAt,
	})
	return res
}

// attempt stamps RequestedAt when the request carries none and returns the
// request exactly as it was sent.
func (d *Dispatcher) attempt(service string, p payments.PaymentRequest) (payments.PaymentRequest, Outcome) {
	if p.RequestedAt.IsZero() {
		p.RequestedAt = d.now().UTC()
	}

	body, err := payments.Encode(p)
	if err != nil {
		d.logger.Error().Err(err).Str("correlation_id", p.CorrelationID).Msg("Error marshalling payload")
		return p, OutcomeFailed
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetRequestURI(d.endpoints.URL(service) + "/payments")
	req.SetBodyRaw(body)

	start := time.Now()
	err = d.client.DoTimeout(req, resp, d.decision.RecommendedTimeout(service))
	metrics.DispatchDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, fasthttp.ErrTimeout):
		return p, OutcomeTimeout
	case err != nil:
		d.logger.Debug().Err(err).Str("service", service).Msg("Payment request failed")
		return p, OutcomeFailed
	}

	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return p, OutcomeRejected
	}
	return p, OutcomeSucceeded
}

// record retries transient ledger errors. A payment that still cannot be
// recorded is logged, not requeued: the processor has already accepted it.
// Shutdown does not interrupt the insert, only the overall deadline does.
func (d *Dispatcher) record(ctx context.Context, rec payments.PaymentRecord) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerDeadline)
	defer cancel()

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, d.ledger.Insert(ctx, rec)
	},
		backoff.WithBackOff(newExponentialBackOff(d.ledgerMinDelay, d.ledgerMaxDelay)),
		backoff.WithMaxTries(uint(d.ledgerAttempts)),
		backoff.WithMaxElapsedTime(ledgerDeadline),
	)
	if err != nil {
		metrics.LedgerErrors.Inc()
		d.logger.Error().
			Err(err).
			Str("correlation_id", rec.CorrelationID).
			Int("attempts", attempts).
			Msg("Failed to record processed payment")
		return false
	}
	return true
}

// newExponentialBackOff doubles from initial up to maxInterval with 20% jitter.
func newExponentialBackOff(initial, maxInterval time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return b
}
