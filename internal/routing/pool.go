package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/JosineyJr/rdb25-dispatch/internal/metrics"
	"github.com/JosineyJr/rdb25-dispatch/pkg/payments"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Sender interface {
	Send(ctx context.Context, p payments.PaymentRequest) Result
}

// Source hands out buffered payments; Take blocks until one is available or
// ctx is done.
type Source interface {
	Take(ctx context.Context) (payments.QueuedPayment, error)
}

// Requeuer appends an item to the external queue's tail.
type Requeuer interface {
	Push(ctx context.Context, item []byte) error
}

// Pool runs a fixed number of workers that dispatch buffered payments and
// push failed ones back to the external queue.
type Pool struct {
	workers  int
	source   Source
	sender   Sender
	requeuer Requeuer
	logger   *zerolog.Logger

	requeueMinDelay time.Duration
	requeueMaxDelay time.Duration
}

func NewPool(workers int, source Source, sender Sender, requeuer Requeuer, logger *zerolog.Logger) *Pool {
	return &Pool{
		workers:         max(workers, 1),
		source:          source,
		sender:          sender,
		requeuer:        requeuer,
		logger:          logger,
		requeueMinDelay: 50 * time.Millisecond,
		requeueMaxDelay: time.Second,
	}
}

// Run blocks until every worker has observed cancellation. Items still in the
// source are left there.
func (p *Pool) Run(ctx context.Context) error {
	var g errgroup.Group
	for i := 0; i < p.workers; i++ {
		workerID := i
		g.Go(func() error {
			p.work(ctx, workerID)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) work(ctx context.Context, workerID int) {
	for {
		item, err := p.source.Take(ctx)
		if err != nil {
			return
		}
		p.handle(ctx, workerID, item)
	}
}

// handle never lets one payment take the worker down.
func (p *Pool) handle(ctx context.Context, workerID int, item payments.QueuedPayment) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Err(fmt.Errorf("panic: %v", r)).
				Int("worker_id", workerID).
				Str("correlation_id", item.Request.CorrelationID).
				Msg("Recovered while processing payment")
		}
	}()

	res := p.sender.Send(ctx, item.Request)
	if res.Succeeded() {
		return
	}

	p.logger.Debug().
		Int("worker_id", workerID).
		Str("correlation_id", item.Request.CorrelationID).
		Str("outcome", res.Outcome.String()).
		Msg("Requeueing payment")
	p.requeue(ctx, workerID, item)
}

// requeue keeps retrying while the queue is unreachable. On shutdown the
// item is abandoned.
func (p *Pool) requeue(ctx context.Context, workerID int, item payments.QueuedPayment) {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, p.requeuer.Push(ctx, item.Payload)
	},
		backoff.WithBackOff(newExponentialBackOff(p.requeueMinDelay, p.requeueMaxDelay)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Error().
				Err(err).
				Int("worker_id", workerID).
				Str("correlation_id", item.Request.CorrelationID).
				Dur("retry_in", next).
				Msg("Failed to requeue payment")
		}),
	)
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("correlation_id", item.Request.CorrelationID).
			Msg("Abandoning payment on shutdown")
		return
	}
	metrics.PaymentsRequeued.Inc()
}
