package pipeline

import (
	"context"
	"time"

	"github.com/JosineyJr/rdb25-dispatch/internal/batching"
	"github.com/JosineyJr/rdb25-dispatch/internal/health"
	"github.com/JosineyJr/rdb25-dispatch/internal/routing"
	"github.com/JosineyJr/rdb25-dispatch/internal/storage"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Endpoints routing.Endpoints

	BufferCapacity int
	Producers      int
	Workers        int
	BatchSize      int
	MinDelay       time.Duration
	MaxDelay       time.Duration

	HealthInterval  time.Duration
	HealthTimeout   time.Duration
	BacklogInterval time.Duration
}

// Pipeline moves payments from the external queue to the processors:
// pullers fill the buffer, the pool drains it through the dispatcher, and the
// health monitor keeps the routing decision current.
type Pipeline struct {
	Buffer   *batching.Buffer
	Decision *routing.Decision

	monitor *health.Monitor
	pullers []*batching.Puller
	pool    *routing.Pool
	backlog *batching.Backlog
	logger  *zerolog.Logger
}

func New(
	opts Options,
	queue storage.Queue,
	ledger routing.LedgerWriter,
	client *fasthttp.Client,
	logger *zerolog.Logger,
) *Pipeline {
	if opts.BufferCapacity <= 0 {
		opts.BufferCapacity = 5000
	}
	opts.Producers = max(opts.Producers, 1)
	opts.Workers = max(opts.Workers, 1)

	buffer := batching.NewBuffer(opts.BufferCapacity)
	decision := routing.NewDecision()
	dispatcher := routing.NewDispatcher(client, opts.Endpoints, decision, ledger, logger)

	pullers := make([]*batching.Puller, opts.Producers)
	for i := range pullers {
		pullers[i] = batching.NewPuller(i, queue, buffer, batching.PullerConfig{
			BatchSize: opts.BatchSize,
			MinDelay:  opts.MinDelay,
			MaxDelay:  opts.MaxDelay,
		}, logger)
	}

	return &Pipeline{
		Buffer:   buffer,
		Decision: decision,
		monitor: health.NewMonitor(
			client,
			opts.Endpoints.Default,
			opts.Endpoints.Fallback,
			decision,
			opts.HealthInterval,
			opts.HealthTimeout,
			logger,
		),
		pullers: pullers,
		pool:    routing.NewPool(opts.Workers, buffer, dispatcher, queue, logger),
		backlog: batching.NewBacklog(queue, buffer, opts.BacklogInterval, logger),
		logger:  logger,
	}
}

// Run blocks until ctx is done and every task has returned. Payments still in
// the buffer at that point are abandoned.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		p.monitor.Run(ctx)
		return nil
	})
	for _, puller := range p.pullers {
		g.Go(func() error {
			puller.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		return p.pool.Run(ctx)
	})
	g.Go(func() error {
		p.backlog.Run(ctx)
		return nil
	})

	p.logger.Info().
		Int("producers", len(p.pullers)).
		Int("buffer_capacity", p.Buffer.Cap()).
		Msg("Pipeline started")

	err := g.Wait()
	p.logger.Info().Int("abandoned", p.Buffer.Len()).Msg("Pipeline stopped")
	return err
}
