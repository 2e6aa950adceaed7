package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/JosineyJr/rdb25-dispatch/internal/config"
	"github.com/JosineyJr/rdb25-dispatch/internal/pipeline"
	"github.com/JosineyJr/rdb25-dispatch/internal/routing"
	"github.com/JosineyJr/rdb25-dispatch/internal/server"
	"github.com/JosineyJr/rdb25-dispatch/internal/storage"
	"github.com/JosineyJr/rdb25-dispatch/pkg/payments"
	jsoniter "github.com/json-iterator/go"
	"github.com/panjf2000/gnet/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigFastest

var (
	methodGet       = []byte("GET")
	methodPost      = []byte("POST")
	summaryPath     = []byte("/payments-summary")
	purgePath       = []byte("/purge-payments")
	requestDeadline = 5 * time.Second
)

// LedgerReader is the part of the ledger the HTTP server exposes.
type LedgerReader interface {
	Summary(ctx context.Context, from, to *time.Time) (payments.PaymentsSummary, error)
	Purge(ctx context.Context) error
}

type HTTPServer struct {
	gnet.BuiltinEventEngine
	booted chan gnet.Engine
	ledger LedgerReader
	logger *zerolog.Logger
}

func NewHTTPServer(ledger LedgerReader, logger *zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		booted: make(chan gnet.Engine, 1),
		ledger: ledger,
		logger: logger,
	}
}

func init() {
	config.LoadEnv()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	level, err := zerolog.ParseLevel(config.LOG_LEVEL)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	queue, err := storage.NewRedisQueue(ctx, config.REDIS_URL, config.QUEUE_NAME)
	if err != nil {
		logger.Fatal().Err(err).Msg("Unable to connect to payments queue")
	}
	defer queue.Close()

	ledger, err := storage.NewPostgresLedger(ctx, config.DATABASE_URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Unable to connect to payments ledger")
	}
	defer ledger.Close()

	if err := ledger.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Unable to prepare payments ledger")
	}

	p := pipeline.New(pipeline.Options{
		Endpoints: routing.Endpoints{
			Default:  config.PAYMENTS_PROCESSOR_URL_DEFAULT,
			Fallback: config.PAYMENTS_PROCESSOR_URL_FALLBACK,
		},
		BufferCapacity: config.CHANNEL_CAPACITY,
		Producers:      config.NUM_PRODUCERS,
		Workers:        config.NUM_WORKERS,
		BatchSize:      config.BATCH_SIZE,
		MinDelay:       config.POLL_MIN_DELAY,
		MaxDelay:       config.POLL_MAX_DELAY,
		HealthInterval: config.HEALTH_CHECK_INTERVAL,
		HealthTimeout:  config.HEALTH_TIMEOUT,
	}, queue, ledger, routing.NewHTTPClient(), &logger)

	metricsServer := &http.Server{
		Addr:              ":" + config.METRICS_PORT,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", metricsServer.Addr).Msg("Metrics server starting")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	httpServer := NewHTTPServer(ledger, &logger)
	go func() {
		addr := fmt.Sprintf("tcp://:%s", config.WORKER_HTTP_PORT)
		logger.Info().Str("addr", addr).Msg("Worker starting gnet HTTP server")
		err := gnet.Run(
			httpServer,
			addr,
			gnet.WithReusePort(true),
			gnet.WithMulticore(true),
			gnet.WithTCPNoDelay(gnet.TCPNoDelay),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("gnet HTTP server failed to start")
		}
	}()

	if err := p.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Pipeline stopped with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Metrics server shutdown failed")
	}
	select {
	case eng := <-httpServer.booted:
		if err := eng.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("gnet HTTP server shutdown failed")
		}
	default:
		logger.Warn().Msg("gnet HTTP server was not running")
	}
	logger.Info().Msg("Worker stopped gracefully")
}

func (s *HTTPServer) OnBoot(eng gnet.Engine) (action gnet.Action) {
	select {
	case s.booted <- eng:
	default:
	}
	return
}

type pendingRequest struct {
	method, path []byte
	query        string
}

// connQueue holds one connection's parsed requests until they are answered.
// At most one goroutine drains it, so responses leave in request order.
type connQueue struct {
	mu      sync.Mutex
	batches [][]pendingRequest
	running bool
}

// push reports whether the caller must start draining.
func (q *connQueue) push(batch []pendingRequest) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.batches = append(q.batches, batch)
	if q.running {
		return false
	}
	q.running = true
	return true
}

// next hands out the oldest batch, or marks the queue idle when it is empty.
func (q *connQueue) next() ([]pendingRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.batches) == 0 {
		q.running = false
		return nil, false
	}
	batch := q.batches[0]
	q.batches[0] = nil
	q.batches = q.batches[1:]
	return batch, true
}

func (s *HTTPServer) OnOpen(c gnet.Conn) (out []byte, action gnet.Action) {
	c.SetContext(&connQueue{})
	return nil, gnet.None
}

func (s *HTTPServer) OnTraffic(c gnet.Conn) (action gnet.Action) {
	buf, err := c.Peek(-1)
	if err != nil {
		return gnet.Close
	}

	var pending []pendingRequest
	consumed := 0
	for consumed < len(buf) {
		req, n, err := server.Parse(buf[consumed:])
		if err != nil {
			c.Write(server.HTTP400BadRequest)
			return gnet.Close
		}
		if n == 0 {
			break
		}
		consumed += n
		pending = append(pending, pendingRequest{
			method: bytes.Clone(req.Method),
			path:   bytes.Clone(req.Path),
			query:  string(req.Query),
		})
	}
	c.Discard(consumed)
	if len(pending) == 0 {
		return gnet.None
	}

	q, ok := c.Context().(*connQueue)
	if !ok {
		q = &connQueue{}
		c.SetContext(q)
	}
	// Ledger calls hit the database, so they run off the event loop.
	if q.push(pending) {
		go s.serve(c, q)
	}
	return gnet.None
}

func (s *HTTPServer) serve(c gnet.Conn, q *connQueue) {
	for batch, ok := q.next(); ok; batch, ok = q.next() {
		if err := c.AsyncWrite(s.respond(batch), nil); err != nil {
			s.logger.Error().Err(err).Msg("Failed to write response")
		}
	}
}

func (s *HTTPServer) respond(batch []pendingRequest) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), requestDeadline)
	defer cancel()

	var resp []byte
	for _, r := range batch {
		resp = append(resp, s.route(ctx, r.method, r.path, r.query)...)
	}
	return resp
}

func (s *HTTPServer) route(ctx context.Context, method, path []byte, query string) []byte {
	switch {
	case bytes.Equal(path, summaryPath):
		if !bytes.Equal(method, methodGet) {
			return server.HTTP405NotAllowed
		}
		return s.summary(ctx, query)

	case bytes.Equal(path, purgePath):
		if !bytes.Equal(method, methodPost) {
			return server.HTTP405NotAllowed
		}
		if err := s.ledger.Purge(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Failed to purge payments")
			return server.HTTP500Error
		}
		return server.HTTP204NoContent

	default:
		return server.HTTP404NotFound
	}
}

func (s *HTTPServer) summary(ctx context.Context, query string) []byte {
	from, to, err := parseRange(query)
	if err != nil {
		return server.HTTP400BadRequest
	}

	summary, err := s.ledger.Summary(ctx, from, to)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read payments summary")
		return server.HTTP500Error
	}

	body, err := json.Marshal(summary)
	if err != nil {
		return server.HTTP500Error
	}
	return server.JSON(body)
}

// parseRange reads the optional from and to bounds. A missing bound leaves
// that side of the range open.
func parseRange(query string) (from, to *time.Time, err error) {
	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, nil, err
	}

	parse := func(key string) (*time.Time, error) {
		raw := values.Get(key)
		if raw == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", key, err)
		}
		return &t, nil
	}

	if from, err = parse("from"); err != nil {
		return nil, nil, err
	}
	if to, err = parse("to"); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}
