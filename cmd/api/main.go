package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/JosineyJr/rdb25-dispatch/internal/config"
	"github.com/JosineyJr/rdb25-dispatch/internal/server"
	"github.com/JosineyJr/rdb25-dispatch/internal/storage"
	"github.com/panjf2000/gnet/v2"
	"github.com/rs/zerolog"
)

const pushTimeout = 2 * time.Second

var (
	methodPost   = []byte("POST")
	paymentsPath = []byte("/payments")
)

// Pusher appends a raw payment request to the external queue.
type Pusher interface {
	Push(ctx context.Context, item []byte) error
}

type paymentServer struct {
	gnet.BuiltinEventEngine
	logger *zerolog.Logger
	queue  Pusher
}

func main() {
	config.LoadEnv()

	level, err := zerolog.ParseLevel(config.LOG_LEVEL)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	queue, err := storage.NewRedisQueue(ctx, config.REDIS_URL, config.QUEUE_NAME)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to payments queue")
	}
	defer queue.Close()

	ps := &paymentServer{
		logger: &logger,
		queue:  queue,
	}

	addr := fmt.Sprintf("tcp://:%s", config.PORT)
	logger.Info().Str("addr", addr).Msg("Gnet server starting")
	err = gnet.Run(ps, addr,
		gnet.WithMulticore(true),
		gnet.WithReusePort(true),
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
		gnet.WithLockOSThread(true),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Gnet server failed to start")
	}
}

func (ps *paymentServer) OnBoot(eng gnet.Engine) (action gnet.Action) {
	ps.logger.Info().Msgf("Gnet server started on port %s", config.PORT)
	return
}

func (ps *paymentServer) OnTraffic(c gnet.Conn) (action gnet.Action) {
	buf, err := c.Peek(-1)
	if err != nil {
		return gnet.Close
	}

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
		c.Write(ps.route(req))
	}

	c.Discard(consumed)
	return gnet.None
}

// route answers before the payment is queued. The body is copied because the
// connection buffer is reused after OnTraffic returns.
func (ps *paymentServer) route(req server.Request) []byte {
	if !bytes.Equal(req.Path, paymentsPath) {
		return server.HTTP404NotFound
	}
	if !bytes.Equal(req.Method, methodPost) {
		return server.HTTP405NotAllowed
	}

	body := make([]byte, len(req.Body))
	copy(body, req.Body)
	go ps.enqueue(body)

	return server.HTTP202Accepted
}

func (ps *paymentServer) enqueue(body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	if err := ps.queue.Push(ctx, body); err != nil {
		ps.logger.Error().Err(err).Bytes("payload", body).Msg("Failed to enqueue payment")
	}
}
