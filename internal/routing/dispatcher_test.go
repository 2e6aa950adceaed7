package routing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JosineyJr/rdb25-dispatch/internal/storage"
	"github.com/JosineyJr/rdb25-dispatch/pkg/payments"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcessor is an httptest payment processor that counts POST /payments.
type fakeProcessor struct {
	*httptest.Server
	calls  atomic.Int32
	status atomic.Int32
	delay  atomic.Int64

	mu     sync.Mutex
	bodies [][]byte
}

func newFakeProcessor(t *testing.T, status int) *fakeProcessor {
	t.Helper()
	fp := &fakeProcessor{}
	fp.status.Store(int32(status))
	fp.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/payments" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fp.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		fp.mu.Lock()
		fp.bodies = append(fp.bodies, body)
		fp.mu.Unlock()
		if d := time.Duration(fp.delay.Load()); d > 0 {
			time.Sleep(d)
		}
		w.WriteHeader(int(fp.status.Load()))
	}))
	t.Cleanup(fp.Close)
	return fp
}

func (fp *fakeProcessor) lastBody() []byte {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if len(fp.bodies) == 0 {
		return nil
	}
	return fp.bodies[len(fp.bodies)-1]
}

type failingLedger struct {
	failures atomic.Int32
	calls    atomic.Int32
	inner    *storage.MemoryLedger
	onInsert func()
}

func (l *failingLedger) Insert(ctx context.Context, rec payments.PaymentRecord) error {
	l.calls.Add(1)
	if l.onInsert != nil {
		l.onInsert()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.failures.Add(-1) >= 0 {
		return errors.New("connection refused")
	}
	return l.inner.Insert(ctx, rec)
}

func newPayment() payments.PaymentRequest {
	return payments.PaymentRequest{
		CorrelationID: uuid.NewString(),
		Amount:        decimal.RequireFromString("19.90"),
	}
}

func newTestDispatcher(
	t *testing.T,
	def, fb *fakeProcessor,
	decision *Decision,
	ledger LedgerWriter,
) *Dispatcher {
	t.Helper()
	logger := zerolog.Nop()
	d := NewDispatcher(NewHTTPClient(), Endpoints{Default: def.URL, Fallback: fb.URL}, decision, ledger, &logger)
	d.ledgerMinDelay = time.Millisecond
	d.ledgerMaxDelay = 5 * time.Millisecond
	return d
}

func healthy(rt int) payments.ServiceHealth {
	return payments.ServiceHealth{MinResponseTime: rt}
}

func failing() payments.ServiceHealth {
	return payments.ServiceHealth{Failing: true, MinResponseTime: 100000}
}

func TestSendToPreferredService(t *testing.T) {
	def := newFakeProcessor(t, http.StatusOK)
	fb := newFakeProcessor(t, http.StatusOK)
	decision := NewDecision()
	require.NoError(t, decision.RecordHealth(payments.DefaultProcessor, healthy(10)))
	require.NoError(t, decision.RecordHealth(payments.FallbackProcessor, healthy(50)))
	ledger := storage.NewMemoryLedger()

	d := newTestDispatcher(t, def, fb, decision, ledger)
	fixed := time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	p := newPayment()
	res := d.Send(context.Background(), p)

	assert.True(t, res.Succeeded())
	assert.True(t, res.Recorded)
	assert.Equal(t, payments.DefaultProcessor, res.Service)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), def.calls.Load())
	assert.Equal(t, int32(0), fb.calls.Load())

	rec, ok := ledger.Get(p.CorrelationID)
	require.True(t, ok)
	assert.True(t, rec.IsDefault)
	assert.True(t, fixed.Equal(rec.RequestedAt))
	assert.True(t, p.Amount.Equal(rec.Amount))

	assert.JSONEq(t,
		`{"correlationId":"`+p.CorrelationID+`","amount":19.9,"requestedAt":"2025-07-15T12:00:00Z"}`,
		string(def.lastBody()),
	)
}

func TestSendKeepsIngressTimestamp(t *testing.T) {
	def := newFakeProcessor(t, http.StatusOK)
	fb := newFakeProcessor(t, http.StatusOK)
	decision := NewDecision()
	require.NoError(t, decision.RecordHealth(payments.DefaultProcessor, healthy(10)))
	ledger := storage.NewMemoryLedger()
	d := newTestDispatcher(t, def, fb, decision, ledger)

	p := newPayment()
	p.RequestedAt = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.True(t, d.Send(context.Background(), p).Succeeded())

	rec, ok := ledger.Get(p.CorrelationID)
	require.True(t, ok)
	assert.True(t, p.RequestedAt.Equal(rec.RequestedAt))
}

func TestSendFallsBackAfterTimeout(t *testing.T) {
	def := newFakeProcessor(t, http.StatusOK)
	def.delay.Store(int64(1500 * time.Millisecond))
	fb := newFakeProcessor(t, http.StatusOK)

	decision := NewDecision()
	require.NoError(t, decision.RecordHealth(payments.DefaultProcessor, healthy(0)))
	require.NoError(t, decision.RecordHealth(payments.FallbackProcessor, healthy(50)))
	ledger := storage.NewMemoryLedger()
	d := newTestDispatcher(t, def, fb, decision, ledger)

	p := newPayment()
	res := d.Send(context.Background(), p)

	assert.True(t, res.Succeeded())
	assert.Equal(t, payments.FallbackProcessor, res.Service)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(1), fb.calls.Load())

	rec, ok := ledger.Get(p.CorrelationID)
	require.True(t, ok)
	assert.False(t, rec.IsDefault)
}

func TestSendNoFallbackWhenOtherFailing(t *testing.T) {
	def := newFakeProcessor(t, http.StatusInternalServerError)
	fb := newFakeProcessor(t, http.StatusOK)

	decision := NewDecision()
	require.NoError(t, decision.RecordHealth(payments.DefaultProcessor, healthy(10)))
	require.NoError(t, decision.RecordHealth(payments.FallbackProcessor, failing()))
	ledger := storage.NewMemoryLedger()
	d := newTestDispatcher(t, def, fb, decision, ledger)

	res := d.Send(context.Background(), newPayment())

	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), def.calls.Load())
	assert.Equal(t, int32(0), fb.calls.Load())
	assert.Equal(t, 0, ledger.Count())
}

func TestSendBothAttemptsFail(t *testing.T) {
	def := newFakeProcessor(t, http.StatusUnprocessableEntity)
	fb := newFakeProcessor(t, http.StatusServiceUnavailable)

	decision := NewDecision()
	require.NoError(t, decision.RecordHealth(payments.DefaultProcessor, healthy(10)))
	require.NoError(t, decision.RecordHealth(payments.FallbackProcessor, healthy(20)))
	ledger := storage.NewMemoryLedger()
	d := newTestDispatcher(t, def, fb, decision, ledger)

	res := d.Send(context.Background(), newPayment())

	assert.False(t, res.Succeeded())
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(1), def.calls.Load())
	assert.Equal(t, int32(1), fb.calls.Load())
	assert.Equal(t, 0, ledger.Count())
}

func TestSendNoServiceAvailable(t *testing.T) {
	def := newFakeProcessor(t, http.StatusOK)
	fb := newFakeProcessor(t, http.StatusOK)

	decision := NewDecision()
	require.NoError(t, decision.RecordHealth(payments.DefaultProcessor, failing()))
	require.NoError(t, decision.RecordHealth(payments.FallbackProcessor, failing()))
	ledger := storage.NewMemoryLedger()
	d := newTestDispatcher(t, def, fb, decision, ledger)

	res := d.Send(context.Background(), newPayment())

	assert.Equal(t, OutcomeUnavailable, res.Outcome)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, int32(0), def.calls.Load())
	assert.Equal(t, int32(0), fb.calls.Load())
}

func TestSendConnectionRefused(t *testing.T) {
	def := newFakeProcessor(t, http.StatusOK)
	def.Close()
	fb := newFakeProcessor(t, http.StatusOK)

	decision := NewDecision()
	require.NoError(t, decision.RecordHealth(payments.DefaultProcessor, healthy(1)))
	ledger := storage.NewMemoryLedger()
	d := newTestDispatcher(t, def, fb, decision, ledger)

	res := d.Send(context.Background(), newPayment())

	// Fallback health is unknown, so no second attempt is made.
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(0), fb.calls.Load())
}

func TestSendRetriesLedgerInsert(t *testing.T) {
	def := newFakeProcessor(t, http.StatusOK)
	fb := newFakeProcessor(t, http.StatusOK)
	decision := NewDecision()
	require.NoError(t, decision.RecordHealth(payments.DefaultProcessor, healthy(1)))

	ledger := &failingLedger{inner: storage.NewMemoryLedger()}
	ledger.failures.Store(2)
	d := newTestDispatcher(t, def, fb, decision, ledger)

	p := newPayment()
	res := d.Send(context.Background(), p)
	assert.True(t, res.Succeeded())
	assert.True(t, res.Recorded)
	_, ok := ledger.inner.Get(p.CorrelationID)
	assert.True(t, ok)
	assert.Equal(t, int32(3), ledger.calls.Load())

	ledger.failures.Store(100)
	ledger.calls.Store(0)
	res = d.Send(context.Background(), newPayment())
	assert.True(t, res.Succeeded())
	assert.False(t, res.Recorded)
	assert.Equal(t, int32(5), ledger.calls.Load(), "gives up after a bounded number of inserts")
}

func TestSendRecordsDespiteShutdown(t *testing.T) {
	def := newFakeProcessor(t, http.StatusOK)
	fb := newFakeProcessor(t, http.StatusOK)
	decision := NewDecision()
	require.NoError(t, decision.RecordHealth(payments.DefaultProcessor, healthy(1)))

	ledger := &failingLedger{inner: storage.NewMemoryLedger()}
	ledger.failures.Store(1)
	d := newTestDispatcher(t, def, fb, decision, ledger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Shutdown starts while the accepted payment is being recorded.
	ledger.onInsert = cancel
	res := d.Send(ctx, newPayment())

	assert.True(t, res.Succeeded())
	assert.True(t, res.Recorded)
	assert.Equal(t, int32(2), ledger.calls.Load())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "succeeded", OutcomeSucceeded.String())
	assert.Equal(t, "unavailable", OutcomeUnavailable.String())
	assert.Equal(t, "rejected", OutcomeRejected.String())
	assert.Equal(t, "timeout", OutcomeTimeout.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
}

func TestEndpointsURL(t *testing.T) {
	e := Endpoints{Default: "http://default:8080/", Fallback: "http://fallback:8080"}
	assert.Equal(t, "http://default:8080", e.URL(payments.DefaultProcessor))
	assert.Equal(t, "http://fallback:8080", e.URL(payments.FallbackProcessor))
}
