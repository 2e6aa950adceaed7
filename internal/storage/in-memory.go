package storage

import (
	"context"
	"sync"
	"time"

	"github.com/JosineyJr/rdb25-dispatch/pkg/payments"
)

// MemoryQueue is an in-process Queue with the same contract as RedisQueue.
type MemoryQueue struct {
	mu    sync.Mutex
	items [][]byte
}

func NewMemoryQueue(items ...[]byte) *MemoryQueue {
	q := &MemoryQueue{}
	for _, item := range items {
		q.items = append(q.items, cloneBytes(item))
	}
	return q
}

func (q *MemoryQueue) PopBatch(ctx context.Context, n int) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || len(q.items) == 0 {
		return nil, nil
	}
	n = min(n, len(q.items))
	batch := make([][]byte, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	return batch, nil
}

func (q *MemoryQueue) Push(ctx context.Context, item []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, cloneBytes(item))
	return nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// MemoryLedger keeps records keyed by correlation id.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]payments.PaymentRecord
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]payments.PaymentRecord)}
}

func (l *MemoryLedger) Insert(ctx context.Context, rec payments.PaymentRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[rec.CorrelationID]; ok {
		return nil
	}
	l.records[rec.CorrelationID] = rec
	return nil
}

func (l *MemoryLedger) Get(correlationID string) (payments.PaymentRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[correlationID]
	return rec, ok
}

func (l *MemoryLedger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

func (l *MemoryLedger) Summary(
	ctx context.Context, from, to *time.Time,
) (payments.PaymentsSummary, error) {
	var summary payments.PaymentsSummary

	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, rec := range l.records {
		if from != nil && rec.RequestedAt.Before(*from) {
			continue
		}
		if to != nil && rec.RequestedAt.After(*to) {
			continue
		}
		data := &summary.Fallback
		if rec.IsDefault {
			data = &summary.Default
		}
		data.Count++
		data.Total = data.Total.Add(rec.Amount)
	}
	return summary, nil
}

func (l *MemoryLedger) Purge(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[string]payments.PaymentRecord)
	return nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
