package storage

import (
	"context"
	"time"

	"github.com/JosineyJr/rdb25-dispatch/pkg/payments"
)

// Queue is the external durable FIFO of serialized payment requests.
// PopBatch must remove up to n items from the head in one atomic operation so
// concurrent pullers never split or duplicate items.
type Queue interface {
	PopBatch(ctx context.Context, n int) ([][]byte, error)
	Push(ctx context.Context, item []byte) error
	Len(ctx context.Context) (int64, error)
}

// Ledger stores successfully processed payments. Insert must be a no-op for a
// correlation id that is already present.
type Ledger interface {
	Insert(ctx context.Context, rec payments.PaymentRecord) error
	Summary(ctx context.Context, from, to *time.Time) (payments.PaymentsSummary, error)
	Purge(ctx context.Context) error
}
