package batching

import (
	"context"

	"github.com/JosineyJr/rdb25-dispatch/pkg/payments"
)

// Buffer is the bounded hand-off between pullers and dispatch workers.
// Put blocks while the buffer is full; nothing is ever dropped.
type Buffer struct {
	items chan payments.QueuedPayment
}

func NewBuffer(capacity int) *Buffer {
	return &Buffer{items: make(chan payments.QueuedPayment, max(capacity, 1))}
}

func (b *Buffer) Put(ctx context.Context, item payments.QueuedPayment) error {
	select {
	case b.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Buffer) Take(ctx context.Context) (payments.QueuedPayment, error) {
	select {
	case item := <-b.items:
		return item, nil
	case <-ctx.Done():
		return payments.QueuedPayment{}, ctx.Err()
	}
}

func (b *Buffer) Len() int {
	return len(b.items)
}

func (b *Buffer) Cap() int {
	return cap(b.items)
}
