package payments

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigFastest

const (
	DefaultProcessor  = "default"
	FallbackProcessor = "fallback"
)

var ErrMalformedPayment = errors.New("malformed payment")

func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// PaymentRequest is what the ingress accepts and what the processors receive.
// RequestedAt is zero until the dispatcher stamps it.
type PaymentRequest struct {
	RequestedAt   time.Time       `json:"requestedAt"`
	CorrelationID string          `json:"correlationId"`
	Amount        decimal.Decimal `json:"amount"`
}

// QueuedPayment travels through the internal buffer. Payload holds the exact
// bytes popped from the external queue so a requeue pushes them back unchanged.
type QueuedPayment struct {
	Request PaymentRequest
	Payload []byte
}

type PaymentRecord struct {
	RequestedAt   time.Time
	CorrelationID string
	Amount        decimal.Decimal
	IsDefault     bool
}

type SummaryData struct {
	Count int64           `json:"totalRequests"`
	Total decimal.Decimal `json:"totalAmount"`
}

type PaymentsSummary struct {
	Default  SummaryData `json:"default"`
	Fallback SummaryData `json:"fallback"`
}

type ServiceHealth struct {
	Failing         bool `json:"failing"`
	MinResponseTime int  `json:"minResponseTime"`
}

// Other returns the alternate processor name.
func Other(service string) string {
	if service == DefaultProcessor {
		return FallbackProcessor
	}
	return DefaultProcessor
}

// Decode parses a queue item. Items that can never be dispatched (bad JSON,
// non-UUID correlation id, non-positive amount) yield ErrMalformedPayment.
func Decode(raw []byte) (PaymentRequest, error) {
	var p PaymentRequest
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrMalformedPayment, err)
	}
	if _, err := uuid.Parse(p.CorrelationID); err != nil {
		return p, fmt.Errorf("%w: correlationId %q: %v", ErrMalformedPayment, p.CorrelationID, err)
	}
	if !p.Amount.IsPositive() {
		return p, fmt.Errorf("%w: amount %s must be positive", ErrMalformedPayment, p.Amount)
	}
	return p, nil
}

// Encode serializes the request body sent to a processor.
func Encode(p PaymentRequest) ([]byte, error) {
	return json.Marshal(p)
}
