package routing

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JosineyJr/rdb25-dispatch/internal/metrics"
	"github.com/JosineyJr/rdb25-dispatch/pkg/payments"
)

const (
	timeoutHeadroom = 1000 * time.Millisecond
	unknownTimeout  = 5000 * time.Millisecond
)

var ErrUnknownService = errors.New("unknown payment service")

// Decision holds the last reported health of both processors and the service
// currently preferred for new dispatches.
//
// Health records are immutable snapshots swapped atomically, so readers never
// see a half-written record. Writers are serialized only to keep the derived
// preference consistent with the snapshots it was computed from; readers
// never take the lock.
type Decision struct {
	writeMu   sync.Mutex
	defaultH  atomic.Pointer[payments.ServiceHealth]
	fallbackH atomic.Pointer[payments.ServiceHealth]
	preferred atomic.Pointer[string]
}

func NewDecision() *Decision {
	d := &Decision{}
	none := ""
	d.preferred.Store(&none)
	return d
}

func (d *Decision) slot(service string) *atomic.Pointer[payments.ServiceHealth] {
	switch service {
	case payments.DefaultProcessor:
		return &d.defaultH
	case payments.FallbackProcessor:
		return &d.fallbackH
	default:
		return nil
	}
}

// RecordHealth replaces the stored health of service and recomputes the
// preferred service.
func (d *Decision) RecordHealth(service string, health payments.ServiceHealth) error {
	slot := d.slot(service)
	if slot == nil {
		return ErrUnknownService
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	h := health
	slot.Store(&h)

	best := choose(d.defaultH.Load(), d.fallbackH.Load())
	d.preferred.Store(&best)

	for _, name := range []string{payments.DefaultProcessor, payments.FallbackProcessor} {
		v := 0.0
		if name == best {
			v = 1
		}
		metrics.PreferredProcessor.WithLabelValues(name).Set(v)
	}
	return nil
}

// choose returns "" when neither service is known to be healthy.
func choose(def, fb *payments.ServiceHealth) string {
	defaultOK := def != nil && !def.Failing
	fallbackOK := fb != nil && !fb.Failing

	switch {
	case !defaultOK && !fallbackOK:
		return ""
	case defaultOK && !fallbackOK:
		return payments.DefaultProcessor
	case !defaultOK && fallbackOK:
		return payments.FallbackProcessor
	case def.MinResponseTime <= fb.MinResponseTime:
		return payments.DefaultProcessor
	default:
		return payments.FallbackProcessor
	}
}

// Preferred returns the service to try first, or "" if none is available.
func (d *Decision) Preferred() string {
	return *d.preferred.Load()
}

// RecommendedTimeout sizes a dispatch deadline from the service's reported
// minimum response time.
func (d *Decision) RecommendedTimeout(service string) time.Duration {
	h, ok := d.HealthOf(service)
	if !ok {
		return unknownTimeout
	}
	return time.Duration(h.MinResponseTime)*time.Millisecond + timeoutHeadroom
}

func (d *Decision) HealthOf(service string) (payments.ServiceHealth, bool) {
	slot := d.slot(service)
	if slot == nil {
		return payments.ServiceHealth{}, false
	}
	h := slot.Load()
	if h == nil {
		return payments.ServiceHealth{}, false
	}
	return *h, true
}
