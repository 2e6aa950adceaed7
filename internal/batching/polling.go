package batching

import "time"

const pollGrowth = 1.5

// BatchSize scales the configured base by how many pulls in a row came back
// empty: doubled right after a non-empty pull, halved after more than 5
// empty pulls and quartered after more than 10.
func BatchSize(base, emptyCount int) int {
	var size int
	switch {
	case emptyCount > 10:
		size = base / 4
	case emptyCount > 5:
		size = base / 2
	case emptyCount == 0:
		size = base * 2
	default:
		size = base
	}
	return max(size, 1)
}

// PollingStrategy computes the idle delay between empty pulls. It is not safe
// for concurrent use; each puller owns one.
type PollingStrategy struct {
	minDelay time.Duration
	maxDelay time.Duration
	current  time.Duration
}

func NewPollingStrategy(minDelay, maxDelay time.Duration) *PollingStrategy {
	if minDelay <= 0 {
		minDelay = time.Millisecond
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &PollingStrategy{minDelay: minDelay, maxDelay: maxDelay, current: minDelay}
}

// Next returns the delay before the next pull. emptyCount == 0 resets to the
// floor; each further empty pull grows the delay up to the ceiling.
func (s *PollingStrategy) Next(emptyCount int) time.Duration {
	if emptyCount == 0 {
		s.current = s.minDelay
		return s.current
	}
	s.current = min(time.Duration(float64(s.current)*pollGrowth), s.maxDelay)
	return s.current
}

func (s *PollingStrategy) Reset() {
	s.current = s.minDelay
}
