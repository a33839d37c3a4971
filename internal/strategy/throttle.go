package strategy

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Throttler paces probe workers. With adaptive mode on it backs off
// exponentially on 429/503 answers and bursts of errors, then halves the
// delay back toward the base once the target answers normally again.
type Throttler struct {
	mu           sync.Mutex
	baseDelay    time.Duration
	currentDelay time.Duration
	maxDelay     time.Duration
	consecutive  int // consecutive throttle signals
	adaptive     bool
	log          *zap.Logger
}

// NewThrottler creates a throttler. maxDelay caps the back-off; a probe
// scan cannot usefully wait longer than its own budget.
func NewThrottler(baseDelay, maxDelay time.Duration, adaptive bool, log *zap.Logger) *Throttler {
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &Throttler{
		baseDelay:    baseDelay,
		currentDelay: baseDelay,
		maxDelay:     maxDelay,
		adaptive:     adaptive,
		log:          log,
	}
}

// Delay returns the wait before the next probe.
func (t *Throttler) Delay() time.Duration {
	if !t.adaptive {
		return t.baseDelay
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentDelay
}

// RecordStatus feeds the status code of a successful probe.
func (t *Throttler) RecordStatus(statusCode int) {
	if !t.adaptive {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if statusCode == 429 || statusCode == 503 {
		t.consecutive++
		if t.backOff() {
			t.log.Warn("rate limited, backing off",
				zap.Int("status", statusCode),
				zap.Duration("delay", t.currentDelay))
		}
		return
	}
	if t.consecutive > 0 {
		t.consecutive = 0
		newDelay := max(t.currentDelay/2, t.baseDelay)
		if newDelay != t.currentDelay {
			t.currentDelay = newDelay
			t.log.Debug("recovering from back-off", zap.Duration("delay", t.currentDelay))
		}
	}
}

// RecordError flags a failed probe as a possible rate limit signal. Three
// in a row trigger a back-off.
func (t *Throttler) RecordError() {
	if !t.adaptive {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutive++
	if t.consecutive >= 3 && t.backOff() {
		t.log.Warn("multiple probe errors, backing off", zap.Duration("delay", t.currentDelay))
	}
}

// backOff doubles the delay (at least 500ms, at most maxDelay). Caller
// holds t.mu.
func (t *Throttler) backOff() bool {
	newDelay := min(max(t.currentDelay*2, 500*time.Millisecond), t.maxDelay)
	if newDelay == t.currentDelay {
		return false
	}
	t.currentDelay = newDelay
	return true
}

// statusCode extracts the code from a status line such as
// "HTTP/1.1 503 Service Unavailable". It returns 0 when there is none.
func statusCode(statusLine string) int {
	fields := strings.Fields(statusLine)
	if len(fields) < 2 {
		return 0
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return code
}
