// Package circuitbreaker stops calling an endpoint after repeated transient failures.
//
// One outcome is recorded per logical call, after its retries are spent, so a
// single flaky request cannot open the breaker on its own.
package circuitbreaker

import (
	"sync"
	"sync/atomic"
	"time"
)

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

type Config struct {
	FailThreshold    int           `json:"fail_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	Timeout          time.Duration `json:"timeout"`
	// OnStateChange is called with the lock released after every transition.
	OnStateChange func(from, to State) `json:"-"`
}

type Breaker struct {
	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	halfOpenInFlight bool
	openedAt         time.Time
	failThreshold    int
	successThreshold int
	timeout          time.Duration
	onStateChange    func(from, to State)
	now              func() time.Time
	metrics          *Metrics
}

type Metrics struct {
	totalRequests    atomic.Int64
	rejectedRequests atomic.Int64
	successRequests  atomic.Int64
	failedRequests   atomic.Int64
	stateChanges     atomic.Int32
}

func New(config Config) *Breaker {
	if config.FailThreshold <= 0 {
		config.FailThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &Breaker{
		state:            StateClosed,
		failThreshold:    config.FailThreshold,
		successThreshold: config.SuccessThreshold,
		timeout:          config.Timeout,
		onStateChange:    config.OnStateChange,
		now:              time.Now,
		metrics:          &Metrics{},
	}
}

// Allow reports whether a call may proceed. An open breaker admits a single
// trial call once Timeout has elapsed.
func (b *Breaker) Allow() bool {
	b.metrics.totalRequests.Add(1)

	b.mu.Lock()
	var from, to State
	changed := false
	allowed := true

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.timeout {
			allowed = false
			break
		}
		from, to, changed = b.state, StateHalfOpen, true
		b.setState(StateHalfOpen)
		b.halfOpenInFlight = true
	case StateHalfOpen:
		if b.halfOpenInFlight {
			allowed = false
		} else {
			b.halfOpenInFlight = true
		}
	}
	b.mu.Unlock()

	if !allowed {
		b.metrics.rejectedRequests.Add(1)
	}
	if changed {
		b.notify(from, to)
	}
	return allowed
}

// Record stores the outcome of an allowed call.
func (b *Breaker) Record(success bool) {
	if success {
		b.metrics.successRequests.Add(1)
	} else {
		b.metrics.failedRequests.Add(1)
	}

	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
		} else {
			b.failures++
			if b.failures >= b.failThreshold {
				b.open()
			}
		}
	case StateHalfOpen:
		b.halfOpenInFlight = false
		if success {
			b.successes++
			if b.successes >= b.successThreshold {
				b.setState(StateClosed)
			}
		} else {
			b.open()
		}
	case StateOpen:
		if !success {
			b.openedAt = b.now()
		}
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.setState(StateOpen)
}

func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	b.state = s
	b.failures = 0
	b.successes = 0
	b.halfOpenInFlight = false
	b.metrics.stateChanges.Add(1)
}

func (b *Breaker) notify(from, to State) {
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.setState(StateClosed)
	b.mu.Unlock()
	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}

func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		TotalRequests:    b.metrics.totalRequests.Load(),
		RejectedRequests: b.metrics.rejectedRequests.Load(),
		SuccessRequests:  b.metrics.successRequests.Load(),
		FailedRequests:   b.metrics.failedRequests.Load(),
		StateChanges:     b.metrics.stateChanges.Load(),
		CurrentState:     b.State().String(),
	}
}

type MetricsSnapshot struct {
	TotalRequests    int64
	RejectedRequests int64
	SuccessRequests  int64
	FailedRequests   int64
	StateChanges     int32
	CurrentState     string
}
