// Package health implements the runtime's health state machine, a
// bounded event log, and lock-free request metrics. Grounded on
// coreengine/kernel/resources.go's ResourceTracker (atomic counters
// under a narrow lock) and coreengine/observability/metrics.go's
// promauto counter/histogram vectors, renamed to the cheshire_*
// namespace and repurposed from LLM-call accounting to per-request
// health accounting.
package health

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/halimchaibi/cheshire-core/internal/cherr"
)

// Status is the health state machine's state.
type Status string

const (
	StatusStopped  Status = "STOPPED"
	StatusStarting Status = "STARTING"
	StatusRunning  Status = "RUNNING"
	StatusDegraded Status = "DEGRADED"
	StatusStopping Status = "STOPPING"
	StatusFailed   Status = "FAILED"
)

var validTransitions = map[Status]map[Status]bool{
	StatusStopped:  {StatusStarting: true, StatusFailed: true},
	StatusStarting: {StatusRunning: true, StatusStopping: true, StatusFailed: true},
	StatusRunning:  {StatusDegraded: true, StatusStopping: true, StatusFailed: true},
	StatusDegraded: {StatusRunning: true, StatusStopping: true, StatusFailed: true},
	StatusStopping: {StatusStopped: true, StatusFailed: true},
	StatusFailed:   {},
}

// Severity classifies a recorded health event.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Event is one entry in the bounded health event log.
type Event struct {
	Timestamp time.Time
	Message   string
	Severity  Severity
	Cause     error
}

const eventBufferSize = 1000

// Snapshot is the consistent, JSON-serializable view returned by
// Monitor.Snapshot.
type Snapshot struct {
	Status         Status
	Message        string
	LastTransition time.Time
	Timestamp      time.Time
	OverallHealthy bool
	Recent         []Event
}

// Monitor owns the health state machine and its bounded event log.
// Catastrophic (CRITICAL) events escalate to FAILED; ERROR events
// while RUNNING escalate to DEGRADED; INFO/WARNING never change
// state. A late STARTING→RUNNING transition that arrives after the
// monitor has moved on to STOPPING is ignored rather than erroring,
// tolerating a zombie background goroutine that reports success after
// shutdown has already begun.
type Monitor struct {
	mu             sync.RWMutex
	status         Status
	message        string
	lastTransition time.Time
	events         []Event
	nextEvent      int
	eventCount     int
}

// NewMonitor creates a Monitor in state STOPPED.
func NewMonitor() *Monitor {
	return &Monitor{
		status:         StatusStopped,
		lastTransition: time.Now(),
		events:         make([]Event, eventBufferSize),
	}
}

// Status returns the current health state.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Transition attempts a state transition, returning a lifecycle error
// for an invalid one. A STARTING→RUNNING transition arriving after the
// monitor reached STOPPING is silently ignored.
func (m *Monitor) Transition(to Status, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to, message)
}

func (m *Monitor) transitionLocked(to Status, message string) error {
	if m.status == to {
		return nil
	}
	if m.status == StatusStopping && to == StatusRunning {
		return nil
	}
	targets, ok := validTransitions[m.status]
	if !ok || !targets[to] {
		return cherr.New(cherr.KindLifecycle, "invalid health transition from %s to %s", m.status, to)
	}
	m.status = to
	m.message = message
	m.lastTransition = time.Now()
	return nil
}

// RecordEvent appends an event to the bounded log, applying severity
// side-effects. A CRITICAL cause auto-escalates the requested severity
// regardless of what the caller asked for.
func (m *Monitor) RecordEvent(severity Severity, message string, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if isCatastrophic(cause) {
		severity = SeverityCritical
	}

	evt := Event{Timestamp: time.Now(), Message: message, Severity: severity, Cause: cause}
	m.events[m.nextEvent] = evt
	m.nextEvent = (m.nextEvent + 1) % eventBufferSize
	if m.eventCount < eventBufferSize {
		m.eventCount++
	}

	switch severity {
	case SeverityCritical:
		_ = m.transitionLocked(StatusFailed, message)
	case SeverityError:
		if m.status == StatusRunning {
			_ = m.transitionLocked(StatusDegraded, message)
		}
	}
}

// isCatastrophic reports whether cause represents an unrecoverable,
// VM-level failure rather than an ordinary execution error.
func isCatastrophic(cause error) bool {
	return cherr.KindOf(cause) == cherr.KindInternal && cause != nil
}

// Snapshot returns a consistent point-in-time view of health state and
// the most recent events, oldest first.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recent := make([]Event, 0, m.eventCount)
	start := m.nextEvent - m.eventCount
	for i := 0; i < m.eventCount; i++ {
		idx := (start + i + eventBufferSize) % eventBufferSize
		recent = append(recent, m.events[idx])
	}

	return Snapshot{
		Status:         m.status,
		Message:        m.message,
		LastTransition: m.lastTransition,
		Timestamp:      time.Now(),
		OverallHealthy: m.status == StatusRunning || m.status == StatusStarting,
		Recent:         recent,
	}
}

// ErrorCategory is the metrics dimension an execution failure is
// bucketed into.
type ErrorCategory string

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cheshire_requests_total",
			Help: "Total requests handled, by outcome",
		},
		[]string{"outcome"}, // success, failure
	)

	requestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cheshire_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"capability"},
	)

	errorsByCategory = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cheshire_errors_total",
			Help: "Total errors, by category",
		},
		[]string{"category"},
	)
)

// Metrics holds the lock-free counters the spec requires: total/
// success/failure/in-progress counts plus sum/min/max duration,
// alongside the Prometheus vectors used for export.
type Metrics struct {
	total      int64
	successful int64
	failed     int64
	inProgress int64
	sumNanos   int64
	minNanos   int64
	maxNanos   int64
}

// NewMetrics creates an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// StartRequest begins a RequestTimer scoped to capability. The timer
// must be closed via Success, Failure, or Close.
func (m *Metrics) StartRequest(capability string) *RequestTimer {
	atomic.AddInt64(&m.inProgress, 1)
	return &RequestTimer{metrics: m, capability: capability, start: time.Now()}
}

func (m *Metrics) recordDuration(d time.Duration) {
	nanos := d.Nanoseconds()
	atomic.AddInt64(&m.sumNanos, nanos)
	for {
		cur := atomic.LoadInt64(&m.minNanos)
		if cur != 0 && cur <= nanos {
			break
		}
		if atomic.CompareAndSwapInt64(&m.minNanos, cur, nanos) {
			break
		}
	}
	for {
		cur := atomic.LoadInt64(&m.maxNanos)
		if cur >= nanos {
			break
		}
		if atomic.CompareAndSwapInt64(&m.maxNanos, cur, nanos) {
			break
		}
	}
}

// MetricsSnapshot is the JSON-serializable counters view.
type MetricsSnapshot struct {
	Total      int64
	Successful int64
	Failed     int64
	InProgress int64
	SumNanos   int64
	MinNanos   int64
	MaxNanos   int64
}

// Snapshot returns a point-in-time read of every counter.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Total:      atomic.LoadInt64(&m.total),
		Successful: atomic.LoadInt64(&m.successful),
		Failed:     atomic.LoadInt64(&m.failed),
		InProgress: atomic.LoadInt64(&m.inProgress),
		SumNanos:   atomic.LoadInt64(&m.sumNanos),
		MinNanos:   atomic.LoadInt64(&m.minNanos),
		MaxNanos:   atomic.LoadInt64(&m.maxNanos),
	}
}

// RequestTimer scopes one in-flight request's metrics. Exactly one of
// Success/Failure should be called before Close; if neither is
// called, Close treats the request as a success so the in-progress
// counter cannot leak.
type RequestTimer struct {
	metrics    *Metrics
	capability string
	start      time.Time
	mu         sync.Mutex
	closed     bool
	reported   bool
}

// Success records a successful completion.
func (t *RequestTimer) Success() {
	t.report(true, "")
}

// Failure records a failed completion, bucketing category in the
// per-error-category counters.
func (t *RequestTimer) Failure(category ErrorCategory) {
	t.report(false, category)
}

func (t *RequestTimer) report(success bool, category ErrorCategory) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reported {
		return
	}
	t.reported = true
	t.finishLocked(success, category)
}

// Close finalizes the timer defensively: if Success/Failure was never
// called, it is treated as a success.
func (t *RequestTimer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if !t.reported {
		t.reported = true
		t.finishLocked(true, "")
	}
}

func (t *RequestTimer) finishLocked(success bool, category ErrorCategory) {
	atomic.AddInt64(&t.metrics.total, 1)
	atomic.AddInt64(&t.metrics.inProgress, -1)
	d := time.Since(t.start)
	t.metrics.recordDuration(d)
	requestDurationSeconds.WithLabelValues(t.capability).Observe(d.Seconds())

	if success {
		atomic.AddInt64(&t.metrics.successful, 1)
		requestsTotal.WithLabelValues("success").Inc()
		return
	}
	atomic.AddInt64(&t.metrics.failed, 1)
	requestsTotal.WithLabelValues("failure").Inc()
	if category != "" {
		errorsByCategory.WithLabelValues(string(category)).Inc()
	}
}
