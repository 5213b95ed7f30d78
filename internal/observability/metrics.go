package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServiceName identifies this service in logs and health payloads
const ServiceName = "scene-assistant"

var (
	// Cycle metrics
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scene_assistant_cycles_total",
		Help: "Completed pipeline cycles by trigger and outcome",
	}, []string{"trigger", "outcome"})

	activeCycle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scene_assistant_cycle_active",
		Help: "1 while a pipeline cycle is in flight",
	})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scene_assistant_cycle_duration_seconds",
		Help:    "Duration of a pipeline cycle from trigger to idle",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scene_assistant_transitions_total",
		Help: "Pipeline state transitions by target phase",
	}, []string{"to"})

	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scene_assistant_stage_latency_seconds",
		Help:    "Latency of capability calls by pipeline stage",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage"})

	objectsDetected = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scene_assistant_objects_detected",
		Help:    "Number of objects in each detection result",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})

	ignoredTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scene_assistant_ignored_triggers_total",
		Help: "Triggers ignored because a cycle was already in flight",
	}, []string{"trigger"})

	staleResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scene_assistant_stale_responses_total",
		Help: "Capability responses discarded because their session token expired",
	}, []string{"kind"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scene_assistant_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scene_assistant_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scene_assistant_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scene_assistant_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	frontendClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scene_assistant_frontend_clients",
		Help: "Number of connected front-end clients",
	})
)

// CycleMetrics tracks metrics for a single pipeline cycle
type CycleMetrics struct {
	trigger    string
	startTime  time.Time
	stageStart map[string]time.Time
	finished   bool
	mu         sync.Mutex
}

// NewCycleMetrics creates a tracker for a cycle started by trigger
func NewCycleMetrics(trigger string) *CycleMetrics {
	activeCycle.Set(1)
	return &CycleMetrics{
		trigger:    trigger,
		startTime:  time.Now(),
		stageStart: make(map[string]time.Time),
	}
}

// StageStart records the start of a stage (listen, capture, detect, speak)
func (m *CycleMetrics) StageStart(stage string) {
	m.mu.Lock()
	m.stageStart[stage] = time.Now()
	m.mu.Unlock()
}

// StageEnd observes the latency of a stage started with StageStart
func (m *CycleMetrics) StageEnd(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if start, ok := m.stageStart[stage]; ok {
		stageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
		delete(m.stageStart, stage)
	}
}

// Finish records the cycle outcome; only the first call counts
func (m *CycleMetrics) Finish(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finished {
		return
	}
	m.finished = true

	activeCycle.Set(0)
	cycleDuration.Observe(time.Since(m.startTime).Seconds())
	cyclesTotal.WithLabelValues(m.trigger, outcome).Inc()
}

// RecordTransition counts a transition into phase
func RecordTransition(phase string) {
	transitionsTotal.WithLabelValues(phase).Inc()
}

// RecordObjectsDetected observes the size of a detection result
func RecordObjectsDetected(n int) {
	objectsDetected.Observe(float64(n))
}

// RecordIgnoredTrigger counts a trigger dropped by the busy policy
func RecordIgnoredTrigger(trigger string) {
	ignoredTriggers.WithLabelValues(trigger).Inc()
}

// RecordStaleResponse counts a discarded capability response
func RecordStaleResponse(kind string) {
	staleResponses.WithLabelValues(kind).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// SetFrontendClients sets the connected front-end client gauge
func SetFrontendClients(n int) {
	frontendClients.Set(float64(n))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
