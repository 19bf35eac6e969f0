package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu              sync.Mutex
	requestCount    map[string]int64
	errorCount      map[string]int64
	requestDuration map[string]time.Duration

	sweeps          int64
	sweepAdvanced   int64
	sweepRemoved    int64
	sweepFailures   int64
	lastSweepAt     time.Time
	lastSweepLength time.Duration
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Requests     map[string]int64   `json:"requests"`
	Errors       map[string]int64   `json:"errors"`
	AvgLatencyMs map[string]float64 `json:"avg_latency_ms"`
	Sweep        SweepSnapshot      `json:"sweep"`
}

// SweepSnapshot aggregates expiry sweep outcomes.
type SweepSnapshot struct {
	Runs         int64     `json:"runs"`
	Advanced     int64     `json:"advanced"`
	Removed      int64     `json:"removed"`
	Failures     int64     `json:"failures"`
	LastRunAt    time.Time `json:"last_run_at"`
	LastDuration string    `json:"last_duration"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount:    make(map[string]int64),
		errorCount:      make(map[string]int64),
		requestDuration: make(map[string]time.Duration),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
	m.requestDuration[key] += duration
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordSweep accumulates one sweep pass.
func (m *Metrics) RecordSweep(at time.Time, duration time.Duration, advanced, removed, failures int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps++
	m.sweepAdvanced += int64(advanced)
	m.sweepRemoved += int64(removed)
	m.sweepFailures += int64(failures)
	m.lastSweepAt = at
	m.lastSweepLength = duration
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		Requests:     map[string]int64{},
		Errors:       map[string]int64{},
		AvgLatencyMs: map[string]float64{},
	}
	if m == nil {
		return snap
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.requestCount {
		snap.Requests[k] = v
		if v > 0 {
			snap.AvgLatencyMs[k] = float64(m.requestDuration[k].Microseconds()) / float64(v) / 1000
		}
	}
	for k, v := range m.errorCount {
		snap.Errors[k] = v
	}
	snap.Sweep = SweepSnapshot{
		Runs:         m.sweeps,
		Advanced:     m.sweepAdvanced,
		Removed:      m.sweepRemoved,
		Failures:     m.sweepFailures,
		LastRunAt:    m.lastSweepAt,
		LastDuration: m.lastSweepLength.String(),
	}
	return snap
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
