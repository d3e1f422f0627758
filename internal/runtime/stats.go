package runtime

import (
	"context"
	"math"
	gort "runtime"
	"runtime/metrics"
	"sort"
	"sync"
	"time"

	errspkg "github.com/pmghq/mbus/internal/runtime/errors"
	"github.com/pmghq/mbus/internal/runtime/jsoncodec"
	"github.com/pmghq/mbus/transport"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// ListenerStats accumulates dispatch metrics for a single listener
// binding. All fields are guarded by mu; read them through the JSON
// snapshot or under the listener registry lock.
type ListenerStats struct {
	mu sync.Mutex `json:"-"`

	DispatchesProcessed uint64    `json:"dispatches_processed"`
	DispatchesFailed    uint64    `json:"dispatches_failed"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastDispatchedAt    time.Time `json:"last_dispatched_at"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Load       LoadMetrics       `json:"load"`
	Resource   ResourceUsage     `json:"resource"`

	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
	resourceSampler  *resourceTracker
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS         float64 `json:"current_rps"`
	WindowSeconds      float64 `json:"window_seconds"`
	DispatchesInWindow uint64  `json:"dispatches_in_window"`
	TotalDispatches    uint64  `json:"total_dispatches"`
}

// ErrorBreakdown buckets dispatch failures by error kind.
type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	NotFound   uint64 `json:"not_found"`
	Denied     uint64 `json:"denied"`
	Processing uint64 `json:"processing"`
	Transport  uint64 `json:"transport"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

type LoadMetrics struct {
	InFlight    uint64 `json:"in_flight"`
	MaxInFlight uint64 `json:"max_in_flight"`
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

func newListenerStats(sampler *resourceTracker) *ListenerStats {
	return &ListenerStats{
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
		resourceSampler:  sampler,
	}
}

func (s *ListenerStats) onDispatchStart() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Load.InFlight++
	if s.Load.InFlight > s.Load.MaxInFlight {
		s.Load.MaxInFlight = s.Load.InFlight
	}
}

func (s *ListenerStats) onDispatchFinish(duration time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Load.InFlight > 0 {
		s.Load.InFlight--
	}

	s.DispatchesProcessed++
	if err != nil {
		s.DispatchesFailed++
	}
	s.TotalProcessingTime += int64(duration)
	s.LastDispatchedAt = time.Now().UTC()

	if s.latencyWindow != nil {
		s.latencyWindow.Add(duration)
		snapshot := s.latencyWindow.Snapshot()
		snapshot.LastNs = int64(duration)
		if s.DispatchesProcessed > 0 {
			snapshot.AverageNs = s.TotalProcessingTime / int64(s.DispatchesProcessed)
		}
		s.Latency = snapshot
	}

	if s.throughputWindow != nil {
		snapshot := s.throughputWindow.AddAndSnapshot(time.Now())
		s.Throughput.CurrentRPS = snapshot.CurrentRPS
		s.Throughput.WindowSeconds = snapshot.WindowSeconds
		s.Throughput.DispatchesInWindow = uint64(snapshot.Count)
	}
	s.Throughput.TotalDispatches = s.DispatchesProcessed

	s.Errors.Record(err)

	if s.resourceSampler != nil {
		s.Resource = s.resourceSampler.Snapshot()
	}
}

// MarshalJSON snapshots the stats under the lock so the introspection
// API never observes a half-updated record.
func (s *ListenerStats) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type alias ListenerStats
	return jsoncodec.Marshal((*alias)(s))
}

// Record buckets err by its kind. Errors without a kind land in Other.
func (e *ErrorBreakdown) Record(err error) {
	if err == nil {
		return
	}
	switch {
	case errspkg.IsValidation(err) || errspkg.IsInvalidMessage(err):
		e.Validation++
	case errspkg.IsNotFound(err):
		e.NotFound++
	case errspkg.IsUnauthorized(err) || errspkg.IsForbidden(err):
		e.Denied++
	case errspkg.IsResponseProcessing(err):
		e.Processing++
	case errspkg.IsRequestError(err):
		e.Transport++
	default:
		e.Other++
	}
	e.LastError = err.Error()
}

// withDispatchStats records every invocation of h, panics included, so
// the in-flight gauge stays balanced.
func withDispatchStats(st *ListenerStats, h transport.Handler) transport.Handler {
	return func(ctx context.Context, d transport.Delivery) (out any, err error) {
		st.onDispatchStart()
		start := time.Now()
		defer func() {
			st.onDispatchFinish(time.Since(start), err)
		}()
		return h(ctx, d)
	}
}

// latencyWindow keeps the most recent dispatch durations in a ring for
// percentile snapshots.
type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var m LatencyMetrics
	if lw == nil || lw.filled == 0 {
		return m
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	m.SampleSize = lw.filled
	m.P50Ns = percentile(samples, 0.50)
	m.P95Ns = percentile(samples, 0.95)
	m.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	m.AverageNs = sum / int64(len(samples))
	m.LastNs = lw.last
	return m
}

// percentile interpolates linearly between the two nearest samples.
func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

// throughputWindow counts dispatches inside a sliding horizon.
type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if tw == nil {
		return throughputSnapshot{}
	}
	tw.samples = append(tw.samples, now)

	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		copy(tw.samples, tw.samples[idx:])
		tw.samples = tw.samples[:len(tw.samples)-idx]
	}

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}

// resourceTracker samples coarse process CPU and memory usage for
// inclusion in stats snapshots.
type resourceTracker struct {
	mu             sync.Mutex
	samples        []metrics.Sample
	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: []metrics.Sample{{Name: "/sched/cpu:seconds"}},
		numCPU:  float64(gort.NumCPU()),
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.samples)
	sample := r.samples[0]
	haveCPU := sample.Value.Kind() == metrics.KindFloat64
	var cpuSeconds float64
	if haveCPU {
		cpuSeconds = sample.Value.Float64()
	}
	now := time.Now()

	var cpuPercent float64
	if haveCPU && !r.lastSample.IsZero() {
		deltaCPU := cpuSeconds - r.lastCPUSeconds
		deltaWall := now.Sub(r.lastSample).Seconds()
		if deltaWall > 0 && r.numCPU > 0 {
			cpuPercent = (deltaCPU / deltaWall) / r.numCPU * 100
		}
	}

	if haveCPU {
		r.lastCPUSeconds = cpuSeconds
	}
	r.lastSample = now

	var mem gort.MemStats
	gort.ReadMemStats(&mem)

	return ResourceUsage{
		CPUPercent:  cpuPercent,
		MemoryBytes: mem.Alloc,
		Goroutines:  gort.NumGoroutine(),
	}
}
