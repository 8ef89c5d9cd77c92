package core

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const AVG_COUNT uint8 = 30

// Metrics groups the collectors of one render engine. Every engine owns its
// own registry so several engines (and tests) can coexist in a process.
type Metrics struct {
	Registry *prometheus.Registry

	RealizedBytes  prometheus.Gauge
	CapacityBytes  prometheus.Gauge
	Evictions      prometheus.Counter
	Oversized      prometheus.Counter
	QueueDepth     *prometheus.GaugeVec
	StageFailures  *prometheus.CounterVec
	DrawsExecuted  prometheus.Counter
	DrawsDropped   prometheus.Counter
	FallbackDraws  prometheus.Counter
	CurrentFence   prometheus.Gauge
	FrameSeconds   prometheus.Histogram
	ResourceCounts *prometheus.GaugeVec

	mu    sync.Mutex
	frame frameState
}

type frameState struct {
	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RealizedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "renderengine_realized_bytes",
			Help: "Device memory held by realized resources",
		}),
		CapacityBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "renderengine_cache_capacity_bytes",
			Help: "Configured resource cache budget",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderengine_evictions_total",
			Help: "Resources disposed by the cache to stay under budget",
		}),
		Oversized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderengine_over_budget_total",
			Help: "Realizations admitted over the cache budget",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "renderengine_queue_depth",
			Help: "Pending resource commands per pipeline stage",
		}, []string{"stage"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renderengine_resource_failures_total",
			Help: "Resource preparation failures per pipeline stage",
		}, []string{"stage"}),
		DrawsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderengine_draws_executed_total",
			Help: "Draw commands submitted to the device",
		}),
		DrawsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderengine_draws_dropped_total",
			Help: "Draw commands dropped because of a device failure",
		}),
		FallbackDraws: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderengine_fallback_draws_total",
			Help: "Draw commands executed with at least one failed resource",
		}),
		CurrentFence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "renderengine_current_fence",
			Help: "Highest completed fence",
		}),
		FrameSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "renderengine_frame_seconds",
			Help:    "Time between two presents",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		ResourceCounts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "renderengine_resources",
			Help: "Resources per state",
		}, []string{"state"}),
	}
	m.Registry.MustRegister(
		m.RealizedBytes,
		m.CapacityBytes,
		m.Evictions,
		m.Oversized,
		m.QueueDepth,
		m.StageFailures,
		m.DrawsExecuted,
		m.DrawsDropped,
		m.FallbackDraws,
		m.CurrentFence,
		m.FrameSeconds,
		m.ResourceCounts,
	)
	return m
}

// FrameUpdate records the duration of one frame and keeps a moving average
// over the last AVG_COUNT frames.
func (m *Metrics) FrameUpdate(frameElapsed time.Duration) {
	m.FrameSeconds.Observe(frameElapsed.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()

	// Calculate frame ms average
	frameMS := float64(frameElapsed) / float64(time.Millisecond)
	m.frame.msTimes[m.frame.frameAVGCounter] = frameMS
	if m.frame.frameAVGCounter == AVG_COUNT-1 {
		m.frame.msAvg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			m.frame.msAvg += m.frame.msTimes[i]
		}
		m.frame.msAvg /= float64(AVG_COUNT)
	}
	m.frame.frameAVGCounter++
	m.frame.frameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	m.frame.accumulatedFrameMS += frameMS
	if m.frame.accumulatedFrameMS > 1000 {
		m.frame.fps = float64(m.frame.frames)
		m.frame.accumulatedFrameMS -= 1000
		m.frame.frames = 0
	}

	// Count all Frames.
	m.frame.frames++
}

// Frame returns the frames per second and the average frame time in ms.
func (m *Metrics) Frame() (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame.fps, m.frame.msAvg
}
