// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all engine metrics. Counters are plain atomics; the
// Prometheus collectors read them lazily on scrape.
type Metrics struct {
	// Live feed
	Polls          atomic.Uint64
	PollNotReady   atomic.Uint64
	PollErrors     atomic.Uint64
	FramesApplied  atomic.Uint64
	StaleDiscarded atomic.Uint64
	ActiveFeeds    atomic.Uint64

	// Rendering
	Renders         atomic.Uint64
	RenderLatencyMs atomic.Uint64

	// Annotation sessions
	ActiveSessions atomic.Uint64
	PromptsAdded   atomic.Uint64

	// Snapshot store
	SnapshotsSaved atomic.Uint64
	SnapshotErrors atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance with its collectors registered.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register()
	return m
}

func (m *Metrics) register() {
	gauges := []struct {
		name string
		help string
		read func() uint64
	}{
		{"annotation_live_polls_total", "Total latest-frame polls issued", m.Polls.Load},
		{"annotation_live_not_ready_total", "Polls answered with no frame yet", m.PollNotReady.Load},
		{"annotation_live_poll_errors_total", "Polls that ended a feed with a hard failure", m.PollErrors.Load},
		{"annotation_live_frames_applied_total", "Frame+mask snapshots applied", m.FramesApplied.Load},
		{"annotation_live_stale_discarded_total", "In-flight responses discarded after stop or retarget", m.StaleDiscarded.Load},
		{"annotation_live_active_feeds", "Currently polling live feeds", m.ActiveFeeds.Load},
		{"annotation_renders_total", "Overlay renders performed", m.Renders.Load},
		{"annotation_render_latency_ms", "Latency of the most recent render in milliseconds", m.RenderLatencyMs.Load},
		{"annotation_active_sessions", "Open prompt sessions", m.ActiveSessions.Load},
		{"annotation_prompts_added_total", "Prompts added across all sessions", m.PromptsAdded.Load},
		{"annotation_snapshots_saved_total", "Captured snapshots persisted", m.SnapshotsSaved.Load},
		{"annotation_snapshot_errors_total", "Snapshot persistence failures", m.SnapshotErrors.Load},
	}

	for _, g := range gauges {
		read := g.read
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(read()) },
		))
	}
}

// Dec atomically decrements a gauge counter, clamping at zero. A plain
// load-then-store loses decrements under contention.
func Dec(c *atomic.Uint64) {
	for {
		v := c.Load()
		if v == 0 {
			return
		}
		if c.CompareAndSwap(v, v-1) {
			return
		}
	}
}

// ObserveRender records one completed render.
func (m *Metrics) ObserveRender(d time.Duration) {
	m.Renders.Add(1)
	m.RenderLatencyMs.Store(uint64(d.Milliseconds()))
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr. Blocks.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
