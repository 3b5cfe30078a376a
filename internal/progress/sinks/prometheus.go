package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/invite-crawler/internal/progress"
)

// PrometheusSink exports cycle progress via Prometheus. It owns the collectors
// for cycles started/completed/running, search pages, links and invites.
type PrometheusSink struct {
	cyclesStarted   prometheus.Counter
	cyclesCompleted *prometheus.CounterVec
	cyclesRunning   prometheus.Gauge
	cycleRuntime    *prometheus.HistogramVec

	pages        *prometheus.CounterVec
	links        prometheus.Counter
	invitesFound prometheus.Counter
	linksDropped *prometheus.CounterVec

	tracker *cycleTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		cyclesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "invite_crawler_cycles_started_total",
			Help: "Total crawl cycles that have started.",
		}),
		cyclesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invite_crawler_cycles_completed_total",
			Help: "Total crawl cycles completed partitioned by result.",
		}, []string{"result"}),
		cyclesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "invite_crawler_cycles_running",
			Help: "Current number of running crawl cycles.",
		}),
		cycleRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "invite_crawler_cycle_runtime_seconds",
			Help:    "Wall time per completed crawl cycle.",
			Buckets: []float64{60, 300, 600, 1200, 1800, 2700, 3600, 5400, 7200},
		}, []string{"result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invite_crawler_search_pages_total",
			Help: "Search result pages processed partitioned by result.",
		}, []string{"result"}),
		links: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "invite_crawler_links_discovered_total",
			Help: "Candidate links discovered on search result pages.",
		}),
		invitesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "invite_crawler_invites_found_total",
			Help: "Invites verified and added to the catalog.",
		}),
		linksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invite_crawler_links_dropped_total",
			Help: "Candidate links dropped partitioned by the rejecting stage.",
		}, []string{"reason"}),
		tracker: newCycleTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.cyclesStarted,
		s.cyclesCompleted,
		s.cyclesRunning,
		s.cycleRuntime,
		s.pages,
		s.links,
		s.invitesFound,
		s.linksDropped,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageCycleStart:
		s.cyclesStarted.Inc()
		if s.tracker.start(evt.CycleID) {
			s.cyclesRunning.Inc()
		}
	case progress.StageCycleDone:
		s.completeCycle(evt, "success")
	case progress.StageCycleError:
		s.completeCycle(evt, "error")
	case progress.StagePageDone:
		s.pages.WithLabelValues("success").Inc()
		if evt.Links > 0 {
			s.links.Add(float64(evt.Links))
		}
	case progress.StagePageError:
		s.pages.WithLabelValues("error").Inc()
	case progress.StageInviteFound:
		s.invitesFound.Inc()
	case progress.StageLinkDropped:
		s.linksDropped.WithLabelValues(string(evt.Reason)).Inc()
	}
}

func (s *PrometheusSink) completeCycle(evt progress.Event, result string) {
	s.cyclesCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.cycleRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.CycleID) {
		s.cyclesRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type cycleTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newCycleTracker() *cycleTracker {
	return &cycleTracker{running: make(map[[16]byte]struct{})}
}

func (t *cycleTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *cycleTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
