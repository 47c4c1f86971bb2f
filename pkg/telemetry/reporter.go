package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/open-teleop/rover/pkg/log"
)

// DefaultInterval is the sampling period
const DefaultInterval = time.Second

// Sink receives every snapshot. Publish must not block for long; failures
// are counted and logged by the Reporter.
type Sink interface {
	Name() string
	Publish(s Snapshot) error
	Close() error
}

// SinkStats counts deliveries per sink
type SinkStats struct {
	Name      string `json:"name"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
	LastError string `json:"last_error,omitempty"`
}

// Reporter samples Sources on a fixed interval and fans each snapshot out
// to its sinks
type Reporter struct {
	sources  Sources
	sinks    []Sink
	interval time.Duration
	logger   log.Logger

	mu    sync.Mutex
	stats map[string]*SinkStats
	last  Snapshot
}

// NewReporter creates a reporter; sinks may be empty
func NewReporter(sources Sources, interval time.Duration, logger log.Logger, sinks ...Sink) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	stats := make(map[string]*SinkStats, len(sinks))
	for _, s := range sinks {
		stats[s.Name()] = &SinkStats{Name: s.Name()}
	}
	return &Reporter{
		sources:  sources,
		sinks:    sinks,
		interval: interval,
		logger:   logger,
		stats:    stats,
	}
}

// ReportOnce samples and publishes a single snapshot
func (r *Reporter) ReportOnce() Snapshot {
	snap := r.sources.Collect()
	for _, sink := range r.sinks {
		err := sink.Publish(snap)

		r.mu.Lock()
		st := r.stats[sink.Name()]
		if err != nil {
			st.Errors++
			st.LastError = err.Error()
		} else {
			st.Published++
		}
		r.mu.Unlock()

		if err != nil {
			r.logger.Warnf("Telemetry: sink %s failed: %v", sink.Name(), err)
		}
	}
	r.mu.Lock()
	r.last = snap
	r.mu.Unlock()
	return snap
}

// Run reports every interval until ctx is cancelled, then closes the sinks
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Infof("Telemetry: reporting every %v to %d sink(s)", r.interval, len(r.sinks))
	for {
		select {
		case <-ctx.Done():
			for _, sink := range r.sinks {
				if err := sink.Close(); err != nil {
					r.logger.Warnf("Telemetry: closing sink %s: %v", sink.Name(), err)
				}
			}
			return
		case <-ticker.C:
			r.ReportOnce()
		}
	}
}

// Last returns the most recent snapshot
func (r *Reporter) Last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Stats returns per-sink counters in sink order
func (r *Reporter) Stats() []SinkStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SinkStats, 0, len(r.sinks))
	for _, s := range r.sinks {
		out = append(out, *r.stats[s.Name()])
	}
	return out
}
