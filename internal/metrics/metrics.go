// Package metrics exposes call state and history as a prometheus
// collector, gathered at scrape time.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/peerline/peerline/internal/call"
)

// StatusProvider exposes the current call state snapshot.
type StatusProvider interface {
	Status() call.Status
}

// DispositionCounter returns persisted call counts grouped by disposition.
type DispositionCounter interface {
	CountByDisposition(ctx context.Context) (map[string]int64, error)
}

// knownStates drives the per-state gauge so scrapes always report the
// full set, not just the current state.
var knownStates = []call.State{
	call.StateIdle,
	call.StateCalling,
	call.StateRinging,
	call.StateConnected,
}

// Collector is a prometheus.Collector that gathers Peerline metrics at
// scrape time. Either provider may be nil if unavailable.
type Collector struct {
	status    StatusProvider
	history   DispositionCounter
	startTime time.Time

	callStateDesc  *prometheus.Desc
	mutedDesc      *prometheus.Desc
	callsTotalDesc *prometheus.Desc
	uptimeDesc     *prometheus.Desc
}

// NewCollector creates a new metrics collector.
func NewCollector(status StatusProvider, history DispositionCounter, startTime time.Time) *Collector {
	return &Collector{
		status:    status,
		history:   history,
		startTime: startTime,

		callStateDesc: prometheus.NewDesc(
			"peerline_call_state",
			"Current call state (1 for the active state, 0 otherwise)",
			[]string{"state"}, nil,
		),
		mutedDesc: prometheus.NewDesc(
			"peerline_call_muted",
			"Whether the local microphone is muted (1=muted)",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"peerline_calls_total",
			"Total number of finished call attempts by disposition",
			[]string{"disposition"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"peerline_uptime_seconds",
			"Seconds since the Peerline process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.callStateDesc
	ch <- c.mutedDesc
	ch <- c.callsTotalDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries the providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.status != nil {
		st := c.status.Status()
		for _, state := range knownStates {
			val := 0.0
			if st.State == state {
				val = 1.0
			}
			ch <- prometheus.MustNewConstMetric(
				c.callStateDesc, prometheus.GaugeValue, val, string(state),
			)
		}
		muted := 0.0
		if st.Muted {
			muted = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.mutedDesc, prometheus.GaugeValue, muted)
	}

	if c.history != nil {
		counts, err := c.history.CountByDisposition(ctx)
		if err != nil {
			slog.Error("metrics: failed to count calls by disposition", "error", err)
		} else {
			for disposition, n := range counts {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(n), disposition,
				)
			}
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
