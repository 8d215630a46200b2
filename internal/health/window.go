package health

import (
	"math"
	"sort"
	"time"
)

// probe is one health check outcome.
type probe struct {
	at      time.Time
	ok      bool
	latency time.Duration
}

// window is a rolling record of recent probes for one adapter.
type window struct {
	span   time.Duration
	probes []probe
}

func newWindow(span time.Duration) *window {
	return &window{span: span}
}

// add records a probe and drops entries older than the span.
func (w *window) add(p probe) {
	w.probes = append(w.probes, p)
	cutoff := p.at.Add(-w.span)
	drop := 0
	for drop < len(w.probes) && w.probes[drop].at.Before(cutoff) {
		drop++
	}
	w.probes = w.probes[drop:]
}

// successRate returns the fraction of successful probes in the window.
// An empty window reports 1.0; no evidence is not evidence of failure.
func (w *window) successRate() float64 {
	if len(w.probes) == 0 {
		return 1.0
	}
	ok := 0
	for _, p := range w.probes {
		if p.ok {
			ok++
		}
	}
	return float64(ok) / float64(len(w.probes))
}

// percentile returns the q-th latency percentile over successful probes,
// using nearest-rank on the sorted latencies.
func (w *window) percentile(q float64) time.Duration {
	var latencies []time.Duration
	for _, p := range w.probes {
		if p.ok {
			latencies = append(latencies, p.latency)
		}
	}
	if len(latencies) == 0 {
		return 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	rank := int(math.Ceil(q*float64(len(latencies)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(latencies) {
		rank = len(latencies) - 1
	}
	return latencies[rank]
}

// consecutiveFailures counts the failing streak at the window's tail.
func (w *window) consecutiveFailures() int {
	n := 0
	for i := len(w.probes) - 1; i >= 0; i-- {
		if w.probes[i].ok {
			break
		}
		n++
	}
	return n
}

// lastSuccess returns the time of the most recent successful probe.
func (w *window) lastSuccess() time.Time {
	for i := len(w.probes) - 1; i >= 0; i-- {
		if w.probes[i].ok {
			return w.probes[i].at
		}
	}
	return time.Time{}
}
