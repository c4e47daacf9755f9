// Package metrics records repair loop activity in a prometheus registry that
// can be exported as a node-exporter textfile at the end of a run.
package metrics

import (
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Recorder is nil-safe: every method is a no-op on a nil receiver.
type Recorder struct {
	reg *prometheus.Registry

	iterations *prometheus.CounterVec
	sessions   *prometheus.CounterVec
	fixes      *prometheus.CounterVec
	errors     *prometheus.CounterVec
	duration   prometheus.Histogram
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		reg: reg,
		iterations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "testbed_repair_iterations_total",
			Help: "Repair iterations by phase reached",
		}, []string{"phase"}),
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "testbed_repair_sessions_total",
			Help: "Finished repair sessions by terminal status",
		}, []string{"status"}),
		fixes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "testbed_repair_fixes_applied_total",
			Help: "Fix directives applied by kind",
		}, []string{"fix_kind"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "testbed_repair_errors_classified_total",
			Help: "Classified failures by error kind",
		}, []string{"error_kind"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "testbed_repair_session_duration_seconds",
			Help:    "Wall time of a repair session",
			Buckets: prometheus.ExponentialBuckets(30, 2, 8), // 30s to ~1h
		}),
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

func (r *Recorder) Iteration(phase string) {
	if r == nil {
		return
	}
	r.iterations.WithLabelValues(phase).Inc()
}

func (r *Recorder) Classified(errorKind string) {
	if r == nil || errorKind == "" {
		return
	}
	r.errors.WithLabelValues(errorKind).Inc()
}

func (r *Recorder) FixApplied(fixKind string) {
	if r == nil {
		return
	}
	r.fixes.WithLabelValues(fixKind).Inc()
}

func (r *Recorder) SessionFinished(status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.sessions.WithLabelValues(status).Inc()
	r.duration.Observe(elapsed.Seconds())
}

// WriteTextfile exports all metrics in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

// Counts flattens counter values into "name{label=value}" keys for summaries.
func (r *Recorder) Counts() (map[string]float64, error) {
	if r == nil {
		return map[string]float64{}, nil
	}
	families, err := r.reg.Gather()
	if err != nil {
		return nil, err
	}
	out := map[string]float64{}
	for _, mf := range families {
		if mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, m := range mf.GetMetric() {
			out[key(mf.GetName(), m.GetLabel())] = m.GetCounter().GetValue()
		}
	}
	return out, nil
}

func key(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].GetName() < labels[j].GetName() })
	k := name + "{"
	for i, l := range labels {
		if i > 0 {
			k += ","
		}
		k += l.GetName() + "=" + l.GetValue()
	}
	return k + "}"
}
