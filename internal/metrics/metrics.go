package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	codesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "codes_issued_total",
		Help:      "Attendance codes issued by teachers.",
	})

	redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "redemptions_total",
		Help:      "Code redemption attempts by outcome.",
	}, []string{"outcome"})

	absencesMarked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "absences_marked_total",
		Help:      "Absent records inserted by the expired-code sweep.",
	})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "attendance",
		Name:      "sweep_duration_seconds",
		Help:      "Wall time of one absence sweep run.",
		Buckets:   prometheus.DefBuckets,
	})

	requestsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "requests_resolved_total",
		Help:      "Attendance requests resolved by administrators.",
	}, []string{"status"})
)

// CodeIssued counts one issued code.
func CodeIssued() { codesIssued.Inc() }

// Redemption counts a redemption attempt with the given outcome label.
func Redemption(outcome string) { redemptions.WithLabelValues(outcome).Inc() }

// AbsencesMarked adds n inserted absent records.
func AbsencesMarked(n int) { absencesMarked.Add(float64(n)) }

// SweepFinished observes a sweep that started at start.
func SweepFinished(start time.Time) { sweepDuration.Observe(time.Since(start).Seconds()) }

// RequestResolved counts a request moved to status.
func RequestResolved(status string) { requestsResolved.WithLabelValues(status).Inc() }
