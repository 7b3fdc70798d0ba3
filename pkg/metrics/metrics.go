package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "lorameter"

	ResultLabel      = "result"
	ResultError      = "transmission_error"
	ResultNoDownlink = "no_downlink"
	ResultDownlink   = "downlink"

	StageLabel = "stage"
)

var (
	UplinkCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uplinks_total",
			Help:      "The total number of send attempts by result",
		},
		[]string{ResultLabel},
	)

	IterationErrorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iteration_errors_total",
			Help:      "The total number of iterations aborted before sending",
		},
		[]string{StageLabel},
	)

	SweepCounter = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sweep_counter",
			Help:      "The current value of the data rate sweep counter",
		},
	)

	SpreadingFactor = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spreading_factor",
			Help:      "The spreading factor applied to the last uplink",
		},
	)

	RMSCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rms_current_amperes",
			Help:      "The last reported RMS current",
		},
	)

	ApparentPower = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "apparent_power_watts",
			Help:      "The last reported apparent power",
		},
	)

	SampleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sample_duration_seconds",
			Help:      "The time spent acquiring one sample batch",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8),
		},
	)
)
