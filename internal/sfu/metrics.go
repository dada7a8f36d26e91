package sfu

import "github.com/prometheus/client_golang/prometheus"

var (
	metricSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "miscord_sfu_sessions",
			Help: "Number of currently active voice sessions",
		},
	)

	metricTracks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "miscord_sfu_published_tracks",
			Help: "Number of currently published tracks",
		},
	)

	metricPipes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "miscord_sfu_forwarding_pipes",
			Help: "Number of live forwarding pipe tasks",
		},
	)

	metricPacketsForwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "miscord_sfu_packets_forwarded_total",
			Help: "RTP packets written to subscriber tracks",
		},
	)

	metricPacketsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "miscord_sfu_packets_dropped_total",
			Help: "RTP packets dropped because a pipe queue was full or inactive",
		},
	)
)

func init() {
	prometheus.MustRegister(metricSessions)
	prometheus.MustRegister(metricTracks)
	prometheus.MustRegister(metricPipes)
	prometheus.MustRegister(metricPacketsForwarded)
	prometheus.MustRegister(metricPacketsDropped)
}
