package monitoring

import (
	"time"

	"rendezlink/internal/core/domain"
	"rendezlink/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Rendezvous
	sessionsActive        *prometheus.GaugeVec
	sessionsTotal         prometheus.Counter
	signalConnectFailures prometheus.Counter

	// Streams handed to the session layer
	handoffsTotal *prometheus.CounterVec

	// Direct access
	directBindFailures prometheus.Counter

	// LAN discovery
	lanPongsSent     prometheus.Counter
	lanScanDuration  prometheus.Histogram
	lanPeersLastScan prometheus.Gauge
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the collectors with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rendezlink_sessions_active",
			Help: "Number of live rendezvous sessions per host",
		}, []string{"host"}),

		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rendezlink_sessions_total",
			Help: "Total number of rendezvous sessions established",
		}),

		signalConnectFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rendezlink_signal_connect_failures_total",
			Help: "Total number of host lists where every host failed",
		}),

		handoffsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rendezlink_handoffs_total",
			Help: "Total number of streams handed to the session acceptor",
		}, []string{"kind"}),

		directBindFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "rendezlink_direct_bind_failures_total",
			Help: "Total number of failed direct access listener binds",
		}),

		lanPongsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "rendezlink_lan_pongs_sent_total",
			Help: "Total number of LAN discovery replies sent",
		}),

		lanScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rendezlink_lan_scan_duration_seconds",
			Help:    "Duration of LAN discovery scans",
			Buckets: []float64{0.5, 1, 2, 3, 5, 10, 30},
		}),

		lanPeersLastScan: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rendezlink_lan_peers_last_scan",
			Help: "Number of peers found by the latest LAN scan",
		}),
	}
}

func (p *PrometheusCollector) SessionOpened(host string) {
	p.sessionsTotal.Inc()
	p.sessionsActive.WithLabelValues(host).Inc()
}

func (p *PrometheusCollector) SessionClosed(host string) {
	p.sessionsActive.WithLabelValues(host).Dec()
}

func (p *PrometheusCollector) SignalConnectFailed() {
	p.signalConnectFailures.Inc()
}

func (p *PrometheusCollector) Handoff(kind domain.ConnKind) {
	p.handoffsTotal.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) DirectBindFailed() {
	p.directBindFailures.Inc()
}

func (p *PrometheusCollector) LanPongSent() {
	p.lanPongsSent.Inc()
}

func (p *PrometheusCollector) LanScanCompleted(peers int, elapsed time.Duration) {
	p.lanScanDuration.Observe(elapsed.Seconds())
	p.lanPeersLastScan.Set(float64(peers))
}
