package pkg

import (
	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// ProbeMetrics holds the collectors updated by the Prober.
type ProbeMetrics struct {
	PublicIP      *prometheus.GaugeVec
	CheckDuration *prometheus.SummaryVec
	Successes     *prometheus.CounterVec
	TimeoutErrors *prometheus.CounterVec
	OtherErrors   *prometheus.CounterVec
}

// NewProbeMetrics creates the probe collectors and registers them with reg.
func NewProbeMetrics(reg prometheus.Registerer) *ProbeMetrics {
	targetLabels := []string{"local_ip", "server_name", "bind"}
	m := &ProbeMetrics{
		PublicIP: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "public_ip",
			Help: "Public IP address for each interface",
		}, targetLabels),
		CheckDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name: "ip_check_duration_seconds",
			Help: "Time taken to check public IP",
		}, []string{"server_name", "bind"}),
		Successes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "successful_ip_checks_total",
			Help: "Total number of successful IP checks",
		}, targetLabels),
		TimeoutErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ip_check_timeout_errors_total",
			Help: "Total number of timeout errors during IP checks",
		}, targetLabels),
		OtherErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ip_check_other_errors_total",
			Help: "Total number of non-timeout errors during IP checks",
		}, targetLabels),
	}
	reg.MustRegister(m.PublicIP, m.CheckDuration, m.Successes, m.TimeoutErrors, m.OtherErrors)
	return m
}

// Record applies one outcome: duration always, exactly one counter, and the
// gauge only on success.
func (m *ProbeMetrics) Record(o ProbeOutcome) {
	t := o.Target
	m.CheckDuration.WithLabelValues(t.Label, t.Group).Observe(o.Duration.Seconds())
	switch o.Kind {
	case ResultSuccess:
		m.Successes.WithLabelValues(t.Address, t.Label, t.Group).Inc()
		m.PublicIP.WithLabelValues(t.Address, t.Label, t.Group).Set(Fingerprint(o.IP))
	case ResultTimeout:
		m.TimeoutErrors.WithLabelValues(t.Address, t.Label, t.Group).Inc()
	default:
		m.OtherErrors.WithLabelValues(t.Address, t.Label, t.Group).Inc()
	}
}

// RotationMetrics holds the collectors updated by the rotation verifier and
// the background watcher.
type RotationMetrics struct {
	Checks        *prometheus.CounterVec
	Duration      prometheus.Summary
	WatchChecks   prometheus.Counter
	WatchFailures prometheus.Counter
}

func NewRotationMetrics(reg prometheus.Registerer) *RotationMetrics {
	m := &RotationMetrics{
		Checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ip_rotation_checks_total",
			Help: "Total number of IP rotation checks by status",
		}, []string{"status"}),
		Duration: prometheus.NewSummary(prometheus.SummaryOpts{
			Name: "ip_rotation_duration_seconds",
			Help: "Time taken by the IP change API",
		}),
		WatchChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ip_watch_checks_total",
			Help: "Total number of background IP checks",
		}),
		WatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ip_watch_failures_total",
			Help: "Total number of failed background IP checks",
		}),
	}
	reg.MustRegister(m.Checks, m.Duration, m.WatchChecks, m.WatchFailures)
	return m
}

// fingerprintMask keeps 53 bits so the value survives float64 exactly.
const fingerprintMask = 1<<53 - 1

// Fingerprint maps an IP string to a stable number for the public_ip gauge.
// It only shows when the IP changes; it cannot be turned back into the IP.
func Fingerprint(ip string) float64 {
	return float64(xxhash.Sum64String(ip) & fingerprintMask)
}
