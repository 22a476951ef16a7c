package metrics

import "github.com/prometheus/client_golang/prometheus"

// AuditRelayMetrics tracks audit entries moving from the database to Pub/Sub
// and on to the archive.
type AuditRelayMetrics struct {
	published *prometheus.CounterVec
	failed    *prometheus.CounterVec
	archived  *prometheus.CounterVec
}

// NewAuditRelayMetrics registers the relay metrics on reg.
func NewAuditRelayMetrics(reg prometheus.Registerer) *AuditRelayMetrics {
	if reg == nil {
		return &AuditRelayMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_relay_published_total",
		Help: "Audit entries published to Pub/Sub.",
	}, []string{"action"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_relay_failed_total",
		Help: "Audit publish failures by disposition (retry or terminal).",
	}, []string{"disposition"})
	archived := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_archive_messages_total",
		Help: "Audit messages handled by the archiver by result.",
	}, []string{"result"})
	reg.MustRegister(published, failed, archived)
	return &AuditRelayMetrics{published: published, failed: failed, archived: archived}
}

func (a *AuditRelayMetrics) IncPublished(action string) {
	if a == nil || a.published == nil {
		return
	}
	a.published.WithLabelValues(normalizeLabel(action)).Inc()
}

// IncFailed counts a publish failure; terminal marks it as no longer retried.
func (a *AuditRelayMetrics) IncFailed(terminal bool) {
	if a == nil || a.failed == nil {
		return
	}
	disposition := "retry"
	if terminal {
		disposition = "terminal"
	}
	a.failed.WithLabelValues(disposition).Inc()
}

// IncArchived counts an archiver outcome such as inserted, duplicate or error.
func (a *AuditRelayMetrics) IncArchived(result string) {
	if a == nil || a.archived == nil {
		return
	}
	a.archived.WithLabelValues(normalizeLabel(result)).Inc()
}
