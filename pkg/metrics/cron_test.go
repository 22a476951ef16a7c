package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCronJobMetricsExportsRunsAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCronJobMetrics(reg)
	job := "reconciliation-record-retention"
	metrics.ObserveRun(job, 250*time.Millisecond, nil)
	metrics.ObserveRun(job, 100*time.Millisecond, errors.New("boom"))
	metrics.AddPurged(job, 12)
	metrics.AddPurged(job, 0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	mf := findMetricFamily(mfs, "cron_job_runs_total")
	if mf == nil {
		t.Fatal("cron_job_runs_total not exported")
	}
	results := map[string]float64{}
	for _, metric := range mf.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "result" {
				results[label.GetValue()] = metric.GetCounter().GetValue()
			}
		}
	}
	if results["success"] != 1 || results["failure"] != 1 {
		t.Fatalf("unexpected run counts %v", results)
	}

	if got, err := fetchCounterValue(mfs, "cron_rows_purged_total", "job", job); err != nil {
		t.Fatalf("fetch purged: %v", err)
	} else if got != 12 {
		t.Fatalf("expected purged=12, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "cron_job_duration_seconds", "job", job); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}

	if findMetricFamily(mfs, "cron_job_last_success_timestamp_seconds") == nil {
		t.Fatal("expected last success gauge")
	}
}

func TestAuditRelayMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewAuditRelayMetrics(reg)
	metrics.IncPublished("reconciliation.applied")
	metrics.IncFailed(false)
	metrics.IncFailed(true)
	metrics.IncArchived("duplicate")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "audit_relay_published_total", "action", "reconciliation.applied"); err != nil || got != 1 {
		t.Fatalf("expected published=1, got %f err %v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "audit_relay_failed_total", "disposition", "terminal"); err != nil || got != 1 {
		t.Fatalf("expected terminal=1, got %f err %v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "audit_archive_messages_total", "result", "duplicate"); err != nil || got != 1 {
		t.Fatalf("expected duplicate=1, got %f err %v", got, err)
	}

	var nilMetrics *AuditRelayMetrics
	nilMetrics.IncPublished("x")
	nilMetrics.IncFailed(true)
	nilMetrics.IncArchived("x")
}
