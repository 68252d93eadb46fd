package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, family := range families {
		out[family.GetName()] = family
	}
	return out
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("receivables:export").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("receivables:export").End(boom), boom)

	families := gather(t, reg)
	runs := families["ledger_jobs_total"].GetMetric()
	require.Len(t, runs, 2)
	failures := families["ledger_jobs_failures_total"].GetMetric()
	require.Len(t, failures, 1)
	require.Equal(t, float64(1), failures[0].GetCounter().GetValue())
	require.Equal(t, uint64(2), families["ledger_job_duration_seconds"].GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestAddExportedParties(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.AddExportedParties("recomputed", 3)
	m.AddExportedParties("", 2)
	m.AddExportedParties("recomputed", 0)

	values := map[string]float64{}
	for _, metric := range gather(t, reg)["ledger_export_parties_total"].GetMetric() {
		values[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
	}
	require.Equal(t, map[string]float64{"recomputed": 3, "none": 2}, values)
}

func TestNilMetricsTrack(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("noop").End(boom), boom)
	m.AddExportedParties("recomputed", 1)
}
