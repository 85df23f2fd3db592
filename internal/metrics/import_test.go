package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func counterValue(f *dto.MetricFamily, label, value string) float64 {
	for _, m := range f.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == label && l.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return -1
}

func TestImportMetricsRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewImportMetrics(reg)

	m.ObserveStage("parse", 20*time.Millisecond)
	m.IncAssetUpload(true)
	m.IncAssetUpload(true)
	m.IncAssetUpload(false)
	m.IncProduct("created")
	m.IncProduct("")
	m.IncRateLimited("imports")
	m.CommitStarted()
	m.CommitStarted()
	m.CommitFinished()

	families := gather(t, reg)

	uploads := families["catalog_import_asset_uploads_total"]
	require.NotNil(t, uploads)
	assert.Equal(t, 2.0, counterValue(uploads, "result", "success"))
	assert.Equal(t, 1.0, counterValue(uploads, "result", "failure"))

	products := families["catalog_import_products_total"]
	require.NotNil(t, products)
	assert.Equal(t, 1.0, counterValue(products, "result", "created"))
	assert.Equal(t, 1.0, counterValue(products, "result", "unknown"))

	assert.Equal(t, 1.0, counterValue(families["catalog_import_rate_limited_total"], "scope", "imports"))

	active := families["catalog_import_active_commits"]
	require.NotNil(t, active)
	assert.Equal(t, 1.0, active.GetMetric()[0].GetGauge().GetValue())

	stages := families["catalog_import_stage_duration_seconds"]
	require.NotNil(t, stages)
	assert.Equal(t, uint64(1), stages.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestImportMetricsNilSafe(t *testing.T) {
	var m *ImportMetrics
	assert.NotPanics(t, func() {
		m.ObserveStage("parse", time.Second)
		m.IncAssetUpload(false)
		m.IncProduct("failed")
		m.IncRateLimited("imports")
		m.CommitStarted()
		m.CommitFinished()
	})

	unregistered := NewImportMetrics(nil)
	assert.NotPanics(t, func() { unregistered.IncProduct("created") })
}
