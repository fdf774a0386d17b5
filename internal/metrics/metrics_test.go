package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue 从Registry中读取计数器值，labels按name=value成对给出
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels ...string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, labels []string) bool {
	want := map[string]string{}
	for i := 0; i+1 < len(labels); i += 2 {
		want[labels[i]] = labels[i+1]
	}
	for _, lp := range m.GetLabel() {
		if v, ok := want[lp.GetName()]; ok && v != lp.GetValue() {
			return false
		}
	}
	return true
}

func TestCollector_ObserveIngestion(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveIngestion("pdf", "success", 3, 1, 2, 150*time.Millisecond)
	c.ObserveIngestion("pdf", "failed", 0, 0, 0, time.Millisecond)

	assert.Equal(t, 1.0, counterValue(t, reg, "multimodal_rag_ingestions_total", "file_type", "pdf", "status", "success"))
	assert.Equal(t, 1.0, counterValue(t, reg, "multimodal_rag_ingestions_total", "file_type", "pdf", "status", "failed"))
	assert.Equal(t, 3.0, counterValue(t, reg, "multimodal_rag_indexed_records_total", "modality", "text"))
	assert.Equal(t, 1.0, counterValue(t, reg, "multimodal_rag_indexed_records_total", "modality", "image"))
	assert.Equal(t, 2.0, counterValue(t, reg, "multimodal_rag_skipped_items_total"))
}

func TestCollector_ObserveQuery(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveQuery("image", 1, 20*time.Millisecond)
	c.ObserveQuery("image", 0, 5*time.Millisecond)
	c.AnswerFailed()
	c.EventPublished(false)

	assert.Equal(t, 2.0, counterValue(t, reg, "multimodal_rag_queries_total", "mode", "image"))
	assert.Equal(t, 1.0, counterValue(t, reg, "multimodal_rag_answer_failures_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "multimodal_rag_ingestion_events_total", "status", "failed"))
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveIngestion("pdf", "success", 1, 0, 0, time.Second)
		c.ObserveQuery("text", 1, time.Second)
		c.AnswerFailed()
		c.EventPublished(true)
	})
}
