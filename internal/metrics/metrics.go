package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "multimodal_rag"

// Collector 入库与检索指标
type Collector struct {
	ingestions      *prometheus.CounterVec
	indexedRecords  *prometheus.CounterVec
	skippedItems    prometheus.Counter
	ingestDuration  *prometheus.HistogramVec
	queries         *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	queryResults    prometheus.Histogram
	answerFailures  prometheus.Counter
	eventsPublished *prometheus.CounterVec
}

var (
	defaultCollector *Collector
	once             sync.Once
)

// Default 注册到prometheus默认Registry的全局实例
func Default() *Collector {
	once.Do(func() {
		defaultCollector = New(prometheus.DefaultRegisterer)
	})
	return defaultCollector
}

// New 注册到指定Registry，测试中使用独立的prometheus.NewRegistry()
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		ingestions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestions_total",
				Help:      "Total number of uploaded files by file type and outcome",
			},
			[]string{"file_type", "status"}, // status: success, failed, empty
		),
		indexedRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "indexed_records_total",
				Help:      "Total number of vectors committed to the indexes",
			},
			[]string{"modality"},
		),
		skippedItems: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "skipped_items_total",
				Help:      "Pages or images skipped during ingestion",
			},
		),
		ingestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingestion_duration_seconds",
				Help:      "Duration of file ingestion",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"file_type"},
		),
		queries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of routed queries by effective mode",
			},
			[]string{"mode"},
		),
		queryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Duration of retrieval including query embedding",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		queryResults: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_results",
				Help:      "Number of results returned per query",
				Buckets:   []float64{0, 1, 2, 3, 4, 5},
			},
		),
		answerFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "answer_failures_total",
				Help:      "Answer generations that fell back to the unavailable message",
			},
		),
		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_events_total",
				Help:      "Ingestion events published to Kafka",
			},
			[]string{"status"},
		),
	}
}

// ObserveIngestion 记录一次上传
func (c *Collector) ObserveIngestion(fileType, status string, textRecords, imageRecords, skipped int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.ingestions.WithLabelValues(fileType, status).Inc()
	c.ingestDuration.WithLabelValues(fileType).Observe(elapsed.Seconds())
	if textRecords > 0 {
		c.indexedRecords.WithLabelValues("text").Add(float64(textRecords))
	}
	if imageRecords > 0 {
		c.indexedRecords.WithLabelValues("image").Add(float64(imageRecords))
	}
	if skipped > 0 {
		c.skippedItems.Add(float64(skipped))
	}
}

// ObserveQuery 记录一次检索
func (c *Collector) ObserveQuery(mode string, results int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.queries.WithLabelValues(mode).Inc()
	c.queryDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	c.queryResults.Observe(float64(results))
}

func (c *Collector) AnswerFailed() {
	if c == nil {
		return
	}
	c.answerFailures.Inc()
}

func (c *Collector) EventPublished(ok bool) {
	if c == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failed"
	}
	c.eventsPublished.WithLabelValues(status).Inc()
}
