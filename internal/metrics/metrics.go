// Package metrics 上传服务的 Prometheus 指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blob"

// Metrics 所有指标都注册在同一个 Registry 上，测试可以各自新建互不干扰
type Metrics struct {
	registry *prometheus.Registry

	operations     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	bytesReceived  prometheus.Counter
	dedupHits      prometheus.Counter
	slotRejections prometheus.Counter
	tempRemoved    prometheus.Counter
}

// New 创建并注册指标；withRuntime 为 true 时附带 Go 运行时与进程指标
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "operations_total",
			Help:      "Upload protocol operations by outcome.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "operation_duration_seconds",
			Help:      "Latency of upload protocol operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 9),
		}, []string{"op"}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "received_bytes_total",
			Help:      "Payload bytes accepted from clients.",
		}),
		dedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "dedup_hits_total",
			Help:      "Init requests answered with an ownership challenge instead of an upload.",
		}),
		slotRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "slot_rejections_total",
			Help:      "Chunk writes rejected because the transaction had no free slot.",
		}),
		tempRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "janitor",
			Name:      "temp_files_removed_total",
			Help:      "Orphaned temporary files removed by the janitor.",
		}),
	}

	reg.MustRegister(m.operations, m.duration, m.bytesReceived, m.dedupHits, m.slotRejections, m.tempRemoved)
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Observe 记录一次操作的结果和耗时
func (m *Metrics) Observe(op, result string, start time.Time) {
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddBytes(n int) {
	m.bytesReceived.Add(float64(n))
}

func (m *Metrics) DedupHit() {
	m.dedupHits.Inc()
}

func (m *Metrics) SlotRejected() {
	m.slotRejections.Inc()
}

func (m *Metrics) TempRemoved(n int) {
	m.tempRemoved.Add(float64(n))
}

// Handler /metrics 端点
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
