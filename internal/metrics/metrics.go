package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "foliotrack"

// Collector 汇总追踪链路的 Prometheus 指标。所有方法在 nil 接收者上均为空操作。
type Collector struct {
	reconciliations  *prometheus.CounterVec
	batchEvents      prometheus.Histogram
	retentionDeleted *prometheus.CounterVec
	pixelOpens       *prometheus.CounterVec
	requestLogs      *prometheus.CounterVec
}

// New 创建未注册的 Collector。
func New() *Collector {
	return &Collector{
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "reconciliations_total",
			Help:      "Session flushes reconciled, partitioned by decision (new, continue, rotate).",
		}, []string{"decision"}),
		batchEvents: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "batch_events",
			Help:      "Number of events carried by a single flush.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		retentionDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "deleted_rows_total",
			Help:      "Rows deleted by the retention trimmer, partitioned by table.",
		}, []string{"table"}),
		pixelOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pixel",
			Name:      "opens_total",
			Help:      "Tracking pixel loads, partitioned by outcome.",
		}, []string{"result"}),
		requestLogs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "request_log",
			Name:      "writes_total",
			Help:      "Request audit log writes, partitioned by outcome.",
		}, []string{"result"}),
	}
}

// Register 将所有指标注册到 reg。
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{
		c.reconciliations,
		c.batchEvents,
		c.retentionDeleted,
		c.pixelOpens,
		c.requestLogs,
	} {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// ObserveReconcile 记录一次会话合并的决策与批次大小。
func (c *Collector) ObserveReconcile(decision string, events int) {
	if c == nil {
		return
	}
	c.reconciliations.WithLabelValues(decision).Inc()
	c.batchEvents.Observe(float64(events))
}

// AddRetentionDeleted 累加被裁剪的行数。
func (c *Collector) AddRetentionDeleted(table string, rows int64) {
	if c == nil || rows <= 0 {
		return
	}
	c.retentionDeleted.WithLabelValues(table).Add(float64(rows))
}

// ObservePixel 记录像素请求结果。
func (c *Collector) ObservePixel(result string) {
	if c == nil {
		return
	}
	c.pixelOpens.WithLabelValues(result).Inc()
}

// ObserveRequestLog 记录审计日志写入结果。
func (c *Collector) ObserveRequestLog(result string) {
	if c == nil {
		return
	}
	c.requestLogs.WithLabelValues(result).Inc()
}
