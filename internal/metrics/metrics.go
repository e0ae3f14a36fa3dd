package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netwatch/internal/model"
)

var (
	// 探测结果
	ProbesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netwatch_probes_total",
		Help: "Probe results by field and outcome (ok or failure reason)",
	}, []string{"field", "outcome"})
	ProbeDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "netwatch_probe_duration_seconds",
		Help:    "Wall time of a probe run",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 90},
	}, []string{"kind"})
	BandwidthSourceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netwatch_bandwidth_source_total",
		Help: "Bandwidth values by the tier that produced them",
	}, []string{"direction", "source"})

	// 最新数值，缺失时不更新
	LatencyMs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netwatch_latency_ms",
		Help: "Most recent latency sample in milliseconds",
	})
	DownloadMbps = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netwatch_download_mbps",
		Help: "Most recent download throughput in Mbps",
	})
	UploadMbps = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netwatch_upload_mbps",
		Help: "Most recent upload throughput in Mbps",
	})

	// 当前状态，对应状态为1
	HealthStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netwatch_health_status",
		Help: "Current health status (1 for the active status)",
	}, []string{"status"})
	HistoryClearsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netwatch_history_clears_total",
		Help: "Number of history clears",
	})

	registerOnce sync.Once
)

var allStatuses = []model.HealthStatus{
	model.HealthStatusOK,
	model.HealthStatusPingDown,
	model.HealthStatusBandwidthDown,
	model.HealthStatusBothDown,
	model.HealthStatusUnknown,
}

func init() {
	InitMetrics()
}

// InitMetrics 注册全部指标
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ProbesTotal,
			ProbeDurationSeconds,
			BandwidthSourceTotal,
			LatencyMs,
			DownloadMbps,
			UploadMbps,
			HealthStatus,
			HistoryClearsTotal,
		)
		SetStatus(model.HealthStatusUnknown)
	})
}

// Handler /metrics 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveMeasurement 记录一条测量
func ObserveMeasurement(m model.Measurement, elapsed time.Duration) {
	ProbeDurationSeconds.WithLabelValues(string(m.Kind)).Observe(elapsed.Seconds())

	switch m.Kind {
	case model.MeasurementKindLatency:
		observeField("latency", m, m.LatencyMs.Valid, func() { LatencyMs.Set(m.LatencyMs.Float64) })
	case model.MeasurementKindBandwidth:
		observeField("download", m, m.DownloadMbps.Valid, func() {
			DownloadMbps.Set(m.DownloadMbps.Float64)
			BandwidthSourceTotal.WithLabelValues("download", m.DownloadSource).Inc()
		})
		observeField("upload", m, m.UploadMbps.Valid, func() {
			UploadMbps.Set(m.UploadMbps.Float64)
			BandwidthSourceTotal.WithLabelValues("upload", m.UploadSource).Inc()
		})
	}
}

func observeField(field string, m model.Measurement, valid bool, onValue func()) {
	if valid {
		ProbesTotal.WithLabelValues(field, "ok").Inc()
		onValue()
		return
	}
	reason, _ := m.Failures[field].(string)
	if reason == "" {
		reason = string(model.ReasonTransportError)
	}
	ProbesTotal.WithLabelValues(field, reason).Inc()
}

// SetStatus 更新当前状态
func SetStatus(status model.HealthStatus) {
	for _, s := range allStatuses {
		value := 0.0
		if s == status {
			value = 1
		}
		HealthStatus.WithLabelValues(string(s)).Set(value)
	}
}
