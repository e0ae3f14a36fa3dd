package model

import (
	"math"
	"time"

	"github.com/guregu/null/v5"
	"gorm.io/datatypes"
)

// MeasurementKind 测量类型
type MeasurementKind string

const (
	MeasurementKindLatency   MeasurementKind = "latency"   // 延迟
	MeasurementKindBandwidth MeasurementKind = "bandwidth" // 带宽
)

// Measurement 单次探测记录，写入后不可修改
type Measurement struct {
	ID             uint              `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID          string            `json:"run_id" gorm:"size:36;index"`
	Timestamp      time.Time         `json:"timestamp" gorm:"column:recorded_at;index;not null"`
	StartedAt      time.Time         `json:"started_at"`
	Kind           MeasurementKind   `json:"kind" gorm:"size:16;index;not null"`
	LatencyMs      null.Float        `json:"latency_ms"`    // 延迟(ms)
	DownloadMbps   null.Float        `json:"download_mbps"` // 下载速度(Mbps)
	UploadMbps     null.Float        `json:"upload_mbps"`   // 上传速度(Mbps)
	DownloadSource string            `json:"download_source,omitempty" gorm:"size:32"`
	UploadSource   string            `json:"upload_source,omitempty" gorm:"size:32"`
	Failures       datatypes.JSONMap `json:"failures,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// TableName 表名
func (Measurement) TableName() string {
	return "measurements"
}

// NewLatencyMeasurement 由延迟探测结果生成记录
func NewLatencyMeasurement(runID string, startedAt time.Time, outcome ProbeOutcome) Measurement {
	m := Measurement{
		RunID:     runID,
		StartedAt: startedAt,
		Kind:      MeasurementKindLatency,
		LatencyMs: nonNegative(outcome.Value),
	}
	if !outcome.OK() {
		m.Failures = datatypes.JSONMap{"latency": string(outcome.Reason)}
	}
	return m
}

// NewBandwidthMeasurement 由带宽探测结果生成记录，上下行互相独立
func NewBandwidthMeasurement(runID string, startedAt time.Time, download, upload ProbeOutcome) Measurement {
	m := Measurement{
		RunID:        runID,
		StartedAt:    startedAt,
		Kind:         MeasurementKindBandwidth,
		DownloadMbps: nonNegative(download.Value),
		UploadMbps:   nonNegative(upload.Value),
	}
	failures := datatypes.JSONMap{}
	if download.OK() {
		m.DownloadSource = download.Source
	} else {
		failures["download"] = string(download.Reason)
	}
	if upload.OK() {
		m.UploadSource = upload.Source
	} else {
		failures["upload"] = string(upload.Reason)
	}
	if len(failures) > 0 {
		m.Failures = failures
	}
	return m
}

// Round2 保留两位小数
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func nonNegative(v null.Float) null.Float {
	if !v.Valid || math.IsNaN(v.Float64) || math.IsInf(v.Float64, 0) || v.Float64 < 0 {
		return null.Float{}
	}
	return v
}
