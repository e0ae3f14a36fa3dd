package eventbus

import (
	"time"

	"netwatch/internal/model"
)

// NewMeasurementRecordedEvent 新记录写入后发布
func NewMeasurementRecordedEvent(m model.Measurement, status model.HealthStatus) *BaseEvent {
	data := map[string]interface{}{
		"kind":   string(m.Kind),
		"run_id": m.RunID,
		"status": string(status),
	}
	if m.LatencyMs.Valid {
		data["latency_ms"] = m.LatencyMs.Float64
	}
	if m.DownloadMbps.Valid {
		data["download_mbps"] = m.DownloadMbps.Float64
	}
	if m.UploadMbps.Valid {
		data["upload_mbps"] = m.UploadMbps.Float64
	}
	if len(m.Failures) > 0 {
		data["failures"] = map[string]interface{}(m.Failures)
	}
	return &BaseEvent{Type: EventMeasurementRecorded, Timestamp: m.Timestamp, Data: data}
}

// NewStatusChangedEvent 状态变化时发布
func NewStatusChangedEvent(previous, current model.HealthStatus, at time.Time) *BaseEvent {
	return &BaseEvent{
		Type:      EventStatusChanged,
		Timestamp: at,
		Data: map[string]interface{}{
			"status":   string(current),
			"previous": string(previous),
			"label":    current.Label(),
			"color":    current.Color(),
		},
	}
}

// NewHistoryClearedEvent 清空历史后发布
func NewHistoryClearedEvent(at time.Time) *BaseEvent {
	return &BaseEvent{Type: EventHistoryCleared, Timestamp: at, Data: map[string]interface{}{}}
}
