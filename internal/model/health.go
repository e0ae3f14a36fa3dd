package model

// HealthStatus 网络健康状态，仅由最新样本推导，不落库
type HealthStatus string

const (
	HealthStatusOK            HealthStatus = "ok"
	HealthStatusPingDown      HealthStatus = "ping_down"
	HealthStatusBandwidthDown HealthStatus = "bandwidth_down"
	HealthStatusBothDown      HealthStatus = "both_down"
	HealthStatusUnknown       HealthStatus = "unknown"
)

// Placeholder 无数据时显示的占位符
const Placeholder = "–"

// Label 状态文案
func (s HealthStatus) Label() string {
	switch s {
	case HealthStatusOK:
		return "✅ OK"
	case HealthStatusPingDown:
		return "⚠️ Ping down"
	case HealthStatusBandwidthDown:
		return "⚠️ Bandwidth down"
	case HealthStatusBothDown:
		return "❌ Ping & bandwidth down"
	default:
		return Placeholder
	}
}

// Color 状态颜色
func (s HealthStatus) Color() string {
	switch s {
	case HealthStatusOK:
		return "green"
	case HealthStatusPingDown, HealthStatusBandwidthDown, HealthStatusBothDown:
		return "red"
	default:
		return "gray"
	}
}
