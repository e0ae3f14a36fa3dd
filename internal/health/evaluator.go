package health

import (
	"github.com/guregu/null/v5"

	"netwatch/internal/model"
)

// Input 状态判定所需的最新样本
type Input struct {
	LatencySampled   bool       // 是否已有延迟样本
	Latency          null.Float // 最新延迟(ms)
	BandwidthSampled bool       // 是否已有带宽样本
	Download         null.Float // 最新下载(Mbps)
	Upload           null.Float // 最新上传(Mbps)
	BandwidthCapable bool       // 主机是否具备带宽测速工具
}

// FromLatest 由最新的延迟与带宽记录构造输入，记录可以为nil
func FromLatest(latency, bandwidth *model.Measurement, capable bool) Input {
	in := Input{BandwidthCapable: capable}
	if latency != nil {
		in.LatencySampled = true
		in.Latency = latency.LatencyMs
	}
	if bandwidth != nil {
		in.BandwidthSampled = true
		in.Download = bandwidth.DownloadMbps
		in.Upload = bandwidth.UploadMbps
	}
	return in
}

// Evaluate 推导健康状态，纯函数
func Evaluate(in Input) model.HealthStatus {
	if !in.LatencySampled && !in.BandwidthSampled {
		return model.HealthStatusUnknown
	}

	// 只采到一类样本时，另一类按缺失判定
	pingOK := positive(in.Latency)

	bandwidthOK := true
	if in.BandwidthCapable {
		bandwidthOK = positive(in.Download) && positive(in.Upload)
	}

	switch {
	case pingOK && bandwidthOK:
		return model.HealthStatusOK
	case !pingOK && !bandwidthOK:
		return model.HealthStatusBothDown
	case !pingOK:
		return model.HealthStatusPingDown
	default:
		return model.HealthStatusBandwidthDown
	}
}

func positive(v null.Float) bool {
	return v.Valid && v.Float64 > 0
}
