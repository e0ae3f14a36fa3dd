package service

import (
	"github.com/guregu/null/v5"
	"github.com/montanaflynn/stats"

	"netwatch/internal/model"
)

// FieldSummary 单个字段的统计，缺失样本只计入Missing
type FieldSummary struct {
	Count   int        `json:"count"`
	Missing int        `json:"missing"`
	Min     null.Float `json:"min"`
	Max     null.Float `json:"max"`
	Mean    null.Float `json:"mean"`
	Median  null.Float `json:"median"`
	P95     null.Float `json:"p95"`
	StdDev  null.Float `json:"stddev"`
}

// Summary 延迟与带宽统计
type Summary struct {
	Latency  FieldSummary `json:"latency"`
	Download FieldSummary `json:"download"`
	Upload   FieldSummary `json:"upload"`
}

// Summarize 由两类记录计算统计
func Summarize(latency, bandwidth []model.Measurement) Summary {
	latencies := make([]null.Float, len(latency))
	for i, m := range latency {
		latencies[i] = m.LatencyMs
	}
	downloads := make([]null.Float, len(bandwidth))
	uploads := make([]null.Float, len(bandwidth))
	for i, m := range bandwidth {
		downloads[i] = m.DownloadMbps
		uploads[i] = m.UploadMbps
	}
	return Summary{
		Latency:  SummarizeField(latencies),
		Download: SummarizeField(downloads),
		Upload:   SummarizeField(uploads),
	}
}

// SummarizeField 单字段统计
func SummarizeField(values []null.Float) FieldSummary {
	var summary FieldSummary
	data := make(stats.Float64Data, 0, len(values))
	for _, v := range values {
		if v.Valid {
			data = append(data, v.Float64)
		} else {
			summary.Missing++
		}
	}
	summary.Count = len(data)
	if len(data) == 0 {
		return summary
	}

	summary.Min = rounded(stats.Min(data))
	summary.Max = rounded(stats.Max(data))
	summary.Mean = rounded(stats.Mean(data))
	summary.Median = rounded(stats.Median(data))
	summary.P95 = rounded(stats.Percentile(data, 95))
	summary.StdDev = rounded(stats.StandardDeviation(data))
	return summary
}

func rounded(v float64, err error) null.Float {
	if err != nil {
		return null.Float{}
	}
	return null.FloatFrom(model.Round2(v))
}
