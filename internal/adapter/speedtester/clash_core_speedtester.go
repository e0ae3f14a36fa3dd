package speedtester

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/faceair/clash-speedtest/speedtester"

	"github.com/metacubex/mihomo/adapter"
)

// ClashCoreProvider 通过mihomo直连出站和clash-speedtest对cloudflare测速
type ClashCoreProvider struct {
	ServerURL    string
	DownloadSize int
	UploadSize   int
	Timeout      time.Duration
	MaxLatency   time.Duration
	Concurrent   int
}

// NewClashCoreProvider 创建cloudflare测速库
func NewClashCoreProvider() *ClashCoreProvider {
	return &ClashCoreProvider{
		ServerURL:    "https://speed.cloudflare.com",
		DownloadSize: 50 * 1024 * 1024,
		UploadSize:   20 * 1024 * 1024,
		Timeout:      10 * time.Second,
		MaxLatency:   2000 * time.Millisecond,
		Concurrent:   4,
	}
}

// Name 测速库名称
func (p *ClashCoreProvider) Name() string {
	return ProviderCloudflare
}

// MaxDuration 一次测速的上限：延迟检查加上下行各一个Timeout。
// TestProxies不接受ctx，传输只受clash-speedtest自身的Timeout约束
func (p *ClashCoreProvider) MaxDuration() time.Duration {
	return p.MaxLatency + 2*p.Timeout
}

// Measure 使用DIRECT出站完成一次测速
func (p *ClashCoreProvider) Measure(ctx context.Context) (float64, float64, error) {
	config := map[string]any{
		"name": "DIRECT",
		"type": "direct",
	}
	clashProxy, err := adapter.ParseProxy(config)
	if err != nil {
		return 0, 0, fmt.Errorf("direct outbound: %w", err)
	}

	allProxies := map[string]*speedtester.CProxy{
		clashProxy.Name(): {
			Proxy:  clashProxy,
			Config: config,
		},
	}
	tester := speedtester.New(&speedtester.Config{
		ServerURL:        p.ServerURL,
		DownloadSize:     p.DownloadSize,
		UploadSize:       p.UploadSize,
		Timeout:          p.Timeout,
		MaxLatency:       p.MaxLatency,
		MinDownloadSpeed: 0,
		MinUploadSpeed:   0,
		Concurrent:       p.Concurrent,
	})

	results := make([]*speedtester.Result, 0, 1)
	tester.TestProxies(allProxies, func(result *speedtester.Result) {
		results = append(results, result)
	})
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if len(results) == 0 {
		return 0, 0, errors.New("cloudflare speedtest returned no result")
	}

	// clash-speedtest以字节每秒报告速度
	return bytesPerSecondToMbps(results[0].DownloadSpeed), bytesPerSecondToMbps(results[0].UploadSpeed), nil
}
