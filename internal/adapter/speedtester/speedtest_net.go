package speedtester

import (
	"context"
	"errors"
	"fmt"

	"github.com/metacubex/mihomo/log"
	"github.com/showwin/speedtest-go/speedtest"
)

// SpeedtestNetProvider 使用speedtest.net服务器测速
type SpeedtestNetProvider struct {
	candidates int
}

// NewSpeedtestNetProvider candidates为参与延迟比较的最近服务器数量
func NewSpeedtestNetProvider(candidates int) *SpeedtestNetProvider {
	if candidates <= 0 {
		candidates = 1
	}
	return &SpeedtestNetProvider{candidates: candidates}
}

// Name 测速库名称
func (p *SpeedtestNetProvider) Name() string {
	return ProviderSpeedtestNet
}

// Measure 选出延迟最低的服务器后依次测试下载与上传
func (p *SpeedtestNetProvider) Measure(ctx context.Context) (float64, float64, error) {
	client := speedtest.New()
	if _, err := client.FetchUserInfoContext(ctx); err != nil {
		return 0, 0, fmt.Errorf("fetch user info: %w", err)
	}
	servers, err := client.FetchServerListContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch server list: %w", err)
	}
	targets, err := servers.FindServer([]int{})
	if err != nil {
		return 0, 0, fmt.Errorf("find server: %w", err)
	}

	server, err := p.pickServer(ctx, targets)
	if err != nil {
		return 0, 0, err
	}
	log.Debugln("speedtest.net server: %s (%s), latency %s", server.Name, server.Host, server.Latency)

	if err := server.DownloadTestContext(ctx); err != nil {
		return 0, 0, fmt.Errorf("download test: %w", err)
	}
	if err := server.UploadTestContext(ctx); err != nil {
		return 0, 0, fmt.Errorf("upload test: %w", err)
	}
	return server.DLSpeed.Mbps(), server.ULSpeed.Mbps(), nil
}

func (p *SpeedtestNetProvider) pickServer(ctx context.Context, targets speedtest.Servers) (*speedtest.Server, error) {
	var best *speedtest.Server
	for i, server := range targets {
		if i >= p.candidates {
			break
		}
		if err := server.PingTestContext(ctx, nil); err != nil {
			log.Debugln("speedtest.net ping %s failed: %v", server.Host, err)
			continue
		}
		if best == nil || server.Latency < best.Latency {
			best = server
		}
	}
	if best == nil {
		return nil, errors.New("no reachable speedtest.net server")
	}
	return best, nil
}
