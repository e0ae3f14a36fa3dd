package speedtester

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/metacubex/mihomo/log"

	"netwatch/internal/model"
)

const (
	ProviderSpeedtestNet = "speedtest.net"
	ProviderCloudflare   = "cloudflare"
	ProviderNone         = "none"
)

// Provider 测速库，完成选服、下载与上传测试
type Provider interface {
	Name() string
	Measure(ctx context.Context) (downloadMbps, uploadMbps float64, err error)
}

// NewProvider 根据名称创建测速库，none返回nil
func NewProvider(name string) (Provider, error) {
	switch name {
	case ProviderSpeedtestNet, "":
		return NewSpeedtestNetProvider(3), nil
	case ProviderCloudflare:
		return NewClashCoreProvider(), nil
	case ProviderNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported speedtest provider: %s", name)
	}
}

// boundedProvider 无法被ctx中断、但自身有时长上限的测速库
type boundedProvider interface {
	MaxDuration() time.Duration
}

// LibrarySpeedTester 第一层：测速库。任一步骤失败则上下行都视为失败
type LibrarySpeedTester struct {
	provider Provider
	timeout  time.Duration
}

// NewLibrarySpeedTester 创建测速库层
func NewLibrarySpeedTester(provider Provider, timeout time.Duration) *LibrarySpeedTester {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	// 超时早于测速库自身上限时，后台传输会和下一层抢占链路
	if bp, ok := provider.(boundedProvider); ok && bp.MaxDuration() > timeout {
		log.Warnln("library speedtest timeout %s raised to %s to cover %s", timeout, bp.MaxDuration(), provider.Name())
		timeout = bp.MaxDuration()
	}
	return &LibrarySpeedTester{provider: provider, timeout: timeout}
}

// Name 测速层名称
func (t *LibrarySpeedTester) Name() string {
	return "library"
}

// Available provider存在即可用
func (t *LibrarySpeedTester) Available() bool {
	return t.provider != nil
}

type libraryMeasurement struct {
	download float64
	upload   float64
	err      error
}

// Test 执行完整测速，忽略need，部分结果不可信
func (t *LibrarySpeedTester) Test(ctx context.Context, _ Need) Result {
	if t.provider == nil {
		return bothFailed(model.ReasonToolUnavailable, model.ErrToolUnavailable, t.Name())
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan libraryMeasurement, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- libraryMeasurement{err: fmt.Errorf("%s panic: %v", t.provider.Name(), r)}
			}
		}()
		download, upload, err := t.provider.Measure(ctx)
		done <- libraryMeasurement{download: download, upload: upload, err: err}
	}()

	var m libraryMeasurement
	select {
	case m = <-done:
	case <-ctx.Done():
		m.err = ctx.Err()
	}

	if m.err == nil {
		m.err = validateLibraryResult(m.download, m.upload)
	}
	if m.err != nil {
		log.Warnln("library speedtest (%s) failed: %v", t.provider.Name(), m.err)
		return bothFailed("", m.err, t.Name())
	}

	return Result{
		Download: model.Success(m.download, t.Name()),
		Upload:   model.Success(m.upload, t.Name()),
	}
}

func validateLibraryResult(download, upload float64) error {
	for _, v := range []float64{download, upload} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("library returned no usable throughput (%v/%v): %w", download, upload, model.ErrParse)
		}
	}
	return nil
}
