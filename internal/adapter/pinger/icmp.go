package pinger

import (
	"context"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"netwatch/internal/model"
)

// ICMPPinger 基于ICMP echo的延迟探测
type ICMPPinger struct {
	privileged bool
}

// NewICMPPinger 创建ICMP探测器，privileged为false时使用无特权UDP ping
func NewICMPPinger(privileged bool) *ICMPPinger {
	return &ICMPPinger{privileged: privileged}
}

// Method 返回探测方式
func (p *ICMPPinger) Method() Method {
	return MethodICMP
}

// Ping 发送一个echo请求
func (p *ICMPPinger) Ping(ctx context.Context, target string, timeout time.Duration) (outcome model.ProbeOutcome) {
	source := string(MethodICMP)
	defer func() {
		if r := recover(); r != nil {
			outcome = model.Failure(model.ReasonTransportError, fmt.Errorf("icmp ping panic: %v", r), source)
		}
	}()

	pinger, err := probing.NewPinger(target)
	if err != nil {
		return model.Failure("", fmt.Errorf("resolve %s: %w", target, err), source)
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(p.privileged)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	if err := pinger.Run(); err != nil {
		return model.Failure("", fmt.Errorf("icmp ping %s: %w", target, err), source)
	}
	if ctx.Err() != nil {
		return model.Failure("", ctx.Err(), source)
	}

	stats := pinger.Statistics()
	if stats == nil || stats.PacketsRecv == 0 {
		return model.Failure(model.ReasonUnreachable, fmt.Errorf("icmp ping %s: %w", target, model.ErrNoReply), source)
	}
	return model.Success(elapsedMs(stats.AvgRtt), source)
}
