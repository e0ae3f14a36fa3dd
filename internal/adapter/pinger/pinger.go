package pinger

import (
	"context"
	"fmt"
	"time"

	"netwatch/internal/model"
)

// Method 延迟探测方式
type Method string

const (
	MethodICMP Method = "icmp"
	MethodTCP  Method = "tcp"
)

// Pinger 延迟探测器接口，失败以ProbeOutcome返回而不是panic
type Pinger interface {
	// Ping 向目标发送一次探测，最多等待timeout
	Ping(ctx context.Context, target string, timeout time.Duration) model.ProbeOutcome

	// Method 返回探测方式
	Method() Method
}

// Options 探测器参数
type Options struct {
	Privileged bool   // ICMP使用原始套接字
	TCPPort    string // TCP探测端口
}

// New 根据探测方式创建探测器
func New(method Method, opts Options) (Pinger, error) {
	switch method {
	case MethodICMP, "":
		return NewICMPPinger(opts.Privileged), nil
	case MethodTCP:
		return NewTCPPinger(opts.TCPPort), nil
	default:
		return nil, fmt.Errorf("unsupported ping method: %s", method)
	}
}

func elapsedMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
