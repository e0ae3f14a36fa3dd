package pinger

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"netwatch/internal/model"
)

const defaultTCPPort = "53"

// TCPPinger 通过TCP握手测量往返时间，用于不允许ICMP的主机
type TCPPinger struct {
	port string
}

// NewTCPPinger 创建TCP探测器，目标未带端口时使用port，port为空时默认53
func NewTCPPinger(port string) *TCPPinger {
	if port == "" {
		port = defaultTCPPort
	}
	return &TCPPinger{port: port}
}

// Method 返回探测方式
func (p *TCPPinger) Method() Method {
	return MethodTCP
}

// Ping 建立一次TCP连接并立即关闭
func (p *TCPPinger) Ping(ctx context.Context, target string, timeout time.Duration) model.ProbeOutcome {
	source := string(MethodTCP)
	address := strings.TrimSpace(target)
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, p.port)
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	started := time.Now()
	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return model.Failure("", fmt.Errorf("tcp ping %s: %w", address, err), source)
	}
	latency := time.Since(started)
	_ = conn.Close()

	return model.Success(elapsedMs(latency), source)
}
