package pinger

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netwatch/internal/model"
)

func TestNew(t *testing.T) {
	p, err := New(MethodTCP, Options{TCPPort: "443"})
	require.NoError(t, err)
	assert.Equal(t, MethodTCP, p.Method())
	assert.Equal(t, "443", p.(*TCPPinger).port)

	p, err = New("", Options{})
	require.NoError(t, err)
	assert.Equal(t, MethodICMP, p.Method())

	_, err = New("udp", Options{})
	assert.Error(t, err)
}

func TestTCPPinger_Success(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	outcome := NewTCPPinger("").Ping(context.Background(), ln.Addr().String(), time.Second)
	assert.True(t, outcome.OK(), "err: %v", outcome.Err)
	assert.GreaterOrEqual(t, outcome.Value.Float64, 0.0)
	assert.Equal(t, "tcp", outcome.Source)
}

func TestTCPPinger_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	outcome := NewTCPPinger("").Ping(context.Background(), addr, time.Second)
	assert.False(t, outcome.OK())
	assert.Equal(t, model.ReasonUnreachable, outcome.Reason)
	assert.Error(t, outcome.Err)
}

func TestTCPPinger_DefaultPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	outcome := NewTCPPinger(port).Ping(context.Background(), "127.0.0.1", time.Second)
	assert.True(t, outcome.OK(), "err: %v", outcome.Err)
}

func TestTCPPinger_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := NewTCPPinger("").Ping(ctx, "127.0.0.1:9", time.Second)
	assert.False(t, outcome.OK())
}
