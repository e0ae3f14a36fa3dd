package model

import (
	"context"
	"errors"
	"net"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/guregu/null/v5"
)

// FailureReason 探测失败原因
type FailureReason string

const (
	ReasonTimeout         FailureReason = "timeout"
	ReasonUnreachable     FailureReason = "unreachable"
	ReasonToolUnavailable FailureReason = "tool_unavailable"
	ReasonParseError      FailureReason = "parse_error"
	ReasonTransportError  FailureReason = "transport_error"
)

var (
	// ErrNoReply 目标未应答
	ErrNoReply = errors.New("no reply from target")
	// ErrParse 输出无法解析
	ErrParse = errors.New("unparsable output")
	// ErrToolUnavailable 主机上没有可用的测速工具
	ErrToolUnavailable = errors.New("no measurement tool available")
)

// ProbeOutcome 单次探测结果：数值或失败原因
type ProbeOutcome struct {
	Value  null.Float    `json:"value"`
	Reason FailureReason `json:"reason,omitempty"`
	Source string        `json:"source,omitempty"`
	Err    error         `json:"-"`
}

// Success 成功结果
func Success(value float64, source string) ProbeOutcome {
	return ProbeOutcome{Value: null.FloatFrom(Round2(value)), Source: source}
}

// Failure 失败结果，reason为空时根据err推断
func Failure(reason FailureReason, err error, source string) ProbeOutcome {
	if reason == "" {
		reason = ClassifyError(err)
	}
	return ProbeOutcome{Reason: reason, Source: source, Err: err}
}

// OK 是否得到有效数值
func (o ProbeOutcome) OK() bool {
	return o.Value.Valid
}

// ClassifyError 将错误映射为失败原因
func ClassifyError(err error) FailureReason {
	if err == nil {
		return ReasonTransportError
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ReasonTimeout
	case errors.Is(err, ErrToolUnavailable), errors.Is(err, exec.ErrNotFound):
		return ReasonToolUnavailable
	case errors.Is(err, ErrParse):
		return ReasonParseError
	}

	var numErr *strconv.NumError
	if errors.As(err, &numErr) {
		return ReasonParseError
	}

	if errors.Is(err, ErrNoReply) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return ReasonUnreachable
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ReasonUnreachable
	}

	return ReasonTransportError
}
