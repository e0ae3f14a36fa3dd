package speedtester

import (
	"context"

	"github.com/metacubex/mihomo/log"

	"netwatch/internal/model"
)

// Need 本轮仍需测量的方向
type Need struct {
	Download bool
	Upload   bool
}

// Any 是否还有未完成的方向
func (n Need) Any() bool {
	return n.Download || n.Upload
}

// Result 单个测速层的结果，上下行互相独立
type Result struct {
	Download model.ProbeOutcome `json:"download"`
	Upload   model.ProbeOutcome `json:"upload"`
}

// SpeedTester 测速层接口
type SpeedTester interface {
	// Name 测速层名称，同时作为结果来源
	Name() string

	// Available 当前主机是否可以使用此测速层
	Available() bool

	// Test 测量need中要求的方向，不应panic，也不应返回未设置原因的失败
	Test(ctx context.Context, need Need) Result
}

// Chain 按顺序尝试的测速层，每个方向取第一个成功的结果
type Chain struct {
	testers []SpeedTester
}

// NewChain 创建测速链，nil会被忽略
func NewChain(testers ...SpeedTester) *Chain {
	chain := &Chain{testers: make([]SpeedTester, 0, len(testers))}
	for _, tester := range testers {
		if tester != nil {
			chain.testers = append(chain.testers, tester)
		}
	}
	return chain
}

// Testers 返回测速层列表
func (c *Chain) Testers() []SpeedTester {
	out := make([]SpeedTester, len(c.testers))
	copy(out, c.testers)
	return out
}

// Run 依次执行各测速层直到上下行都有结果，每层最多执行一次
func (c *Chain) Run(ctx context.Context) Result {
	unavailable := model.Failure(model.ReasonToolUnavailable, model.ErrToolUnavailable, "")
	result := Result{Download: unavailable, Upload: unavailable}
	need := Need{Download: true, Upload: true}

	for _, tester := range c.testers {
		if !need.Any() {
			break
		}
		if !tester.Available() {
			log.Debugln("speed tester %s unavailable, skipping", tester.Name())
			continue
		}
		if err := ctx.Err(); err != nil {
			cancelled := model.Failure("", err, tester.Name())
			if need.Download {
				result.Download = cancelled
			}
			if need.Upload {
				result.Upload = cancelled
			}
			break
		}

		got := tester.Test(ctx, need)
		if need.Download {
			result.Download = settle(got.Download, tester.Name())
			need.Download = !result.Download.OK()
		}
		if need.Upload {
			result.Upload = settle(got.Upload, tester.Name())
			need.Upload = !result.Upload.OK()
		}
		log.Debugln("speed tester %s: download=%s upload=%s", tester.Name(), describe(got.Download), describe(got.Upload))
	}

	return result
}

func settle(outcome model.ProbeOutcome, source string) model.ProbeOutcome {
	if outcome.Source == "" {
		outcome.Source = source
	}
	if outcome.OK() {
		if outcome.Value.Float64 < 0 {
			return model.Failure(model.ReasonParseError, model.ErrParse, outcome.Source)
		}
		outcome.Value.Float64 = model.Round2(outcome.Value.Float64)
		return outcome
	}
	if outcome.Reason == "" {
		outcome.Reason = model.ClassifyError(outcome.Err)
	}
	return outcome
}

func describe(o model.ProbeOutcome) string {
	if o.OK() {
		return "ok"
	}
	if o.Reason == "" {
		return "skipped"
	}
	return string(o.Reason)
}

func bothFailed(reason model.FailureReason, err error, source string) Result {
	failed := model.Failure(reason, err, source)
	return Result{Download: failed, Upload: failed}
}

func bytesPerSecondToMbps(bps float64) float64 {
	return bps * 8 / 1e6
}
