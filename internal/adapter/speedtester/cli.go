package speedtester

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"netwatch/internal/model"
)

// DefaultCLICandidates 按优先级探测的命令行测速工具
var DefaultCLICandidates = []string{"speedtest-cli", "speedtest"}

// CommandRunner 执行外部命令并返回输出
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// DetectCLI 返回第一个可在PATH中找到的工具路径，未找到时为空
func DetectCLI(candidates []string) string {
	for _, name := range candidates {
		if name == "" {
			continue
		}
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// CLISpeedTester 第二层：调用命令行测速工具
type CLISpeedTester struct {
	path    string
	args    []string
	timeout time.Duration
	run     CommandRunner
}

// NewCLISpeedTester path为空时该层不可用
func NewCLISpeedTester(path string, args []string, timeout time.Duration) *CLISpeedTester {
	if len(args) == 0 {
		args = []string{"--simple"}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CLISpeedTester{path: path, args: args, timeout: timeout, run: execRunner}
}

// WithRunner 替换命令执行器
func (t *CLISpeedTester) WithRunner(run CommandRunner) *CLISpeedTester {
	t.run = run
	return t
}

// Name 测速层名称
func (t *CLISpeedTester) Name() string {
	return "cli"
}

// Available 找到工具即可用
func (t *CLISpeedTester) Available() bool {
	return t.path != ""
}

// Test 运行一次工具并解析上下行结果
func (t *CLISpeedTester) Test(ctx context.Context, _ Need) Result {
	if !t.Available() {
		return bothFailed(model.ReasonToolUnavailable, model.ErrToolUnavailable, t.Name())
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	out, err := t.run(ctx, t.path, t.args...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return bothFailed("", fmt.Errorf("%s: %w", t.path, ctxErr), t.Name())
	}
	if err != nil {
		return bothFailed("", fmt.Errorf("%s: %w", t.path, err), t.Name())
	}

	download, upload := ParseCLIOutput(out)
	download.Source, upload.Source = t.Name(), t.Name()
	return Result{Download: download, Upload: upload}
}

// ParseCLIOutput 解析 --simple 文本或 JSON 输出，上下行分别判定
func ParseCLIOutput(out []byte) (download, upload model.ProbeOutcome) {
	text := strings.TrimSpace(string(out))
	if strings.HasPrefix(text, "{") {
		return parseCLIJSON(text)
	}

	download = model.Failure(model.ReasonParseError, fmt.Errorf("no Download line: %w", model.ErrParse), "")
	upload = model.Failure(model.ReasonParseError, fmt.Errorf("no Upload line: %w", model.ErrParse), "")
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "Download:":
			download = parseRate(fields[1:])
		case "Upload:":
			upload = parseRate(fields[1:])
		}
	}
	return download, upload
}

func parseRate(fields []string) model.ProbeOutcome {
	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return model.Failure(model.ReasonParseError, fmt.Errorf("parse rate %q: %w", fields[0], err), "")
	}
	if len(fields) > 1 {
		switch strings.ToLower(fields[1]) {
		case "kbit/s":
			value /= 1000
		case "gbit/s":
			value *= 1000
		}
	}
	if value < 0 {
		return model.Failure(model.ReasonParseError, fmt.Errorf("negative rate %v: %w", value, model.ErrParse), "")
	}
	return model.Success(value, "")
}

// parseCLIJSON Ookla 官方工具 --format=json 的输出，bandwidth 单位为字节每秒
func parseCLIJSON(text string) (download, upload model.ProbeOutcome) {
	if !gjson.Valid(text) {
		failed := model.Failure(model.ReasonParseError, errors.Join(model.ErrParse, errors.New("invalid json output")), "")
		return failed, failed
	}
	parsed := gjson.Parse(text)
	return jsonRate(parsed, "download"), jsonRate(parsed, "upload")
}

func jsonRate(parsed gjson.Result, direction string) model.ProbeOutcome {
	bandwidth := parsed.Get(direction + ".bandwidth")
	if !bandwidth.Exists() || bandwidth.Type != gjson.Number {
		return model.Failure(model.ReasonParseError, fmt.Errorf("missing %s.bandwidth: %w", direction, model.ErrParse), "")
	}
	if bandwidth.Float() < 0 {
		return model.Failure(model.ReasonParseError, fmt.Errorf("negative %s.bandwidth: %w", direction, model.ErrParse), "")
	}
	return model.Success(bytesPerSecondToMbps(bandwidth.Float()), "")
}
