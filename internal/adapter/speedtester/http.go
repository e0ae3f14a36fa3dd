package speedtester

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/metacubex/mihomo/log"
	"github.com/tidwall/gjson"

	"netwatch/internal/model"
)

const (
	DefaultDownloadURL      = "http://speedtest.tele2.net/1MB.zip"
	DefaultUploadURL        = "https://httpbin.org/post"
	DefaultChunkSize        = 64 * 1024
	DefaultMaxDownloadBytes = 1024 * 1024
	DefaultUploadBytes      = 256 * 1024
	DefaultHTTPTimeout      = 20 * time.Second
)

// HTTPOptions HTTP测速参数
type HTTPOptions struct {
	DownloadURL      string
	UploadURL        string
	ChunkSize        int
	MaxDownloadBytes int64
	UploadBytes      int
	Timeout          time.Duration
}

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.DownloadURL == "" {
		o.DownloadURL = DefaultDownloadURL
	}
	if o.UploadURL == "" {
		o.UploadURL = DefaultUploadURL
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MaxDownloadBytes <= 0 {
		o.MaxDownloadBytes = DefaultMaxDownloadBytes
	}
	if o.UploadBytes <= 0 {
		o.UploadBytes = DefaultUploadBytes
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultHTTPTimeout
	}
	return o
}

// HTTPSpeedTester 第三层：直接下载/上传测量吞吐
type HTTPSpeedTester struct {
	client *http.Client
	opts   HTTPOptions
	now    func() time.Time
}

// NewHTTPSpeedTester client为nil时使用默认客户端
func NewHTTPSpeedTester(client *http.Client, opts HTTPOptions) *HTTPSpeedTester {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSpeedTester{client: client, opts: opts.withDefaults(), now: time.Now}
}

// Name 测速层名称
func (t *HTTPSpeedTester) Name() string {
	return "http"
}

// Available 始终可用
func (t *HTTPSpeedTester) Available() bool {
	return true
}

// Test 只测量need要求的方向
func (t *HTTPSpeedTester) Test(ctx context.Context, need Need) Result {
	var result Result
	if need.Download {
		result.Download = t.download(ctx)
	}
	if need.Upload {
		result.Upload = t.upload(ctx)
	}
	return result
}

func (t *HTTPSpeedTester) download(ctx context.Context) model.ProbeOutcome {
	ctx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.opts.DownloadURL, nil)
	if err != nil {
		return model.Failure(model.ReasonTransportError, err, t.Name())
	}

	start := t.now()
	resp, err := t.client.Do(req)
	if err != nil {
		return model.Failure("", fmt.Errorf("download: %w", err), t.Name())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.Failure(model.ReasonTransportError, fmt.Errorf("download: unexpected status %s", resp.Status), t.Name())
	}

	buf := make([]byte, t.opts.ChunkSize)
	var total int64
	for total < t.opts.MaxDownloadBytes {
		n, readErr := resp.Body.Read(buf)
		total += int64(n)
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return model.Failure("", fmt.Errorf("download read: %w", readErr), t.Name())
		}
	}
	if total == 0 {
		return model.Failure(model.ReasonTransportError, errors.New("download: empty body"), t.Name())
	}

	mbps, err := ThroughputMbps(total, t.now().Sub(start))
	if err != nil {
		return model.Failure(model.ReasonTransportError, err, t.Name())
	}
	return model.Success(mbps, t.Name())
}

func (t *HTTPSpeedTester) upload(ctx context.Context) model.ProbeOutcome {
	ctx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	payload := bytes.Repeat([]byte("0"), t.opts.UploadBytes)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.opts.UploadURL, bytes.NewReader(payload))
	if err != nil {
		return model.Failure(model.ReasonTransportError, err, t.Name())
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	start := t.now()
	resp, err := t.client.Do(req)
	if err != nil {
		return model.Failure("", fmt.Errorf("upload: %w", err), t.Name())
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Failure("", fmt.Errorf("upload read: %w", err), t.Name())
	}
	elapsed := t.now().Sub(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.Failure(model.ReasonTransportError, fmt.Errorf("upload: unexpected status %s", resp.Status), t.Name())
	}
	logUploadEcho(body, len(payload))

	mbps, err := ThroughputMbps(int64(len(payload)), elapsed)
	if err != nil {
		return model.Failure(model.ReasonTransportError, err, t.Name())
	}
	return model.Success(mbps, t.Name())
}

// logUploadEcho httpbin回显请求头时对比服务端收到的长度，不一致只记录日志
func logUploadEcho(body []byte, sent int) {
	if !gjson.ValidBytes(body) {
		return
	}
	length := gjson.GetBytes(body, `headers.Content-Length`)
	if length.Exists() && length.Int() != int64(sent) {
		log.Warnln("upload echo reports %s bytes received, sent %d", length.String(), sent)
	}
}

// ThroughputMbps 字节数与耗时换算为Mbps
func ThroughputMbps(n int64, elapsed time.Duration) (float64, error) {
	if elapsed <= 0 {
		return 0, fmt.Errorf("non-positive elapsed time %s", elapsed)
	}
	return float64(n) * 8 / elapsed.Seconds() / 1e6, nil
}
