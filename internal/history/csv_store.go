package history

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/guregu/null/v5"

	"netwatch/internal/model"
)

// TimestampLayout CSV中的时间格式（本地时间，微秒）
const TimestampLayout = "2006-01-02 15:04:05.000000"

// Header CSV表头
var Header = []string{"timestamp", "ping_ms", "download_mbps", "upload_mbps"}

// CSVStore 每条记录一行的CSV日志，每次写入后关闭文件
type CSVStore struct {
	mu   sync.Mutex
	path string
}

// NewCSVStore 创建CSV日志。appendExisting为false或文件不存在时写入新表头
func NewCSVStore(path string, appendExisting bool) (*CSVStore, error) {
	s := &CSVStore{path: path}
	if appendExisting {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return s, nil
		}
	}
	if err := s.Reset(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path 文件路径
func (s *CSVStore) Path() string {
	return s.path
}

// Append 追加一行，缺失值写为空字段
func (s *CSVStore) Append(m model.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history %s: %w", s.path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Row(m)); err != nil {
		_ = f.Close()
		return fmt.Errorf("write history row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush history row: %w", err)
	}
	return f.Close()
}

// Reset 截断文件只保留表头
func (s *CSVStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create history %s: %w", s.path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		_ = f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Row 记录对应的CSV行
func Row(m model.Measurement) []string {
	return []string{
		m.Timestamp.Local().Format(TimestampLayout),
		formatValue(m.LatencyMs),
		formatValue(m.DownloadMbps),
		formatValue(m.UploadMbps),
	}
}

func formatValue(v null.Float) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float64, 'f', -1, 64)
}
