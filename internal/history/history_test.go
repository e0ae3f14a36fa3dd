package history

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"netwatch/internal/model"
	"netwatch/internal/repository"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func latency(ts time.Time, outcome model.ProbeOutcome) model.Measurement {
	m := model.NewLatencyMeasurement("run", ts, outcome)
	m.Timestamp = ts
	return m
}

func TestCSVStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network_history.csv")
	store, err := NewCSVStore(path, false)
	require.NoError(t, err)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.Local)
	require.NoError(t, store.Append(latency(ts, model.Success(23.45, "icmp"))))
	require.NoError(t, store.Append(latency(ts.Add(5*time.Second), model.Failure(model.ReasonUnreachable, nil, "icmp"))))

	bw := model.NewBandwidthMeasurement("run", ts, model.Success(8.39, "http"), model.Failure(model.ReasonTimeout, nil, "http"))
	bw.Timestamp = ts.Add(6 * time.Second)
	require.NoError(t, store.Append(bw))

	want := [][]string{
		Header,
		{"2024-05-01 12:00:00.123456", "23.45", "", ""},
		{"2024-05-01 12:00:05.123456", "", "", ""},
		{"2024-05-01 12:00:06.123456", "", "8.39", ""},
	}
	if diff := cmp.Diff(want, readRows(t, path)); diff != "" {
		t.Errorf("csv rows mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, store.Reset())
	assert.Equal(t, [][]string{Header}, readRows(t, path))
}

func TestNewCSVStore_Append(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	first, err := NewCSVStore(path, false)
	require.NoError(t, err)
	require.NoError(t, first.Append(latency(time.Now(), model.Success(10, "icmp"))))

	_, err = NewCSVStore(path, true)
	require.NoError(t, err)
	assert.Len(t, readRows(t, path), 2, "保留已有记录")

	_, err = NewCSVStore(path, false)
	require.NoError(t, err)
	assert.Len(t, readRows(t, path), 1, "重新写入表头")
}

func TestNewCSVStore_BadPath(t *testing.T) {
	_, err := NewCSVStore(filepath.Join(t.TempDir(), "missing", "dir", "h.csv"), false)
	assert.Error(t, err)
}

func TestDBStore(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "h.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Measurement{}))
	repo := repository.NewMeasurementRepository(db)
	store := NewDBStore(repo)

	m := latency(time.Now(), model.Success(12.5, "icmp"))
	require.NoError(t, store.Append(m))
	require.NoError(t, store.Append(m))

	count, err := repo.Count("")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, store.Reset())
	count, err = repo.Count("")
	require.NoError(t, err)
	assert.Zero(t, count)
}

type recordingStore struct {
	appended []model.Measurement
	resets   int
	err      error
}

func (s *recordingStore) Append(m model.Measurement) error {
	s.appended = append(s.appended, m)
	return s.err
}

func (s *recordingStore) Reset() error {
	s.resets++
	return s.err
}

func TestMultiStore(t *testing.T) {
	broken := &recordingStore{err: errors.New("disk full")}
	healthy := &recordingStore{}
	multi := NewMultiStore(broken, nil, healthy)

	err := multi.Append(latency(time.Now(), model.Success(1, "icmp")))
	assert.ErrorContains(t, err, "disk full")
	assert.Len(t, healthy.appended, 1, "一个存储失败不影响其他存储")

	assert.Error(t, multi.Reset())
	assert.Equal(t, 1, healthy.resets)

	assert.NoError(t, NewMultiStore().Append(model.Measurement{}))
}
