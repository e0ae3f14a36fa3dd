package history

import (
	"errors"

	"netwatch/internal/model"
)

// Store 只追加的测量日志
type Store interface {
	// Append 追加一条记录
	Append(m model.Measurement) error
	// Reset 清空全部记录
	Reset() error
}

// MultiStore 依次写入多个Store，某个失败不影响其他
type MultiStore struct {
	stores []Store
}

// NewMultiStore 创建组合存储，nil会被忽略
func NewMultiStore(stores ...Store) *MultiStore {
	multi := &MultiStore{}
	for _, s := range stores {
		if s != nil {
			multi.stores = append(multi.stores, s)
		}
	}
	return multi
}

// Append 写入所有存储
func (s *MultiStore) Append(m model.Measurement) error {
	var errs []error
	for _, store := range s.stores {
		if err := store.Append(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reset 清空所有存储
func (s *MultiStore) Reset() error {
	var errs []error
	for _, store := range s.stores {
		if err := store.Reset(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
