package history

import (
	"fmt"

	"netwatch/internal/model"
	"netwatch/internal/repository"
)

// DBStore 将测量记录镜像到数据库
type DBStore struct {
	repo repository.MeasurementRepository
}

// NewDBStore 创建数据库存储
func NewDBStore(repo repository.MeasurementRepository) *DBStore {
	return &DBStore{repo: repo}
}

// Append 插入一行
func (s *DBStore) Append(m model.Measurement) error {
	m.ID = 0
	if err := s.repo.Create(&m); err != nil {
		return fmt.Errorf("insert measurement: %w", err)
	}
	return nil
}

// Reset 删除全部行
func (s *DBStore) Reset() error {
	if err := s.repo.DeleteAll(); err != nil {
		return fmt.Errorf("delete measurements: %w", err)
	}
	return nil
}
