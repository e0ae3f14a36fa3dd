package repository

import (
	"time"

	"gorm.io/gorm"

	"netwatch/internal/model"
)

// MeasurementQuery 测量记录查询条件
type MeasurementQuery struct {
	Kind      model.MeasurementKind
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// MeasurementRepository 测量记录仓库接口
type MeasurementRepository interface {
	Create(measurement *model.Measurement) error
	FindRecent(kind model.MeasurementKind, limit int) ([]*model.Measurement, error)
	Find(query MeasurementQuery) ([]*model.Measurement, error)
	FindByTimeRange(startTime, endTime time.Time) ([]*model.Measurement, error)
	Count(kind model.MeasurementKind) (int64, error)
	DeleteAll() error
}

// GormMeasurementRepository 基于GORM的测量记录仓库实现
type GormMeasurementRepository struct {
	db *gorm.DB
}

// NewMeasurementRepository 创建测量记录仓库
func NewMeasurementRepository(db *gorm.DB) MeasurementRepository {
	return &GormMeasurementRepository{db: db}
}

// Create 追加一条记录
func (r *GormMeasurementRepository) Create(measurement *model.Measurement) error {
	return r.db.Create(measurement).Error
}

// FindRecent 最近的limit条记录，按时间正序返回；kind为空时不过滤
func (r *GormMeasurementRepository) FindRecent(kind model.MeasurementKind, limit int) ([]*model.Measurement, error) {
	return r.Find(MeasurementQuery{Kind: kind, Limit: limit})
}

// Find 按条件查询，结果按时间正序
func (r *GormMeasurementRepository) Find(query MeasurementQuery) ([]*model.Measurement, error) {
	var measurements []*model.Measurement
	q := r.db.Model(&model.Measurement{})

	if query.Kind != "" {
		q = q.Where("kind = ?", query.Kind)
	}
	if !query.StartTime.IsZero() {
		q = q.Where("recorded_at >= ?", query.StartTime)
	}
	if !query.EndTime.IsZero() {
		q = q.Where("recorded_at <= ?", query.EndTime)
	}

	// 取最新的limit条再翻转为正序
	q = q.Order("recorded_at DESC").Order("id DESC")
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}
	if err := q.Find(&measurements).Error; err != nil {
		return nil, err
	}

	for i, j := 0, len(measurements)-1; i < j; i, j = i+1, j-1 {
		measurements[i], measurements[j] = measurements[j], measurements[i]
	}
	return measurements, nil
}

// FindByTimeRange 根据时间范围查找记录
func (r *GormMeasurementRepository) FindByTimeRange(startTime, endTime time.Time) ([]*model.Measurement, error) {
	return r.Find(MeasurementQuery{StartTime: startTime, EndTime: endTime})
}

// Count 记录数，kind为空时统计全部
func (r *GormMeasurementRepository) Count(kind model.MeasurementKind) (int64, error) {
	var total int64
	q := r.db.Model(&model.Measurement{})
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	err := q.Count(&total).Error
	return total, err
}

// DeleteAll 清空全部记录
func (r *GormMeasurementRepository) DeleteAll() error {
	return r.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Measurement{}).Error
}
