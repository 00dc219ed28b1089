package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/wfunc/volume-bridge/internal/models"
	"gorm.io/gorm"
)

// VolumeEventRepository 音量事件仓库
type VolumeEventRepository struct {
	db *gorm.DB
}

// NewVolumeEventRepository 创建音量事件仓库
func NewVolumeEventRepository(db *gorm.DB) *VolumeEventRepository {
	return &VolumeEventRepository{db: db}
}

// Create 创建事件记录
func (r *VolumeEventRepository) Create(ctx context.Context, event *models.VolumeEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// CreateBatch 批量创建事件记录
func (r *VolumeEventRepository) CreateBatch(ctx context.Context, events []*models.VolumeEvent) error {
	if len(events) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(events, 100).Error
}

// GetByID 根据ID获取事件
func (r *VolumeEventRepository) GetByID(ctx context.Context, id uint) (*models.VolumeEvent, error) {
	var event models.VolumeEvent
	if err := r.db.WithContext(ctx).First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// Query 查询事件
func (r *VolumeEventRepository) Query(ctx context.Context, query *models.VolumeEventQuery) ([]*models.VolumeEvent, int64, error) {
	db := r.db.WithContext(ctx).Model(&models.VolumeEvent{})

	if query.SessionID != "" {
		db = db.Where("session_id = ?", query.SessionID)
	}
	if query.RawValue != "" {
		db = db.Where("raw_value = ?", query.RawValue)
	}
	if query.Success != nil {
		db = db.Where("success = ?", *query.Success)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", *query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", *query.EndTime)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	db = db.Order("created_at DESC").Order("id DESC")
	if query.Limit > 0 {
		db = db.Limit(query.Limit)
	}
	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}

	var events []*models.VolumeEvent
	if err := db.Find(&events).Error; err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

// GetLatest 获取最新的事件
func (r *VolumeEventRepository) GetLatest(ctx context.Context, limit int) ([]*models.VolumeEvent, error) {
	var events []*models.VolumeEvent
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// GetStats 获取统计信息
func (r *VolumeEventRepository) GetStats(ctx context.Context, startTime, endTime *time.Time) (*models.VolumeEventStats, error) {
	scoped := func() *gorm.DB {
		db := r.db.WithContext(ctx).Model(&models.VolumeEvent{})
		if startTime != nil {
			db = db.Where("created_at >= ?", *startTime)
		}
		if endTime != nil {
			db = db.Where("created_at <= ?", *endTime)
		}
		return db
	}

	stats := &models.VolumeEventStats{}
	if err := scoped().Count(&stats.TotalCount).Error; err != nil {
		return nil, err
	}
	if err := scoped().Where("success = ?", true).Count(&stats.SuccessCount).Error; err != nil {
		return nil, err
	}
	stats.FailureCount = stats.TotalCount - stats.SuccessCount

	var durationStats struct {
		AvgDuration float64
		MaxDuration int64
	}
	if err := scoped().
		Select("COALESCE(AVG(duration), 0) as avg_duration, COALESCE(MAX(duration), 0) as max_duration").
		Scan(&durationStats).Error; err != nil {
		return nil, err
	}
	stats.AvgDuration = durationStats.AvgDuration
	stats.MaxDuration = durationStats.MaxDuration

	var last models.VolumeEvent
	result := scoped().Order("created_at DESC").Order("id DESC").Limit(1).Find(&last)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected > 0 {
		stats.LastValue = last.RawValue
	}

	return stats, nil
}

// DeleteBefore 删除指定时间之前的事件
func (r *VolumeEventRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Unscoped().Where("created_at < ?", before).Delete(&models.VolumeEvent{})
	return result.RowsAffected, result.Error
}

// Cleanup 保留最近N天的数据
func (r *VolumeEventRepository) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be greater than 0")
	}
	return r.DeleteBefore(ctx, time.Now().AddDate(0, 0, -retentionDays))
}
