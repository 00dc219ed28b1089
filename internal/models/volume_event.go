package models

import (
	"time"

	"gorm.io/gorm"
)

// VolumeEvent 一次串口值到混音器命令的记录
type VolumeEvent struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time      `gorm:"index;not null" json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	SessionID string `gorm:"type:varchar(64);index" json:"session_id"` // 进程启动时生成
	Sequence  uint64 `gorm:"index" json:"sequence"`                    // 本次会话内的行序号
	Device    string `gorm:"type:varchar(255)" json:"device"`

	RawValue string `gorm:"type:varchar(255)" json:"raw_value"` // 去掉行尾后的原始值
	Command  string `gorm:"type:text" json:"command"`
	Success  bool   `gorm:"index" json:"success"`
	ErrorMsg string `gorm:"type:text" json:"error_msg,omitempty"`

	Duration  int64 `gorm:"default:0" json:"duration"` // 命令耗时（毫秒）
	Timestamp int64 `gorm:"index" json:"timestamp"`    // Unix时间戳（毫秒）
}

// TableName 指定表名
func (VolumeEvent) TableName() string {
	return "volume_events"
}

// BeforeCreate 创建前的钩子
func (e *VolumeEvent) BeforeCreate(tx *gorm.DB) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Timestamp == 0 {
		e.Timestamp = e.CreatedAt.UnixMilli()
	}
	return nil
}

// VolumeEventQuery 查询参数
type VolumeEventQuery struct {
	SessionID string     `json:"session_id,omitempty"`
	RawValue  string     `json:"raw_value,omitempty"`
	Success   *bool      `json:"success,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

// VolumeEventStats 统计信息
type VolumeEventStats struct {
	TotalCount   int64   `json:"total_count"`
	SuccessCount int64   `json:"success_count"`
	FailureCount int64   `json:"failure_count"`
	AvgDuration  float64 `json:"avg_duration"`
	MaxDuration  int64   `json:"max_duration"`
	LastValue    string  `json:"last_value,omitempty"`
}
