package repository

import (
	"fmt"
	"time"

	"github.com/wfunc/volume-bridge/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB 创建内存测试数据库并迁移表结构
func SetupTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(err)
	}

	// 内存库每个连接都是独立的数据库
	sqlDB, err := db.DB()
	if err != nil {
		panic(err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.VolumeEvent{}); err != nil {
		panic(err)
	}

	return db
}

// CleanupTestDB 关闭测试数据库
func CleanupTestDB(db *gorm.DB) {
	sqlDB, _ := db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

// CreateTestVolumeEvent 创建测试事件
func CreateTestVolumeEvent(sessionID string, seq uint64, value string, success bool) *models.VolumeEvent {
	event := &models.VolumeEvent{
		SessionID: sessionID,
		Sequence:  seq,
		Device:    "/dev/ttyUSB0",
		RawValue:  value,
		Command:   fmt.Sprintf("amixer sset Master %s%% -M -q", value),
		Success:   success,
		Duration:  int64(seq),
		CreatedAt: time.Now().Add(time.Duration(seq) * time.Millisecond),
	}
	if !success {
		event.ErrorMsg = "exit status 1"
	}
	return event
}
