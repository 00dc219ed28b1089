package database

import (
	"fmt"

	"github.com/wfunc/volume-bridge/internal/logger"
	"github.com/wfunc/volume-bridge/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AutoMigrate 迁移全局数据库
func AutoMigrate() error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}
	return Migrate(DB)
}

// Migrate 迁移表结构
func Migrate(db *gorm.DB) error {
	// 文件型 SQLite 用锁文件避免多个进程同时迁移
	if path := sqliteFilePathOf(db); path != "" {
		CleanupStaleLocks(path)
		lockFile, err := acquireMigrationLock(path)
		if err != nil {
			logger.Error("无法获取迁移锁", zap.Error(err))
			return fmt.Errorf("获取迁移锁失败: %w", err)
		}
		defer releaseMigrationLock(lockFile)
	}

	logger.Info("开始数据库迁移...")

	if err := db.AutoMigrate(&models.VolumeEvent{}); err != nil {
		logger.Error("迁移失败", zap.String("model", "VolumeEvent"), zap.Error(err))
		return err
	}

	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_volume_events_session_seq ON volume_events(session_id, sequence)").Error; err != nil {
		logger.Warn("创建索引失败", zap.String("index", "idx_volume_events_session_seq"), zap.Error(err))
	}

	logger.Info("数据库迁移完成")
	return nil
}
