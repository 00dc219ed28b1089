package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/volume-bridge/internal/config"
	apperrors "github.com/wfunc/volume-bridge/internal/errors"
	"github.com/wfunc/volume-bridge/internal/logger"
	"github.com/wfunc/volume-bridge/internal/metrics"
	"github.com/wfunc/volume-bridge/internal/models"
	"github.com/wfunc/volume-bridge/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	bufferChanSize       = 1000
)

// VolumeEventService 音量事件服务，异步批量写入数据库
type VolumeEventService struct {
	repo          *repository.VolumeEventRepository
	logger        *zap.Logger
	mu            sync.Mutex
	buffer        []*models.VolumeEvent
	bufferCh      chan *models.VolumeEvent
	stopCh        chan struct{}
	done          chan struct{}
	stopOnce      sync.Once
	sessionID     string
	sequence      atomic.Uint64
	batchSize     int
	flushInterval time.Duration
	retentionDays int
}

// NewVolumeEventService 创建音量事件服务并启动后台写入协程
func NewVolumeEventService(db *gorm.DB, cfg *config.DatabaseConfig) *VolumeEventService {
	batchSize := defaultBatchSize
	flushInterval := defaultFlushInterval
	retentionDays := 0
	if cfg != nil {
		if cfg.BatchSize > 0 {
			batchSize = cfg.BatchSize
		}
		if cfg.FlushInterval > 0 {
			flushInterval = cfg.FlushInterval
		}
		retentionDays = cfg.RetentionDays
	}

	s := &VolumeEventService{
		repo:          repository.NewVolumeEventRepository(db),
		logger:        logger.WithModule("event"),
		buffer:        make([]*models.VolumeEvent, 0, batchSize),
		bufferCh:      make(chan *models.VolumeEvent, bufferChanSize),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
		sessionID:     uuid.New().String(),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		retentionDays: retentionDays,
	}

	go s.backgroundWriter()

	return s
}

// SessionID 本次运行的会话ID
func (s *VolumeEventService) SessionID() string {
	return s.sessionID
}

// Record 异步记录一条事件，缓冲区满时丢弃
func (s *VolumeEventService) Record(event *models.VolumeEvent) bool {
	if event == nil {
		return false
	}
	select {
	case <-s.stopCh:
		return false
	default:
	}

	event.SessionID = s.sessionID
	if event.Sequence == 0 {
		event.Sequence = s.sequence.Add(1)
	}
	now := time.Now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	if event.Timestamp == 0 {
		event.Timestamp = now.UnixMilli()
	}

	select {
	case s.bufferCh <- event:
		return true
	default:
		metrics.RecordDropped()
		s.logger.Warn("音量事件缓冲区满，丢弃事件", zap.String("value", event.RawValue))
		return false
	}
}

// Publish 作为桥接循环的事件接收端
func (s *VolumeEventService) Publish(event *models.VolumeEvent) {
	s.Record(event)
}

// backgroundWriter 后台写入协程
func (s *VolumeEventService) backgroundWriter() {
	defer close(s.done)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-s.bufferCh:
			s.mu.Lock()
			s.buffer = append(s.buffer, event)
			if len(s.buffer) >= s.batchSize {
				s.flushBuffer()
			}
			s.mu.Unlock()

		case <-ticker.C:
			s.mu.Lock()
			s.flushBuffer()
			s.mu.Unlock()

		case <-s.stopCh:
			// 退出前写入剩余的事件
			s.mu.Lock()
			for {
				select {
				case event := <-s.bufferCh:
					s.buffer = append(s.buffer, event)
					continue
				default:
				}
				break
			}
			s.flushBuffer()
			s.mu.Unlock()
			return
		}
	}
}

// flushBuffer 写入缓冲区，调用方持有锁
func (s *VolumeEventService) flushBuffer() {
	if len(s.buffer) == 0 {
		return
	}

	err := s.writeBatch(s.buffer)
	metrics.RecordFlush(err)
	if err != nil {
		s.logger.Error("批量写入音量事件失败", zap.Error(err), zap.Int("count", len(s.buffer)))
	} else {
		s.logger.Debug("批量写入音量事件成功", zap.Int("count", len(s.buffer)))
	}

	s.buffer = s.buffer[:0]
}

// writeBatch 写入一批事件，失败时返回 ErrDatabaseInsert
func (s *VolumeEventService) writeBatch(events []*models.VolumeEvent) error {
	if err := s.repo.CreateBatch(context.Background(), events); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrDatabaseInsert, "%d events: %v", len(events), err)
	}
	return nil
}

// Flush 立即写入缓冲区中的事件
func (s *VolumeEventService) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case event := <-s.bufferCh:
			s.buffer = append(s.buffer, event)
			continue
		default:
		}
		break
	}
	s.flushBuffer()
}

// Stop 停止服务，写入剩余事件
func (s *VolumeEventService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.done
}

// Query 查询事件
func (s *VolumeEventService) Query(ctx context.Context, query *models.VolumeEventQuery) ([]*models.VolumeEvent, int64, error) {
	if query.Limit <= 0 {
		query.Limit = 100
	}
	return s.repo.Query(ctx, query)
}

// Latest 获取最新事件
func (s *VolumeEventService) Latest(ctx context.Context, limit int) ([]*models.VolumeEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.repo.GetLatest(ctx, limit)
}

// Stats 获取统计信息
func (s *VolumeEventService) Stats(ctx context.Context, startTime, endTime *time.Time) (*models.VolumeEventStats, error) {
	return s.repo.GetStats(ctx, startTime, endTime)
}

// Cleanup 清理旧事件，days<=0 时使用配置的保留天数
func (s *VolumeEventService) Cleanup(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = s.retentionDays
	}
	if days <= 0 {
		return 0, apperrors.New(apperrors.ErrInvalidParam, "retention days must be greater than 0")
	}
	deleted, err := s.repo.Cleanup(ctx, days)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrDatabaseDelete)
	}
	s.logger.Info("清理旧音量事件", zap.Int("days", days), zap.Int64("deleted", deleted))
	return deleted, nil
}
