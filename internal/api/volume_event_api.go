package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/volume-bridge/internal/errors"
	"github.com/wfunc/volume-bridge/internal/models"
	"github.com/wfunc/volume-bridge/internal/service"
)

// VolumeEventAPI 音量事件API
type VolumeEventAPI struct {
	service *service.VolumeEventService
}

// NewVolumeEventAPI 创建音量事件API，service 为 nil 表示未启用事件存储
func NewVolumeEventAPI(service *service.VolumeEventService) *VolumeEventAPI {
	return &VolumeEventAPI{
		service: service,
	}
}

// RegisterRoutes 注册路由
func (api *VolumeEventAPI) RegisterRoutes(router *gin.RouterGroup) {
	events := router.Group("/events")
	events.Use(api.requireService)
	{
		events.GET("", api.QueryEvents)            // 查询事件列表
		events.GET("/latest", api.GetLatest)       // 获取最新事件
		events.GET("/stats", api.GetStats)         // 获取统计信息
		events.POST("/cleanup", api.CleanupEvents) // 清理旧事件
	}
}

func (api *VolumeEventAPI) requireService(c *gin.Context) {
	if api.service == nil {
		abortWithError(c, apperrors.New(apperrors.ErrNotImplemented, "event store disabled"))
		return
	}
	c.Next()
}

// QueryEvents 查询事件列表
func (api *VolumeEventAPI) QueryEvents(c *gin.Context) {
	query := &models.VolumeEventQuery{
		SessionID: c.Query("session_id"),
		RawValue:  c.Query("raw_value"),
	}

	if success := c.Query("success"); success != "" {
		b, err := strconv.ParseBool(success)
		if err != nil {
			abortWithError(c, apperrors.Newf(apperrors.ErrInvalidParam, "success: %v", err))
			return
		}
		query.Success = &b
	}

	var err error
	if query.StartTime, query.EndTime, err = parseTimeRange(c); err != nil {
		abortWithError(c, err.(*apperrors.AppError))
		return
	}

	// 分页参数
	if query.Limit, err = parseLimit(c); err != nil {
		abortWithError(c, err.(*apperrors.AppError))
		return
	}
	if query.Offset, err = parseNonNegative(c, "offset", 0); err != nil {
		abortWithError(c, err.(*apperrors.AppError))
		return
	}

	events, total, err := api.service.Query(c.Request.Context(), query)
	if err != nil {
		abortWithError(c, apperrors.Wrap(err, apperrors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   events,
		"total":  total,
		"limit":  query.Limit,
		"offset": query.Offset,
	})
}

// GetLatest 获取最新事件
func (api *VolumeEventAPI) GetLatest(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		abortWithError(c, err.(*apperrors.AppError))
		return
	}

	events, err := api.service.Latest(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, apperrors.Wrap(err, apperrors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  events,
		"count": len(events),
	})
}

// GetStats 获取统计信息
func (api *VolumeEventAPI) GetStats(c *gin.Context) {
	start, end, err := parseTimeRange(c)
	if err != nil {
		abortWithError(c, err.(*apperrors.AppError))
		return
	}

	stats, err := api.service.Stats(c.Request.Context(), start, end)
	if err != nil {
		abortWithError(c, apperrors.Wrap(err, apperrors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       stats,
		"session_id": api.service.SessionID(),
	})
}

// CleanupEvents 清理旧事件，days 为空时使用配置的保留天数
func (api *VolumeEventAPI) CleanupEvents(c *gin.Context) {
	days, err := parseNonNegative(c, "days", 0)
	if err != nil {
		abortWithError(c, err.(*apperrors.AppError))
		return
	}

	deleted, err := api.service.Cleanup(c.Request.Context(), days)
	if err != nil {
		abortWithError(c, apperrors.Wrap(err, apperrors.ErrDatabaseDelete))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "清理成功",
		"deleted": deleted,
	})
}

// 单次查询最多返回的条数，超出时截断
const (
	defaultQueryLimit = 20
	maxQueryLimit     = 500
)

// parseLimit 解析 limit，超过上限时截断
func parseLimit(c *gin.Context) (int, error) {
	limit, err := parseNonNegative(c, "limit", defaultQueryLimit)
	if err != nil {
		return 0, err
	}
	if limit == 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	return limit, nil
}

// parseNonNegative 解析非负整数参数，缺省时返回 def
func parseNonNegative(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperrors.Newf(apperrors.ErrInvalidParam, "%s must be a non-negative integer, got %q", key, v)
	}
	return n, nil
}

// parseTimeRange 解析 start_time/end_time（RFC3339）
func parseTimeRange(c *gin.Context) (*time.Time, *time.Time, error) {
	var start, end *time.Time
	if v := c.Query("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, nil, apperrors.Newf(apperrors.ErrInvalidParam, "start_time: %v", err)
		}
		start = &t
	}
	if v := c.Query("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, nil, apperrors.Newf(apperrors.ErrInvalidParam, "end_time: %v", err)
		}
		end = &t
	}
	return start, end, nil
}

func abortWithError(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(err.HTTPStatus(), apperrors.NewErrorResponse(err))
}
