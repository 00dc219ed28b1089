package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/volume-bridge/internal/bridge"
	"github.com/wfunc/volume-bridge/internal/metrics"
	"github.com/wfunc/volume-bridge/internal/service"
	"github.com/wfunc/volume-bridge/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StatusProvider 提供桥接运行状态
type StatusProvider interface {
	Status() bridge.Status
}

// Router API路由器
type Router struct {
	engine   *gin.Engine
	db       *gorm.DB
	status   StatusProvider
	eventAPI *VolumeEventAPI
	hub      *websocket.Hub
	log      *zap.Logger
}

// NewRouter 创建路由器，events/hub/db 为 nil 时对应功能不可用
func NewRouter(status StatusProvider, events *service.VolumeEventService, hub *websocket.Hub, db *gorm.DB, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()

	// 全局中间件
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(log))

	router := &Router{
		engine:   engine,
		db:       db,
		status:   status,
		eventAPI: NewVolumeEventAPI(events),
		hub:      hub,
		log:      log,
	}

	router.setupRoutes()

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// 指标
	r.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	// API v1路由组
	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/status", r.getStatus)
		r.eventAPI.RegisterRoutes(v1)
	}

	// 实时推送
	if r.hub != nil {
		r.engine.GET("/ws", gin.WrapF(r.hub.ServeWS))
	}

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	if r.db != nil {
		sqlDB, err := r.db.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"message": "数据库连接失败",
			})
			return
		}
		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"message": "数据库ping失败",
			})
			return
		}
	}

	running := false
	if r.status != nil {
		running = r.status.Status().Running
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"message": "服务运行正常",
		"running": running,
	})
}

// getStatus 获取桥接状态
func (r *Router) getStatus(c *gin.Context) {
	if r.status == nil {
		c.JSON(http.StatusOK, gin.H{"data": bridge.Status{}})
		return
	}

	data := gin.H{"data": r.status.Status()}
	if r.hub != nil {
		data["ws_clients"] = r.hub.ClientCount()
	}
	c.JSON(http.StatusOK, data)
}

// requestLogger 使用zap记录请求
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Debug("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// Handler 返回HTTP处理器
func (r *Router) Handler() http.Handler {
	return r.engine
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
