package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/volume-bridge/internal/bridge"
	"github.com/wfunc/volume-bridge/internal/config"
	"github.com/wfunc/volume-bridge/internal/models"
	"github.com/wfunc/volume-bridge/internal/repository"
	"github.com/wfunc/volume-bridge/internal/service"
	"github.com/wfunc/volume-bridge/internal/websocket"
	"gorm.io/gorm"
)

type fakeStatus struct {
	status bridge.Status
}

func (f *fakeStatus) Status() bridge.Status {
	return f.status
}

func perform(t *testing.T, handler http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(method, path, nil))

	var resp map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

// TestRouterWithoutEventStore 测试未启用数据库时的路由
func TestRouterWithoutEventStore(t *testing.T) {
	gin.SetMode(gin.TestMode)

	status := &fakeStatus{status: bridge.Status{
		Device:      "/dev/ttyUSB0",
		Running:     true,
		LinesRead:   3,
		LastValue:   "50",
		LastCommand: "amixer sset Master 50% -M -q",
	}}
	router := NewRouter(status, nil, nil, nil, nil).Handler()

	t.Run("健康检查", func(t *testing.T) {
		w, resp := perform(t, router, http.MethodGet, "/health")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "healthy", resp["status"])
		assert.Equal(t, true, resp["running"])
	})

	t.Run("运行状态", func(t *testing.T) {
		w, resp := perform(t, router, http.MethodGet, "/api/v1/status")
		require.Equal(t, http.StatusOK, w.Code)
		data := resp["data"].(map[string]interface{})
		assert.Equal(t, "/dev/ttyUSB0", data["device"])
		assert.Equal(t, "50", data["last_value"])
		assert.Equal(t, "amixer sset Master 50% -M -q", data["last_command"])
		assert.Equal(t, float64(3), data["lines_read"])
		assert.NotContains(t, resp, "ws_clients")
	})

	t.Run("事件存储未启用", func(t *testing.T) {
		for _, path := range []string{"/api/v1/events", "/api/v1/events/latest", "/api/v1/events/stats"} {
			w, resp := perform(t, router, http.MethodGet, path)
			assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
			assert.Equal(t, false, resp["success"])
		}
		w, _ := perform(t, router, http.MethodPost, "/api/v1/events/cleanup")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("指标", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "volume_bridge_serial_lines_total")
	})

	t.Run("WebSocket未启用", func(t *testing.T) {
		w, resp := perform(t, router, http.MethodGet, "/ws")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "NOT_FOUND", resp["code"])
	})
}

// VolumeEventAPITestSuite 事件API测试套件
type VolumeEventAPITestSuite struct {
	suite.Suite
	db      *gorm.DB
	service *service.VolumeEventService
	router  http.Handler
}

func (suite *VolumeEventAPITestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)

	suite.db = repository.SetupTestDB()
	suite.service = service.NewVolumeEventService(suite.db, &config.DatabaseConfig{
		BatchSize:     1,
		FlushInterval: time.Hour,
		RetentionDays: 30,
	})
	hub := websocket.NewHub(nil)
	suite.router = NewRouter(&fakeStatus{}, suite.service, hub, suite.db, nil).Handler()

	suite.service.Record(&models.VolumeEvent{RawValue: "10", Command: "amixer sset Master 10% -M -q", Success: true, Duration: 2})
	suite.service.Record(&models.VolumeEvent{RawValue: "x", Command: "amixer sset Master x% -M -q", ErrorMsg: "exit status 1", Duration: 4})
	suite.service.Record(&models.VolumeEvent{RawValue: "1", CreatedAt: time.Now().AddDate(0, 0, -90), Success: true})
	// 停止后缓冲区全部落库，查询仍可用
	suite.service.Stop()
}

func (suite *VolumeEventAPITestSuite) TearDownTest() {
	suite.service.Stop()
	repository.CleanupTestDB(suite.db)
}

func (suite *VolumeEventAPITestSuite) TestHealthWithDatabase() {
	w, resp := perform(suite.T(), suite.router, http.MethodGet, "/health")
	suite.Equal(http.StatusOK, w.Code)
	suite.Equal("healthy", resp["status"])
}

func (suite *VolumeEventAPITestSuite) TestStatusReportsClients() {
	w, resp := perform(suite.T(), suite.router, http.MethodGet, "/api/v1/status")
	suite.Equal(http.StatusOK, w.Code)
	suite.Equal(float64(0), resp["ws_clients"])
}

// TestQueryEvents 测试查询
func (suite *VolumeEventAPITestSuite) TestQueryEvents() {
	w, resp := perform(suite.T(), suite.router, http.MethodGet, "/api/v1/events?success=false")
	suite.Require().Equal(http.StatusOK, w.Code)
	suite.Equal(float64(1), resp["total"])
	data := resp["data"].([]interface{})
	suite.Equal("x", data[0].(map[string]interface{})["raw_value"])

	w, resp = perform(suite.T(), suite.router, http.MethodGet, "/api/v1/events?limit=2")
	suite.Require().Equal(http.StatusOK, w.Code)
	suite.Equal(float64(3), resp["total"])
	suite.Len(resp["data"], 2)
}

func (suite *VolumeEventAPITestSuite) TestQueryEventsInvalidParams() {
	w, resp := perform(suite.T(), suite.router, http.MethodGet, "/api/v1/events?success=maybe")
	suite.Equal(http.StatusBadRequest, w.Code)
	suite.Equal(false, resp["success"])

	w, _ = perform(suite.T(), suite.router, http.MethodGet, "/api/v1/events?start_time=yesterday")
	suite.Equal(http.StatusBadRequest, w.Code)

	w, _ = perform(suite.T(), suite.router, http.MethodGet, "/api/v1/events/stats?end_time=soon")
	suite.Equal(http.StatusBadRequest, w.Code)
}

func (suite *VolumeEventAPITestSuite) TestLatestAndStats() {
	w, resp := perform(suite.T(), suite.router, http.MethodGet, "/api/v1/events/latest?limit=1")
	suite.Require().Equal(http.StatusOK, w.Code)
	suite.Equal(float64(1), resp["count"])

	w, resp = perform(suite.T(), suite.router, http.MethodGet, "/api/v1/events/stats")
	suite.Require().Equal(http.StatusOK, w.Code)
	data := resp["data"].(map[string]interface{})
	suite.Equal(float64(3), data["total_count"])
	suite.Equal(float64(2), data["success_count"])
	suite.Equal(suite.service.SessionID(), resp["session_id"])
}

// TestCleanup 测试清理
func (suite *VolumeEventAPITestSuite) TestCleanup() {
	w, _ := perform(suite.T(), suite.router, http.MethodPost, "/api/v1/events/cleanup?days=-1")
	suite.Equal(http.StatusBadRequest, w.Code)

	w, resp := perform(suite.T(), suite.router, http.MethodPost, "/api/v1/events/cleanup")
	suite.Require().Equal(http.StatusOK, w.Code)
	suite.Equal(float64(1), resp["deleted"])
}

// TestPagingParams 测试分页参数校验
func (suite *VolumeEventAPITestSuite) TestPagingParams() {
	for _, path := range []string{
		"/api/v1/events?limit=abc",
		"/api/v1/events?limit=-1",
		"/api/v1/events?offset=x",
		"/api/v1/events?offset=-5",
		"/api/v1/events/latest?limit=abc",
	} {
		w, resp := perform(suite.T(), suite.router, http.MethodGet, path)
		suite.Equal(http.StatusBadRequest, w.Code, path)
		suite.Equal(false, resp["success"], path)
	}

	// 超过上限时截断
	w, resp := perform(suite.T(), suite.router, http.MethodGet, "/api/v1/events?limit=1000000")
	suite.Require().Equal(http.StatusOK, w.Code)
	suite.Equal(float64(maxQueryLimit), resp["limit"])
	suite.Equal(float64(3), resp["total"])

	w, resp = perform(suite.T(), suite.router, http.MethodGet, "/api/v1/events?offset=2")
	suite.Require().Equal(http.StatusOK, w.Code)
	suite.Equal(float64(defaultQueryLimit), resp["limit"])
	suite.Len(resp["data"], 1)
}

func TestVolumeEventAPISuite(t *testing.T) {
	suite.Run(t, new(VolumeEventAPITestSuite))
}

// TestCleanupWithoutRetention 未配置保留天数且未指定 days 时返回参数错误
func TestCleanupWithoutRetention(t *testing.T) {
	gin.SetMode(gin.TestMode)

	db := repository.SetupTestDB()
	defer repository.CleanupTestDB(db)

	events := service.NewVolumeEventService(db, &config.DatabaseConfig{RetentionDays: 0})
	defer events.Stop()

	router := NewRouter(&fakeStatus{}, events, nil, db, nil).Handler()

	w, resp := perform(t, router, http.MethodPost, "/api/v1/events/cleanup?days=0")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, resp["success"])

	w, resp = perform(t, router, http.MethodPost, "/api/v1/events/cleanup?days=7")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), resp["deleted"])
}
