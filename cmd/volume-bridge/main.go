package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/volume-bridge/internal/api"
	"github.com/wfunc/volume-bridge/internal/bridge"
	"github.com/wfunc/volume-bridge/internal/config"
	"github.com/wfunc/volume-bridge/internal/database"
	"github.com/wfunc/volume-bridge/internal/errors"
	"github.com/wfunc/volume-bridge/internal/hardware"
	"github.com/wfunc/volume-bridge/internal/logger"
	"github.com/wfunc/volume-bridge/internal/mixer"
	"github.com/wfunc/volume-bridge/internal/service"
	"github.com/wfunc/volume-bridge/internal/websocket"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// App 进程内所有组件
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	reader  *hardware.SerialReader
	applier *mixer.Applier
	bridge  *bridge.Bridge
	events  *service.VolumeEventService
	hub     *websocket.Hub
	server  *http.Server
	stdout  io.Writer

	// 关闭控制
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	os.Exit(run(cfg, os.Stdout))
}

// run 启动并运行到结束，返回退出码。串口打不开时在输出 ready 之前返回
func run(cfg *config.Config, stdout io.Writer) int {
	app := NewApp(cfg, stdout)
	defer logger.Cleanup()

	if err := app.Start(); err != nil {
		logger.LogError(err, "启动失败")
		app.Shutdown()
		return 1
	}

	fmt.Fprintln(stdout, "ready...")

	runErr := app.Run()

	if err := app.Shutdown(); err != nil {
		logger.LogError(err, "关闭失败")
	}

	if runErr != nil {
		return 1
	}
	return 0
}

// NewApp 创建应用实例
func NewApp(cfg *config.Config, stdout io.Writer) *App {
	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		cfg:    cfg,
		logger: logger.GetLogger(),
		stdout: stdout,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 打开串口并启动可选组件
func (a *App) Start() error {
	a.logger.Info("正在启动音量桥接...",
		zap.String("version", Version),
		zap.String("device", a.cfg.Serial.Port),
		zap.Int("baud_rate", a.cfg.Serial.BaudRate),
		zap.String("config_file", config.ConfigFile()),
	)

	reader, err := hardware.OpenSerialReader(&a.cfg.Serial)
	if err != nil {
		return err
	}
	a.reader = reader

	a.applier = mixer.NewApplier(&a.cfg.Mixer, nil)
	if err := a.applier.Available(); err != nil {
		// 不阻止启动，每次命令失败都会记录
		a.logger.Warn("混音器程序不可用", zap.Error(err))
	}

	if a.cfg.Database.Enabled {
		if err := a.initDatabase(); err != nil {
			return err
		}
	}

	if a.cfg.Server.Enabled {
		a.hub = websocket.NewHub(logger.WithModule("ws"))
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.hub.Run(a.ctx)
		}()
	}

	a.bridge = bridge.New(a.reader, a.applier,
		bridge.WithDevice(a.reader.Device()),
		bridge.WithEcho(a.cfg.Bridge.Echo),
		bridge.WithOutput(a.stdout),
		bridge.WithSinks(a.sinks()...),
	)

	if a.cfg.Server.Enabled {
		if err := a.startHTTPServer(); err != nil {
			return err
		}
	}

	// 监听配置变化
	config.Watch(func(newCfg *config.Config) {
		logger.SetLevel(newCfg.Log.Level)
		a.logger.Info("配置已更新", zap.String("log_level", newCfg.Log.Level))
	})

	a.watchSignals()
	return nil
}

// sinks 只返回已启用的事件接收端
func (a *App) sinks() []bridge.EventSink {
	var sinks []bridge.EventSink
	if a.events != nil {
		sinks = append(sinks, a.events)
	}
	if a.hub != nil {
		sinks = append(sinks, a.hub)
	}
	return sinks
}

// initDatabase 初始化数据库和事件服务
func (a *App) initDatabase() error {
	a.logger.Info("初始化数据库...", zap.String("driver", a.cfg.Database.Driver))

	if err := database.Init(&a.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
	}

	if a.cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	if !database.IsConnected() {
		return errors.New(errors.ErrDatabaseConnect, "数据库连接检查失败")
	}

	a.events = service.NewVolumeEventService(database.GetDB(), &a.cfg.Database)
	a.logger.Info("事件记录已启用", zap.String("session_id", a.events.SessionID()))
	return nil
}

// startHTTPServer 启动HTTP状态服务，监听失败在启动阶段返回
func (a *App) startHTTPServer() error {
	gin.SetMode(a.cfg.Server.Mode)
	router := api.NewRouter(a.bridge, a.events, a.hub, database.GetDB(), logger.WithModule("http"))

	addr := a.cfg.Server.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, errors.ErrUnknown, "监听 %s 失败", addr)
	}

	a.server = &http.Server{
		Handler:      router.Handler(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP服务异常退出", zap.Error(err))
		}
	}()

	a.logger.Info("HTTP服务已启动", zap.String("addr", addr))
	return nil
}

// watchSignals 收到退出信号时取消主上下文
func (a *App) watchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGINT,  // Ctrl+C
		syscall.SIGTERM, // kill命令
		syscall.SIGQUIT, // Ctrl+\
	)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			a.logger.Info("收到退出信号", zap.String("signal", sig.String()))
			a.cancel()
		case <-a.ctx.Done():
		}
	}()
}

// Run 运行桥接循环直到收到信号或读取失败。
// 阻塞模式的串口在关闭后不一定立即返回，收到信号后最多等待 shutdown_timeout。
func (a *App) Run() error {
	result := make(chan error, 1)
	go func() {
		result <- a.bridge.Run(a.ctx)
	}()

	var err error
	select {
	case err = <-result:
	case <-a.ctx.Done():
		select {
		case err = <-result:
		case <-time.After(a.cfg.Server.ShutdownTimeout):
			a.logger.Warn("串口读取未能及时中断")
		}
	}

	if err != nil {
		logger.LogError(err, "串口读取失败，退出",
			zap.Bool("critical", errors.IsCritical(err)))
	}
	return err
}

// Shutdown 优雅关闭
func (a *App) Shutdown() error {
	a.logger.Info("正在关闭...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	a.cancel()

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("HTTP服务关闭失败", zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	var shutdownErr error
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("关闭超时，强制退出")
		shutdownErr = errors.New(errors.ErrTimeout, "关闭超时")
	}

	// 事件服务退出前写入剩余事件
	if a.events != nil {
		a.events.Stop()
	}

	if a.reader != nil {
		if err := a.reader.Close(); err != nil {
			a.logger.Warn("关闭串口失败", zap.Error(err))
		}
	}

	if err := database.Close(); err != nil {
		a.logger.Error("关闭数据库失败", zap.Error(err))
	}

	a.logger.Info("已安全关闭")
	return shutdownErr
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("volume-bridge 串口音量桥接\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("volume-bridge 串口音量桥接")
	fmt.Println()
	fmt.Println("从串口逐行读取音量值并执行 amixer sset Master <值>% -M -q")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  volume-bridge [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  VOLUME_BRIDGE_SERIAL_PORT       串口设备 (默认 /dev/ttyUSB0)")
	fmt.Println("  VOLUME_BRIDGE_SERIAL_BAUD_RATE  波特率 (默认 9600)")
	fmt.Println("  VOLUME_BRIDGE_LOG_LEVEL         日志级别")
	fmt.Println("  VOLUME_BRIDGE_DATABASE_ENABLED  是否记录事件")
	fmt.Println("  VOLUME_BRIDGE_SERVER_ENABLED    是否启动HTTP状态服务")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  volume-bridge -config=/etc/volume-bridge/config.yaml")
	fmt.Println("  volume-bridge -version")
}
