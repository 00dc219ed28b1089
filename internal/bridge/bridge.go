// Package bridge 串口到混音器的主循环
package bridge

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/wfunc/volume-bridge/internal/hardware"
	"github.com/wfunc/volume-bridge/internal/logger"
	"github.com/wfunc/volume-bridge/internal/metrics"
	"github.com/wfunc/volume-bridge/internal/mixer"
	"github.com/wfunc/volume-bridge/internal/models"
	"go.uber.org/zap"
)

// Applier 构建并执行混音器命令，*mixer.Applier 实现了该接口
type Applier interface {
	Command(value string) mixer.VolumeCommand
	Apply(ctx context.Context, cmd mixer.VolumeCommand) error
}

// EventSink 接收每次迭代产生的事件，实现不能阻塞
type EventSink interface {
	Publish(event *models.VolumeEvent)
}

// Status 运行状态快照
type Status struct {
	Device          string     `json:"device"`
	Running         bool       `json:"running"`
	StartedAt       time.Time  `json:"started_at"`
	LinesRead       uint64     `json:"lines_read"`
	CommandsApplied uint64     `json:"commands_applied"`
	CommandFailures uint64     `json:"command_failures"`
	LastValue       string     `json:"last_value"`
	LastCommand     string     `json:"last_command"`
	LastError       string     `json:"last_error,omitempty"`
	LastAppliedAt   *time.Time `json:"last_applied_at,omitempty"`
}

// Bridge 每次迭代读一行、执行一次命令
type Bridge struct {
	source  hardware.LineSource
	applier Applier
	out     io.Writer
	echo    bool
	device  string
	sinks   []EventSink
	logger  *zap.Logger

	mu     sync.RWMutex
	status Status
}

// Option 桥接配置项
type Option func(*Bridge)

// WithOutput 设置回显输出，默认 os.Stdout
func WithOutput(w io.Writer) Option {
	return func(b *Bridge) {
		b.out = w
	}
}

// WithEcho 是否回显值和命令
func WithEcho(echo bool) Option {
	return func(b *Bridge) {
		b.echo = echo
	}
}

// WithDevice 设置设备名，用于状态和事件
func WithDevice(device string) Option {
	return func(b *Bridge) {
		b.device = device
	}
}

// WithSinks 添加事件接收端
func WithSinks(sinks ...EventSink) Option {
	return func(b *Bridge) {
		for _, s := range sinks {
			if s != nil {
				b.sinks = append(b.sinks, s)
			}
		}
	}
}

// New 创建桥接循环，source 的所有权仍归调用方
func New(source hardware.LineSource, applier Applier, opts ...Option) *Bridge {
	b := &Bridge{
		source:  source,
		applier: applier,
		out:     os.Stdout,
		echo:    true,
		logger:  logger.WithModule("bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.status.Device = b.device
	return b
}

// Run 循环直到 ctx 取消或读取失败。
// ctx 取消时关闭 source 以打断阻塞中的读取并返回 nil，读取失败时返回该错误。
func (b *Bridge) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		if err := b.source.Close(); err != nil {
			b.logger.Warn("关闭串口失败", zap.Error(err))
		}
	})
	defer stop()

	b.mu.Lock()
	b.status.Running = true
	b.status.StartedAt = time.Now()
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.status.Running = false
		b.mu.Unlock()
	}()

	for {
		if err := b.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Step 执行一次迭代：读一行，回显，执行命令，记录结果。
// 只有读取失败才返回错误，命令失败只记录。
func (b *Bridge) Step(ctx context.Context) error {
	line, err := b.source.ReadLine()
	if err != nil {
		return err
	}
	metrics.RecordLine()

	cmd := b.applier.Command(line)
	if b.echo {
		fmt.Fprintln(b.out, line)
		fmt.Fprintln(b.out, cmd.String())
	}

	start := time.Now()
	applyErr := b.applier.Apply(ctx, cmd)
	elapsed := time.Since(start)

	metrics.RecordCommand(line, elapsed, applyErr)
	if applyErr != nil {
		b.logger.Warn("音量设置失败",
			zap.String("command", cmd.String()),
			zap.Error(applyErr))
	}

	seq := b.update(line, cmd, applyErr, start)
	b.publish(&models.VolumeEvent{
		Sequence:  seq,
		Device:    b.device,
		RawValue:  line,
		Command:   cmd.String(),
		Success:   applyErr == nil,
		ErrorMsg:  errString(applyErr),
		Duration:  elapsed.Milliseconds(),
		CreatedAt: start,
		Timestamp: start.UnixMilli(),
	})
	return nil
}

func (b *Bridge) update(line string, cmd mixer.VolumeCommand, applyErr error, at time.Time) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.status.LinesRead++
	b.status.LastValue = line
	b.status.LastCommand = cmd.String()
	if applyErr != nil {
		b.status.CommandFailures++
		b.status.LastError = applyErr.Error()
	} else {
		b.status.CommandsApplied++
		b.status.LastError = ""
		applied := at
		b.status.LastAppliedAt = &applied
	}
	return b.status.LinesRead
}

// publish 每个接收端拿到独立副本
func (b *Bridge) publish(event *models.VolumeEvent) {
	for _, sink := range b.sinks {
		ev := *event
		sink.Publish(&ev)
	}
}

// Status 返回状态快照
func (b *Bridge) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := b.status
	if s.LastAppliedAt != nil {
		t := *s.LastAppliedAt
		s.LastAppliedAt = &t
	}
	return s
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
