// Package mixer 把音量值应用到系统混音器
package mixer

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/wfunc/volume-bridge/internal/config"
	apperrors "github.com/wfunc/volume-bridge/internal/errors"
	"github.com/wfunc/volume-bridge/internal/logger"
	"go.uber.org/zap"
)

const (
	DefaultBinary  = "amixer"
	DefaultControl = "Master"
)

// DefaultFlags -M 使用映射音量，-q 静默输出
var DefaultFlags = []string{"-M", "-q"}

// VolumeCommand 一次混音器调用
type VolumeCommand struct {
	Binary string
	Args   []string
	Value  string // 串口收到的原始值
}

// NewVolumeCommand 使用默认控件构建命令
func NewVolumeCommand(value string) VolumeCommand {
	return buildCommand(DefaultBinary, DefaultControl, DefaultFlags, value)
}

func buildCommand(binary, control string, flags []string, value string) VolumeCommand {
	args := make([]string, 0, 3+len(flags))
	args = append(args, "sset", control, value+"%")
	args = append(args, flags...)
	return VolumeCommand{Binary: binary, Args: args, Value: value}
}

// String 返回命令行形式，例如 "amixer sset Master 50% -M -q"
func (c VolumeCommand) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Runner 执行外部进程
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner 通过 os/exec 直接执行，不经过 shell
type ExecRunner struct{}

// Run 执行命令并返回合并输出
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Applier 音量应用器
type Applier struct {
	binary  string
	control string
	flags   []string
	runner  Runner
	logger  *zap.Logger
}

// NewApplier 创建音量应用器，runner 为 nil 时使用 ExecRunner
func NewApplier(cfg *config.MixerConfig, runner Runner) *Applier {
	if runner == nil {
		runner = ExecRunner{}
	}

	a := &Applier{
		binary:  DefaultBinary,
		control: DefaultControl,
		flags:   DefaultFlags,
		runner:  runner,
		logger:  logger.WithModule("mixer"),
	}
	if cfg != nil {
		if cfg.Binary != "" {
			a.binary = cfg.Binary
		}
		if cfg.Control != "" {
			a.control = cfg.Control
		}
		if cfg.Flags != nil {
			a.flags = cfg.Flags
		}
	}
	return a
}

// Available 检查混音器程序是否在 PATH 中
func (a *Applier) Available() error {
	if _, err := exec.LookPath(a.binary); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrMixerUnavailable, "%s: %v", a.binary, err)
	}
	return nil
}

// Command 根据原始值构建命令，不做任何校验
func (a *Applier) Command(value string) VolumeCommand {
	return buildCommand(a.binary, a.control, a.flags, value)
}

// Apply 同步执行命令
func (a *Applier) Apply(ctx context.Context, cmd VolumeCommand) error {
	start := time.Now()
	out, err := a.runner.Run(ctx, cmd.Binary, cmd.Args...)
	if err != nil {
		appErr := apperrors.Wrapf(err, apperrors.ErrCommandFailed, "%s: %v", cmd, err)
		if output := strings.TrimSpace(string(out)); output != "" {
			appErr.Details += ": " + output
		}
		logger.LogMixerCommand(cmd.String(), appErr)
		return appErr
	}

	a.logger.Debug("音量已设置",
		zap.String("value", cmd.Value),
		zap.Duration("elapsed", time.Since(start)))
	logger.LogMixerCommand(cmd.String(), nil)
	return nil
}

// SetVolume 构建并执行命令
func (a *Applier) SetVolume(ctx context.Context, value string) (VolumeCommand, error) {
	cmd := a.Command(value)
	return cmd, a.Apply(ctx, cmd)
}
