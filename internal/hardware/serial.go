package hardware

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/tarm/serial"
	"github.com/wfunc/volume-bridge/internal/config"
	apperrors "github.com/wfunc/volume-bridge/internal/errors"
	"github.com/wfunc/volume-bridge/internal/logger"
	"go.uber.org/zap"
)

// LineReader 按换行符切分字节流
type LineReader struct {
	r *bufio.Reader
}

// NewLineReader 创建行读取器
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReader(r)}
}

// ReadLine 阻塞直到读到一个以 \n 结尾的行，返回去掉行尾 \r\n 的内容。
// 流在行中途结束时丢弃不完整的数据并返回错误。
func (l *LineReader) ReadLine() (string, error) {
	line, err := l.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return trimLineEnding(line), nil
}

func trimLineEnding(line string) string {
	if strings.HasSuffix(line, "\r\n") {
		return line[:len(line)-2]
	}
	return strings.TrimSuffix(line, "\n")
}

// SerialPortExists 检查串口设备是否存在
func SerialPortExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SerialReader 串口行读取器，持有串口句柄直到 Close
type SerialReader struct {
	device string
	port   SerialPort
	lines  *LineReader
	logger *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// OpenSerialReader 打开串口
func OpenSerialReader(cfg *config.SerialConfig) (*SerialReader, error) {
	if !SerialPortExists(cfg.Port) {
		return nil, apperrors.Newf(apperrors.ErrDeviceOffline, "%s: 设备不存在", cfg.Port)
	}

	port, err := serial.OpenPort(toSerialConfig(cfg))
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrSerialPortOpen, "%s: %v", cfg.Port, err)
	}

	r := NewSerialReader(cfg.Port, port)
	r.logger.Info("串口连接成功",
		zap.String("port", cfg.Port),
		zap.Int("baud_rate", cfg.BaudRate))

	return r, nil
}

// NewSerialReader 用已打开的端口创建读取器
func NewSerialReader(device string, port SerialPort) *SerialReader {
	return &SerialReader{
		device: device,
		port:   port,
		lines:  NewLineReader(port),
		logger: logger.WithModule("serial"),
	}
}

func toSerialConfig(cfg *config.SerialConfig) *serial.Config {
	// 解析校验位
	parity := serial.ParityNone
	switch strings.ToUpper(cfg.Parity) {
	case "O", "ODD":
		parity = serial.ParityOdd
	case "E", "EVEN":
		parity = serial.ParityEven
	}

	stopBits := serial.Stop1
	if cfg.StopBits == 2 {
		stopBits = serial.Stop2
	}

	// ReadTimeout 为 0 时读取一直阻塞到有数据
	return &serial.Config{
		Name:     cfg.Port,
		Baud:     cfg.BaudRate,
		Size:     byte(cfg.DataBits),
		Parity:   parity,
		StopBits: stopBits,
	}
}

// Device 返回设备路径
func (s *SerialReader) Device() string {
	return s.device
}

// ReadLine 读取下一行
func (s *SerialReader) ReadLine() (string, error) {
	line, err := s.lines.ReadLine()
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.ErrSerialPortRead, "%s: %v", s.device, err)
	}

	logger.LogSerialLine(s.device, line)
	return line, nil
}

// Close 关闭串口，可以重复调用
func (s *SerialReader) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.port.Close()
		if s.closeErr != nil {
			s.logger.Error("关闭串口失败", zap.Error(s.closeErr))
			return
		}
		s.logger.Info("串口已断开", zap.String("port", s.device))
	})
	return s.closeErr
}
