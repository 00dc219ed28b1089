package hardware

import "io"

// SerialPort 串口接口（用于测试）
type SerialPort interface {
	io.ReadCloser
}

// LineSource 按行读取的数据源，桥接循环只依赖这个接口
type LineSource interface {
	ReadLine() (string, error)
	Close() error
}
