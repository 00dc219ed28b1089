// volume-sim 模拟音量旋钮设备，向串口写入以 \r\n 结尾的音量值。
// 配合 socat 创建的虚拟串口对可以在没有硬件时测试 volume-bridge。
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/tarm/serial"
)

var (
	device   = flag.String("d", "/dev/ttyUSB0", "串口设备")
	baudrate = flag.Int("b", 9600, "波特率")
	mode     = flag.String("m", "sweep", "模式: sweep/values/stdin")
	interval = flag.Int("i", 500, "发送间隔(毫秒)")
	values   = flag.String("v", "0,25,50,75,100", "values 模式下发送的值，逗号分隔")
	minValue = flag.Int("min", 0, "sweep 最小值")
	maxValue = flag.Int("max", 100, "sweep 最大值")
	step     = flag.Int("step", 10, "sweep 步长")
	loop     = flag.Bool("loop", false, "循环发送")
)

func main() {
	flag.Parse()

	port, err := serial.OpenPort(&serial.Config{
		Name:     *device,
		Baud:     *baudrate,
		Size:     8,
		Parity:   serial.ParityNone,
		StopBits: serial.Stop1,
	})
	if err != nil {
		log.Fatalf("无法打开串口 %s: %v", *device, err)
	}
	defer port.Close()

	fmt.Printf("✓ 串口已打开: %s @ %d baud, 8N1\n", *device, *baudrate)
	fmt.Printf("✓ 模式: %s\n", *mode)
	fmt.Println("----------------------------------------")

	delay := time.Duration(*interval) * time.Millisecond

	switch *mode {
	case "sweep":
		sendAll(port, sweepValues(*minValue, *maxValue, *step), delay, *loop)
	case "values":
		sendAll(port, splitValues(*values), delay, *loop)
	case "stdin":
		fmt.Println("每输入一行发送一次，Ctrl+D 退出")
		if err := forwardLines(os.Stdin, port); err != nil {
			log.Fatalf("转发失败: %v", err)
		}
	default:
		fmt.Println("无效模式，使用 -h 查看帮助")
		os.Exit(2)
	}
}

// sendAll 依次发送所有值
func sendAll(w io.Writer, vals []string, delay time.Duration, repeat bool) {
	for {
		for _, v := range vals {
			if err := writeValue(w, v); err != nil {
				fmt.Printf("✗ 发送失败: %v\n", err)
				continue
			}
			timestamp := time.Now().Format("15:04:05.000")
			fmt.Printf("[%s] → %s\n", timestamp, v)
			time.Sleep(delay)
		}
		if !repeat {
			return
		}
	}
}

// forwardLines 把输入的每一行作为一个值发送
func forwardLines(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := writeValue(w, scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// writeValue 写入一个值，行尾固定为 \r\n
func writeValue(w io.Writer, v string) error {
	_, err := io.WriteString(w, v+"\r\n")
	return err
}

// sweepValues 生成 min 到 max 再回到 min 的序列
func sweepValues(min, max, step int) []string {
	if step <= 0 || max < min {
		return nil
	}

	var up []string
	for v := min; v <= max; v += step {
		up = append(up, fmt.Sprint(v))
	}

	out := append([]string(nil), up...)
	for i := len(up) - 2; i >= 0; i-- {
		out = append(out, up[i])
	}
	return out
}

func splitValues(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
