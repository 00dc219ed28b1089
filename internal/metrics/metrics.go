package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// 串口指标
	LinesReadTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "volume_bridge_serial_lines_total",
		Help: "Total number of lines read from the serial device",
	})

	// 混音器指标
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "volume_bridge_mixer_commands_total",
		Help: "Total number of mixer commands executed, by result",
	}, []string{"result"})
	CommandDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "volume_bridge_mixer_command_duration_seconds",
		Help:    "Duration of mixer command execution in seconds",
		Buckets: prometheus.DefBuckets,
	})
	LastVolumePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "volume_bridge_last_volume_percent",
		Help: "Last numeric volume value received, if it parsed as a number",
	})

	// 事件存储指标
	EventFlushTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "volume_bridge_event_flush_total",
		Help: "Total number of volume event batch flushes, by result",
	}, []string{"result"})
	EventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "volume_bridge_events_dropped_total",
		Help: "Volume events dropped because the writer buffer was full",
	})

	registerOnce sync.Once
)

func init() {
	InitMetrics()
}

// InitMetrics 注册所有指标
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			LinesReadTotal,
			CommandsTotal,
			CommandDurationSeconds,
			LastVolumePercent,
			EventFlushTotal,
			EventsDroppedTotal,
		)
	})
}

// Handler 返回 /metrics 处理器
func Handler() http.Handler {
	InitMetrics()
	return promhttp.Handler()
}

// RecordLine 记录读取到一行
func RecordLine() {
	LinesReadTotal.Inc()
}

// RecordCommand 记录一次混音器命令
func RecordCommand(value string, duration time.Duration, err error) {
	if duration < 0 {
		duration = 0
	}
	CommandDurationSeconds.Observe(duration.Seconds())

	if err != nil {
		CommandsTotal.WithLabelValues("error").Inc()
		return
	}
	CommandsTotal.WithLabelValues("ok").Inc()

	// 只观察，不校验
	if v, perr := strconv.ParseFloat(value, 64); perr == nil {
		LastVolumePercent.Set(v)
	}
}

// RecordFlush 记录一次批量写入
func RecordFlush(err error) {
	if err != nil {
		EventFlushTotal.WithLabelValues("error").Inc()
		return
	}
	EventFlushTotal.WithLabelValues("ok").Inc()
}

// RecordDropped 记录丢弃的事件
func RecordDropped() {
	EventsDroppedTotal.Inc()
}
