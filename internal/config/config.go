package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Serial   SerialConfig   `mapstructure:"serial"`
	Mixer    MixerConfig    `mapstructure:"mixer"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
}

// SerialConfig 串口配置
type SerialConfig struct {
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	StopBits int    `mapstructure:"stop_bits"`
	Parity   string `mapstructure:"parity"`
}

// MixerConfig 混音器命令配置
type MixerConfig struct {
	Binary  string   `mapstructure:"binary"`
	Control string   `mapstructure:"control"`
	Flags   []string `mapstructure:"flags"`
}

// BridgeConfig 桥接循环配置
type BridgeConfig struct {
	Echo bool `mapstructure:"echo"` // 是否把收到的值和命令回显到标准输出
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"` // stdout / stderr / file / both
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// DatabaseConfig 数据库配置（用于记录音量事件）
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	FlushInterval   time.Duration `mapstructure:"flush_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	RetentionDays   int           `mapstructure:"retention_days"`
}

// ServerConfig HTTP状态服务配置
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr 返回监听地址
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化全局配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		var loaded *Config
		v = newViper(configPath)
		loaded, err = load(v)
		if err != nil {
			return
		}
		mu.Lock()
		cfg = loaded
		mu.Unlock()
	})
	return err
}

// Load 读取配置但不修改全局状态
func Load(configPath string) (*Config, error) {
	return load(newViper(configPath))
}

func newViper(configPath string) *viper.Viper {
	nv := viper.New()

	if configPath != "" {
		nv.SetConfigFile(configPath)
	} else {
		nv.SetConfigName("config")
		nv.SetConfigType("yaml")
		nv.AddConfigPath("./config")
		nv.AddConfigPath(".")
	}

	nv.SetEnvPrefix("VOLUME_BRIDGE")
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	nv.AutomaticEnv()

	setDefaults(nv)
	return nv
}

func load(nv *viper.Viper) (*Config, error) {
	if err := nv.ReadInConfig(); err != nil {
		// 配置文件不存在时使用默认配置
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	loaded := &Config{}
	if err := nv.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := loaded.Validate(); err != nil {
		return nil, err
	}
	return loaded, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Serial.Port == "" {
		return fmt.Errorf("serial.port is required")
	}
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be positive, got %d", c.Serial.BaudRate)
	}
	switch strings.ToUpper(c.Serial.Parity) {
	case "", "N", "NONE", "O", "ODD", "E", "EVEN":
	default:
		return fmt.Errorf("serial.parity %q is not supported", c.Serial.Parity)
	}
	if c.Mixer.Binary == "" {
		return fmt.Errorf("mixer.binary is required")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Server.Mode {
	case "", "debug", "release", "test":
	default:
		return fmt.Errorf("server.mode %q is not supported", c.Server.Mode)
	}
	return nil
}

// setDefaults 设置默认配置值
func setDefaults(nv *viper.Viper) {
	// 串口默认配置
	nv.SetDefault("serial.port", "/dev/ttyUSB0")
	nv.SetDefault("serial.baud_rate", 9600)
	nv.SetDefault("serial.data_bits", 8)
	nv.SetDefault("serial.stop_bits", 1)
	nv.SetDefault("serial.parity", "N")

	// amixer sset Master <value>% -M -q
	nv.SetDefault("mixer.binary", "amixer")
	nv.SetDefault("mixer.control", "Master")
	nv.SetDefault("mixer.flags", []string{"-M", "-q"})

	nv.SetDefault("bridge.echo", true)

	// 日志默认输出到stderr，stdout只保留回显内容
	nv.SetDefault("log.level", "info")
	nv.SetDefault("log.format", "console")
	nv.SetDefault("log.output", "stderr")
	nv.SetDefault("log.file.path", "./logs")
	nv.SetDefault("log.file.filename", "volume-bridge.log")
	nv.SetDefault("log.file.max_size", 100)
	nv.SetDefault("log.file.max_age", 30)
	nv.SetDefault("log.file.max_backups", 7)
	nv.SetDefault("log.file.compress", true)

	nv.SetDefault("database.enabled", false)
	nv.SetDefault("database.driver", "sqlite")
	nv.SetDefault("database.dsn", "./data/volume-bridge.db")
	nv.SetDefault("database.max_idle_conns", 2)
	nv.SetDefault("database.max_open_conns", 4)
	nv.SetDefault("database.conn_max_lifetime", "1h")
	nv.SetDefault("database.log_level", "warn")
	nv.SetDefault("database.auto_migrate", true)
	nv.SetDefault("database.flush_interval", "5s")
	nv.SetDefault("database.batch_size", 100)
	nv.SetDefault("database.retention_days", 30)

	nv.SetDefault("server.enabled", false)
	nv.SetDefault("server.host", "127.0.0.1")
	nv.SetDefault("server.port", 8090)
	nv.SetDefault("server.mode", "release")
	nv.SetDefault("server.read_timeout", "10s")
	nv.SetDefault("server.write_timeout", "10s")
	nv.SetDefault("server.shutdown_timeout", "5s")
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// ConfigFile 返回实际使用的配置文件路径，未使用配置文件时为空
func ConfigFile() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Fprintf(os.Stderr, "配置重载失败: %v\n", err)
			return
		}
		if err := newCfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "配置重载失败: %v\n", err)
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}
	})
	v.WatchConfig()
}
