package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	apperrors "github.com/wfunc/coin-hopper/internal/errors"
)

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Hardware  HardwareConfig  `mapstructure:"hardware"`
	Serial    SerialConfig    `mapstructure:"serial"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Display   DisplayConfig   `mapstructure:"display"`
	Log       LogConfig       `mapstructure:"log"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置
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
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Path            string        `mapstructure:"path"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// HardwareConfig 硬件配置
type HardwareConfig struct {
	Mode                string        `mapstructure:"mode"` // mock 或 serial
	PulseUnitValue      int64         `mapstructure:"pulse_unit_value"`
	CoinValue           int64         `mapstructure:"coin_value"`
	RelayActiveLow      bool          `mapstructure:"relay_active_low"`
	PayoutPulseInterval time.Duration `mapstructure:"payout_pulse_interval"`
	Pins                PinConfig     `mapstructure:"pins"`
	Demo                DemoConfig    `mapstructure:"demo"`
}

// PinConfig 引脚编号（BCM），串口桥和模拟器下仅作记录
type PinConfig struct {
	Bill       int `mapstructure:"bill"`
	Relay      int `mapstructure:"relay"`
	HopperFeed int `mapstructure:"hopper_feed"`
	DisplayCLK int `mapstructure:"display_clk"`
	DisplayDIO int `mapstructure:"display_dio"`
}

// DemoConfig 模拟器随机投币
type DemoConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	MaxBills int           `mapstructure:"max_bills"`
}

// SerialConfig 串口桥配置
type SerialConfig struct {
	Port              string        `mapstructure:"port"`
	BaudRate          int           `mapstructure:"baud_rate"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	AckTimeout        time.Duration `mapstructure:"ack_timeout"`
	RetryTimes        int           `mapstructure:"retry_times"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	LogFrames         bool          `mapstructure:"log_frames"`
}

// EngineConfig 引擎周期配置
type EngineConfig struct {
	IntakePollInterval time.Duration `mapstructure:"intake_poll_interval"`
	PayoutPollInterval time.Duration `mapstructure:"payout_poll_interval"`
	StallTimeout       time.Duration `mapstructure:"stall_timeout"`
	LogCapacity        int           `mapstructure:"log_capacity"`
}

// DisplayConfig 数码管配置
type DisplayConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	MaxValue        int           `mapstructure:"max_value"`
	Banner          string        `mapstructure:"banner"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
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

// SecurityConfig 安全配置
type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	JWT       JWTConfig       `mapstructure:"jwt"`
}

// RateLimitConfig 出币接口限流
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// JWTConfig 操作员令牌配置，secret 为空时不校验
type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	Issuer      string `mapstructure:"issuer"`
	ExpireHours int    `mapstructure:"expire_hours"`
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
		v, loaded, err = load(configPath)
		if err != nil {
			return
		}
		mu.Lock()
		cfg = loaded
		mu.Unlock()
	})

	return err
}

// Load 读取并校验配置，不修改全局实例
func Load(configPath string) (*Config, error) {
	_, c, err := load(configPath)
	return c, err
}

func load(configPath string) (*viper.Viper, *Config, error) {
	vp := viper.New()

	// 设置配置文件路径
	if configPath != "" {
		vp.SetConfigFile(configPath)
	} else {
		vp.SetConfigName("config")
		vp.SetConfigType("yaml")
		vp.AddConfigPath("./config")
		vp.AddConfigPath(".")
	}

	// 设置环境变量前缀
	vp.SetEnvPrefix("HOPPER")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	if err := vp.ReadInConfig(); err != nil {
		// 配置文件不存在时使用默认配置
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, apperrors.Wrap(err, apperrors.ErrConfigLoad, "read config")
		}
	}

	c := &Config{}
	if err := vp.Unmarshal(c); err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.ErrConfigParse, "unmarshal config")
	}

	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	return vp, c, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// 数据库默认配置
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/coin-hopper.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.flush_interval", "5s")
	v.SetDefault("database.batch_size", 100)

	// WebSocket默认配置
	v.SetDefault("websocket.enabled", true)
	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")

	// 硬件默认配置
	v.SetDefault("hardware.mode", "mock")
	v.SetDefault("hardware.pulse_unit_value", 10)
	v.SetDefault("hardware.coin_value", 10)
	v.SetDefault("hardware.relay_active_low", true)
	v.SetDefault("hardware.payout_pulse_interval", "50ms")
	v.SetDefault("hardware.pins.bill", 17)
	v.SetDefault("hardware.pins.relay", 27)
	v.SetDefault("hardware.pins.hopper_feed", 22)
	v.SetDefault("hardware.pins.display_clk", 23)
	v.SetDefault("hardware.pins.display_dio", 24)
	v.SetDefault("hardware.demo.enabled", false)
	v.SetDefault("hardware.demo.interval", "10s")
	v.SetDefault("hardware.demo.max_bills", 5)

	// 串口默认配置
	v.SetDefault("serial.port", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.read_timeout", "100ms")
	v.SetDefault("serial.ack_timeout", "500ms")
	v.SetDefault("serial.retry_times", 3)
	v.SetDefault("serial.heartbeat_interval", "5s")
	v.SetDefault("serial.log_frames", false)

	// 引擎默认配置
	v.SetDefault("engine.intake_poll_interval", "100ms")
	v.SetDefault("engine.payout_poll_interval", "50ms")
	v.SetDefault("engine.stall_timeout", "30s")
	v.SetDefault("engine.log_capacity", 1000)

	// 数码管默认配置
	v.SetDefault("display.enabled", true)
	v.SetDefault("display.refresh_interval", "500ms")
	v.SetDefault("display.max_value", 9999)
	v.SetDefault("display.banner", "INIT")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "coin-hopper.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)

	// 安全默认配置
	v.SetDefault("security.rate_limit.enabled", true)
	v.SetDefault("security.rate_limit.requests_per_minute", 30)
	v.SetDefault("security.rate_limit.burst", 5)
	v.SetDefault("security.jwt.secret", "")
	v.SetDefault("security.jwt.issuer", "coin-hopper")
	v.SetDefault("security.jwt.expire_hours", 12)
}

// Validate 校验配置
func (c *Config) Validate() error {
	positive := []struct {
		name  string
		value int64
	}{
		{"hardware.pulse_unit_value", c.Hardware.PulseUnitValue},
		{"hardware.coin_value", c.Hardware.CoinValue},
		{"hardware.payout_pulse_interval", int64(c.Hardware.PayoutPulseInterval)},
		{"engine.intake_poll_interval", int64(c.Engine.IntakePollInterval)},
		{"engine.payout_poll_interval", int64(c.Engine.PayoutPollInterval)},
		{"display.refresh_interval", int64(c.Display.RefreshInterval)},
		{"display.max_value", int64(c.Display.MaxValue)},
		{"server.port", int64(c.Server.Port)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return apperrors.Newf(apperrors.ErrConfigValidate, "%s must be positive", p.name)
		}
	}

	if c.Engine.StallTimeout < 0 {
		return apperrors.New(apperrors.ErrConfigValidate, "engine.stall_timeout must not be negative")
	}

	switch c.Hardware.Mode {
	case "mock":
	case "serial":
		if c.Serial.Port == "" {
			return apperrors.New(apperrors.ErrConfigMissing, "serial.port")
		}
		if c.Serial.BaudRate <= 0 {
			return apperrors.New(apperrors.ErrConfigValidate, "serial.baud_rate must be positive")
		}
	default:
		return apperrors.Newf(apperrors.ErrConfigValidate, "unknown hardware.mode %q", c.Hardware.Mode)
	}

	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RequestsPerMinute <= 0 {
		return apperrors.New(apperrors.ErrConfigValidate, "security.rate_limit.requests_per_minute must be positive")
	}

	return nil
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化。
// 只有日志级别这类运行时参数会被回调方应用，引擎周期和面值在启动时确定。
func Watch(callback func(*Config)) {
	if v == nil {
		return
	}
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}
		if err := newCfg.Validate(); err != nil {
			fmt.Printf("配置重载校验失败: %v\n", err)
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		fmt.Printf("配置已重新加载: %s\n", e.Name)
		if callback != nil {
			callback(newCfg)
		}
	})
}

// Address 服务监听地址
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
