package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// 默认配置常量
const (
	// 串口默认配置
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 200 * time.Millisecond

	// AT 命令引擎默认配置
	DefaultCommandTimeout = 10 * time.Second
	DefaultCommandRetries = 2
	DefaultRetryDelay     = 500 * time.Millisecond
	DefaultQuietPeriod    = 300 * time.Millisecond

	// 短信接收默认配置
	DefaultBodyDeadline     = 15 * time.Second
	DefaultAssemblyMaxAge   = 10 * time.Minute
	DefaultMaintenanceEvery = time.Minute

	// 转发默认配置
	DefaultMaxPushRetries   = 3
	DefaultPushRetryDelay   = 2 * time.Second
	DefaultRuleCacheRefresh = 30 * time.Second
	DefaultChannelTimeout   = 10 * time.Second

	// 应用默认配置
	DefaultHTTPAddress = ":8080"

	// 存储默认配置
	DefaultMaxKeepRecords = 100_000
	DefaultDedupTTL       = 10 * time.Minute

	// NSQ 默认配置
	DefaultNSQTopic   = "sms-forward"
	DefaultNSQChannel = "forward-workers"
)

// Serial 串口配置
type Serial struct {
	PortName    string        `yaml:"PortName"`    // 串口名称
	BaudRate    int           `yaml:"BaudRate"`    // 波特率
	ReadTimeout time.Duration `yaml:"ReadTimeout"` // 串口单次读取超时
}

// AT AT 命令引擎配置
type AT struct {
	CommandTimeout time.Duration `yaml:"CommandTimeout"` // 单次命令总超时
	CommandRetries int           `yaml:"CommandRetries"` // 失败后重试次数
	RetryDelay     time.Duration `yaml:"RetryDelay"`     // 重试间隔
	QuietPeriod    time.Duration `yaml:"QuietPeriod"`    // 响应静默判定窗口
}

// SMSReceive 短信接收与重组配置
type SMSReceive struct {
	BodyDeadline     time.Duration `yaml:"BodyDeadline"`     // 等待 PDU 正文的最长时间
	AssemblyMaxAge   time.Duration `yaml:"AssemblyMaxAge"`   // 不完整长短信缓存最大存活时间
	MaintenanceEvery time.Duration `yaml:"MaintenanceEvery"` // 维护任务执行间隔
}

// Forward 规则匹配与推送配置
type Forward struct {
	MaxPushRetries   int           `yaml:"MaxPushRetries"`   // 单规则最大推送尝试次数
	PushRetryDelay   time.Duration `yaml:"PushRetryDelay"`   // 推送重试间隔
	RuleCacheRefresh time.Duration `yaml:"RuleCacheRefresh"` // 规则快照刷新周期
	ChannelTimeout   time.Duration `yaml:"ChannelTimeout"`   // 单次通道调用超时
	AsyncDispatch    bool          `yaml:"AsyncDispatch"`    // 是否经由队列异步投递
}

// MySQLConfig MySQL 数据库连接配置
type MySQLConfig struct {
	DSN             string        `yaml:"DSN"`             // 数据源配置
	MaxOpenConns    int           `yaml:"MaxOpenConns"`    // 最大打开连接数
	MaxIdleConns    int           `yaml:"MaxIdleConns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `yaml:"ConnMaxLifetime"` // 连接最大生命周期
}

// Storage 存储配置
type Storage struct {
	MySQL     MySQLConfig   `yaml:"MySQL"`     // MySQL 配置
	MaxKeep   int64         `yaml:"MaxKeep"`   // 最大保留消息记录数
	RedisAddr string        `yaml:"RedisAddr"` // Redis 地址(可选,空则禁用重复投递拦截)
	DedupTTL  time.Duration `yaml:"DedupTTL"`  // 去重键过期时间
}

// NSQ 消息队列配置(可选,仅 Forward.AsyncDispatch 时使用)
type NSQ struct {
	Topic        string   `yaml:"Topic"`        // 消息主题
	Channel      string   `yaml:"Channel"`      // 消费者通道
	NsqdTCPAddr  string   `yaml:"NsqdTCPAddr"`  // 生产者连接的 nsqd 地址
	NsqdTCPAddrs []string `yaml:"NsqdTCPAddrs"` // 消费者连接的 nsqd 地址列表
	MaxInFlight  int      `yaml:"MaxInFlight"`  // 最大并发消息数
}

// App 应用全局配置
type App struct {
	Addr string `yaml:"Addr"` // HTTP 监听地址
}

// Config 应用完整配置
type Config struct {
	App        App        `yaml:"App"`
	Serial     Serial     `yaml:"Serial"`
	AT         AT         `yaml:"AT"`
	SMSReceive SMSReceive `yaml:"SMSReceive"`
	Forward    Forward    `yaml:"Forward"`
	Storage    Storage    `yaml:"Storage"`
	NSQ        NSQ        `yaml:"NSQ"`
}

// MustLoad 加载 YAML 配置文件
// 加载失败时直接 panic(用于应用启动阶段)
func MustLoad(configPath string) Config {
	fileContent, err := os.ReadFile(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to read config file: %v", err))
	}

	var config Config
	if err := yaml.Unmarshal(fileContent, &config); err != nil {
		panic(fmt.Sprintf("failed to unmarshal config: %v", err))
	}

	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("config validation failed: %v", err))
	}

	return config
}

// Validate 校验配置并设置默认值
func (config *Config) Validate() error {
	if err := config.validateSerialConfig(); err != nil {
		return err
	}

	config.applyATDefaults()
	config.applySMSReceiveDefaults()
	config.applyForwardDefaults()
	config.applyStorageDefaults()
	config.applyNSQDefaults()

	if config.App.Addr == "" {
		config.App.Addr = DefaultHTTPAddress
	}

	return nil
}

// validateSerialConfig 校验串口配置并设置默认值
// 串口名称没有合理默认值,必须显式配置
func (config *Config) validateSerialConfig() error {
	if config.Serial.PortName == "" {
		return fmt.Errorf("Serial.PortName is required")
	}

	if config.Serial.BaudRate <= 0 {
		config.Serial.BaudRate = DefaultBaudRate
	}

	if config.Serial.ReadTimeout <= 0 {
		config.Serial.ReadTimeout = DefaultReadTimeout
	}

	return nil
}

// applyATDefaults 设置 AT 引擎默认值
func (config *Config) applyATDefaults() {
	if config.AT.CommandTimeout <= 0 {
		config.AT.CommandTimeout = DefaultCommandTimeout
	}

	if config.AT.CommandRetries < 0 {
		config.AT.CommandRetries = DefaultCommandRetries
	}

	if config.AT.RetryDelay <= 0 {
		config.AT.RetryDelay = DefaultRetryDelay
	}

	if config.AT.QuietPeriod <= 0 {
		config.AT.QuietPeriod = DefaultQuietPeriod
	}
}

// applySMSReceiveDefaults 设置短信接收默认值
func (config *Config) applySMSReceiveDefaults() {
	if config.SMSReceive.BodyDeadline <= 0 {
		config.SMSReceive.BodyDeadline = DefaultBodyDeadline
	}

	if config.SMSReceive.AssemblyMaxAge <= 0 {
		config.SMSReceive.AssemblyMaxAge = DefaultAssemblyMaxAge
	}

	if config.SMSReceive.MaintenanceEvery <= 0 {
		config.SMSReceive.MaintenanceEvery = DefaultMaintenanceEvery
	}
}

// applyForwardDefaults 设置转发默认值
func (config *Config) applyForwardDefaults() {
	if config.Forward.MaxPushRetries <= 0 {
		config.Forward.MaxPushRetries = DefaultMaxPushRetries
	}

	if config.Forward.PushRetryDelay <= 0 {
		config.Forward.PushRetryDelay = DefaultPushRetryDelay
	}

	if config.Forward.RuleCacheRefresh <= 0 {
		config.Forward.RuleCacheRefresh = DefaultRuleCacheRefresh
	}

	if config.Forward.ChannelTimeout <= 0 {
		config.Forward.ChannelTimeout = DefaultChannelTimeout
	}
}

// applyStorageDefaults 设置存储默认值
func (config *Config) applyStorageDefaults() {
	if config.Storage.MaxKeep <= 0 {
		config.Storage.MaxKeep = DefaultMaxKeepRecords
	}

	if config.Storage.DedupTTL <= 0 {
		config.Storage.DedupTTL = DefaultDedupTTL
	}
}

// applyNSQDefaults 设置 NSQ 默认值
func (config *Config) applyNSQDefaults() {
	if config.NSQ.Topic == "" {
		config.NSQ.Topic = DefaultNSQTopic
	}

	if config.NSQ.Channel == "" {
		config.NSQ.Channel = DefaultNSQChannel
	}
}
