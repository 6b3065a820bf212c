package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MySQLConfig holds configuration for MySQL
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	// 连接池设置
	MaxOpenConns           int `yaml:"max_open_conns"`             // 最大打开连接数
	MaxIdleConns           int `yaml:"max_idle_conns"`             // 最大空闲连接数
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`  // 连接最大生命周期(分钟)
	ConnMaxIdleTimeMinutes int `yaml:"conn_max_idle_time_minutes"` // 空闲连接最大生命周期(分钟)

	LogLevel string `yaml:"log_level"` // gorm日志级别: silent, error, warn, info
}

// DSN 构造MySQL连接串
func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig holds configuration for Redis
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// 连接池设置
	PoolSize     int `yaml:"pool_size"`      // 连接池大小
	MinIdleConns int `yaml:"min_idle_conns"` // 最小空闲连接数
	// 超时设置
	DialTimeoutSeconds  int `yaml:"dial_timeout_seconds"`  // 连接超时(秒)
	ReadTimeoutSeconds  int `yaml:"read_timeout_seconds"`  // 读取超时(秒)
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"` // 写入超时(秒)
	// 重试设置
	MaxRetries        int `yaml:"max_retries"`          // 最大重试次数
	MinRetryBackoffMS int `yaml:"min_retry_backoff_ms"` // 最小重试间隔(毫秒)
	MaxRetryBackoffMS int `yaml:"max_retry_backoff_ms"` // 最大重试间隔(毫秒)
}

// RabbitMQConfig RabbitMQ配置
type RabbitMQConfig struct {
	URL           string `yaml:"url"`
	PrefetchCount int    `yaml:"prefetch_count"` // 消费者预取数量

	// 批量消费设置
	ConsumerBatchSize   int    `yaml:"consumer_batch_size"`   // 每批最多处理的消息数
	ConsumerBatchWindow string `yaml:"consumer_batch_window"` // 批次聚合窗口，如 "1s"
}

// BatchWindow 解析批次聚合窗口，非法值回退到1秒
func (c *RabbitMQConfig) BatchWindow() time.Duration {
	d, err := time.ParseDuration(c.ConsumerBatchWindow)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// MinIOConfig MinIO配置（死信报文归档，可选）
type MinIOConfig struct {
	Endpoint         string `yaml:"endpoint"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	UseSSL           bool   `yaml:"use_ssl"`
	DeadLetterBucket string `yaml:"dead_letter_bucket"` // 死信报文归档桶
}

// GatewayConfig 外部支付网关配置
type GatewayConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"` // 单次调用超时(秒)，独立于熔断器
	CallbackURL    string `yaml:"callback_url"`    // 支付结果回调地址
	MaxAttempts    int    `yaml:"max_attempts"`    // 重试策略的最大尝试次数

	// 熔断器设置
	BreakerInterval       string  `yaml:"breaker_interval"`         // 滚动统计窗口
	BreakerCooldown       string  `yaml:"breaker_cooldown"`         // 打开后冷却时间
	BreakerMinRequests    uint32  `yaml:"breaker_min_requests"`     // 触发判定所需的最小请求数
	BreakerFailureRatio   float64 `yaml:"breaker_failure_ratio"`    // 失败率阈值
	BreakerHalfOpenProbes uint32  `yaml:"breaker_half_open_probes"` // 半开状态放行的探测请求数
}

// Timeout 返回网关单次调用超时
func (c *GatewayConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RelayConfig 发件箱中继配置
type RelayConfig struct {
	PollInterval string `yaml:"poll_interval"` // 轮询间隔，如 "5s"
	BatchSize    int    `yaml:"batch_size"`    // 每次轮询处理的消息批量大小
	MaxRetry     int    `yaml:"max_retry"`     // 发布失败的最大重试次数
}

// ReconcilerConfig 支付对账调度配置
type ReconcilerConfig struct {
	PollInterval      string `yaml:"poll_interval"`       // 轮询间隔，如 "60s"
	SettleThreshold   string `yaml:"settle_threshold"`    // 订单创建后多久才纳入对账，如 "1m"
	TimeoutThreshold  string `yaml:"timeout_threshold"`   // 无交易键订单的超时阈值，如 "30m"
	MaxPaymentRetries int    `yaml:"max_payment_retries"` // 主动补发支付请求的次数上限
}

// RankingConfig 排行榜配置
type RankingConfig struct {
	TTLHours          int     `yaml:"ttl_hours"`           // 每日榜单的过期时间(小时)
	CarryOverAt       string  `yaml:"carry_over_at"`       // 结转任务触发时刻，如 "23:50"
	CarryOverFraction float64 `yaml:"carry_over_fraction"` // 结转权重

	// 默认打分权重，可被自定义策略覆盖
	ViewWeight  float64 `yaml:"view_weight"`
	LikeWeight  float64 `yaml:"like_weight"`
	OrderWeight float64 `yaml:"order_weight"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Address   string `yaml:"address"`     // 监听地址，如 ":8080"
	OpsAPIKey string `yaml:"ops_api_key"` // 运维接口的API Key
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"` // json 或 pretty
	TimeFormat   string `yaml:"time_format"`
	ReportCaller bool   `yaml:"report_caller"`
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"` // OTLP gRPC端点，如 "localhost:4317"
	SamplerRatio float64 `yaml:"sampler_ratio"`
}

// Config 应用程序配置
type Config struct {
	MySQL      MySQLConfig      `yaml:"mysql"`
	Redis      RedisConfig      `yaml:"redis"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Relay      RelayConfig      `yaml:"relay"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Ranking    RankingConfig    `yaml:"ranking"`
	Server     ServerConfig     `yaml:"server"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// LoadConfig 从YAML文件加载配置，并应用环境变量覆盖
func LoadConfig(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("解析配置文件路径失败: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败 (%s): %w", absPath, err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	applyEnvOverrides(config)
	applyDefaults(config)

	return config, nil
}

// applyEnvOverrides 敏感配置允许通过环境变量覆盖，避免写入配置文件
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("MYSQL_PASSWORD"); v != "" {
		config.MySQL.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		config.Redis.Password = v
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		config.RabbitMQ.URL = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		config.MinIO.AccessKeyID = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		config.MinIO.SecretAccessKey = v
	}
	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		config.Gateway.BaseURL = v
	}
	if v := os.Getenv("OPS_API_KEY"); v != "" {
		config.Server.OpsAPIKey = v
	}
}

// applyDefaults 为未配置项填充默认值
func applyDefaults(config *Config) {
	if config.MySQL.MaxOpenConns <= 0 {
		config.MySQL.MaxOpenConns = 25
	}
	if config.MySQL.MaxIdleConns <= 0 {
		config.MySQL.MaxIdleConns = 5
	}
	if config.RabbitMQ.PrefetchCount <= 0 {
		config.RabbitMQ.PrefetchCount = 100
	}
	if config.RabbitMQ.ConsumerBatchSize <= 0 {
		config.RabbitMQ.ConsumerBatchSize = 50
	}
	if config.Relay.PollInterval == "" {
		config.Relay.PollInterval = "5s"
	}
	if config.Relay.BatchSize <= 0 {
		config.Relay.BatchSize = 100
	}
	if config.Relay.MaxRetry <= 0 {
		config.Relay.MaxRetry = 5
	}
	if config.Reconciler.PollInterval == "" {
		config.Reconciler.PollInterval = "60s"
	}
	if config.Reconciler.SettleThreshold == "" {
		config.Reconciler.SettleThreshold = "1m"
	}
	if config.Reconciler.TimeoutThreshold == "" {
		config.Reconciler.TimeoutThreshold = "30m"
	}
	if config.Reconciler.MaxPaymentRetries <= 0 {
		config.Reconciler.MaxPaymentRetries = 2
	}
	if config.Gateway.MaxAttempts <= 0 {
		config.Gateway.MaxAttempts = 3
	}
	if config.Gateway.BreakerMinRequests == 0 {
		config.Gateway.BreakerMinRequests = 10
	}
	if config.Gateway.BreakerFailureRatio <= 0 {
		config.Gateway.BreakerFailureRatio = 0.5
	}
	if config.Ranking.TTLHours <= 0 {
		config.Ranking.TTLHours = 48
	}
	if config.Ranking.CarryOverAt == "" {
		config.Ranking.CarryOverAt = "23:50"
	}
	if config.Ranking.CarryOverFraction <= 0 {
		config.Ranking.CarryOverFraction = 0.1
	}
	if config.Ranking.ViewWeight == 0 {
		config.Ranking.ViewWeight = 0.1
	}
	if config.Ranking.LikeWeight == 0 {
		config.Ranking.LikeWeight = 0.2
	}
	if config.Ranking.OrderWeight == 0 {
		config.Ranking.OrderWeight = 0.6
	}
	if config.Server.Address == "" {
		config.Server.Address = ":8080"
	}
	if config.Logger.Level == "" {
		config.Logger.Level = "info"
	}
}

// ParseInterval 解析时间间隔字符串，非法时返回给定默认值
func ParseInterval(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
