// Package config 提供 TOML 配置加载、APP_ 环境变量覆盖、默认值与校验
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Config 服务配置
type Config struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string         `mapstructure:"environment"`
	HTTP        HTTPConfig     `mapstructure:"http"`
	GRPC        GRPCConfig     `mapstructure:"grpc"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Kafka       KafkaConfig    `mapstructure:"kafka"`
	Logger      LoggerConfig   `mapstructure:"logger"`
	Metrics     MetricsConfig  `mapstructure:"metrics"`
	Solver      SolverConfig   `mapstructure:"solver"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// 读写超时（秒）
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

// GRPCConfig gRPC 服务配置，只承载健康检查
type GRPCConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：mysql 或 memory（进程内账本与状态，开发和测试使用）
	Driver          string `mapstructure:"driver"`
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogEnabled      bool   `mapstructure:"log_enabled"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int  `mapstructure:"slow_query_threshold"`
	AutoMigrate        bool `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置，用于分布式结算锁与提交限流
type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MaxPoolSize  int    `mapstructure:"max_pool_size"`
	ConnTimeout  int    `mapstructure:"conn_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	SessionTimeout int      `mapstructure:"session_timeout"`
	MaxRetries     int      `mapstructure:"max_retries"`
	// 重试退避（毫秒）
	RetryBackoff int    `mapstructure:"retry_backoff"`
	IntentsTopic string `mapstructure:"intents_topic"`
	RecordsTopic string `mapstructure:"records_topic"`
	DeadLetter   string `mapstructure:"dead_letter_topic"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// SolverConfig 结算引擎配置
type SolverConfig struct {
	// 唯一有权 trigger / 提取手续费的账户
	Operator      string `mapstructure:"operator"`
	OperatorToken string `mapstructure:"operator_token"`
	// 引擎托管账户，也是 permit 的 spender
	Custody        string `mapstructure:"custody"`
	FeeNumerator   int64  `mapstructure:"fee_numerator"`
	FeeDenominator int64  `mapstructure:"fee_denominator"`
	ChainID        int64  `mapstructure:"chain_id"`
	// snowflake 节点号，多实例部署时必须互不相同
	NodeID int64 `mapstructure:"node_id"`
	// keeper 自动 trigger 的间隔，0 表示关闭
	KeeperInterval time.Duration `mapstructure:"keeper_interval"`
	// 分布式结算锁的过期时间
	TriggerLockTTL time.Duration   `mapstructure:"trigger_lock_ttl"`
	SettleTimeout  time.Duration   `mapstructure:"settle_timeout"`
	SubmitLimit    RateLimitConfig `mapstructure:"submit_limit"`
	Assets         []AssetConfig   `mapstructure:"assets"`
	Venues         []VenueConfig   `mapstructure:"venues"`
	Genesis        []GenesisConfig `mapstructure:"genesis"`
}

// RateLimitConfig 单个提交者的限流
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// 每秒允许的请求数
	QPS   int `mapstructure:"qps"`
	Burst int `mapstructure:"burst"`
}

// AssetConfig 资产登记，Name 参与 EIP-712 domain
type AssetConfig struct {
	Address string `mapstructure:"address"`
	Name    string `mapstructure:"name"`
}

// VenueConfig 交易场所
type VenueConfig struct {
	Address string `mapstructure:"address"`
	// 类型：rate（账本内固定汇率）或 http（远程报价服务）
	Kind string `mapstructure:"kind"`
	// rate 场所：每单位输入换得的输出数量
	Rate     string        `mapstructure:"rate"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// 撤单重试次数，下单从不重试
	Retries int `mapstructure:"retries"`
}

// GenesisConfig 内存账本的初始余额
type GenesisConfig struct {
	Asset  string `mapstructure:"asset"`
	Owner  string `mapstructure:"owner"`
	Amount string `mapstructure:"amount"`
}

// Load 读取 TOML 文件（不存在时仅使用默认值），再应用 APP_ 前缀的环境变量覆盖
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "mysql":
		if c.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for mysql driver")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}
	return c.Solver.Validate()
}

// Validate 验证结算引擎配置
func (s *SolverConfig) Validate() error {
	for name, addr := range map[string]string{"operator": s.Operator, "custody": s.Custody} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("solver.%s is not a valid address: %q", name, addr)
		}
	}
	if s.FeeDenominator <= 0 || s.FeeNumerator < 0 || s.FeeNumerator >= s.FeeDenominator {
		return fmt.Errorf("invalid fee %d/%d", s.FeeNumerator, s.FeeDenominator)
	}
	for _, a := range s.Assets {
		if !common.IsHexAddress(a.Address) {
			return fmt.Errorf("invalid asset address: %q", a.Address)
		}
	}
	for _, v := range s.Venues {
		if !common.IsHexAddress(v.Address) {
			return fmt.Errorf("invalid venue address: %q", v.Address)
		}
		switch v.Kind {
		case "rate":
			if v.Rate == "" {
				return fmt.Errorf("venue %s: rate is required", v.Address)
			}
		case "http":
			if v.Endpoint == "" {
				return fmt.Errorf("venue %s: endpoint is required", v.Address)
			}
			if v.Retries < 0 {
				return fmt.Errorf("venue %s: retries must not be negative, got %d", v.Address, v.Retries)
			}
		default:
			return fmt.Errorf("venue %s: unsupported kind %q", v.Address, v.Kind)
		}
	}
	for _, g := range s.Genesis {
		if !common.IsHexAddress(g.Asset) || !common.IsHexAddress(g.Owner) {
			return fmt.Errorf("invalid genesis entry %s/%s", g.Asset, g.Owner)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "cow-solver")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 1000)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.group_id", "cow-solver")
	v.SetDefault("kafka.session_timeout", 10)
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)
	v.SetDefault("kafka.intents_topic", "solver.intents")
	v.SetDefault("kafka.records_topic", "solver.records")
	v.SetDefault("kafka.dead_letter_topic", "solver.intents.dlq")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/solver.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("solver.fee_numerator", 5)
	v.SetDefault("solver.fee_denominator", 10000)
	v.SetDefault("solver.chain_id", 1)
	v.SetDefault("solver.node_id", 1)
	v.SetDefault("solver.keeper_interval", "0s")
	v.SetDefault("solver.trigger_lock_ttl", "30s")
	v.SetDefault("solver.settle_timeout", "20s")
	v.SetDefault("solver.submit_limit.enabled", false)
	v.SetDefault("solver.submit_limit.qps", 20)
	v.SetDefault("solver.submit_limit.burst", 40)
}
