package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置
type Config struct {
	Env string `mapstructure:"env"`

	HTTP struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`

	Postgres struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		DBName   string `mapstructure:"dbname"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"postgres"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Queue struct {
		Group          string  `mapstructure:"group"`
		Consumer       string  `mapstructure:"consumer"`
		Prefetch       int     `mapstructure:"prefetch"`
		BlockSeconds   int     `mapstructure:"block_seconds"`
		MinIdleSeconds int     `mapstructure:"min_idle_seconds"`
		MaxLen         int64   `mapstructure:"max_len"`
		RetentionHours int     `mapstructure:"retention_hours"`
		RetryInitialMS int     `mapstructure:"retry_initial_ms"`
		RetryMaxMS     int     `mapstructure:"retry_max_ms"`
		RetryFactor    float64 `mapstructure:"retry_factor"`
	} `mapstructure:"queue"`

	Engine struct {
		WindowMinutes  int `mapstructure:"window_minutes"`
		DecayMinutes   int `mapstructure:"decay_minutes"`
		BurstBlockSecs int `mapstructure:"burst_block_seconds"`
		BlockThreshold int `mapstructure:"block_threshold"`
		StepSeconds    int `mapstructure:"escalation_step_seconds"`
	} `mapstructure:"engine"`

	Classifier struct {
		SevereWords   []string `mapstructure:"severe_words"`
		MildWords     []string `mapstructure:"mild_words"`
		RatePerSecond float64  `mapstructure:"rate_per_second"`
		Burst         int      `mapstructure:"burst"`
	} `mapstructure:"classifier"`

	Cache struct {
		StatusTTLSeconds int `mapstructure:"status_ttl_seconds"`
	} `mapstructure:"cache"`

	Sentry struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"sentry"`

	Otel struct {
		Endpoint string `mapstructure:"endpoint"`
	} `mapstructure:"otel"`
}

// Load 读取 config.yaml（可缺省）并叠加 SHIELD_ 前缀的环境变量
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix("SHIELD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "postgres")
	v.SetDefault("postgres.dbname", "shieldcomment")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.group", "moderation")
	v.SetDefault("queue.consumer", "")
	v.SetDefault("queue.prefetch", 10)
	v.SetDefault("queue.block_seconds", 5)
	v.SetDefault("queue.min_idle_seconds", 60)
	v.SetDefault("queue.max_len", 10000)
	v.SetDefault("queue.retention_hours", 24)
	v.SetDefault("queue.retry_initial_ms", 1000)
	v.SetDefault("queue.retry_max_ms", 30000)
	v.SetDefault("queue.retry_factor", 2.0)

	v.SetDefault("engine.window_minutes", 5)
	v.SetDefault("engine.decay_minutes", 60)
	v.SetDefault("engine.burst_block_seconds", 3600)
	v.SetDefault("engine.block_threshold", 3)
	v.SetDefault("engine.escalation_step_seconds", 3600)

	v.SetDefault("classifier.rate_per_second", 20.0)
	v.SetDefault("classifier.burst", 5)

	v.SetDefault("cache.status_ttl_seconds", 30)
}

// PostgresDSN 拼接 gorm/postgres DSN
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.Postgres.Host, c.Postgres.User, c.Postgres.Password,
		c.Postgres.DBName, c.Postgres.Port, c.Postgres.SSLMode)
}

// QueueBlock 消费端单次 XREADGROUP 的阻塞时长
func (c *Config) QueueBlock() time.Duration {
	return time.Duration(c.Queue.BlockSeconds) * time.Second
}

// QueueMinIdle 待确认消息可被回收重投的最小空闲时长
func (c *Config) QueueMinIdle() time.Duration {
	return time.Duration(c.Queue.MinIdleSeconds) * time.Second
}

// QueueRetention 流内消息保留时长
func (c *Config) QueueRetention() time.Duration {
	return time.Duration(c.Queue.RetentionHours) * time.Hour
}
