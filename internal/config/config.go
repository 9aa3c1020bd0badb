package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"hudhud.im.sync/internal/model"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Firebase   FirebaseConfig   `mapstructure:"firebase"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Sweep      SweepConfig      `mapstructure:"sweep"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Push       PushConfig       `mapstructure:"push"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Presence   PresenceConfig   `mapstructure:"presence"`
	Subscriber SubscriberConfig `mapstructure:"subscriber"`
	Settings   model.Settings   `mapstructure:"settings"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	NodeID   int64  `mapstructure:"node_id"` // 雪花ID节点号
}

type HTTPConfig struct {
	Addr        string   `mapstructure:"addr"`
	HealthAddr  string   `mapstructure:"health_addr"`
	Mode        string   `mapstructure:"mode"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type JWTConfig struct {
	SecretKey    string        `mapstructure:"secret_key"`
	AccessExpire time.Duration `mapstructure:"access_expire"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN PostgreSQL 连接串
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type FirebaseConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	StorageBucket   string `mapstructure:"storage_bucket"`
}

// FeedConfig 动态配置
type FeedConfig struct {
	Moderators []string `mapstructure:"moderators"` // 可以隐藏/恢复动态的管理员
}

// SweepConfig 过期清理配置
type SweepConfig struct {
	Cron             string        `mapstructure:"cron"`
	OnStartup        bool          `mapstructure:"on_startup"`
	PurgeOldMessages bool          `mapstructure:"purge_old_messages"` // 清理发送者自己超过保留期的消息
	MessageRetention time.Duration `mapstructure:"message_retention"`
}

// RetryConfig 发送失败重试配置
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	WorkerCount int `mapstructure:"worker_count"`
}

// PushConfig 推送限速配置
type PushConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

type PresenceConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type SubscriberConfig struct {
	WorkerCount int `mapstructure:"worker_count"`
	BufferSize  int `mapstructure:"buffer_size"`
}

// Load 从指定路径加载配置
// 先加载 .env，再读取 yaml，SYNC_ 前缀的环境变量覆盖文件配置
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "hudhud-sync")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.node_id", 1)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.health_addr", ":8081")
	v.SetDefault("http.mode", "release")
	v.SetDefault("jwt.access_expire", 2*time.Hour)
	v.SetDefault("sweep.cron", "*/10 * * * *")
	v.SetDefault("sweep.on_startup", true)
	v.SetDefault("sweep.message_retention", model.EphemeralTTL)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.worker_count", 10)
	v.SetDefault("push.rate_per_second", 50.0)
	v.SetDefault("push.burst", 10)
	v.SetDefault("cache.dir", "data/cache")
	v.SetDefault("presence.ttl", 90*time.Second)
	v.SetDefault("settings.font_size", 16)
	v.SetDefault("settings.language", "en")
}

// Validate 校验配置
func (c *Config) Validate() error {
	if !gronx.IsValid(c.Sweep.Cron) {
		return fmt.Errorf("invalid sweep cron expression: %q", c.Sweep.Cron)
	}
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("jwt.secret_key is required")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if c.Firebase.Enabled && c.Firebase.ProjectID == "" {
		return fmt.Errorf("firebase.project_id is required when firebase is enabled")
	}
	return nil
}
