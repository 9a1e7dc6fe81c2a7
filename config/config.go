package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "WARDEN"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Invite     InviteConfig     `mapstructure:"invite"`
	Media      MediaConfig      `mapstructure:"media"`
	Storage    StorageConfig    `mapstructure:"storage"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	WorkerPool WorkerPoolConfig `mapstructure:"worker_pool"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	GRPC       GRPCConfig       `mapstructure:"grpc"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Sweep      SweepConfig      `mapstructure:"sweep"`
	Snowflake  SnowflakeConfig  `mapstructure:"snowflake"`

	v *viper.Viper
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
}

// DatabaseConfig 选择持久化后端: postgres 或 memory (本地开发)
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	LogLevel string `mapstructure:"log_level"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret             string        `mapstructure:"secret"`
	Issuer             string        `mapstructure:"issuer"`
	Audience           string        `mapstructure:"audience"`
	AccessTokenMinutes int           `mapstructure:"access_token_minutes"`
	RefreshTokenDays   int           `mapstructure:"refresh_token_days"`
	ClockSkew          time.Duration `mapstructure:"clock_skew"`
	RevokeChainOnReuse bool          `mapstructure:"revoke_chain_on_reuse"`
}

func (c JWTConfig) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenMinutes) * time.Minute
}

func (c JWTConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenDays) * 24 * time.Hour
}

type AuthConfig struct {
	InviteOnly            bool   `mapstructure:"invite_only"`
	RequireConfirmedEmail bool   `mapstructure:"require_confirmed_email"`
	MaxFailedAttempts     int    `mapstructure:"max_failed_attempts"`
	LockoutMinutes        int    `mapstructure:"lockout_minutes"`
	DefaultRole           string `mapstructure:"default_role"`
	AdminRole             string `mapstructure:"admin_role"`
	BcryptCost            int    `mapstructure:"bcrypt_cost"`
}

type InviteConfig struct {
	CodeLength            int    `mapstructure:"code_length"`
	CodeAlphabet          string `mapstructure:"code_alphabet"`
	CodeExpirationHours   int    `mapstructure:"code_expiration_hours"`
	EmailExpirationHours  int    `mapstructure:"email_expiration_hours"`
	MaxActiveCodesPerUser int    `mapstructure:"max_active_codes_per_user"`
}

type MediaConfig struct {
	MaxUploadBytes       int64    `mapstructure:"max_upload_bytes"`
	AllowedMIMETypes     []string `mapstructure:"allowed_mime_types"`
	AllowAnonymousPublic bool     `mapstructure:"allow_anonymous_public"`
	ThumbnailMaxEdge     int      `mapstructure:"thumbnail_max_edge"`
	PublicCacheSeconds   int      `mapstructure:"public_cache_seconds"`
	PrivateCacheSeconds  int      `mapstructure:"private_cache_seconds"`
}

// StorageConfig 对象存储配置, provider: local | minio | s3
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	LocalRoot string `mapstructure:"local_root"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	BasePath  string `mapstructure:"base_path"`
}

type RateLimitConfig struct {
	Enabled              bool `mapstructure:"enabled"`
	RegisterPerMinute    int  `mapstructure:"register_per_minute"`
	LoginPerMinute       int  `mapstructure:"login_per_minute"`
	InviteCheckPerMinute int  `mapstructure:"invite_check_per_minute"`
	UploadPerMinute      int  `mapstructure:"upload_per_minute"`
	FailOpen             bool `mapstructure:"fail_open"`
}

// WorkerPoolConfig Size/QueueSize 用于后台任务, Ingest* 限制同时处理的上传
type WorkerPoolConfig struct {
	Size        int `mapstructure:"size"`
	QueueSize   int `mapstructure:"queue_size"`
	IngestSize  int `mapstructure:"ingest_size"`
	IngestQueue int `mapstructure:"ingest_queue"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	ClientID string   `mapstructure:"client_id"`
	GroupID  string   `mapstructure:"group_id"`
}

type GRPCConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type SweepConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Schedule  string        `mapstructure:"schedule"`
	BatchSize int           `mapstructure:"batch_size"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
}

type SnowflakeConfig struct {
	NodeID int64 `mapstructure:"node_id"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_concurrent", 1024)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("postgres.host", "127.0.0.1")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.max_open_conns", 50)
	v.SetDefault("postgres.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)

	// 没有默认值的键也要注册, 否则 AutomaticEnv 在 Unmarshal 时看不到它们
	for _, key := range []string{
		"postgres.user", "postgres.password", "postgres.dbname",
		"redis.enabled", "redis.password", "redis.db",
		"jwt.secret", "jwt.revoke_chain_on_reuse",
		"auth.invite_only", "auth.require_confirmed_email",
		"storage.endpoint", "storage.region", "storage.bucket",
		"storage.access_key", "storage.secret_key", "storage.use_ssl", "storage.base_path",
		"logging.compress", "kafka.enabled", "kafka.brokers", "grpc.enabled", "snowflake.node_id",
	} {
		_ = v.BindEnv(key)
	}

	v.SetDefault("jwt.issuer", "warden")
	v.SetDefault("jwt.audience", "warden-clients")
	v.SetDefault("jwt.access_token_minutes", 15)
	v.SetDefault("jwt.refresh_token_days", 7)
	v.SetDefault("jwt.clock_skew", 30*time.Second)

	v.SetDefault("auth.max_failed_attempts", 5)
	v.SetDefault("auth.lockout_minutes", 15)
	v.SetDefault("auth.default_role", "User")
	v.SetDefault("auth.admin_role", "Administrator")
	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("invite.code_length", 8)
	v.SetDefault("invite.code_alphabet", "ABCDEFGHJKLMNPQRSTUVWXYZ123456789")
	v.SetDefault("invite.code_expiration_hours", 24)
	v.SetDefault("invite.email_expiration_hours", 72)
	v.SetDefault("invite.max_active_codes_per_user", 10)

	v.SetDefault("media.max_upload_bytes", 20<<20)
	v.SetDefault("media.allowed_mime_types", []string{
		"image/jpeg", "image/png", "image/gif", "image/webp",
		"application/pdf", "text/plain", "video/mp4", "audio/mpeg",
	})
	v.SetDefault("media.allow_anonymous_public", true)
	v.SetDefault("media.thumbnail_max_edge", 256)
	v.SetDefault("media.public_cache_seconds", 86400)
	v.SetDefault("media.private_cache_seconds", 3600)

	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local_root", "./data/media")

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.register_per_minute", 5)
	v.SetDefault("ratelimit.login_per_minute", 10)
	v.SetDefault("ratelimit.invite_check_per_minute", 20)
	v.SetDefault("ratelimit.upload_per_minute", 30)
	v.SetDefault("ratelimit.fail_open", true)

	v.SetDefault("worker_pool.size", 4)
	v.SetDefault("worker_pool.queue_size", 256)
	v.SetDefault("worker_pool.ingest_size", 8)
	v.SetDefault("worker_pool.ingest_queue", 64)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "./logs/warden.log")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age_days", 30)

	v.SetDefault("kafka.topic", "warden.audit")
	v.SetDefault("kafka.client_id", "warden")
	v.SetDefault("kafka.group_id", "warden-audit")

	v.SetDefault("grpc.address", ":9090")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.schedule", "@every 1h")
	v.SetDefault("sweep.batch_size", 200)
	v.SetDefault("sweep.lock_ttl", 10*time.Minute)
}

// LoadConfig 读取配置文件, 环境变量 WARDEN_* 覆盖文件中的值.
// path 为空时只使用默认值和环境变量.
func LoadConfig(path string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.v = v
	return &config, nil
}

// Validate 检查启动所必需的配置项
func (c *Config) Validate() error {
	var errs []error
	if len(c.JWT.Secret) < 32 {
		errs = append(errs, errors.New("jwt.secret must be at least 32 bytes"))
	}
	if c.JWT.AccessTokenMinutes <= 0 {
		errs = append(errs, errors.New("jwt.access_token_minutes must be positive"))
	}
	if c.JWT.RefreshTokenDays <= 0 {
		errs = append(errs, errors.New("jwt.refresh_token_days must be positive"))
	}
	if c.Invite.CodeLength <= 0 {
		errs = append(errs, errors.New("invite.code_length must be positive"))
	}
	if len(c.Invite.CodeAlphabet) < 2 {
		errs = append(errs, errors.New("invite.code_alphabet needs at least two symbols"))
	}
	if c.Media.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("media.max_upload_bytes must be positive"))
	}
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	switch c.Storage.Provider {
	case "local", "minio", "s3":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.provider %q", c.Storage.Provider))
	}
	if len(errs) > 0 {
		return fmt.Errorf("配置校验失败: %w", errors.Join(errs...))
	}
	return nil
}

// Watch 监听配置文件变更, 变更后重新解析日志配置并回调
func (c *Config) Watch(onChange func(LoggingConfig)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var logging LoggingConfig
		if err := c.v.UnmarshalKey("logging", &logging); err != nil {
			return
		}
		onChange(logging)
	})
	c.v.WatchConfig()
}

// BuildDSN 构建 PostgreSQL DSN
func (p PostgresConfig) BuildDSN() string {
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, sslmode)
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
