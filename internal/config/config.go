package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Server        ServerConfig        `mapstructure:"server"`
	Logger        LoggerConfig        `mapstructure:"logger"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Notification  NotificationConfig  `mapstructure:"notification"`
	Realtime      RealtimeConfig      `mapstructure:"realtime"`
	Cache         CacheConfig         `mapstructure:"cache"`
	RateLimit     RateLimitConfig     `mapstructure:"ratelimit"`
	OTP           OTPConfig           `mapstructure:"otp"`
	SMS           SMSConfig           `mapstructure:"sms"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Storage       StorageConfig       `mapstructure:"storage"`
	SLA           SLAConfig           `mapstructure:"sla"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        string `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	Name        string `mapstructure:"name"`
	SSLMode     string `mapstructure:"sslmode"`
	MaxConns    int32  `mapstructure:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

type LoggerConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LoggerFileConfig `mapstructure:"file"`
}

// LoggerFileConfig ротация файла логов
type LoggerFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type AuthConfig struct {
	JWTSecret       string   `mapstructure:"jwt_secret"`
	Issuer          string   `mapstructure:"issuer"`
	PrivilegedRoles []string `mapstructure:"privileged_roles"`
}

type NotificationConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Endpoint     string        `mapstructure:"endpoint"`
	Secret       string        `mapstructure:"secret"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	QueueKey     string        `mapstructure:"queue_key"`
	DeadQueueKey string        `mapstructure:"dead_queue_key"`
	// InstanceID имя экземпляра для processing-списка, по умолчанию hostname
	InstanceID   string        `mapstructure:"instance_id"`
}

type RealtimeConfig struct {
	// Backend: redis | nats
	Backend string `mapstructure:"backend"`
	Channel string `mapstructure:"channel"`
	NatsURL string `mapstructure:"nats_url"`
}

type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	ListTTL   time.Duration `mapstructure:"list_ttl"`
	DetailTTL time.Duration `mapstructure:"detail_ttl"`
}

type RateLimitConfig struct {
	// Backend: redis | memory
	Backend string `mapstructure:"backend"`
}

type OTPConfig struct {
	Length      int           `mapstructure:"length"`
	TTL         time.Duration `mapstructure:"ttl"`
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type SMSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	APIKey     string `mapstructure:"api_key"`
	SecretKey  string `mapstructure:"secret_key"`
	TemplateID string `mapstructure:"template_id"`
}

type TranscriptionConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type StorageConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	AccessKey string        `mapstructure:"access_key"`
	SecretKey string        `mapstructure:"secret_key"`
	Bucket    string        `mapstructure:"bucket"`
	UseSSL    bool          `mapstructure:"use_ssl"`
	URLTTL    time.Duration `mapstructure:"url_ttl"`
	MaxSizeMB int64         `mapstructure:"max_size_mb"`
}

type SLAConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	DefaultHours  int           `mapstructure:"default_hours"`
	AtRiskRatio   float64       `mapstructure:"at_risk_ratio"`
}

// Load загружает конфигурацию из config.yaml и переопределяет значения из переменных окружения
func Load(paths ...string) (*Config, error) {
	// .env необязателен, переменные окружения имеют приоритет
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Notification.InstanceID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Notification.InstanceID = host
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")

	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.file.max_size_mb", 100)
	v.SetDefault("logger.file.max_backups", 5)
	v.SetDefault("logger.file.max_age_days", 14)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("auth.privileged_roles", []string{"admin", "manager"})

	v.SetDefault("notification.enabled", true)
	v.SetDefault("notification.timeout", 5*time.Second)
	v.SetDefault("notification.max_attempts", 5)
	v.SetDefault("notification.queue_key", "notify:outbox")
	v.SetDefault("notification.dead_queue_key", "notify:dead")

	v.SetDefault("realtime.backend", "redis")
	v.SetDefault("realtime.channel", "requests.events")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.list_ttl", 5*time.Second)
	v.SetDefault("cache.detail_ttl", time.Minute)

	v.SetDefault("ratelimit.backend", "redis")

	v.SetDefault("otp.length", 6)
	v.SetDefault("otp.ttl", 10*time.Minute)
	v.SetDefault("otp.max_requests", 3)
	v.SetDefault("otp.window", 10*time.Minute)
	v.SetDefault("otp.max_attempts", 5)

	v.SetDefault("transcription.base_url", "https://api.assemblyai.com")
	v.SetDefault("transcription.timeout", 15*time.Second)

	v.SetDefault("storage.bucket", "request-attachments")
	v.SetDefault("storage.url_ttl", 15*time.Minute)
	v.SetDefault("storage.max_size_mb", 25)

	v.SetDefault("sla.sweep_interval", 5*time.Minute)
	v.SetDefault("sla.default_hours", 24)
	v.SetDefault("sla.at_risk_ratio", 0.75)
}

// bindEnvVariables явно связывает переменные окружения с ключами конфига
func bindEnvVariables(v *viper.Viper) {
	// Database
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("database.sslmode", "DB_SSLMODE")

	// Server
	v.BindEnv("server.host", "SERVER_HOST")
	v.BindEnv("server.port", "SERVER_PORT")

	// Logger
	v.BindEnv("logger.level", "LOG_LEVEL")
	v.BindEnv("logger.format", "LOG_FORMAT")

	// Redis
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Secrets
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("notification.endpoint", "NOTIFY_ENDPOINT")
	v.BindEnv("notification.secret", "NOTIFY_SECRET")
	v.BindEnv("notification.instance_id", "INSTANCE_ID")
	v.BindEnv("realtime.nats_url", "NATS_URL")
	v.BindEnv("sms.api_key", "SMSIR_API_KEY")
	v.BindEnv("sms.secret_key", "SMSIR_SECRET_KEY")
	v.BindEnv("sms.template_id", "SMSIR_TEMPLATE_ID")
	v.BindEnv("transcription.api_key", "TRANSCRIPTION_API_KEY")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
}

// GetDSN возвращает строку подключения к PostgreSQL
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress возвращает адрес сервера в формате host:port
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsPrivileged проверяет, дает ли роль доступ к внутренним заметкам и настройкам
func (c *AuthConfig) IsPrivileged(role string) bool {
	for _, r := range c.PrivilegedRoles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}
