package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config — корневая структура конфигурации оркестратора.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig описывает HTTP и gRPC поверхности.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	GRPCPort       int           `mapstructure:"grpc_port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"` // 0 — без ограничения (нужно для websocket)
	RateLimit      float64       `mapstructure:"rate_limit"`    // запросов в секунду на control plane
	RateBurst      int           `mapstructure:"rate_burst"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig описывает необязательный Postgres-архив активности.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"` // пусто — архив выключен
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (списки активности и Pub/Sub).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EngineConfig содержит настройки рантайма агентов.
type EngineConfig struct {
	ActivityCapacity  int64         `mapstructure:"activity_capacity"`
	MetricsWindow     int64         `mapstructure:"metrics_window"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StreamInterval    time.Duration `mapstructure:"stream_interval"`
	DeployPolicy      string        `mapstructure:"deploy_policy"` // overwrite | reject
	SeedDefaultAgents bool          `mapstructure:"seed_default_agents"`
	ControlChannel    bool          `mapstructure:"control_channel"` // команды жизненного цикла через Pub/Sub

	ArchiveBufferSize    int           `mapstructure:"archive_buffer_size"`
	ArchiveFlushInterval time.Duration `mapstructure:"archive_flush_interval"`

	// Защита побочных записей в Redis (retry + circuit breaker)
	RetryAttempts uint          `mapstructure:"retry_attempts"`
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBMaxFailures uint32        `mapstructure:"cb_max_failures"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// TelemetryConfig включает трассировку OpenTelemetry.
type TelemetryConfig struct {
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	ServiceName    string `mapstructure:"service_name"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
// Возвращает и сам viper, чтобы вызывающий мог подписаться на изменения файла.
func LoadConfig(file string) (*Config, *viper.Viper, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// 2. ENV перекрывает файл: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &cfg, v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.grpc_port", 9000)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("engine.activity_capacity", 1000)
	v.SetDefault("engine.metrics_window", 10)
	v.SetDefault("engine.heartbeat_interval", 10*time.Second)
	v.SetDefault("engine.stream_interval", 1*time.Second)
	v.SetDefault("engine.deploy_policy", "overwrite")
	v.SetDefault("engine.seed_default_agents", true)
	v.SetDefault("engine.control_channel", true)
	v.SetDefault("engine.archive_buffer_size", 10000)
	v.SetDefault("engine.archive_flush_interval", 500*time.Millisecond)
	v.SetDefault("engine.retry_attempts", 2)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.cb_max_failures", 5)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("telemetry.service_name", "agent-orchestrator")
}

// WatchLogLevel перечитывает logger.level при изменении файла конфигурации.
func WatchLogLevel(v *viper.Viper, level zap.AtomicLevel, logger *zap.Logger) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		var next zapcore.Level
		if err := next.UnmarshalText([]byte(v.GetString("logger.level"))); err != nil {
			logger.Warn("ignoring invalid log level", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if next != level.Level() {
			level.SetLevel(next)
			logger.Info("log level changed", zap.String("level", next.String()))
		}
	})
	v.WatchConfig()
}
