package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	Timezone    string          `mapstructure:"timezone"`
	Server      ServerConfig    `mapstructure:"server"`
	DB          DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Messaging   MessagingConfig `mapstructure:"messaging"`
	Tracing     TracingConfig   `mapstructure:"tracing"`
	Notify      NotifyConfig    `mapstructure:"notify"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CorsEnabled     bool          `mapstructure:"cors_enabled"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Enabled  bool          `mapstructure:"enabled"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// MessagingConfig holds Azure Service Bus configuration for resource events
type MessagingConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ConnectionStr   string        `mapstructure:"connection_string"`
	Topic           string        `mapstructure:"topic"`
	DeadLetterQueue string        `mapstructure:"dead_letter_queue"`
	SessionOrdering bool          `mapstructure:"session_ordering"`
	Lanes           int           `mapstructure:"lanes"`
	LaneBuffer      int           `mapstructure:"lane_buffer"`
	SendTimeout     time.Duration `mapstructure:"send_timeout"`
	Retry           RetryConfig   `mapstructure:"retry"`
	ReceiveBatch    int           `mapstructure:"receive_batch"`
}

// RetryConfig holds transport retry settings
type RetryConfig struct {
	MaxRetries int32         `mapstructure:"max_retries"`
	Delay      time.Duration `mapstructure:"delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	LicenseKey     string `mapstructure:"license_key"`
	AppName        string `mapstructure:"app_name"`
	LogEnabled     bool   `mapstructure:"log_enabled"`
	DistribTracing bool   `mapstructure:"distributed_tracing_enabled"`
}

// NotifyConfig controls the scheduled batch notification run by the worker.
// A zero interval disables it.
type NotifyConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

var configFile string

// SetConfigFile points LoadConfig at an explicit file instead of the search path.
func SetConfigFile(path string) {
	configFile = path
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		v.AddConfigPath(path)
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				v.SetConfigName("app")
				v.SetConfigType("env")
				if err := v.ReadInConfig(); err != nil {
					// Defaults and environment still apply
					fmt.Printf("Warning: No configuration file found: %v\n", err)
				}
			} else {
				return Config{}, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("RESOURCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to unmarshal config: %w", err)
	}

	return config, nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("timezone", "SYSTEM")

	v.SetDefault("server.address", "0.0.0.0:8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors_enabled", false)

	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=resources port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.slow_threshold", "200ms")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.ttl", "5m")

	v.SetDefault("messaging.enabled", true)
	v.SetDefault("messaging.connection_string", "")
	v.SetDefault("messaging.topic", "resource-updates")
	v.SetDefault("messaging.dead_letter_queue", "resource-updates-dlt")
	v.SetDefault("messaging.session_ordering", false)
	v.SetDefault("messaging.lanes", 3)
	v.SetDefault("messaging.lane_buffer", 1024)
	v.SetDefault("messaging.send_timeout", "30s")
	v.SetDefault("messaging.retry.max_retries", 3)
	v.SetDefault("messaging.retry.delay", "1s")
	v.SetDefault("messaging.retry.max_delay", "30s")
	v.SetDefault("messaging.receive_batch", 10)

	v.SetDefault("tracing.license_key", "")
	v.SetDefault("tracing.app_name", "resource-service")
	v.SetDefault("tracing.log_enabled", false)
	v.SetDefault("tracing.distributed_tracing_enabled", true)

	v.SetDefault("notify.interval", "0s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
